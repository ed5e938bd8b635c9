package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	// ErrInitialization marks configuration problems found before rendering
	// starts: missing extensions or features, no memory type, bad shaders.
	ErrInitialization = errors.New("renderer initialization failed")
	// ErrBuild marks acceleration structure or pipeline build failures.
	ErrBuild = errors.New("gpu build failed")
	// ErrDeviceLost marks device failures during the frame loop, including
	// waits that exceeded their timeout.
	ErrDeviceLost = errors.New("device lost")
)

// IsFatal reports whether err must stop the frame loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrSwapchainBooting)
}
