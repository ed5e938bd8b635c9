package gpu

import "errors"

var (
	// ErrOutOfDate is returned by acquire and present when the swapchain no
	// longer matches the surface and must be recreated.
	ErrOutOfDate = errors.New("swapchain out of date")
	// ErrSuboptimal is returned by present when the image was shown but the
	// swapchain should be recreated.
	ErrSuboptimal = errors.New("swapchain suboptimal")
	// ErrTimeout is returned when a fence or acquire wait expires.
	ErrTimeout = errors.New("wait timed out")
	// ErrDeviceLost is returned when the device stopped executing work.
	ErrDeviceLost = errors.New("device lost")
	// ErrNoMemoryType is returned when no memory type satisfies the request.
	ErrNoMemoryType = errors.New("no suitable memory type")
	// ErrInvalidHandle is returned for an ID that was never issued or was destroyed.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrNotSupported is returned when a feature was not enabled on the device.
	ErrNotSupported = errors.New("feature not supported by the device")
)
