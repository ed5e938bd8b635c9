package renderer

import (
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
)

// FrontEnd is a renderer the frame scheduler drives: it records every frame
// and owns the state that depends on the swapchain.
type FrontEnd interface {
	frame.Recorder
	frame.Targets
	Destroy()
}

// animator is implemented by front ends with time dependent state.
type animator interface {
	Advance(dt float64)
}
