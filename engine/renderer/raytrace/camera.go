package raytrace

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// CameraUniform is what the raygen shader reads to turn pixels into rays.
type CameraUniform struct {
	ViewInverse mgl32.Mat4
	ProjInverse mgl32.Mat4
}

// Camera is a look-at camera with a vertical field of view in degrees.
type Camera struct {
	Eye    mgl32.Vec3
	Center mgl32.Vec3
	Up     mgl32.Vec3
	FovY   float32
	Near   float32
	Far    float32
}

// DefaultCamera looks from above one corner into the default scene, Z up.
func DefaultCamera() Camera {
	return Camera{
		Eye:    mgl32.Vec3{-32, -32, 64},
		Center: mgl32.Vec3{8, 8, 8},
		Up:     mgl32.Vec3{0, 0, 1},
		FovY:   45,
		Near:   0.1,
		Far:    10,
	}
}

// Uniform returns the inverse matrices for a target of the given extent.
// Y is flipped to match the Vulkan clip space.
func (c Camera) Uniform(extent gpu.Extent2D) CameraUniform {
	aspect := float32(1)
	if extent.Height != 0 {
		aspect = float32(extent.Width) / float32(extent.Height)
	}
	proj := mgl32.Perspective(mgl32.DegToRad(c.FovY), aspect, c.Near, c.Far).Inv()
	proj[5] *= -1
	return CameraUniform{
		ViewInverse: mgl32.LookAtV(c.Eye, c.Center, c.Up).Inv(),
		ProjInverse: proj,
	}
}
