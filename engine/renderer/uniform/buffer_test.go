package uniform_test

import (
	"bytes"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/lumen/engine/renderer/uniform"
)

type camera struct {
	ViewInverse mgl32.Mat4
	ProjInverse mgl32.Mat4
}

func TestUniformSlots(t *testing.T) {
	dev := gputest.NewDevice()
	ubo, err := uniform.New[camera](dev, "camera", 2, 256)
	if err != nil {
		t.Fatal(err)
	}
	defer ubo.Destroy()

	if ubo.Stride() != 256 {
		t.Fatalf("stride = %d, want 256", ubo.Stride())
	}
	c := camera{ViewInverse: mgl32.Ident4(), ProjInverse: mgl32.Scale3D(2, 2, 2)}
	if err := ubo.Update(1, &c); err != nil {
		t.Fatal(err)
	}
	contents, err := dev.BufferContents(ubo.ID())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(contents[256:256+128], gpu.ValueBytes(&c)) {
		t.Fatal("frame 1 slot does not hold the camera")
	}
	if !bytes.Equal(contents[:128], make([]byte, 128)) {
		t.Fatal("frame 0 slot was touched")
	}

	r := ubo.Resource(1)
	if r.Buffer != ubo.ID() || r.Offset != 256 || r.Range != 128 {
		t.Fatalf("resource = %+v", r)
	}
	if err := ubo.Update(2, &c); err == nil {
		t.Fatal("out of range frame must fail")
	}
}

func TestUniformTightPacking(t *testing.T) {
	dev := gputest.NewDevice()
	ubo, err := uniform.New[mgl32.Mat4](dev, "mvp", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ubo.Stride() != 64 {
		t.Fatalf("stride = %d, want 64", ubo.Stride())
	}
	ubo.Destroy()
	ubo.Destroy()
	if dev.LiveObjects() != 0 {
		t.Fatal("uniform buffer leaked")
	}
}
