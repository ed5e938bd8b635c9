package accel_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
)

var cubeIndices = []uint8{
	0, 1, 2, 1, 3, 2,
	0, 1, 5, 0, 5, 4,
	1, 3, 7, 1, 7, 5,
	2, 3, 7, 2, 7, 6,
	0, 4, 6, 0, 6, 2,
	4, 5, 7, 4, 7, 6,
}

var cubeVertices = []float32{
	-0.5, 0.5, -0.5,
	0.5, 0.5, -0.5,
	-0.5, -0.5, -0.5,
	0.5, -0.5, -0.5,
	-0.5, 0.5, 0.5,
	0.5, 0.5, 0.5,
	-0.5, -0.5, 0.5,
	0.5, -0.5, 0.5,
}

func TestBuildBLASAndTLAS(t *testing.T) {
	dev := gputest.NewDevice()
	b := accel.NewBuilder(dev)

	blas, err := accel.NewBLAS(b, cubeIndices, cubeVertices)
	if err != nil {
		t.Fatal(err)
	}
	if blas.IndexType != gpu.IndexTypeUint8 || blas.VertexCount != 8 || blas.Primitives != 12 {
		t.Fatalf("unexpected BLAS %+v", blas)
	}
	if !blas.Built() || blas.Generation != 1 {
		t.Fatalf("BLAS not built, generation %d", blas.Generation)
	}
	built, prims, err := dev.AccelerationStructureBuilt(blas.Handle)
	if err != nil || !built || prims != 12 {
		t.Fatalf("device sees built=%v prims=%d err=%v", built, prims, err)
	}
	if dev.InFlight() != 0 {
		t.Fatal("BLAS build returned before the queue drained")
	}

	inst := accel.NewInstance(blas)
	inst.CustomIndex = 7
	inst.SBTOffset = 2
	inst.Transform[3] = 4 // translate x
	tlas, err := b.NewTLAS([]accel.Instance{inst, accel.NewInstance(blas)})
	if err != nil {
		t.Fatal(err)
	}
	if tlas.Generation <= blas.Generation {
		t.Fatalf("TLAS generation %d must follow BLAS generation %d", tlas.Generation, blas.Generation)
	}
	if built, prims, _ := dev.AccelerationStructureBuilt(tlas.Handle); !built || prims != 2 {
		t.Fatalf("TLAS built=%v prims=%d", built, prims)
	}

	raw, err := dev.BufferContents(tlas.InstanceBuffer().ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 128 {
		t.Fatalf("instance buffer holds %d bytes, want two 64-byte records", len(raw))
	}
	le := binary.LittleEndian
	if got := math.Float32frombits(le.Uint32(raw[12:])); got != 4 {
		t.Errorf("transform[3] = %v, want 4", got)
	}
	if got := le.Uint32(raw[48:]); got != 7|0xFF<<24 {
		t.Errorf("index/mask word = %#x", got)
	}
	if got := le.Uint32(raw[52:]); got != 2|uint32(gpu.InstanceTriangleFacingCullDisable)<<24 {
		t.Errorf("offset/flags word = %#x", got)
	}
	if got := le.Uint64(raw[56:]); got != uint64(blas.Address) {
		t.Errorf("reference = %#x, want %#x", got, blas.Address)
	}

	if errs := dev.ValidationErrors(); len(errs) > 0 {
		t.Fatalf("validation errors: %v", errs)
	}

	tlas.Destroy()
	tlas.ReleaseInputs()
	blas.Destroy()
	blas.Destroy()
	blas.ReleaseInputs()
	if n := dev.LiveObjects(); n != 0 {
		t.Fatalf("%d objects leaked", n)
	}
}

func TestTLASRequiresBuiltBLAS(t *testing.T) {
	dev := gputest.NewDevice()
	b := accel.NewBuilder(dev)

	destroyed, err := accel.NewBLAS(b, []uint16{0, 1, 2}, []float32{0, 0, 0, 1, 0, 0, 0, 1, 0})
	if err != nil {
		t.Fatal(err)
	}
	destroyed.Destroy()

	foreign, err := accel.NewBLAS(accel.NewBuilder(dev), []uint32{0, 1, 2}, []float32{0, 0, 0, 1, 0, 0, 0, 1, 0})
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]*accel.BLAS{
		"nil":       nil,
		"zero":      {},
		"destroyed": destroyed,
		"foreign":   foreign,
	}
	for name, blas := range cases {
		t.Run(name, func(t *testing.T) {
			before := dev.Submits()
			_, err := b.NewTLAS([]accel.Instance{{BLAS: blas, Mask: 0xFF, Transform: accel.IdentityTransform}})
			if !errors.Is(err, accel.ErrBLASNotBuilt) {
				t.Fatalf("expected ErrBLASNotBuilt, got %v", err)
			}
			if dev.Submits() != before {
				t.Fatal("nothing may be submitted for a rejected TLAS")
			}
		})
	}
}

func TestBLASRejectsBadGeometry(t *testing.T) {
	b := accel.NewBuilder(gputest.NewDevice())
	for name, c := range map[string]struct {
		indices  []uint16
		vertices []float32
	}{
		"no indices":         {nil, cubeVertices},
		"partial triangle":   {[]uint16{0, 1}, cubeVertices},
		"partial vertex":     {[]uint16{0, 1, 2}, []float32{0, 0}},
		"index out of range": {[]uint16{0, 1, 8}, cubeVertices},
	} {
		if _, err := accel.NewBLAS(b, c.indices, c.vertices); !errors.Is(err, accel.ErrBadGeometry) {
			t.Errorf("%s: expected ErrBadGeometry, got %v", name, err)
		}
	}
	if _, err := b.NewTLAS(nil); !errors.Is(err, accel.ErrBadGeometry) {
		t.Errorf("empty TLAS: expected ErrBadGeometry, got %v", err)
	}
}

func TestBuildFailsWithoutRayTracing(t *testing.T) {
	b := accel.NewBuilder(gputest.NewDevice(gputest.WithoutRayTracing()))
	_, err := accel.NewBLAS(b, cubeIndices, cubeVertices)
	if !errors.Is(err, core.ErrBuild) || !errors.Is(err, gpu.ErrNotSupported) {
		t.Fatalf("expected a build error wrapping ErrNotSupported, got %v", err)
	}
}

func TestInstanceFieldLimits(t *testing.T) {
	dev := gputest.NewDevice()
	b := accel.NewBuilder(dev)
	blas, err := accel.NewBLAS(b, cubeIndices, cubeVertices)
	if err != nil {
		t.Fatal(err)
	}
	inst := accel.NewInstance(blas)
	inst.CustomIndex = 1 << 24
	if _, err := b.NewTLAS([]accel.Instance{inst}); err == nil {
		t.Fatal("custom index beyond 24 bits must be rejected")
	}
}

func TestScratchAddressIsAligned(t *testing.T) {
	dev := gputest.NewDevice(gputest.WithScratchAlignment(4096))
	b := accel.NewBuilder(dev)
	blas, err := accel.NewBLAS(b, cubeIndices, cubeVertices)
	if err != nil {
		t.Fatal(err)
	}
	tlas, err := b.NewTLAS([]accel.Instance{accel.NewInstance(blas), accel.NewInstance(blas)})
	if err != nil {
		t.Fatal(err)
	}
	if !tlas.Built() {
		t.Fatal("TLAS not built")
	}
	if errs := dev.ValidationErrors(); len(errs) > 0 {
		t.Fatalf("device reported %v", errs)
	}
}

func TestScratchAlignmentMustBePowerOfTwo(t *testing.T) {
	b := accel.NewBuilder(gputest.NewDevice(gputest.WithScratchAlignment(48)))
	if _, err := accel.NewBLAS(b, cubeIndices, cubeVertices); !errors.Is(err, core.ErrBuild) {
		t.Fatalf("err = %v, want a build error", err)
	}
}
