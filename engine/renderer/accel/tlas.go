package accel

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/transfer"
)

const maxPacked24 = 1 << 24

// IdentityTransform is the 3x4 row-major identity transform.
var IdentityTransform = [12]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
}

// Instance places a BLAS in a TLAS.
type Instance struct {
	BLAS *BLAS
	// Transform is a 3x4 row-major object to world matrix.
	Transform [12]float32
	// CustomIndex is visible to shaders; only the low 24 bits are stored.
	CustomIndex uint32
	Mask        uint8
	// SBTOffset selects the hit group record; only the low 24 bits are stored.
	SBTOffset uint32
	Flags     gpu.GeometryInstanceFlags
}

// NewInstance returns an instance of blas with the identity transform, every
// mask bit set and face culling disabled.
func NewInstance(blas *BLAS) Instance {
	return Instance{
		BLAS:      blas,
		Transform: IdentityTransform,
		Mask:      0xFF,
		Flags:     gpu.InstanceTriangleFacingCullDisable,
	}
}

// instanceRecord is the 64-byte device encoding of an Instance.
type instanceRecord struct {
	Transform   [12]float32
	IndexMask   uint32
	OffsetFlags uint32
	Reference   uint64
}

func (i Instance) record() (instanceRecord, error) {
	if i.CustomIndex >= maxPacked24 {
		return instanceRecord{}, fmt.Errorf("custom index %d does not fit 24 bits", i.CustomIndex)
	}
	if i.SBTOffset >= maxPacked24 {
		return instanceRecord{}, fmt.Errorf("shader binding table offset %d does not fit 24 bits", i.SBTOffset)
	}
	return instanceRecord{
		Transform:   i.Transform,
		IndexMask:   i.CustomIndex | uint32(i.Mask)<<24,
		OffsetFlags: i.SBTOffset | uint32(i.Flags)<<24,
		Reference:   uint64(i.BLAS.Address),
	}, nil
}

// TLAS is a top level structure over BLAS instances.
type TLAS struct {
	AccelerationStructure
	Instances []Instance
}

// InstanceBuffer returns the uploaded instance records.
func (t *TLAS) InstanceBuffer() *transfer.Buffer {
	if len(t.inputs) == 0 {
		return nil
	}
	return t.inputs[0]
}

// NewTLAS builds a TLAS over instances. Every referenced BLAS must hold a
// completed build of this builder.
func (b *Builder) NewTLAS(instances []Instance) (*TLAS, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: TLAS without instances", ErrBadGeometry)
	}
	records := make([]instanceRecord, len(instances))
	for n, inst := range instances {
		if inst.BLAS == nil || !inst.BLAS.Built() {
			return nil, fmt.Errorf("instance %d: %w", n, ErrBLASNotBuilt)
		}
		if inst.BLAS.owner != b {
			return nil, fmt.Errorf("instance %d: BLAS belongs to another builder: %w", n, ErrBLASNotBuilt)
		}
		rec, err := inst.record()
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", n, err)
		}
		records[n] = rec
	}

	buf, err := transfer.Upload(b.stager, "tlas-instances",
		gpu.BufferUsageAccelerationStructureBuildInput|gpu.BufferUsageShaderDeviceAddress, records)
	if err != nil {
		return nil, err
	}
	addr, err := b.stager.Address(buf)
	if err != nil {
		b.stager.Destroy(buf)
		return nil, err
	}

	geometry := gpu.Geometry{Instances: &gpu.Instances{Data: addr}}
	as, err := b.build("tlas", geometry, uint32(len(instances)), gpu.AccelerationStructureTopLevel)
	if err != nil {
		b.stager.Destroy(buf)
		return nil, err
	}
	as.inputs = []*transfer.Buffer{buf}
	return &TLAS{AccelerationStructure: *as, Instances: append([]Instance(nil), instances...)}, nil
}
