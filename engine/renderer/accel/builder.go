// Package accel builds bottom level (geometry) and top level (instance)
// acceleration structures.
//
// Every build is synchronous: the build command is submitted and the queue
// drained before the constructor returns. The builder counts completed builds
// and stamps each structure with the generation its build completed at; a TLAS
// only accepts BLAS references whose generation has completed, which keeps
// every BLAS build ordered before any TLAS build that points at it.
package accel

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/transfer"
)

var (
	// ErrBLASNotBuilt is returned when a TLAS instance references a BLAS that
	// is nil, destroyed or whose build has not completed.
	ErrBLASNotBuilt = errors.New("bottom level acceleration structure is not built")
	// ErrBadGeometry is returned for index or vertex arrays that do not form triangles.
	ErrBadGeometry = errors.New("invalid triangle geometry")
)

// Device is the part of the GPU the builder needs.
type Device interface {
	transfer.Device
	gpu.AccelerationStructures
}

// Builder creates acceleration structures on one device.
type Builder struct {
	dev        Device
	stager     *transfer.Stager
	generation uint64
}

func NewBuilder(dev Device) *Builder {
	return &Builder{dev: dev, stager: transfer.NewStager(dev)}
}

// Generation returns the number of builds that have completed.
func (b *Builder) Generation() uint64 {
	return b.generation
}

// AccelerationStructure is the state shared by BLAS and TLAS objects.
type AccelerationStructure struct {
	Type        gpu.AccelerationStructureType
	Handle      gpu.AccelerationStructureID
	Address     gpu.DeviceAddress
	Storage     *transfer.Buffer
	ScratchSize uint64
	Primitives  uint32
	// Generation is the builder generation the build completed at; zero
	// means the structure was never built or has been destroyed.
	Generation uint64

	owner  *Builder
	inputs []*transfer.Buffer
}

// Built reports whether the structure holds a completed build.
func (a *AccelerationStructure) Built() bool {
	return a != nil && a.Handle != gpu.InvalidID && a.Address != 0 &&
		a.Generation != 0 && a.owner != nil && a.Generation <= a.owner.generation
}

// Destroy frees the structure and its storage. Input buffers are kept until
// ReleaseInputs so the structure can be rebuilt from them.
func (a *AccelerationStructure) Destroy() {
	if a == nil || a.owner == nil || a.Handle == gpu.InvalidID {
		return
	}
	a.owner.dev.DestroyAccelerationStructure(a.Handle)
	a.owner.stager.Destroy(a.Storage)
	a.Handle = gpu.InvalidID
	a.Address = 0
	a.Generation = 0
}

// ReleaseInputs frees the vertex, index or instance buffers the structure
// was built from.
func (a *AccelerationStructure) ReleaseInputs() {
	if a == nil || a.owner == nil {
		return
	}
	for _, buf := range a.inputs {
		a.owner.stager.Destroy(buf)
	}
	a.inputs = nil
}

// build queries the sizes, allocates scratch and storage, creates the
// structure and records the build. The scratch buffer is freed once the
// build has completed.
func (b *Builder) build(label string, geometry gpu.Geometry, primitives uint32, typ gpu.AccelerationStructureType) (*AccelerationStructure, error) {
	info := gpu.BuildGeometryInfo{
		Type:     typ,
		Flags:    gpu.BuildPreferFastTrace,
		Geometry: geometry,
	}
	sizes, err := b.dev.AccelerationStructureBuildSizes(&info, primitives)
	if err != nil {
		return nil, fmt.Errorf("%w: %s size query: %w", core.ErrBuild, typ, err)
	}

	align := max(sizes.ScratchAlignment, 1)
	if !gpu.IsPowerOfTwo(align) {
		return nil, fmt.Errorf("%w: %s scratch alignment %d is not a power of two", core.ErrBuild, typ, align)
	}
	// Over-allocate so the aligned address still has the full scratch size behind it.
	scratch, err := b.stager.NewBuffer(label+"-scratch", sizes.BuildScratchSize+align-1,
		gpu.BufferUsageShaderDeviceAddress|gpu.BufferUsageStorage, gpu.MemoryDeviceLocal)
	if err != nil {
		return nil, fmt.Errorf("%w: %s scratch: %w", core.ErrBuild, typ, err)
	}
	defer b.stager.Destroy(scratch)

	storage, err := b.stager.NewBuffer(label+"-storage", sizes.AccelerationStructureSize,
		gpu.BufferUsageAccelerationStructureStorage|gpu.BufferUsageShaderDeviceAddress, gpu.MemoryDeviceLocal)
	if err != nil {
		return nil, fmt.Errorf("%w: %s storage: %w", core.ErrBuild, typ, err)
	}

	handle, err := b.dev.CreateAccelerationStructure(typ, storage.ID, sizes.AccelerationStructureSize)
	if err != nil {
		b.stager.Destroy(storage)
		return nil, fmt.Errorf("%w: create %s: %w", core.ErrBuild, typ, err)
	}
	as := &AccelerationStructure{
		Type:        typ,
		Handle:      handle,
		Storage:     storage,
		ScratchSize: sizes.BuildScratchSize,
		Primitives:  primitives,
		owner:       b,
	}

	scratchAddr, err := b.stager.Address(scratch)
	if err != nil {
		as.Destroy()
		return nil, fmt.Errorf("%w: %s scratch address: %w", core.ErrBuild, typ, err)
	}
	info.Dst = handle
	info.ScratchData = gpu.AlignUp(scratchAddr, gpu.DeviceAddress(align))

	if err := b.stager.OneShot(func(enc gpu.CommandEncoder) {
		enc.BuildAccelerationStructure(&info, primitives)
	}); err != nil {
		as.Destroy()
		return nil, fmt.Errorf("%w: %s build: %w", core.ErrBuild, typ, err)
	}

	if as.Address, err = b.dev.AccelerationStructureDeviceAddress(handle); err != nil {
		as.Destroy()
		return nil, fmt.Errorf("%w: %s address: %w", core.ErrBuild, typ, err)
	}
	b.generation++
	as.Generation = b.generation

	core.Logger().Debug("acceleration structure built",
		"type", typ, "primitives", primitives, "size", sizes.AccelerationStructureSize,
		"scratch", sizes.BuildScratchSize, "generation", as.Generation)
	return as, nil
}
