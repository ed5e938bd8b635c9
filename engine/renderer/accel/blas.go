package accel

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/transfer"
)

// Index is an index element type a BLAS can be built from.
type Index interface {
	~uint8 | ~uint16 | ~uint32
}

const vertexStride = 3 * 4

// BLAS is a bottom level structure over one opaque triangle geometry.
type BLAS struct {
	AccelerationStructure
	IndexType   gpu.IndexType
	VertexCount uint32
}

func indexType[I Index]() gpu.IndexType {
	switch gpu.SizeOf[I]() {
	case 1:
		return gpu.IndexTypeUint8
	case 2:
		return gpu.IndexTypeUint16
	}
	return gpu.IndexTypeUint32
}

// NewBLAS uploads the triangle list and builds a BLAS over it. vertices is a
// flat array of xyz positions.
func NewBLAS[I Index](b *Builder, indices []I, vertices []float32) (*BLAS, error) {
	if len(indices) == 0 || len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices is not a whole number of triangles", ErrBadGeometry, len(indices))
	}
	if len(vertices) == 0 || len(vertices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d floats is not a whole number of positions", ErrBadGeometry, len(vertices))
	}
	vertexCount := uint32(len(vertices) / 3)
	for i, idx := range indices {
		if uint32(idx) >= vertexCount {
			return nil, fmt.Errorf("%w: index %d references vertex %d of %d", ErrBadGeometry, i, idx, vertexCount)
		}
	}

	usage := gpu.BufferUsageAccelerationStructureBuildInput | gpu.BufferUsageShaderDeviceAddress
	indexBuf, err := transfer.Upload(b.stager, "blas-indices", usage, indices)
	if err != nil {
		return nil, err
	}
	vertexBuf, err := transfer.Upload(b.stager, "blas-vertices", usage, vertices)
	if err != nil {
		b.stager.Destroy(indexBuf)
		return nil, err
	}
	release := func() {
		b.stager.Destroy(indexBuf)
		b.stager.Destroy(vertexBuf)
	}

	indexAddr, err := b.stager.Address(indexBuf)
	if err != nil {
		release()
		return nil, err
	}
	vertexAddr, err := b.stager.Address(vertexBuf)
	if err != nil {
		release()
		return nil, err
	}

	it := indexType[I]()
	geometry := gpu.Geometry{
		Triangles: &gpu.Triangles{
			VertexData:   vertexAddr,
			VertexFormat: gpu.FormatR32G32B32Sfloat,
			VertexStride: vertexStride,
			MaxVertex:    vertexCount - 1,
			IndexData:    indexAddr,
			IndexType:    it,
		},
		Flags: gpu.GeometryOpaque,
	}
	as, err := b.build("blas", geometry, uint32(len(indices)/3), gpu.AccelerationStructureBottomLevel)
	if err != nil {
		release()
		return nil, err
	}
	as.inputs = []*transfer.Buffer{indexBuf, vertexBuf}
	return &BLAS{AccelerationStructure: *as, IndexType: it, VertexCount: vertexCount}, nil
}
