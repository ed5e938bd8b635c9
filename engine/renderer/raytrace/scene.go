package raytrace

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Mesh is triangle geometry with tightly packed xyz positions.
type Mesh struct {
	Name     string
	Vertices []float32
	Indices  []uint32
	// IndexType is the width the indices are uploaded with.
	IndexType gpu.IndexType
}

// Placement puts one mesh into the world.
type Placement struct {
	Mesh        int
	Transform   mgl32.Mat4
	CustomIndex uint32
}

// Scene is the geometry traced every frame.
type Scene struct {
	Meshes     []Mesh
	Placements []Placement
}

// CubeMesh is a unit cube centered on the origin. Corners are numbered
// clockwise from the top left, back face first.
func CubeMesh() Mesh {
	return Mesh{
		Name: "cube",
		Vertices: []float32{
			-0.5, 0.5, -0.5,
			0.5, 0.5, -0.5,
			-0.5, -0.5, -0.5,
			0.5, -0.5, -0.5,
			-0.5, 0.5, 0.5,
			0.5, 0.5, 0.5,
			-0.5, -0.5, 0.5,
			0.5, -0.5, 0.5,
		},
		Indices: []uint32{
			0, 1, 2, 1, 3, 2, // back
			0, 1, 5, 0, 5, 4, // top
			1, 3, 7, 1, 7, 5, // right
			2, 3, 7, 2, 7, 6, // bottom
			0, 4, 6, 0, 6, 2, // left
			4, 5, 7, 4, 7, 6, // front
		},
		IndexType: gpu.IndexTypeUint8,
	}
}

// DefaultScene is a 4x4x4 grid of cubes filling the box the default camera
// looks into.
func DefaultScene() *Scene {
	s := &Scene{Meshes: []Mesh{CubeMesh()}}
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			for z := 0; z < 4; z++ {
				t := mgl32.Translate3D(float32(2+4*x), float32(2+4*y), float32(2+4*z)).
					Mul4(mgl32.Scale3D(2, 2, 2))
				s.Placements = append(s.Placements, Placement{
					Transform:   t,
					CustomIndex: uint32(len(s.Placements)),
				})
			}
		}
	}
	return s
}

// MeshFromTriangles builds a mesh from interleaved positions, picking the
// narrowest index type that can address every vertex.
func MeshFromTriangles(name string, positions []float32, indices []uint32) Mesh {
	t := gpu.IndexTypeUint32
	if len(positions)/3 <= 1<<16 {
		t = gpu.IndexTypeUint16
	}
	return Mesh{Name: name, Vertices: positions, Indices: indices, IndexType: t}
}

// transform3x4 converts a column-major affine matrix to the row-major 3x4
// layout of an instance record.
func transform3x4(m mgl32.Mat4) [12]float32 {
	var t [12]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			t[r*4+c] = m.At(r, c)
		}
	}
	return t
}

func buildMesh(b *accel.Builder, m Mesh) (*accel.BLAS, error) {
	switch m.IndexType {
	case gpu.IndexTypeUint8:
		idx, err := narrow[uint8](m.Indices, 1<<8)
		if err != nil {
			return nil, fmt.Errorf("mesh %s: %w", m.Name, err)
		}
		return accel.NewBLAS(b, idx, m.Vertices)
	case gpu.IndexTypeUint16:
		idx, err := narrow[uint16](m.Indices, 1<<16)
		if err != nil {
			return nil, fmt.Errorf("mesh %s: %w", m.Name, err)
		}
		return accel.NewBLAS(b, idx, m.Vertices)
	case gpu.IndexTypeUint32:
		return accel.NewBLAS(b, m.Indices, m.Vertices)
	}
	return nil, fmt.Errorf("mesh %s: unknown index type %d", m.Name, m.IndexType)
}

func narrow[I accel.Index](in []uint32, limit uint32) ([]I, error) {
	out := make([]I, len(in))
	for i, v := range in {
		if v >= limit {
			return nil, fmt.Errorf("%w: index %d does not fit the index type", accel.ErrBadGeometry, v)
		}
		out[i] = I(v)
	}
	return out, nil
}

// instances returns the TLAS instances of the scene over its built meshes.
func (s *Scene) instances(blas []*accel.BLAS) ([]accel.Instance, error) {
	out := make([]accel.Instance, 0, len(s.Placements))
	for n, p := range s.Placements {
		if p.Mesh < 0 || p.Mesh >= len(blas) {
			return nil, fmt.Errorf("placement %d references mesh %d of %d", n, p.Mesh, len(blas))
		}
		inst := accel.NewInstance(blas[p.Mesh])
		inst.Transform = transform3x4(p.Transform)
		inst.CustomIndex = p.CustomIndex
		out = append(out, inst)
	}
	return out, nil
}
