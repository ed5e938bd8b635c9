package raytrace

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func TestTransform3x4(t *testing.T) {
	m := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.Scale3D(4, 5, 6))
	want := [12]float32{
		4, 0, 0, 1,
		0, 5, 0, 2,
		0, 0, 6, 3,
	}
	if got := transform3x4(m); got != want {
		t.Fatalf("transform3x4 = %v, want %v", got, want)
	}
	if transform3x4(mgl32.Ident4()) != [12]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0} {
		t.Fatal("identity does not map to the identity record")
	}
}

func TestDefaultScene(t *testing.T) {
	s := DefaultScene()
	if len(s.Meshes) != 1 || len(s.Placements) != 64 {
		t.Fatalf("scene has %d meshes and %d placements", len(s.Meshes), len(s.Placements))
	}
	cube := s.Meshes[0]
	if len(cube.Vertices) != 24 || len(cube.Indices) != 36 || cube.IndexType != gpu.IndexTypeUint8 {
		t.Fatalf("cube mesh = %d vertices, %d indices", len(cube.Vertices)/3, len(cube.Indices))
	}
	for i, p := range s.Placements {
		if p.CustomIndex != uint32(i) {
			t.Fatalf("placement %d has custom index %d", i, p.CustomIndex)
		}
	}
}

func TestMeshIndexWidth(t *testing.T) {
	small := MeshFromTriangles("small", make([]float32, 9), []uint32{0, 1, 2})
	if small.IndexType != gpu.IndexTypeUint16 {
		t.Fatalf("small mesh index type = %d", small.IndexType)
	}
	big := MeshFromTriangles("big", make([]float32, 3*(1<<16+1)), []uint32{0, 1, 1 << 16})
	if big.IndexType != gpu.IndexTypeUint32 {
		t.Fatalf("big mesh index type = %d", big.IndexType)
	}
}
