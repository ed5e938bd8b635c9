package engine

import (
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const triangleOBJ = `
o triangle
v 0 0 0
v 4 0 0
v 0 2 0
vt 0 0
vt 1 0
vt 0 1
f 1/1 2/2 3/3
`

func loadTriangle(t *testing.T) *loaders.Model {
	t.Helper()
	m, err := loaders.ParseOBJ(strings.NewReader(triangleOBJ))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRasterMesh(t *testing.T) {
	mesh := rasterMesh(loadTriangle(t))
	if len(mesh.Vertices) != 3 || len(mesh.Indices) != 3 {
		t.Fatalf("mesh = %+v", mesh)
	}
	v := mesh.Vertices[1]
	if v.Pos != [3]float32{4, 0, 0} || v.Color != [3]float32{1, 1, 1} || v.UV != [2]float32{1, 1} {
		t.Fatalf("vertex = %+v", v)
	}
}

func TestRayTraceSceneFitsTheCameraBox(t *testing.T) {
	scene := rayTraceScene("tri", loadTriangle(t))
	if len(scene.Meshes) != 1 || len(scene.Placements) != 1 {
		t.Fatalf("scene = %+v", scene)
	}
	mesh := scene.Meshes[0]
	if mesh.Name != "tri" || mesh.IndexType != gpu.IndexTypeUint16 || len(mesh.Vertices) != 9 {
		t.Fatalf("mesh = %+v", mesh)
	}
	m := scene.Placements[0].Transform
	// The longest side spans 16 units around (8, 8, 8).
	a := m.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	b := m.Mul4x1(mgl32.Vec4{4, 0, 0, 1})
	if d := b.Sub(a).Len(); d < 15.99 || d > 16.01 {
		t.Fatalf("scaled width = %f", d)
	}
	center := m.Mul4x1(mgl32.Vec4{2, 1, 0, 1})
	if !center.ApproxEqual(mgl32.Vec4{8, 8, 8, 1}) {
		t.Fatalf("center = %v", center)
	}
}
