package engine

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/renderer/raster"
	"github.com/spaghettifunk/lumen/engine/renderer/raytrace"
)

// rasterMesh turns a loaded model into raster vertices. Models carry no
// vertex colors, so every vertex is white.
func rasterMesh(m *loaders.Model) *raster.Mesh {
	mesh := &raster.Mesh{
		Vertices: make([]raster.Vertex, len(m.Positions)),
		Indices:  append([]uint32(nil), m.Indices...),
	}
	for i, p := range m.Positions {
		mesh.Vertices[i] = raster.Vertex{
			Pos:   p,
			Color: [3]float32{1, 1, 1},
			UV:    m.UVs[i],
		}
	}
	return mesh
}

func rasterTexture(img *loaders.Image) *raster.Texture {
	return &raster.Texture{Pixels: img.Pixels, Width: img.Width, Height: img.Height}
}

// rayTraceScene places a loaded model once, scaled to the box the default
// camera looks into.
func rayTraceScene(name string, m *loaders.Model) *raytrace.Scene {
	positions := make([]float32, 0, len(m.Positions)*3)
	lo := mgl32.Vec3{m.Positions[0][0], m.Positions[0][1], m.Positions[0][2]}
	hi := lo
	for _, p := range m.Positions {
		positions = append(positions, p[0], p[1], p[2])
		for k := 0; k < 3; k++ {
			lo[k] = min(lo[k], p[k])
			hi[k] = max(hi[k], p[k])
		}
	}
	size := hi.Sub(lo)
	extent := max(size[0], size[1], size[2])
	scale := float32(1)
	if extent > 0 {
		scale = 16 / extent
	}
	center := lo.Add(hi).Mul(0.5)
	transform := mgl32.Translate3D(8, 8, 8).
		Mul4(mgl32.Scale3D(scale, scale, scale)).
		Mul4(mgl32.Translate3D(-center[0], -center[1], -center[2]))

	return &raytrace.Scene{
		Meshes:     []raytrace.Mesh{raytrace.MeshFromTriangles(name, positions, m.Indices)},
		Placements: []raytrace.Placement{{Mesh: 0, Transform: transform}},
	}
}
