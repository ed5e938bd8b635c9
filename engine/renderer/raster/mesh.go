package raster

import (
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Vertex is the interleaved vertex of the raster pipeline.
type Vertex struct {
	Pos   [3]float32
	Color [3]float32
	UV    [2]float32
}

// vertexAttributes describes Vertex to the pipeline.
func vertexAttributes() []gpu.VertexAttribute {
	return []gpu.VertexAttribute{
		{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
		{Location: 1, Format: gpu.FormatR32G32B32Sfloat, Offset: 12},
		{Location: 2, Format: gpu.FormatR32G32Sfloat, Offset: 24},
	}
}

// Mesh is indexed triangle geometry.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// Texture is RGBA8 pixel data.
type Texture struct {
	Pixels []byte
	Width  uint32
	Height uint32
}

// DefaultMesh is two stacked textured quads.
func DefaultMesh() Mesh {
	quad := func(z float32) []Vertex {
		return []Vertex{
			{Pos: [3]float32{-0.5, -0.5, z}, Color: [3]float32{1, 0, 0}, UV: [2]float32{1, 0}},
			{Pos: [3]float32{0.5, -0.5, z}, Color: [3]float32{0, 1, 0}, UV: [2]float32{0, 0}},
			{Pos: [3]float32{0.5, 0.5, z}, Color: [3]float32{0, 0, 1}, UV: [2]float32{0, 1}},
			{Pos: [3]float32{-0.5, 0.5, z}, Color: [3]float32{1, 1, 1}, UV: [2]float32{1, 1}},
		}
	}
	return Mesh{
		Vertices: append(quad(0), quad(-0.5)...),
		Indices:  []uint32{0, 1, 2, 2, 3, 0, 4, 5, 6, 6, 7, 4},
	}
}

// CheckerTexture is a size x size black and white checkerboard of 8x8 cells.
func CheckerTexture(size uint32) Texture {
	px := make([]byte, 0, size*size*4)
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			v := byte(0x20)
			if (x/8+y/8)%2 == 0 {
				v = 0xE0
			}
			px = append(px, v, v, v, 0xFF)
		}
	}
	return Texture{Pixels: px, Width: size, Height: size}
}
