package loaders

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/g3n/engine/loader/obj"
)

// Model is indexed triangle geometry. Every vertex has a position and a
// texture coordinate; missing coordinates are zero.
type Model struct {
	Positions [][3]float32
	UVs       [][2]float32
	Indices   []uint32
}

// ModelLoader reads Wavefront OBJ files. Polygons are fanned into triangles
// and texture coordinates are flipped to a top-left origin.
type ModelLoader struct{}

func (ml *ModelLoader) Load(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

type objKey struct {
	v, vt int
}

type modelBuilder struct {
	dec    *obj.Decoder
	model  *Model
	unique map[objKey]uint32
}

// addVertex appends the index of corner i of face, reusing the vertex when
// the same position/texcoord pair was seen before.
func (b *modelBuilder) addVertex(face *obj.Face, i int) error {
	key := objKey{v: face.Vertices[i], vt: -1}
	if key.v < 0 || 3*key.v+2 >= len(b.dec.Vertices) {
		return fmt.Errorf("position index %d out of range", key.v)
	}
	if i < len(face.Uvs) {
		if vt := face.Uvs[i]; vt >= 0 && 2*vt+1 < len(b.dec.Uvs) {
			key.vt = vt
		}
	}
	idx, ok := b.unique[key]
	if !ok {
		idx = uint32(len(b.model.Positions))
		p := b.dec.Vertices[3*key.v:]
		b.model.Positions = append(b.model.Positions, [3]float32{p[0], p[1], p[2]})
		uv := [2]float32{}
		if key.vt >= 0 {
			uv = [2]float32{b.dec.Uvs[2*key.vt], 1 - b.dec.Uvs[2*key.vt+1]}
		}
		b.model.UVs = append(b.model.UVs, uv)
		b.unique[key] = idx
	}
	b.model.Indices = append(b.model.Indices, idx)
	return nil
}

// ParseOBJ decodes an OBJ stream. Materials are ignored; equal
// position/texcoord pairs share a vertex.
func ParseOBJ(r io.Reader) (*Model, error) {
	dec, err := obj.DecodeReader(r, strings.NewReader(""))
	if err != nil {
		return nil, err
	}
	if len(dec.Vertices)%3 != 0 || len(dec.Uvs)%2 != 0 {
		return nil, fmt.Errorf("truncated vertex data")
	}

	b := &modelBuilder{dec: dec, model: &Model{}, unique: map[objKey]uint32{}}
	for _, o := range dec.Objects {
		for f := range o.Faces {
			face := &o.Faces[f]
			if len(face.Vertices) < 3 {
				return nil, fmt.Errorf("object %q: face with %d vertices", o.Name, len(face.Vertices))
			}
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range [3]int{0, i - 1, i} {
					if err := b.addVertex(face, corner); err != nil {
						return nil, fmt.Errorf("object %q: %w", o.Name, err)
					}
				}
			}
		}
	}
	if len(b.model.Indices) == 0 {
		return nil, fmt.Errorf("model has no faces")
	}
	return b.model, nil
}
