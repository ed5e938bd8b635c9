package loaders_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
)

func TestValidateSPIRV(t *testing.T) {
	good := binary.LittleEndian.AppendUint32(nil, 0x07230203)
	good = append(good, 0, 0, 1, 0)
	if err := loaders.ValidateSPIRV(good); err != nil {
		t.Fatal(err)
	}
	tests := map[string][]byte{
		"empty":     nil,
		"unaligned": append(good[:len(good):len(good)], 1),
		"magic":     {1, 2, 3, 4},
	}
	for name, code := range tests {
		if err := loaders.ValidateSPIRV(code); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.spv")
	code := binary.LittleEndian.AppendUint32(nil, 0x07230203)
	if err := os.WriteFile(path, code, 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := (&loaders.ShaderLoader{}).Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.([]byte), code) {
		t.Fatal("code changed")
	}
	if _, err := (&loaders.ShaderLoader{}).Load(filepath.Join(dir, "missing.spv")); err == nil {
		t.Fatal("missing file loaded")
	}
}

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(0, 1, color.NRGBA{B: 255, A: 255})
	img.Set(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	return img
}

func TestImageLoaderFormats(t *testing.T) {
	dir := t.TempDir()
	var pngBuf, bmpBuf bytes.Buffer
	if err := png.Encode(&pngBuf, testImage()); err != nil {
		t.Fatal(err)
	}
	if err := bmp.Encode(&bmpBuf, testImage()); err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{"a.png": pngBuf.Bytes(), "a.bmp": bmpBuf.Bytes()}
	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatal(err)
			}
			out, err := (&loaders.ImageLoader{}).Load(path)
			if err != nil {
				t.Fatal(err)
			}
			img := out.(*loaders.Image)
			if img.Width != 2 || img.Height != 2 || len(img.Pixels) != 16 {
				t.Fatalf("image %dx%d with %d bytes", img.Width, img.Height, len(img.Pixels))
			}
			if !bytes.Equal(img.Pixels[:4], []byte{255, 0, 0, 255}) {
				t.Fatalf("first pixel = %v", img.Pixels[:4])
			}
		})
	}
}

func TestToRGBAFlip(t *testing.T) {
	img := loaders.ToRGBA(testImage(), true)
	// The bottom-left blue pixel comes first.
	if !bytes.Equal(img.Pixels[:4], []byte{0, 0, 255, 255}) {
		t.Fatalf("first pixel = %v", img.Pixels[:4])
	}
	if !bytes.Equal(img.Pixels[8:12], []byte{255, 0, 0, 255}) {
		t.Fatalf("third pixel = %v", img.Pixels[8:12])
	}
}

const quadOBJ = `# a quad
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
f 1/1/1 2/2/1 3/3/1 4/4/1
f 1/1 3/3 4/4
f 1/3 2/2 3/3
`

func TestParseOBJ(t *testing.T) {
	m, err := loaders.ParseOBJ(strings.NewReader(quadOBJ))
	if err != nil {
		t.Fatal(err)
	}
	// The second face reuses every vertex; the third adds one for the
	// position seen with a new texcoord.
	if len(m.Positions) != 5 || len(m.UVs) != 5 {
		t.Fatalf("%d positions, %d uvs", len(m.Positions), len(m.UVs))
	}
	want := []uint32{0, 1, 2, 0, 2, 3, 0, 2, 3, 4, 1, 2}
	if len(m.Indices) != len(want) {
		t.Fatalf("indices = %v", m.Indices)
	}
	for i := range want {
		if m.Indices[i] != want[i] {
			t.Fatalf("indices = %v, want %v", m.Indices, want)
		}
	}
	// v is flipped.
	if m.UVs[0] != [2]float32{0, 1} || m.UVs[2] != [2]float32{1, 0} {
		t.Fatalf("uvs = %v", m.UVs)
	}
	if m.Positions[4] != [3]float32{0, 0, 0} || m.UVs[4] != [2]float32{1, 0} {
		t.Fatalf("vertex 4 = %v %v", m.Positions[4], m.UVs[4])
	}
}

func TestParseOBJWithoutTexcoords(t *testing.T) {
	m, err := loaders.ParseOBJ(strings.NewReader("o tri\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Indices) != 3 || len(m.UVs) != 3 || m.UVs[1] != [2]float32{} {
		t.Fatalf("model = %+v", m)
	}
}

func TestParseOBJErrors(t *testing.T) {
	tests := map[string]string{
		"no faces":     "o empty\nv 0 0 0\n",
		"bad index":    "o bad\nv 0 0 0\nv 1 0 0\nv 1 1 0\nf 1 2 4\n",
		"short vertex": "o short\nv 0 0\nv 1 0 0\nv 1 1 0\nf 1 2 3\n",
		"short face":   "o short\nv 0 0 0\nv 1 0 0\nf 1 2\n",
	}
	for name, src := range tests {
		if _, err := loaders.ParseOBJ(strings.NewReader(src)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}
