package loaders

import (
	"fmt"
	"image"
	"os"

	// Decoders register themselves with image.Decode.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is tightly packed RGBA8 pixel data, top row first.
type Image struct {
	Pixels []byte
	Width  uint32
	Height uint32
}

type ImageLoader struct {
	// FlipY stores the bottom row first.
	FlipY bool
}

func (il *ImageLoader) Load(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img := ToRGBA(src, il.FlipY)
	if img.Width == 0 || img.Height == 0 {
		return nil, fmt.Errorf("%s: %s image is empty", path, format)
	}
	return img, nil
}

// ToRGBA converts any decoded image to RGBA8.
func ToRGBA(src image.Image, flipY bool) *Image {
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	out := &Image{
		Pixels: rgba.Pix,
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
	}
	if flipY {
		row := b.Dx() * 4
		flipped := make([]byte, len(rgba.Pix))
		for y := 0; y < b.Dy(); y++ {
			copy(flipped[(b.Dy()-1-y)*row:], rgba.Pix[y*rgba.Stride:y*rgba.Stride+row])
		}
		out.Pixels = flipped
	}
	return out
}
