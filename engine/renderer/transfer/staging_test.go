package transfer_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/lumen/engine/renderer/transfer"
)

type vertex struct {
	Pos   [3]float32
	Color [3]float32
	UV    [2]float32
}

const roundTrip = gpu.BufferUsageVertex | gpu.BufferUsageTransferSrc

func TestUploadRoundTrip(t *testing.T) {
	dev := gputest.NewDevice()
	s := transfer.NewStager(dev)

	t.Run("uint16", func(t *testing.T) {
		for k := 1; k <= 7; k++ {
			in := make([]uint16, k)
			for i := range in {
				in[i] = uint16(i*7919 + 1)
			}
			buf, err := transfer.Upload(s, "indices", roundTrip, in)
			if err != nil {
				t.Fatal(err)
			}
			if buf.Count != k || buf.Size != uint64(2*k) {
				t.Fatalf("count/size = %d/%d for k=%d", buf.Count, buf.Size, k)
			}
			out, err := transfer.ReadbackItems[uint16](s, buf)
			if err != nil {
				t.Fatal(err)
			}
			for i := range in {
				if in[i] != out[i] {
					t.Fatalf("k=%d item %d: got %d want %d", k, i, out[i], in[i])
				}
			}
			s.Destroy(buf)
		}
	})

	t.Run("struct", func(t *testing.T) {
		in := []vertex{
			{Pos: [3]float32{-0.5, -0.5, 0}, Color: [3]float32{1, 0, 0}, UV: [2]float32{1, 0}},
			{Pos: [3]float32{0.5, -0.5, 0}, Color: [3]float32{0, 1, 0}, UV: [2]float32{0, 0}},
			{Pos: [3]float32{0.5, 0.5, 0}, Color: [3]float32{0, 0, 1}, UV: [2]float32{0, 1}},
		}
		buf, err := transfer.Upload(s, "vertices", roundTrip, in)
		if err != nil {
			t.Fatal(err)
		}
		defer s.Destroy(buf)
		raw, err := s.Readback(buf)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(raw, gpu.AsBytes(in)) {
			t.Fatal("readback bytes differ from the uploaded bytes")
		}
	})

	if n := dev.InFlight(); n != 0 {
		t.Fatalf("%d submissions left in flight after synchronous uploads", n)
	}
	if errs := dev.ValidationErrors(); len(errs) > 0 {
		t.Fatalf("validation errors: %v", errs)
	}
	if n := dev.LiveObjects(); n != 0 {
		t.Fatalf("%d objects leaked", n)
	}
}

func TestUploadDestinationIsDeviceLocal(t *testing.T) {
	dev := gputest.NewDevice()
	s := transfer.NewStager(dev)
	buf, err := transfer.Upload(s, "positions", gpu.BufferUsageStorage, []float32{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	desc, err := dev.BufferDesc(buf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if desc.Memory != gpu.MemoryDeviceLocal {
		t.Errorf("destination memory = %v, want device local", desc.Memory)
	}
	if !desc.Usage.Has(gpu.BufferUsageStorage | gpu.BufferUsageTransferDst) {
		t.Errorf("destination usage %b lacks storage|transfer-dst", desc.Usage)
	}
	if _, err := s.Readback(buf); err == nil {
		t.Error("readback without transfer source usage must fail")
	}
}

func TestUploadEmpty(t *testing.T) {
	s := transfer.NewStager(gputest.NewDevice())
	if _, err := transfer.Upload[uint32](s, "empty", gpu.BufferUsageIndex, nil); !errors.Is(err, transfer.ErrEmptyUpload) {
		t.Fatalf("expected ErrEmptyUpload, got %v", err)
	}
}

func TestDestroyTwiceIsNoop(t *testing.T) {
	dev := gputest.NewDevice()
	s := transfer.NewStager(dev)
	buf, err := s.NewBuffer("scratch", 256, gpu.BufferUsageStorage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatal(err)
	}
	s.Destroy(buf)
	s.Destroy(buf)
	if errs := dev.ValidationErrors(); len(errs) != 0 {
		t.Fatalf("double destroy reached the device: %v", errs)
	}
}

func TestUploadImageMipChain(t *testing.T) {
	dev := gputest.NewDevice()
	s := transfer.NewStager(dev)
	pixels := make([]byte, 8*4*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	img, err := s.UploadImage("checker", pixels, 8, 4, gpu.FormatR8G8B8A8Srgb)
	if err != nil {
		t.Fatal(err)
	}
	if img.MipLevels != 4 {
		t.Fatalf("mip levels = %d, want 4", img.MipLevels)
	}
	for m := uint32(0); m < img.MipLevels; m++ {
		l, err := dev.ImageLayout(img.ID, m)
		if err != nil {
			t.Fatal(err)
		}
		if l != gpu.ImageLayoutShaderReadOnly {
			t.Errorf("mip %d layout = %d, want shader read only", m, l)
		}
	}
	got, _ := dev.ImageContents(img.ID)
	if !bytes.Equal(got, pixels) {
		t.Error("base level does not hold the uploaded pixels")
	}
	if errs := dev.ValidationErrors(); len(errs) > 0 {
		t.Fatalf("validation errors: %v", errs)
	}
	s.DestroyImage(img)
	if n := dev.LiveObjects(); n != 0 {
		t.Fatalf("%d objects leaked", n)
	}

	if _, err := s.UploadImage("short", pixels[:10], 8, 4, gpu.FormatR8G8B8A8Srgb); err == nil {
		t.Error("short pixel data must be rejected")
	}
}

func TestMipLevels(t *testing.T) {
	for _, c := range []struct{ w, h, want uint32 }{
		{1, 1, 1}, {2, 1, 2}, {512, 512, 10}, {800, 600, 10}, {1024, 3, 11},
	} {
		if got := transfer.MipLevels(c.w, c.h); got != c.want {
			t.Errorf("MipLevels(%d, %d) = %d, want %d", c.w, c.h, got, c.want)
		}
	}
}
