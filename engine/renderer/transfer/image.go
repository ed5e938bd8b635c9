package transfer

import (
	"fmt"
	"math/bits"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Image is a sampled texture with a full mip chain.
type Image struct {
	ID        gpu.ImageID
	View      gpu.ImageViewID
	Extent    gpu.Extent2D
	Format    gpu.Format
	MipLevels uint32
}

// MipLevels returns the number of levels down to 1x1 for the given size.
func MipLevels(width, height uint32) uint32 {
	m := width
	if height > m {
		m = height
	}
	if m == 0 {
		return 1
	}
	return uint32(bits.Len32(m))
}

// UploadImage copies RGBA8 pixels into a new image and generates the mip
// chain with successive linear blits. Every level ends in ShaderReadOnly layout.
func (s *Stager) UploadImage(label string, pixels []byte, width, height uint32, format gpu.Format) (*Image, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%s: %w", label, ErrEmptyUpload)
	}
	if want := int(width) * int(height) * 4; len(pixels) != want {
		return nil, fmt.Errorf("%s: %d bytes of pixels for a %dx%d RGBA8 image, want %d", label, len(pixels), width, height, want)
	}
	extent := gpu.Extent2D{Width: width, Height: height}
	mips := MipLevels(width, height)

	staging, err := s.dev.CreateBuffer(&gpu.BufferDesc{
		Label:  label + "-staging",
		Size:   uint64(len(pixels)),
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryHostVisibleCoherent,
	})
	if err != nil {
		return nil, err
	}
	defer s.dev.DestroyBuffer(staging)
	if err := s.dev.WriteBuffer(staging, 0, pixels); err != nil {
		return nil, err
	}

	id, err := s.dev.CreateImage(&gpu.ImageDesc{
		Label:     label,
		Extent:    extent,
		Format:    format,
		Usage:     gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst | gpu.ImageUsageSampled,
		MipLevels: mips,
		Memory:    gpu.MemoryDeviceLocal,
	})
	if err != nil {
		core.LogError("failed to create image %s: %v", label, err)
		return nil, err
	}

	err = s.OneShot(func(enc gpu.CommandEncoder) {
		enc.PipelineBarrier(gpu.ImageBarrier{
			Image:      id,
			Aspect:     gpu.ImageAspectColor,
			OldLayout:  gpu.ImageLayoutUndefined,
			NewLayout:  gpu.ImageLayoutTransferDst,
			DstAccess:  gpu.AccessTransferWrite,
			SrcStage:   gpu.PipelineStageTopOfPipe,
			DstStage:   gpu.PipelineStageTransfer,
			LevelCount: mips,
		})
		enc.CopyBufferToImage(staging, id, extent)
		generateMips(enc, id, extent, mips)
	})
	if err != nil {
		s.dev.DestroyImage(id)
		return nil, fmt.Errorf("%s: upload: %w", label, err)
	}

	view, err := s.dev.CreateImageView(id, &gpu.ImageViewDesc{Format: format, Aspect: gpu.ImageAspectColor, MipLevels: mips})
	if err != nil {
		s.dev.DestroyImage(id)
		return nil, err
	}
	return &Image{ID: id, View: view, Extent: extent, Format: format, MipLevels: mips}, nil
}

func generateMips(enc gpu.CommandEncoder, id gpu.ImageID, extent gpu.Extent2D, mips uint32) {
	w, h := extent.Width, extent.Height
	for i := uint32(1); i < mips; i++ {
		enc.PipelineBarrier(gpu.ImageBarrier{
			Image:        id,
			Aspect:       gpu.ImageAspectColor,
			OldLayout:    gpu.ImageLayoutTransferDst,
			NewLayout:    gpu.ImageLayoutTransferSrc,
			SrcAccess:    gpu.AccessTransferWrite,
			DstAccess:    gpu.AccessTransferRead,
			SrcStage:     gpu.PipelineStageTransfer,
			DstStage:     gpu.PipelineStageTransfer,
			BaseMipLevel: i - 1,
			LevelCount:   1,
		})
		next := gpu.Extent2D{Width: max(w/2, 1), Height: max(h/2, 1)}
		enc.BlitImage(id, gpu.ImageLayoutTransferSrc, id, gpu.ImageLayoutTransferDst, gpu.ImageBlit{
			SrcExtent: gpu.Extent2D{Width: w, Height: h},
			DstExtent: next,
			SrcMip:    i - 1,
			DstMip:    i,
			Linear:    true,
		})
		enc.PipelineBarrier(gpu.ImageBarrier{
			Image:        id,
			Aspect:       gpu.ImageAspectColor,
			OldLayout:    gpu.ImageLayoutTransferSrc,
			NewLayout:    gpu.ImageLayoutShaderReadOnly,
			SrcAccess:    gpu.AccessTransferRead,
			DstAccess:    gpu.AccessShaderRead,
			SrcStage:     gpu.PipelineStageTransfer,
			DstStage:     gpu.PipelineStageFragmentShader,
			BaseMipLevel: i - 1,
			LevelCount:   1,
		})
		w, h = next.Width, next.Height
	}
	enc.PipelineBarrier(gpu.ImageBarrier{
		Image:        id,
		Aspect:       gpu.ImageAspectColor,
		OldLayout:    gpu.ImageLayoutTransferDst,
		NewLayout:    gpu.ImageLayoutShaderReadOnly,
		SrcAccess:    gpu.AccessTransferWrite,
		DstAccess:    gpu.AccessShaderRead,
		SrcStage:     gpu.PipelineStageTransfer,
		DstStage:     gpu.PipelineStageFragmentShader,
		BaseMipLevel: mips - 1,
		LevelCount:   1,
	})
}

// DestroyImage frees the view and the image.
func (s *Stager) DestroyImage(img *Image) {
	if img == nil || img.ID == gpu.InvalidID {
		return
	}
	s.dev.DestroyImageView(img.View)
	s.dev.DestroyImage(img.ID)
	img.ID, img.View = gpu.InvalidID, gpu.InvalidID
}
