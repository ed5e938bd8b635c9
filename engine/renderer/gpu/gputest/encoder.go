package gputest

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// instanceRecordSize is the byte size of one TLAS instance record.
const instanceRecordSize = 64

type encoder struct {
	d  *Device
	cb *commandBuffer
}

func (e *encoder) fail(err error) {
	if e.cb.err == nil {
		e.cb.err = err
	}
}

func (e *encoder) record(cmd func(d *Device) error) {
	e.cb.commands = append(e.cb.commands, cmd)
}

func (e *encoder) CopyBuffer(src, dst gpu.BufferID, regions ...gpu.BufferCopy) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	s, err := lookup(e.d.buffers, uint64(src), "buffer")
	if err != nil {
		e.fail(err)
		return
	}
	t, err := lookup(e.d.buffers, uint64(dst), "buffer")
	if err != nil {
		e.fail(err)
		return
	}
	if !s.desc.Usage.Has(gpu.BufferUsageTransferSrc) || !t.desc.Usage.Has(gpu.BufferUsageTransferDst) {
		e.fail(fmt.Errorf("copy %q -> %q without transfer usage", s.desc.Label, t.desc.Label))
		return
	}
	for _, r := range regions {
		if r.SrcOffset+r.Size > s.desc.Size || r.DstOffset+r.Size > t.desc.Size {
			e.fail(fmt.Errorf("copy region %+v out of range", r))
			return
		}
	}
	regions = append([]gpu.BufferCopy(nil), regions...)
	e.record(func(d *Device) error {
		for _, r := range regions {
			copy(t.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
		d.event("copy-buffer")
		return nil
	})
}

func (e *encoder) CopyBufferToImage(src gpu.BufferID, dst gpu.ImageID, extent gpu.Extent2D) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	s, err := lookup(e.d.buffers, uint64(src), "buffer")
	if err != nil {
		e.fail(err)
		return
	}
	img, err := lookup(e.d.images, uint64(dst), "image")
	if err != nil {
		e.fail(err)
		return
	}
	if extent != img.desc.Extent {
		e.fail(fmt.Errorf("copy extent %v does not match image %q", extent, img.desc.Label))
		return
	}
	e.record(func(d *Device) error {
		if l := img.layouts[0]; l != gpu.ImageLayoutTransferDst && l != gpu.ImageLayoutGeneral {
			return fmt.Errorf("copy to image %q in layout %d", img.desc.Label, l)
		}
		copy(img.data, s.data)
		d.event("copy-buffer-to-image")
		return nil
	})
}

func (e *encoder) BlitImage(src gpu.ImageID, srcLayout gpu.ImageLayout, dst gpu.ImageID, dstLayout gpu.ImageLayout, blit gpu.ImageBlit) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	s, err := lookup(e.d.images, uint64(src), "image")
	if err != nil {
		e.fail(err)
		return
	}
	t, err := lookup(e.d.images, uint64(dst), "image")
	if err != nil {
		e.fail(err)
		return
	}
	if int(blit.SrcMip) >= len(s.layouts) || int(blit.DstMip) >= len(t.layouts) {
		e.fail(fmt.Errorf("blit mip out of range"))
		return
	}
	e.record(func(d *Device) error {
		if s.layouts[blit.SrcMip] != srcLayout || t.layouts[blit.DstMip] != dstLayout {
			return fmt.Errorf("blit %q -> %q with mismatched layouts", s.desc.Label, t.desc.Label)
		}
		if blit.SrcMip == 0 && blit.DstMip == 0 && s.desc.Extent == t.desc.Extent {
			copy(t.data, s.data)
		}
		d.event("blit")
		return nil
	})
}

func (e *encoder) PipelineBarrier(barriers ...gpu.ImageBarrier) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	imgs := make([]*image, len(barriers))
	for i, b := range barriers {
		img, err := lookup(e.d.images, uint64(b.Image), "image")
		if err != nil {
			e.fail(err)
			return
		}
		imgs[i] = img
	}
	barriers = append([]gpu.ImageBarrier(nil), barriers...)
	e.record(func(d *Device) error {
		for i, b := range barriers {
			img := imgs[i]
			count := b.LevelCount
			if count == 0 {
				count = uint32(len(img.layouts)) - b.BaseMipLevel
			}
			for m := b.BaseMipLevel; m < b.BaseMipLevel+count && int(m) < len(img.layouts); m++ {
				if b.OldLayout != gpu.ImageLayoutUndefined && img.layouts[m] != b.OldLayout {
					return fmt.Errorf("image %q mip %d: transition from %d but layout is %d", img.desc.Label, m, b.OldLayout, img.layouts[m])
				}
				img.layouts[m] = b.NewLayout
			}
		}
		d.event("barrier")
		return nil
	})
}

func (e *encoder) MemoryBarrier(srcStage, dstStage gpu.PipelineStage, srcAccess, dstAccess gpu.Access) {
	e.record(func(d *Device) error {
		d.event("memory-barrier")
		return nil
	})
}

func (e *encoder) BuildAccelerationStructure(info *gpu.BuildGeometryInfo, primitiveCount uint32) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	dst, err := lookup(e.d.accels, uint64(info.Dst), "acceleration structure")
	if err != nil {
		e.fail(err)
		return
	}
	if dst.typ != info.Type {
		e.fail(fmt.Errorf("build of %s into a %s object", info.Type, dst.typ))
		return
	}
	if (info.Type == gpu.AccelerationStructureBottomLevel) != (info.Geometry.Triangles != nil) {
		e.fail(fmt.Errorf("%s build with the wrong geometry kind", info.Type))
		return
	}
	in := *info
	e.record(func(d *Device) error {
		sizes := buildSizes(in.Type, primitiveCount)
		scratch, off, ok := d.resolve(in.ScratchData)
		if !ok || !scratch.desc.Usage.Has(gpu.BufferUsageStorage) || scratch.desc.Size-off < sizes.BuildScratchSize {
			return fmt.Errorf("%s build: scratch address %#x is not a large enough storage buffer", in.Type, in.ScratchData)
		}
		if d.scratchAlign > 1 && uint64(in.ScratchData)%d.scratchAlign != 0 {
			return fmt.Errorf("%s build: scratch address %#x is not aligned to %d", in.Type, in.ScratchData, d.scratchAlign)
		}
		if in.Type == gpu.AccelerationStructureBottomLevel {
			tri := in.Geometry.Triangles
			for _, addr := range []gpu.DeviceAddress{tri.VertexData, tri.IndexData} {
				b, _, ok := d.resolve(addr)
				if !ok || !b.desc.Usage.Has(gpu.BufferUsageAccelerationStructureBuildInput) {
					return fmt.Errorf("BLAS build: input address %#x is not a build input buffer", addr)
				}
			}
		} else {
			b, off, ok := d.resolve(in.Geometry.Instances.Data)
			if !ok || off+uint64(primitiveCount)*instanceRecordSize > b.desc.Size {
				return fmt.Errorf("TLAS build: instance address %#x does not hold %d records", in.Geometry.Instances.Data, primitiveCount)
			}
			for i := uint64(0); i < uint64(primitiveCount); i++ {
				rec := b.data[off+i*instanceRecordSize : off+(i+1)*instanceRecordSize]
				ref := gpu.DeviceAddress(readUint64(rec[56:]))
				blas, ok := d.accelByAddress(ref)
				if !ok || blas.typ != gpu.AccelerationStructureBottomLevel || !blas.built {
					return fmt.Errorf("TLAS build: instance %d references %#x which is not a built BLAS", i, ref)
				}
			}
		}
		dst.built = true
		dst.primitives = primitiveCount
		d.event("build-%s", in.Type)
		return nil
	})
}

func (e *encoder) BindPipeline(point gpu.BindPoint, id gpu.PipelineID) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	p, err := lookup(e.d.pipelines, uint64(id), "pipeline")
	if err != nil {
		e.fail(err)
		return
	}
	if p.point != point {
		e.fail(fmt.Errorf("pipeline %d bound to the wrong bind point", id))
		return
	}
	e.record(func(d *Device) error {
		d.event("bind-pipeline")
		return nil
	})
}

func (e *encoder) BindDescriptorSets(point gpu.BindPoint, layout gpu.PipelineLayoutID, firstSet uint32, sets ...gpu.DescriptorSetID) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if _, err := lookup(e.d.pipelineLayouts, uint64(layout), "pipeline layout"); err != nil {
		e.fail(err)
		return
	}
	for _, s := range sets {
		if _, err := lookup(e.d.sets, uint64(s), "descriptor set"); err != nil {
			e.fail(err)
			return
		}
	}
	e.record(func(d *Device) error {
		d.event("bind-sets:%d", len(sets))
		return nil
	})
}

func (e *encoder) PushConstants(layout gpu.PipelineLayoutID, stages gpu.ShaderStage, offset uint32, data []byte) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	ranges, err := lookup(e.d.pipelineLayouts, uint64(layout), "pipeline layout")
	if err != nil {
		e.fail(err)
		return
	}
	covered := false
	for _, r := range ranges {
		if r.Stages&stages == stages && offset >= r.Offset && offset+uint32(len(data)) <= r.Offset+r.Size {
			covered = true
		}
	}
	if !covered {
		e.fail(fmt.Errorf("push constant %d+%d is outside the layout ranges", offset, len(data)))
		return
	}
	payload := append([]byte(nil), data...)
	e.record(func(d *Device) error {
		d.pushConstants = append(d.pushConstants, payload)
		d.event("push-constants")
		return nil
	})
}

func (e *encoder) TraceRays(regions *gpu.ShaderBindingRegions, width, height, depth uint32) {
	r := *regions
	if r.Raygen.Size != r.Raygen.Stride {
		e.fail(fmt.Errorf("raygen region size %d must equal its stride %d", r.Raygen.Size, r.Raygen.Stride))
		return
	}
	e.record(func(d *Device) error {
		for name, region := range map[string]gpu.StridedRegion{"raygen": r.Raygen, "miss": r.Miss, "hit": r.Hit} {
			if region.Size == 0 {
				continue
			}
			b, _, ok := d.resolve(region.DeviceAddress)
			if !ok || !b.desc.Usage.Has(gpu.BufferUsageShaderBindingTable) {
				return fmt.Errorf("%s region %#x is not inside a shader binding table buffer", name, region.DeviceAddress)
			}
		}
		d.traces = append(d.traces, Trace{Regions: r, Width: width, Height: height})
		d.event("trace-rays %dx%d", width, height)
		return nil
	})
}

func (e *encoder) BeginRenderPass(pass gpu.RenderPassID, fb gpu.FramebufferID, extent gpu.Extent2D, clears ...gpu.ClearValue) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if _, err := lookup(e.d.renderPasses, uint64(pass), "render pass"); err != nil {
		e.fail(err)
		return
	}
	fbExtent, err := lookup(e.d.framebuffers, uint64(fb), "framebuffer")
	if err != nil {
		e.fail(err)
		return
	}
	if fbExtent != extent {
		e.fail(fmt.Errorf("render area %v does not match framebuffer %v", extent, fbExtent))
		return
	}
	e.record(func(d *Device) error {
		d.event("begin-render-pass")
		return nil
	})
}

func (e *encoder) EndRenderPass() {
	e.record(func(d *Device) error {
		d.event("end-render-pass")
		return nil
	})
}

func (e *encoder) SetViewport(extent gpu.Extent2D) {
	e.record(func(d *Device) error {
		d.event("viewport %dx%d", extent.Width, extent.Height)
		return nil
	})
}

func (e *encoder) BindVertexBuffer(binding uint32, id gpu.BufferID, offset uint64) {
	e.bindBuffer(id, gpu.BufferUsageVertex, "bind-vertex-buffer")
}

func (e *encoder) BindIndexBuffer(id gpu.BufferID, offset uint64, indexType gpu.IndexType) {
	e.bindBuffer(id, gpu.BufferUsageIndex, "bind-index-buffer")
}

func (e *encoder) bindBuffer(id gpu.BufferID, usage gpu.BufferUsage, name string) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	b, err := lookup(e.d.buffers, uint64(id), "buffer")
	if err != nil {
		e.fail(err)
		return
	}
	if !b.desc.Usage.Has(usage) {
		e.fail(fmt.Errorf("%s: buffer %q lacks the usage", name, b.desc.Label))
		return
	}
	e.record(func(d *Device) error {
		d.event(name)
		return nil
	})
}

func (e *encoder) DrawIndexed(indexCount, instanceCount uint32) {
	e.record(func(d *Device) error {
		d.event("draw-indexed %d", indexCount)
		return nil
	})
}

var _ gpu.CommandEncoder = (*encoder)(nil)
