package vulkan

import (
	"errors"
	"math"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func TestFormatRoundTrip(t *testing.T) {
	for f := range formats {
		if got := fromFormat(toFormat(f)); got != f {
			t.Errorf("fromFormat(toFormat(%d)) = %d", f, got)
		}
	}
	if got := fromFormat(vk.FormatR16g16b16a16Sfloat); got != gpu.FormatUndefined {
		t.Errorf("unknown format mapped to %d", got)
	}
}

func TestBufferUsageFlags(t *testing.T) {
	got := toBufferUsage(gpu.BufferUsageTransferDst | gpu.BufferUsageShaderDeviceAddress | gpu.BufferUsageAccelerationStructureStorage)
	want := vk.BufferUsageFlags(uint32(vk.BufferUsageTransferDstBit) | bufferUsageShaderDeviceAddress | bufferUsageAccelerationStorage)
	if got != want {
		t.Fatalf("usage = %#x, want %#x", got, want)
	}
	if toBufferUsage(0) != 0 {
		t.Fatal("empty usage produced flags")
	}
}

func TestStageDefaultsToTopOfPipe(t *testing.T) {
	if got := toStage(0); got != vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit) {
		t.Fatalf("empty stage = %#x", got)
	}
	got := toStage(gpu.PipelineStageTransfer | gpu.PipelineStageAccelerationStructureBuild)
	want := vk.PipelineStageFlags(uint32(vk.PipelineStageTransferBit) | stageAccelerationStructureBuild)
	if got != want {
		t.Fatalf("stage = %#x, want %#x", got, want)
	}
}

func TestShaderStagesIncludeRayTracing(t *testing.T) {
	got := toShaderStages(gpu.ShaderStageRaygen | gpu.ShaderStageMiss | gpu.ShaderStageClosestHit)
	want := vk.ShaderStageFlags(shaderStageRaygen | shaderStageMiss | shaderStageClosestHit)
	if got != want {
		t.Fatalf("stages = %#x, want %#x", got, want)
	}
}

func TestAspectDefaultsToColor(t *testing.T) {
	if toAspect(0) != vk.ImageAspectFlags(vk.ImageAspectColorBit) {
		t.Fatal("empty aspect is not color")
	}
	if toAspect(gpu.ImageAspectDepth) != vk.ImageAspectFlags(vk.ImageAspectDepthBit) {
		t.Fatal("depth aspect")
	}
}

func TestEnumConversions(t *testing.T) {
	if toDescriptorType(gpu.DescriptorTypeAccelerationStructure) != vk.DescriptorType(descriptorTypeAccelerationStructure) {
		t.Error("acceleration structure descriptor type")
	}
	if toBindPoint(gpu.BindPointRayTracing) != vk.PipelineBindPoint(pipelineBindPointRayTracing) {
		t.Error("ray tracing bind point")
	}
	if toIndexType(gpu.IndexTypeUint16) != vk.IndexTypeUint16 || toIndexType(gpu.IndexTypeUint32) != vk.IndexTypeUint32 {
		t.Error("index types")
	}
	if toLayout(gpu.ImageLayoutPresentSrc) != vk.ImageLayoutPresentSrc || toLayout(gpu.ImageLayoutUndefined) != vk.ImageLayoutUndefined {
		t.Error("layouts")
	}
}

func TestResultError(t *testing.T) {
	tests := []struct {
		result vk.Result
		want   error
	}{
		{vk.Timeout, gpu.ErrTimeout},
		{vk.ErrorDeviceLost, gpu.ErrDeviceLost},
		{vk.ErrorOutOfDate, gpu.ErrOutOfDate},
		{vk.Suboptimal, gpu.ErrSuboptimal},
		{vk.ErrorExtensionNotPresent, gpu.ErrNotSupported},
	}
	for _, tt := range tests {
		err := resultError(tt.result, "op")
		if !errors.Is(err, tt.want) {
			t.Errorf("resultError(%s) = %v, want %v", VulkanResultString(tt.result, false), err, tt.want)
		}
	}
	if err := resultError(vk.Success, "op"); err != nil {
		t.Fatalf("success produced %v", err)
	}
	if err := resultError(vk.ErrorOutOfDeviceMemory, "vkAllocateMemory"); err == nil || errors.Is(err, gpu.ErrTimeout) {
		t.Fatalf("out of memory = %v", err)
	}
}

func TestVulkanResultString(t *testing.T) {
	if got := VulkanResultString(vk.ErrorDeviceLost, false); got != "VK_ERROR_DEVICE_LOST" {
		t.Fatalf("got %q", got)
	}
	if got := VulkanResultString(vk.Result(-12345), false); got != "VkResult(-12345)" {
		t.Fatalf("got %q", got)
	}
	if !VulkanResultIsSuccess(vk.Suboptimal) || VulkanResultIsSuccess(vk.ErrorOutOfDate) {
		t.Fatal("success classification")
	}
}

func TestSpirvWords(t *testing.T) {
	words, err := spirvWords([]byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 2 || words[0] != 0x07230203 || words[1] != 1 {
		t.Fatalf("words = %#x", words)
	}
	if _, err := spirvWords([]byte{1, 2, 3}); err == nil {
		t.Fatal("odd length accepted")
	}
	if _, err := spirvWords(nil); err == nil {
		t.Fatal("empty code accepted")
	}
}

func TestVulkanSafeStrings(t *testing.T) {
	in := []string{"VK_KHR_surface", "done\x00"}
	out := VulkanSafeStrings(in)
	if out[0] != "VK_KHR_surface\x00" || out[1] != "done\x00" {
		t.Fatalf("out = %q", out)
	}
	if in[0] != "VK_KHR_surface" {
		t.Fatal("input modified")
	}
}

func TestSwapchainChoices(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	if got := chooseSurfaceFormat(formats, vk.FormatUndefined); got.Format != vk.FormatB8g8r8a8Unorm {
		t.Errorf("fallback format = %d", got.Format)
	}
	if got := chooseSurfaceFormat(formats, vk.FormatR8g8b8a8Unorm); got.Format != vk.FormatR8g8b8a8Unorm {
		t.Errorf("preferred format = %d", got.Format)
	}

	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}
	if choosePresentMode(modes, true) != vk.PresentModeFifo {
		t.Error("vsync must use fifo")
	}
	if choosePresentMode(modes, false) != vk.PresentModeMailbox {
		t.Error("mailbox not chosen")
	}
	if choosePresentMode([]vk.PresentMode{vk.PresentModeFifo}, false) != vk.PresentModeFifo {
		t.Error("fifo fallback")
	}

	caps := &vk.SurfaceCapabilities{
		MinImageCount:  2,
		MaxImageCount:  2,
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 1024, Height: 1024},
	}
	if got := chooseExtent(caps, gpu.Extent2D{Width: 4096, Height: 600}); got.Width != 1024 || got.Height != 600 {
		t.Errorf("extent = %v", got)
	}
	if chooseImageCount(caps) != 2 {
		t.Error("image count must respect the maximum")
	}
	caps.CurrentExtent = vk.Extent2D{Width: 800, Height: 450}
	if got := chooseExtent(caps, gpu.Extent2D{Width: 10, Height: 10}); got.Width != 800 || got.Height != 450 {
		t.Errorf("current extent ignored: %v", got)
	}
}

func TestSwapchainSharing(t *testing.T) {
	mode, indices := swapchainSharing(queueFamilies{Graphics: 2, Present: 2})
	if mode != vk.SharingModeExclusive || indices != nil {
		t.Fatalf("shared family: %d %v", mode, indices)
	}
	mode, indices = swapchainSharing(queueFamilies{Graphics: 0, Present: 3})
	if mode != vk.SharingModeConcurrent || len(indices) != 2 || indices[0] != 0 || indices[1] != 3 {
		t.Fatalf("split families: %d %v", mode, indices)
	}
}
