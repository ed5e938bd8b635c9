// Package gputest provides an in-memory gpu.Device for tests.
//
// The device executes recorded commands when the submission completes, which
// happens when its fence is waited on or the queue is drained. Until then the
// submission counts as in flight. Misuse that a validation layer would report
// (waiting on an unsignaled semaphore, resubmitting a pending command buffer,
// transitioning from the wrong layout, building a TLAS over an unbuilt BLAS)
// is either returned as an error or collected in ValidationErrors.
package gputest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const (
	addressAlignment = 256
	swapchainImages  = 3
)

type buffer struct {
	desc    gpu.BufferDesc
	data    []byte
	address gpu.DeviceAddress
}

type image struct {
	desc      gpu.ImageDesc
	data      []byte
	layouts   []gpu.ImageLayout
	swapchain bool
}

type accelStruct struct {
	typ        gpu.AccelerationStructureType
	buffer     gpu.BufferID
	size       uint64
	address    gpu.DeviceAddress
	built      bool
	primitives uint32
}

type fence struct {
	signaled bool
}

type semaphore struct {
	signaled bool
}

type cmdState int

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

type commandBuffer struct {
	state    cmdState
	commands []func(d *Device) error
	err      error
}

type submission struct {
	cb    gpu.CommandBufferID
	fence gpu.FenceID
}

type pipeline struct {
	point  gpu.BindPoint
	groups uint32
}

type descriptorPool struct {
	maxSets uint32
	sets    []gpu.DescriptorSetID
}

type descriptorSet struct {
	layout gpu.DescriptorSetLayoutID
	writes map[uint32]gpu.DescriptorWrite
}

type swapchain struct {
	desc   gpu.SwapchainDesc
	images []gpu.ImageID
	views  []gpu.ImageViewID
	next   uint32
}

// Trace is a captured ray dispatch.
type Trace struct {
	Regions gpu.ShaderBindingRegions
	Width   uint32
	Height  uint32
}

// Option configures a Device.
type Option func(d *Device)

// WithRayTracingProperties overrides the reported shader group limits.
func WithRayTracingProperties(p gpu.RayTracingProperties) Option {
	return func(d *Device) { d.props = p }
}

// WithScratchAlignment sets the alignment builds require of scratch addresses.
func WithScratchAlignment(alignment uint64) Option {
	return func(d *Device) { d.scratchAlign = alignment }
}

// WithoutRayTracing creates a device that rejects ray tracing pipelines.
func WithoutRayTracing() Option {
	return func(d *Device) { d.caps.RayTracing = false }
}

// WithExtent sets the initial surface extent.
func WithExtent(width, height uint32) Option {
	return func(d *Device) { d.extent = gpu.Extent2D{Width: width, Height: height} }
}

// Device is an in-memory gpu.Device.
type Device struct {
	mu sync.Mutex

	props        gpu.RayTracingProperties
	scratchAlign uint64
	caps         gpu.Capabilities
	extent       gpu.Extent2D

	buffers         *containers.Arena[*buffer]
	images          *containers.Arena[*image]
	views           *containers.Arena[gpu.ImageID]
	samplers        *containers.Arena[gpu.SamplerDesc]
	fences          *containers.Arena[*fence]
	semaphores      *containers.Arena[*semaphore]
	commandBuffers  *containers.Arena[*commandBuffer]
	accels          *containers.Arena[*accelStruct]
	setLayouts      *containers.Arena[[]gpu.DescriptorBinding]
	pools           *containers.Arena[*descriptorPool]
	sets            *containers.Arena[*descriptorSet]
	modules         *containers.Arena[int]
	pipelineLayouts *containers.Arena[[]gpu.PushConstantRange]
	pipelines       *containers.Arena[*pipeline]
	renderPasses    *containers.Arena[gpu.RenderPassDesc]
	framebuffers    *containers.Arena[gpu.Extent2D]

	nextAddress gpu.DeviceAddress
	pending     []submission
	maxInFlight int
	submits     int
	hang        bool

	swapchain       *swapchain
	swapchainBuilds int
	acquireFaults   []error
	presentFaults   []error

	events        []string
	validation    []error
	traces        []Trace
	pushConstants [][]byte
}

var _ gpu.Device = (*Device)(nil)

// NewDevice returns a ray tracing capable device with a 800x600 surface and
// 32-byte handles, 32-byte handle alignment and 64-byte base alignment.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		props: gpu.RayTracingProperties{
			ShaderGroupHandleSize:      32,
			ShaderGroupHandleAlignment: 32,
			ShaderGroupBaseAlignment:   64,
			MaxRayRecursionDepth:       31,
		},
		caps: gpu.Capabilities{
			RayTracing:       true,
			MaxAnisotropy:    16,
			MinUniformOffset: 256,
		},
		extent:          gpu.Extent2D{Width: 800, Height: 600},
		buffers:         containers.NewArena[*buffer](),
		images:          containers.NewArena[*image](),
		views:           containers.NewArena[gpu.ImageID](),
		samplers:        containers.NewArena[gpu.SamplerDesc](),
		fences:          containers.NewArena[*fence](),
		semaphores:      containers.NewArena[*semaphore](),
		commandBuffers:  containers.NewArena[*commandBuffer](),
		accels:          containers.NewArena[*accelStruct](),
		setLayouts:      containers.NewArena[[]gpu.DescriptorBinding](),
		pools:           containers.NewArena[*descriptorPool](),
		sets:            containers.NewArena[*descriptorSet](),
		modules:         containers.NewArena[int](),
		pipelineLayouts: containers.NewArena[[]gpu.PushConstantRange](),
		pipelines:       containers.NewArena[*pipeline](),
		renderPasses:    containers.NewArena[gpu.RenderPassDesc](),
		framebuffers:    containers.NewArena[gpu.Extent2D](),
		nextAddress:     0x10000,
		scratchAlign:    128,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleFor returns the opaque handle the device reports for shader group g.
func HandleFor(g, size uint32) []byte {
	return bytes.Repeat([]byte{byte(g + 1)}, int(size))
}

func lookup[T any](a *containers.Arena[T], id uint64, kind string) (T, error) {
	v, err := a.Get(containers.Handle(id))
	if err != nil {
		return v, fmt.Errorf("%w: %s %d", gpu.ErrInvalidHandle, kind, id)
	}
	return v, nil
}

func (d *Device) event(format string, args ...interface{}) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *Device) invalid(format string, args ...interface{}) {
	d.validation = append(d.validation, fmt.Errorf(format, args...))
}

func (d *Device) allocAddress(size uint64) gpu.DeviceAddress {
	addr := d.nextAddress
	d.nextAddress += gpu.DeviceAddress(gpu.AlignUp(size, addressAlignment) + addressAlignment)
	return addr
}

// resolve maps a device address to the buffer that contains it.
func (d *Device) resolve(addr gpu.DeviceAddress) (*buffer, uint64, bool) {
	var found *buffer
	var offset uint64
	d.buffers.Each(func(_ containers.Handle, b *buffer) {
		if b.address != 0 && addr >= b.address && addr < b.address+gpu.DeviceAddress(b.desc.Size) {
			found = b
			offset = uint64(addr - b.address)
		}
	})
	return found, offset, found != nil
}

func (d *Device) accelByAddress(addr gpu.DeviceAddress) (*accelStruct, bool) {
	var found *accelStruct
	d.accels.Each(func(_ containers.Handle, a *accelStruct) {
		if a.address == addr {
			found = a
		}
	})
	return found, found != nil
}

// Capabilities and properties

func (d *Device) Capabilities() gpu.Capabilities {
	return d.caps
}

func (d *Device) RayTracingProperties() gpu.RayTracingProperties {
	return d.props
}

func (d *Device) DepthFormat() gpu.Format {
	return gpu.FormatD32Sfloat
}

// Destroy drains the queue. Live objects are left for LiveObjects to report.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completeAll()
	d.event("device-destroy")
}

// Buffers

func (d *Device) CreateBuffer(desc *gpu.BufferDesc) (gpu.BufferID, error) {
	if desc.Size == 0 {
		return gpu.InvalidID, fmt.Errorf("buffer %q: zero size", desc.Label)
	}
	if desc.Memory == 0 {
		return gpu.InvalidID, fmt.Errorf("buffer %q: %w", desc.Label, gpu.ErrNoMemoryType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := &buffer{desc: *desc, data: make([]byte, desc.Size)}
	if desc.Usage.Has(gpu.BufferUsageShaderDeviceAddress) {
		b.address = d.allocAddress(desc.Size)
	}
	return gpu.BufferID(d.buffers.Insert(b)), nil
}

func (d *Device) DestroyBuffer(id gpu.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.buffers.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy buffer: %v", err)
	}
}

func (d *Device) hostBuffer(id gpu.BufferID, offset uint64, n int) (*buffer, error) {
	b, err := lookup(d.buffers, uint64(id), "buffer")
	if err != nil {
		return nil, err
	}
	if !b.desc.Memory.Has(gpu.MemoryHostVisible) {
		return nil, fmt.Errorf("buffer %q is not host visible", b.desc.Label)
	}
	if offset+uint64(n) > b.desc.Size {
		return nil, fmt.Errorf("buffer %q: range %d+%d exceeds size %d", b.desc.Label, offset, n, b.desc.Size)
	}
	return b, nil
}

func (d *Device) WriteBuffer(id gpu.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	copy(b.data[offset:], data)
	return nil
}

func (d *Device) ReadBuffer(id gpu.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	copy(data, b.data[offset:])
	return nil
}

func (d *Device) BufferDeviceAddress(id gpu.BufferID) (gpu.DeviceAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := lookup(d.buffers, uint64(id), "buffer")
	if err != nil {
		return 0, err
	}
	if b.address == 0 {
		return 0, fmt.Errorf("buffer %q was created without device address usage", b.desc.Label)
	}
	return b.address, nil
}

// Images

func (d *Device) CreateImage(desc *gpu.ImageDesc) (gpu.ImageID, error) {
	if desc.Extent.Empty() {
		return gpu.InvalidID, fmt.Errorf("image %q: empty extent", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.ImageID(d.images.Insert(newImage(desc))), nil
}

func newImage(desc *gpu.ImageDesc) *image {
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	img := &image{
		desc:    *desc,
		data:    make([]byte, int(desc.Extent.Width)*int(desc.Extent.Height)*4),
		layouts: make([]gpu.ImageLayout, mips),
	}
	img.desc.MipLevels = mips
	return img
}

func (d *Device) DestroyImage(id gpu.ImageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.images.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy image: %v", err)
	}
}

func (d *Device) CreateImageView(id gpu.ImageID, desc *gpu.ImageViewDesc) (gpu.ImageViewID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := lookup(d.images, uint64(id), "image")
	if err != nil {
		return gpu.InvalidID, err
	}
	if desc.MipLevels > img.desc.MipLevels {
		return gpu.InvalidID, fmt.Errorf("view of %d mips over an image with %d", desc.MipLevels, img.desc.MipLevels)
	}
	return gpu.ImageViewID(d.views.Insert(id)), nil
}

func (d *Device) DestroyImageView(id gpu.ImageViewID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.views.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy image view: %v", err)
	}
}

func (d *Device) CreateSampler(desc *gpu.SamplerDesc) (gpu.SamplerID, error) {
	if desc.MaxAnisotropy > d.caps.MaxAnisotropy {
		return gpu.InvalidID, fmt.Errorf("anisotropy %.0f exceeds device limit %.0f", desc.MaxAnisotropy, d.caps.MaxAnisotropy)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.SamplerID(d.samplers.Insert(*desc)), nil
}

func (d *Device) DestroySampler(id gpu.SamplerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.samplers.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy sampler: %v", err)
	}
}

// Synchronization

func (d *Device) CreateFence(signaled bool) (gpu.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.FenceID(d.fences.Insert(&fence{signaled: signaled})), nil
}

func (d *Device) DestroyFence(id gpu.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.pending {
		if s.fence == id {
			d.invalid("destroy fence %d while its submission is pending", id)
		}
	}
	if _, err := d.fences.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy fence: %v", err)
	}
}

// WaitFence completes every submission up to and including the one that
// signals the fence. A fence nothing will signal times out immediately.
func (d *Device) WaitFence(id gpu.FenceID, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := lookup(d.fences, uint64(id), "fence")
	if err != nil {
		return err
	}
	d.event("wait-fence")
	if f.signaled {
		return nil
	}
	for i, s := range d.pending {
		if s.fence == id {
			if d.hang {
				return gpu.ErrTimeout
			}
			d.complete(i + 1)
			return nil
		}
	}
	return gpu.ErrTimeout
}

func (d *Device) ResetFence(id gpu.FenceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := lookup(d.fences, uint64(id), "fence")
	if err != nil {
		return err
	}
	for _, s := range d.pending {
		if s.fence == id {
			return fmt.Errorf("reset of fence %d while its submission is pending", id)
		}
	}
	f.signaled = false
	return nil
}

func (d *Device) CreateSemaphore() (gpu.SemaphoreID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.SemaphoreID(d.semaphores.Insert(&semaphore{})), nil
}

func (d *Device) DestroySemaphore(id gpu.SemaphoreID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.semaphores.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy semaphore: %v", err)
	}
}

// Command buffers and submission

func (d *Device) AllocateCommandBuffer() (gpu.CommandBufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.CommandBufferID(d.commandBuffers.Insert(&commandBuffer{})), nil
}

func (d *Device) FreeCommandBuffer(id gpu.CommandBufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, err := lookup(d.commandBuffers, uint64(id), "command buffer")
	if err != nil {
		d.invalid("free command buffer: %v", err)
		return
	}
	if cb.state == cmdPending {
		d.invalid("free of pending command buffer %d", id)
	}
	d.commandBuffers.Remove(containers.Handle(id))
}

func (d *Device) BeginCommandBuffer(id gpu.CommandBufferID, oneTimeSubmit bool) (gpu.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, err := lookup(d.commandBuffers, uint64(id), "command buffer")
	if err != nil {
		return nil, err
	}
	switch cb.state {
	case cmdPending:
		return nil, fmt.Errorf("begin of pending command buffer %d", id)
	case cmdRecording:
		return nil, fmt.Errorf("command buffer %d is already recording", id)
	}
	cb.state = cmdRecording
	cb.commands = nil
	cb.err = nil
	return &encoder{d: d, cb: cb}, nil
}

func (d *Device) EndCommandBuffer(id gpu.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, err := lookup(d.commandBuffers, uint64(id), "command buffer")
	if err != nil {
		return err
	}
	if cb.state != cmdRecording {
		return fmt.Errorf("end of command buffer %d that is not recording", id)
	}
	cb.state = cmdExecutable
	return cb.err
}

func (d *Device) ResetCommandBuffer(id gpu.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, err := lookup(d.commandBuffers, uint64(id), "command buffer")
	if err != nil {
		return err
	}
	if cb.state == cmdPending {
		return fmt.Errorf("reset of pending command buffer %d", id)
	}
	cb.state = cmdInitial
	cb.commands = nil
	cb.err = nil
	return nil
}

func (d *Device) Submit(info *gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, err := lookup(d.commandBuffers, uint64(info.CommandBuffer), "command buffer")
	if err != nil {
		return err
	}
	if cb.state != cmdExecutable {
		return fmt.Errorf("submit of command buffer %d that is not executable", info.CommandBuffer)
	}
	if info.Wait != gpu.InvalidID {
		s, err := lookup(d.semaphores, uint64(info.Wait), "semaphore")
		if err != nil {
			return err
		}
		if !s.signaled {
			return fmt.Errorf("submit waits on semaphore %d that nothing signals", info.Wait)
		}
		s.signaled = false
	}
	if info.Signal != gpu.InvalidID {
		s, err := lookup(d.semaphores, uint64(info.Signal), "semaphore")
		if err != nil {
			return err
		}
		if s.signaled {
			return fmt.Errorf("submit signals semaphore %d that is already signaled", info.Signal)
		}
		s.signaled = true
	}
	if info.Fence != gpu.InvalidID {
		f, err := lookup(d.fences, uint64(info.Fence), "fence")
		if err != nil {
			return err
		}
		if f.signaled {
			return fmt.Errorf("submit with fence %d that is still signaled", info.Fence)
		}
	}
	cb.state = cmdPending
	d.pending = append(d.pending, submission{cb: info.CommandBuffer, fence: info.Fence})
	if len(d.pending) > d.maxInFlight {
		d.maxInFlight = len(d.pending)
	}
	d.submits++
	d.event("submit")
	return nil
}

// complete executes the first n pending submissions in order.
func (d *Device) complete(n int) {
	for _, s := range d.pending[:n] {
		if cb, err := d.commandBuffers.Get(containers.Handle(s.cb)); err == nil {
			for _, cmd := range cb.commands {
				if err := cmd(d); err != nil {
					d.validation = append(d.validation, err)
				}
			}
			cb.state = cmdExecutable
		}
		if f, err := d.fences.Get(containers.Handle(s.fence)); err == nil {
			f.signaled = true
		}
	}
	d.pending = append(d.pending[:0], d.pending[n:]...)
}

func (d *Device) completeAll() {
	d.complete(len(d.pending))
}

func (d *Device) QueueWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hang && len(d.pending) > 0 {
		return gpu.ErrTimeout
	}
	d.completeAll()
	return nil
}

func (d *Device) DeviceWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hang && len(d.pending) > 0 {
		return gpu.ErrDeviceLost
	}
	d.completeAll()
	d.event("device-wait-idle")
	return nil
}

// Inspection

// Hang makes pending submissions never complete.
func (d *Device) Hang(hang bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hang = hang
}

// InFlight returns the number of submitted but not yet completed submissions.
func (d *Device) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// MaxInFlight returns the highest InFlight value observed.
func (d *Device) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

// Submits returns the number of accepted submissions.
func (d *Device) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

// Events returns the recorded device and command events in order.
func (d *Device) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// ResetEvents clears the event log.
func (d *Device) ResetEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

// ValidationErrors returns the misuse detected while executing commands or destroying objects.
func (d *Device) ValidationErrors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.validation...)
}

// Traces returns the executed ray dispatches.
func (d *Device) Traces() []Trace {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Trace(nil), d.traces...)
}

// PushConstants returns the payloads of executed push constant commands.
func (d *Device) PushConstants() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.pushConstants...)
}

// BufferContents returns a copy of a buffer's bytes regardless of its memory type.
func (d *Device) BufferContents(id gpu.BufferID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := lookup(d.buffers, uint64(id), "buffer")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b.data...), nil
}

// BufferDesc returns the description a buffer was created with.
func (d *Device) BufferDesc(id gpu.BufferID) (gpu.BufferDesc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := lookup(d.buffers, uint64(id), "buffer")
	if err != nil {
		return gpu.BufferDesc{}, err
	}
	return b.desc, nil
}

// ImageContents returns a copy of the base level texels of an image.
func (d *Device) ImageContents(id gpu.ImageID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := lookup(d.images, uint64(id), "image")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), img.data...), nil
}

// ImageLayout returns the tracked layout of one mip level.
func (d *Device) ImageLayout(id gpu.ImageID, mip uint32) (gpu.ImageLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := lookup(d.images, uint64(id), "image")
	if err != nil {
		return 0, err
	}
	if int(mip) >= len(img.layouts) {
		return 0, fmt.Errorf("mip %d out of range", mip)
	}
	return img.layouts[mip], nil
}

// AccelerationStructureBuilt reports whether a build of id has executed and
// how many primitives it covered.
func (d *Device) AccelerationStructureBuilt(id gpu.AccelerationStructureID) (bool, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, err := lookup(d.accels, uint64(id), "acceleration structure")
	if err != nil {
		return false, 0, err
	}
	return a.built, a.primitives, nil
}

// DescriptorWrites returns the current binding contents of a set.
func (d *Device) DescriptorWrites(id gpu.DescriptorSetID) (map[uint32]gpu.DescriptorWrite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := lookup(d.sets, uint64(id), "descriptor set")
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]gpu.DescriptorWrite, len(s.writes))
	for k, v := range s.writes {
		out[k] = v
	}
	return out, nil
}

// LiveObjects counts objects that were created and not destroyed. Swapchain
// owned images and descriptor sets are not counted.
func (d *Device) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.buffers.Len() + d.views.Len() + d.samplers.Len() + d.fences.Len() +
		d.semaphores.Len() + d.commandBuffers.Len() + d.accels.Len() + d.setLayouts.Len() +
		d.pools.Len() + d.modules.Len() + d.pipelineLayouts.Len() + d.pipelines.Len() +
		d.renderPasses.Len() + d.framebuffers.Len()
	d.images.Each(func(_ containers.Handle, img *image) {
		if !img.swapchain {
			n++
		}
	})
	if d.swapchain != nil {
		n -= len(d.swapchain.views)
	}
	return n
}

func readUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
