/*
Package software implements the native backend contract entirely on the
host. Buffers are byte slices, queues are goroutines, and copies execute for
real, so behavior that matters to the portable layer (asynchronous
execution, fence signaling, semaphore ordering, layout tracking) is
observable without a GPU. It doubles as the reference shim for tests.
*/
package software

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

type softMemory struct {
	data      []byte
	typeIndex uint32
}

type softBuffer struct {
	desc   native.BufferDesc
	mem    *softMemory
	offset uint64
}

func (b *softBuffer) bytes() []byte {
	if b.mem == nil {
		return nil
	}
	return b.mem.data[b.offset : b.offset+b.desc.Size]
}

type softImage struct {
	desc   native.ImageDesc
	mem    *softMemory
	offset uint64
	// Tracked so barrier transitions can be validated during execution.
	layout metadata.ImageLayout
}

func (i *softImage) size() uint64 {
	texel := uint64(i.desc.Format.Info().TexelSize)
	if texel == 0 {
		texel = 4
	}
	return uint64(i.desc.Extent.Width) * uint64(i.desc.Extent.Height) *
		uint64(max32(i.desc.Extent.Depth, 1)) * uint64(max32(i.desc.ArrayLayers, 1)) * texel
}

func (i *softImage) bytes() []byte {
	if i.mem == nil {
		return nil
	}
	return i.mem.data[i.offset : i.offset+i.size()]
}

type boundResource struct {
	kind         metadata.BindingKind
	buffer       native.BufferHandle
	bufferOffset uint64
	bufferRange  uint64
	image        native.ImageHandle
	imageLayout  metadata.ImageLayout
}

type bindingSlot struct {
	ref        metadata.BindingRef
	arrayIndex uint32
}

type softSet struct {
	set      uint32
	bindings map[bindingSlot]boundResource
}

type softLayout struct {
	desc native.PipelineLayoutDesc
}

type softPipeline struct {
	compute bool
	layout  native.PipelineLayoutHandle
}

type softRenderPass struct {
	desc metadata.RenderPassDesc
	plan metadata.BarrierPlan
}

type softFramebuffer struct {
	pass        native.RenderPassHandle
	attachments []native.ImageHandle
	width       uint32
	height      uint32
}

type softFence struct {
	mutex    sync.Mutex
	signaled bool
	done     chan struct{}
}

func newSoftFence(signaled bool) *softFence {
	f := &softFence{signaled: signaled, done: make(chan struct{})}
	if signaled {
		close(f.done)
	}
	return f
}

func (f *softFence) signal() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *softFence) reset() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
}

func (f *softFence) waitChan() chan struct{} {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.done
}

func (f *softFence) isSignaled() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.signaled
}

// softSemaphore is binary: one pending signal at most, a wait consumes it.
type softSemaphore struct {
	ch chan struct{}
}

func newSoftSemaphore() *softSemaphore {
	return &softSemaphore{ch: make(chan struct{}, 1)}
}

type submission struct {
	batches []native.SubmitBatch
	fence   native.FenceHandle
	// Non-nil for drain requests issued by QueueWaitIdle.
	drained chan struct{}
	// Set when the submission presents an image after its waits.
	present    native.ImageHandle
	hasPresent bool
}

type softQueue struct {
	desc metadata.QueueDesc
	jobs chan submission
	quit chan struct{}
}

// Backend is the software shim.
type Backend struct {
	nextHandle atomic.Uint64
	lost       atomic.Bool

	mutex        sync.RWMutex
	memories     map[native.MemoryHandle]*softMemory
	buffers      map[native.BufferHandle]*softBuffer
	images       map[native.ImageHandle]*softImage
	layouts      map[native.PipelineLayoutHandle]*softLayout
	pipelines    map[native.PipelineHandle]*softPipeline
	sets         map[native.DescriptorSetHandle]*softSet
	passes       map[native.RenderPassHandle]*softRenderPass
	framebuffers map[native.FramebufferHandle]*softFramebuffer
	fences       map[native.FenceHandle]*softFence
	semaphores   map[native.SemaphoreHandle]*softSemaphore
	encoders     map[native.CommandListHandle]*encoder
	queues       []*softQueue

	// Present destination; nil outside the demo app.
	presentTarget *image.RGBA
}

func New() *Backend {
	b := &Backend{
		memories:     make(map[native.MemoryHandle]*softMemory),
		buffers:      make(map[native.BufferHandle]*softBuffer),
		images:       make(map[native.ImageHandle]*softImage),
		layouts:      make(map[native.PipelineLayoutHandle]*softLayout),
		pipelines:    make(map[native.PipelineHandle]*softPipeline),
		sets:         make(map[native.DescriptorSetHandle]*softSet),
		passes:       make(map[native.RenderPassHandle]*softRenderPass),
		framebuffers: make(map[native.FramebufferHandle]*softFramebuffer),
		fences:       make(map[native.FenceHandle]*softFence),
		semaphores:   make(map[native.SemaphoreHandle]*softSemaphore),
		encoders:     make(map[native.CommandListHandle]*encoder),
	}
	// One graphics+compute queue and one transfer queue, each drained by
	// its own goroutine so submissions never block the recording thread.
	for i, kind := range []metadata.QueueKind{metadata.QueueKindGraphics, metadata.QueueKindTransfer} {
		q := &softQueue{
			desc: metadata.QueueDesc{Kind: kind, Family: uint32(i)},
			jobs: make(chan submission, 64),
			quit: make(chan struct{}),
		}
		b.queues = append(b.queues, q)
		go b.run(q)
	}
	return b
}

func (b *Backend) Name() string { return "software" }

// Kind reports explicit: the software shim keeps the portable (set, binding)
// model as its native one.
func (b *Backend) Kind() metadata.BackendKind { return metadata.BackendExplicit }

func (b *Backend) Limits() metadata.Limits {
	return metadata.Limits{
		MaxBoundDescriptorSets: 8,
		MaxPushConstantSize:    256,
		MaxColorAttachments:    8,
		MaxSubpasses:           8,
	}
}

func (b *Backend) handle() uint64 {
	return b.nextHandle.Add(1)
}

// SetPresentTarget directs Present output into an RGBA image. Demo-app only.
func (b *Backend) SetPresentTarget(target *image.RGBA) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.presentTarget = target
}

// LoseDevice flips the backend into the lost state. Every later wait
// reports WaitDeviceLost. Used to exercise the fatal error path.
func (b *Backend) LoseDevice() {
	b.lost.Store(true)
}

func (b *Backend) CreateBuffer(desc native.BufferDesc) (native.BufferHandle, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("%w: zero-size buffer", core.ErrUnsupportedUsage)
	}
	h := native.BufferHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.buffers[h] = &softBuffer{desc: desc}
	return h, nil
}

func (b *Backend) DestroyBuffer(h native.BufferHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.buffers, h)
}

func (b *Backend) CreateImage(desc native.ImageDesc) (native.ImageHandle, error) {
	if !metadata.FormatSupported(metadata.BackendExplicit, desc.Format, desc.Usage) {
		return 0, fmt.Errorf("%w: format %d with usage %#x", core.ErrUnsupportedFormat, desc.Format, desc.Usage)
	}
	h := native.ImageHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.images[h] = &softImage{desc: desc, layout: metadata.ImageLayoutUndefined}
	return h, nil
}

func (b *Backend) DestroyImage(h native.ImageHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.images, h)
}

const memoryAlignment = 256

func (b *Backend) GetBufferRequirements(h native.BufferHandle) metadata.MemoryRequirements {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	buf, ok := b.buffers[h]
	if !ok {
		return metadata.MemoryRequirements{}
	}
	return metadata.MemoryRequirements{Size: buf.desc.Size, Alignment: memoryAlignment, TypeMask: 0b111}
}

func (b *Backend) GetImageRequirements(h native.ImageHandle) metadata.MemoryRequirements {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	img, ok := b.images[h]
	if !ok {
		return metadata.MemoryRequirements{}
	}
	// Images insist on device-local types, mirroring real adapters.
	return metadata.MemoryRequirements{Size: img.size(), Alignment: memoryAlignment, TypeMask: 0b101}
}

func (b *Backend) MemoryTypes() []metadata.MemoryType {
	return []metadata.MemoryType{
		{Properties: metadata.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{Properties: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent, HeapIndex: 1},
		{Properties: metadata.MemoryPropertyDeviceLocal | metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent, HeapIndex: 0},
	}
}

func (b *Backend) AllocateMemory(typeIndex uint32, size uint64) (native.MemoryHandle, error) {
	if typeIndex >= uint32(len(b.MemoryTypes())) {
		return 0, fmt.Errorf("%w: memory type %d", core.ErrWrongMemoryType, typeIndex)
	}
	h := native.MemoryHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.memories[h] = &softMemory{data: make([]byte, size), typeIndex: typeIndex}
	return h, nil
}

func (b *Backend) FreeMemory(h native.MemoryHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.memories, h)
}

func (b *Backend) BindBufferMemory(bh native.BufferHandle, mh native.MemoryHandle, offset uint64) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	buf, ok := b.buffers[bh]
	if !ok {
		return core.InvalidUsagef("unknown buffer handle %d", bh)
	}
	mem, ok := b.memories[mh]
	if !ok {
		return core.InvalidUsagef("unknown memory handle %d", mh)
	}
	if offset+buf.desc.Size > uint64(len(mem.data)) {
		return fmt.Errorf("%w: buffer needs %d bytes at offset %d, allocation has %d",
			core.ErrOutOfBounds, buf.desc.Size, offset, len(mem.data))
	}
	buf.mem = mem
	buf.offset = offset
	return nil
}

func (b *Backend) BindImageMemory(ih native.ImageHandle, mh native.MemoryHandle, offset uint64) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	img, ok := b.images[ih]
	if !ok {
		return core.InvalidUsagef("unknown image handle %d", ih)
	}
	mem, ok := b.memories[mh]
	if !ok {
		return core.InvalidUsagef("unknown memory handle %d", mh)
	}
	if mem.typeIndex&1 == 1 && mem.typeIndex != 2 {
		// Image requirements exclude type 1.
		return fmt.Errorf("%w: images need a device-local type", core.ErrWrongMemoryType)
	}
	if offset+img.size() > uint64(len(mem.data)) {
		return fmt.Errorf("%w: image needs %d bytes at offset %d, allocation has %d",
			core.ErrOutOfBounds, img.size(), offset, len(mem.data))
	}
	img.mem = mem
	img.offset = offset
	return nil
}

func (b *Backend) MapMemory(mh native.MemoryHandle, offset, size uint64) ([]byte, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	mem, ok := b.memories[mh]
	if !ok {
		return nil, core.InvalidUsagef("unknown memory handle %d", mh)
	}
	hostVisible := b.MemoryTypes()[mem.typeIndex].Properties&metadata.MemoryPropertyHostVisible != 0
	if !hostVisible {
		return nil, fmt.Errorf("%w: memory type %d is not host visible", core.ErrWrongMemoryType, mem.typeIndex)
	}
	if offset+size > uint64(len(mem.data)) {
		return nil, fmt.Errorf("%w: map of %d bytes at %d exceeds allocation of %d",
			core.ErrOutOfBounds, size, offset, len(mem.data))
	}
	return mem.data[offset : offset+size], nil
}

func (b *Backend) UnmapMemory(mh native.MemoryHandle) {}

func (b *Backend) CreatePipelineLayout(desc native.PipelineLayoutDesc) (native.PipelineLayoutHandle, error) {
	h := native.PipelineLayoutHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.layouts[h] = &softLayout{desc: desc}
	return h, nil
}

func (b *Backend) DestroyPipelineLayout(h native.PipelineLayoutHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.layouts, h)
}

func (b *Backend) AllocateDescriptorSet(assignment *metadata.RegisterAssignment, set uint32) (native.DescriptorSetHandle, error) {
	h := native.DescriptorSetHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.sets[h] = &softSet{set: set, bindings: make(map[bindingSlot]boundResource)}
	return h, nil
}

func (b *Backend) FreeDescriptorSet(h native.DescriptorSetHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.sets, h)
}

func (b *Backend) WriteDescriptorSets(writes []native.DescriptorWrite) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, w := range writes {
		set, ok := b.sets[w.Set]
		if !ok {
			return core.InvalidUsagef("write to unknown descriptor set %d", w.Set)
		}
		set.bindings[bindingSlot{ref: w.Binding, arrayIndex: w.ArrayIndex}] = boundResource{
			kind:         w.Kind,
			buffer:       w.Buffer,
			bufferOffset: w.BufferOffset,
			bufferRange:  w.BufferRange,
			image:        w.Image,
			imageLayout:  w.ImageLayout,
		}
	}
	return nil
}

// BoundBuffer resolves the buffer currently written at a binding slot of a
// set. Tests use it to assert the descriptor round trip.
func (b *Backend) BoundBuffer(h native.DescriptorSetHandle, ref metadata.BindingRef, arrayIndex uint32) (native.BufferHandle, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	set, ok := b.sets[h]
	if !ok {
		return 0, false
	}
	res, ok := set.bindings[bindingSlot{ref: ref, arrayIndex: arrayIndex}]
	if !ok {
		return 0, false
	}
	return res.buffer, true
}

func (b *Backend) CreateGraphicsPipeline(desc native.GraphicsPipelineDesc) (native.PipelineHandle, error) {
	h := native.PipelineHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pipelines[h] = &softPipeline{layout: desc.Layout}
	return h, nil
}

func (b *Backend) CreateComputePipeline(desc native.ComputePipelineDesc) (native.PipelineHandle, error) {
	h := native.PipelineHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pipelines[h] = &softPipeline{compute: true, layout: desc.Layout}
	return h, nil
}

func (b *Backend) DestroyPipeline(h native.PipelineHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.pipelines, h)
}

func (b *Backend) CreateRenderPass(desc metadata.RenderPassDesc, plan metadata.BarrierPlan) (native.RenderPassHandle, error) {
	h := native.RenderPassHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.passes[h] = &softRenderPass{desc: desc, plan: plan}
	return h, nil
}

func (b *Backend) DestroyRenderPass(h native.RenderPassHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.passes, h)
}

// PassBeginTransitions is true: like explicit-descriptor hardware, the
// software pass-begin moves attachments into their first required layout.
func (b *Backend) PassBeginTransitions() bool { return true }

func (b *Backend) CreateFramebuffer(pass native.RenderPassHandle, attachments []native.ImageHandle, width, height uint32) (native.FramebufferHandle, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.passes[pass]; !ok {
		return 0, core.InvalidUsagef("framebuffer over unknown render pass %d", pass)
	}
	h := native.FramebufferHandle(b.handle())
	b.framebuffers[h] = &softFramebuffer{pass: pass, attachments: attachments, width: width, height: height}
	return h, nil
}

func (b *Backend) DestroyFramebuffer(h native.FramebufferHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.framebuffers, h)
}

func (b *Backend) CreateFence(signaled bool) (native.FenceHandle, error) {
	h := native.FenceHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.fences[h] = newSoftFence(signaled)
	return h, nil
}

func (b *Backend) DestroyFence(h native.FenceHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.fences, h)
}

func (b *Backend) WaitForFence(h native.FenceHandle, timeout time.Duration) native.WaitResult {
	if b.lost.Load() {
		return native.WaitDeviceLost
	}
	b.mutex.RLock()
	fence, ok := b.fences[h]
	b.mutex.RUnlock()
	if !ok {
		return native.WaitDeviceLost
	}
	select {
	case <-fence.waitChan():
		return native.WaitSignaled
	case <-time.After(timeout):
		if b.lost.Load() {
			return native.WaitDeviceLost
		}
		return native.WaitTimeout
	}
}

func (b *Backend) FenceSignaled(h native.FenceHandle) bool {
	b.mutex.RLock()
	fence, ok := b.fences[h]
	b.mutex.RUnlock()
	return ok && fence.isSignaled()
}

func (b *Backend) ResetFence(h native.FenceHandle) error {
	b.mutex.RLock()
	fence, ok := b.fences[h]
	b.mutex.RUnlock()
	if !ok {
		return core.InvalidUsagef("reset of unknown fence %d", h)
	}
	fence.reset()
	return nil
}

func (b *Backend) CreateSemaphore() (native.SemaphoreHandle, error) {
	h := native.SemaphoreHandle(b.handle())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.semaphores[h] = newSoftSemaphore()
	return h, nil
}

func (b *Backend) DestroySemaphore(h native.SemaphoreHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.semaphores, h)
}

func (b *Backend) Queues() []metadata.QueueDesc {
	descs := make([]metadata.QueueDesc, len(b.queues))
	for i, q := range b.queues {
		descs[i] = q.desc
	}
	return descs
}

func (b *Backend) queueAt(q native.QueueHandle) (*softQueue, error) {
	if int(q) >= len(b.queues) {
		return nil, core.InvalidUsagef("unknown queue handle %d", q)
	}
	return b.queues[q], nil
}

func (b *Backend) Submit(q native.QueueHandle, batches []native.SubmitBatch, fence native.FenceHandle) error {
	if b.lost.Load() {
		return core.ErrDeviceLost
	}
	queue, err := b.queueAt(q)
	if err != nil {
		return err
	}
	queue.jobs <- submission{batches: batches, fence: fence}
	return nil
}

func (b *Backend) Present(q native.QueueHandle, waits []native.SemaphoreHandle, image native.ImageHandle) error {
	queue, err := b.queueAt(q)
	if err != nil {
		return err
	}
	// The blit runs on the queue goroutine after the waits, keeping present
	// ordered against rendering; software presentation has no swapchain
	// backlog to exhaust.
	queue.jobs <- submission{
		batches:    []native.SubmitBatch{{Waits: semaphoreWaits(waits)}},
		present:    image,
		hasPresent: true,
	}
	return nil
}

func semaphoreWaits(waits []native.SemaphoreHandle) []native.SemaphoreWait {
	out := make([]native.SemaphoreWait, len(waits))
	for i, w := range waits {
		out[i] = native.SemaphoreWait{Semaphore: w, Stages: metadata.PipelineStageTopOfPipe}
	}
	return out
}

func (b *Backend) blitPresent(h native.ImageHandle) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.presentTarget == nil {
		return nil
	}
	img, ok := b.images[h]
	if !ok || img.mem == nil {
		return fmt.Errorf("%w: present of unbound image", core.ErrSurfaceLost)
	}
	src := &image.RGBA{
		Pix:    img.bytes(),
		Stride: int(img.desc.Extent.Width) * 4,
		Rect:   image.Rect(0, 0, int(img.desc.Extent.Width), int(img.desc.Extent.Height)),
	}
	draw.NearestNeighbor.Scale(b.presentTarget, b.presentTarget.Bounds(), src, src.Bounds(), draw.Src, nil)
	return nil
}

func (b *Backend) QueueWaitIdle(q native.QueueHandle) error {
	if b.lost.Load() {
		return core.ErrDeviceLost
	}
	queue, err := b.queueAt(q)
	if err != nil {
		return err
	}
	drained := make(chan struct{})
	queue.jobs <- submission{drained: drained}
	<-drained
	return nil
}

func (b *Backend) DeviceWaitIdle() error {
	for i := range b.queues {
		if err := b.QueueWaitIdle(native.QueueHandle(i)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Shutdown() error {
	if err := b.DeviceWaitIdle(); err != nil && err != core.ErrDeviceLost {
		return err
	}
	for _, q := range b.queues {
		close(q.quit)
	}
	return nil
}

// run drains one queue. Batches execute in submission order; cross-queue
// ordering exists only through the semaphores of each batch.
func (b *Backend) run(q *softQueue) {
	for {
		select {
		case <-q.quit:
			return
		case job := <-q.jobs:
			if job.drained != nil {
				close(job.drained)
				continue
			}
			for _, batch := range job.batches {
				b.waitSemaphores(batch.Waits)
				for _, list := range batch.CommandLists {
					b.execute(list)
				}
				b.signalSemaphores(batch.Signals)
			}
			if job.hasPresent {
				if err := b.blitPresent(job.present); err != nil {
					core.LogError("present failed: %s", err.Error())
				}
			}
			if job.fence != 0 {
				b.mutex.RLock()
				fence := b.fences[job.fence]
				b.mutex.RUnlock()
				if fence != nil {
					fence.signal()
				}
			}
		}
	}
}

func (b *Backend) waitSemaphores(waits []native.SemaphoreWait) {
	for _, w := range waits {
		b.mutex.RLock()
		sem := b.semaphores[w.Semaphore]
		b.mutex.RUnlock()
		if sem != nil {
			<-sem.ch
		}
	}
}

func (b *Backend) signalSemaphores(signals []native.SemaphoreHandle) {
	for _, s := range signals {
		b.mutex.RLock()
		sem := b.semaphores[s]
		b.mutex.RUnlock()
		if sem != nil {
			sem.ch <- struct{}{}
		}
	}
}

func (b *Backend) execute(list native.CommandListHandle) {
	b.mutex.RLock()
	enc := b.encoders[list]
	b.mutex.RUnlock()
	if enc == nil {
		core.LogWarn("submission references unknown command list %d", list)
		return
	}
	enc.run()
}

func max32(v, floor uint32) uint32 {
	if v < floor {
		return floor
	}
	return v
}
