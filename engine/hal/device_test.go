package hal

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/software"
)

const waitTimeout = 5 * time.Second

func TestBufferCopyRoundTrip(t *testing.T) {
	d := newTestDevice(t)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	src, err := d.CreateBuffer(BufferDesc{
		Size:   uint64(len(payload)),
		Usage:  metadata.BufferUsageTransferSrc,
		Memory: metadata.MemoryUsageCPUToGPU,
	})
	if err != nil {
		t.Fatalf("source buffer creation failed: %v", err)
	}
	dst, err := d.CreateBuffer(BufferDesc{
		Size:   uint64(len(payload)),
		Usage:  metadata.BufferUsageTransferDst,
		Memory: metadata.MemoryUsageGPUToCPU,
	})
	if err != nil {
		t.Fatalf("destination buffer creation failed: %v", err)
	}
	if err := src.Write(0, payload); err != nil {
		t.Fatalf("buffer write failed: %v", err)
	}

	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.CopyBuffer(src, dst, []metadata.BufferCopy{{Size: uint64(len(payload))}}); err != nil {
		t.Fatalf("CopyBuffer failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	fence, _ := d.CreateFence(false)
	if err := d.TransferQueue().Submit([]SubmitInfo{{CommandBuffers: []*CommandBuffer{cb}}}, fence); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := fence.Wait(waitTimeout); err != nil {
		t.Fatalf("fence wait failed: %v", err)
	}

	data, err := dst.Map()
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	defer dst.Unmap()
	if !bytes.Equal(data, payload) {
		t.Fatalf("copied %q, want %q", data, payload)
	}
}

func TestBufferCopyOutOfBoundsRejected(t *testing.T) {
	d := newTestDevice(t)
	src, _ := d.CreateBuffer(BufferDesc{Size: 16, Usage: metadata.BufferUsageTransferSrc, Memory: metadata.MemoryUsageCPUToGPU})
	dst, _ := d.CreateBuffer(BufferDesc{Size: 16, Usage: metadata.BufferUsageTransferDst, Memory: metadata.MemoryUsageCPUToGPU})

	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	err := cb.CopyBuffer(src, dst, []metadata.BufferCopy{{SrcOffset: 8, Size: 16}})
	if !errors.Is(err, core.ErrOutOfBounds) {
		t.Errorf("out-of-bounds copy: %v", err)
	}
}

func TestMapRequiresHostVisibleMemory(t *testing.T) {
	d := newTestDevice(t)
	buf, err := d.CreateBuffer(BufferDesc{
		Size:   64,
		Usage:  metadata.BufferUsageStorage,
		Memory: metadata.MemoryUsageGPUOnly,
	})
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}
	// The software adapter's device-local type is a distinct non-mappable
	// type, so GPU-only buffers land there.
	if _, err := buf.Map(); !errors.Is(err, core.ErrWrongMemoryType) {
		t.Errorf("map of device-local memory: %v", err)
	}
}

func TestInvalidBufferDescriptions(t *testing.T) {
	d := newTestDevice(t)
	if _, err := d.CreateBuffer(BufferDesc{Size: 0, Usage: metadata.BufferUsageUniform}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("zero-size buffer: %v", err)
	}
	if _, err := d.CreateBuffer(BufferDesc{Size: 16}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("usage-less buffer: %v", err)
	}
	if _, err := d.CreateImage(ImageDesc{Format: metadata.FormatRGBA8Unorm, Usage: metadata.TextureUsageSampled}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("zero-extent image: %v", err)
	}
}

func TestDescriptorWriteValidation(t *testing.T) {
	d := newTestDevice(t)

	setLayout, err := d.CreateDescriptorSetLayout([]metadata.DescriptorBinding{
		{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex},
		{Binding: 1, Kind: metadata.BindingKindSampledImage, Count: 4, Stages: metadata.ShaderStageFragment},
	})
	if err != nil {
		t.Fatalf("set layout creation failed: %v", err)
	}
	layout, err := d.CreatePipelineLayout([]*DescriptorSetLayout{setLayout}, nil)
	if err != nil {
		t.Fatalf("pipeline layout creation failed: %v", err)
	}
	set, err := d.AllocateDescriptorSet(layout, 0)
	if err != nil {
		t.Fatalf("set allocation failed: %v", err)
	}

	buf, _ := d.CreateBuffer(BufferDesc{Size: 256, Usage: metadata.BufferUsageUniform, Memory: metadata.MemoryUsageCPUToGPU})

	if err := d.WriteDescriptorSets([]DescriptorSetWrite{
		{Set: set, Binding: 0, Buffer: buf},
	}); err != nil {
		t.Fatalf("valid write failed: %v", err)
	}

	err = d.WriteDescriptorSets([]DescriptorSetWrite{{Set: set, Binding: 7, Buffer: buf}})
	if !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("write to an unknown binding: %v", err)
	}
	err = d.WriteDescriptorSets([]DescriptorSetWrite{{Set: set, Binding: 1, ArrayIndex: 4, Image: nil}})
	if !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("write past the array count: %v", err)
	}
	err = d.WriteDescriptorSets([]DescriptorSetWrite{{Set: set, Binding: 0, Buffer: buf, Offset: 128, Range: 256}})
	if !errors.Is(err, core.ErrOutOfBounds) {
		t.Errorf("write past the buffer: %v", err)
	}
	err = d.WriteDescriptorSets([]DescriptorSetWrite{{Set: set, Binding: 0}})
	if !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("buffer binding without a buffer: %v", err)
	}
}

func TestDescriptorWriteRejectedWhileInFlight(t *testing.T) {
	d := newTestDevice(t)

	setLayout, _ := d.CreateDescriptorSetLayout([]metadata.DescriptorBinding{
		{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex},
	})
	layout, _ := d.CreatePipelineLayout([]*DescriptorSetLayout{setLayout}, nil)
	set, _ := d.AllocateDescriptorSet(layout, 0)
	buf, _ := d.CreateBuffer(BufferDesc{Size: 64, Usage: metadata.BufferUsageUniform, Memory: metadata.MemoryUsageCPUToGPU})

	if err := d.WriteDescriptorSets([]DescriptorSetWrite{{Set: set, Binding: 0, Buffer: buf}}); err != nil {
		t.Fatalf("initial write failed: %v", err)
	}

	// The submission holds the graphics queue hostage on a semaphore only
	// the transfer queue signals, keeping the set in flight deterministically.
	gate, _ := d.CreateSemaphore()

	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.BindDescriptorSets(layout, 0, []*DescriptorSet{set}); err != nil {
		t.Fatalf("BindDescriptorSets failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	fence, _ := d.CreateFence(false)
	err := d.GraphicsQueue().Submit([]SubmitInfo{{
		CommandBuffers: []*CommandBuffer{cb},
		Waits:          []SemaphoreWait{{Semaphore: gate, Stages: metadata.PipelineStageTopOfPipe}},
	}}, fence)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if !set.InFlight() {
		t.Fatal("set not marked in flight after submission")
	}
	werr := d.WriteDescriptorSets([]DescriptorSetWrite{{Set: set, Binding: 0, Buffer: buf}})
	if !errors.Is(werr, core.ErrInvalidUsage) {
		t.Errorf("write to an in-flight set: %v", werr)
	}

	// Unblock via the transfer queue, then the write must succeed again.
	signal := mustAllocate(t, pool, CommandBufferPrimary)
	if err := signal.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := signal.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if err := d.TransferQueue().Submit([]SubmitInfo{{
		CommandBuffers: []*CommandBuffer{signal},
		Signals:        []*Semaphore{gate},
	}}, nil); err != nil {
		t.Fatalf("signal submit failed: %v", err)
	}

	if err := fence.Wait(waitTimeout); err != nil {
		t.Fatalf("fence wait failed: %v", err)
	}
	if set.InFlight() {
		t.Fatal("set still in flight after retirement")
	}
	if err := d.WriteDescriptorSets([]DescriptorSetWrite{{Set: set, Binding: 0, Buffer: buf}}); err != nil {
		t.Errorf("write after retirement failed: %v", err)
	}
}

func TestDeferredDestructionWaitsForSubmissions(t *testing.T) {
	d := newTestDevice(t)

	src, _ := d.CreateBuffer(BufferDesc{Size: 64, Usage: metadata.BufferUsageTransferSrc, Memory: metadata.MemoryUsageCPUToGPU})
	dst, _ := d.CreateBuffer(BufferDesc{Size: 64, Usage: metadata.BufferUsageTransferDst, Memory: metadata.MemoryUsageCPUToGPU})

	gate, _ := d.CreateSemaphore()
	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.CopyBuffer(src, dst, []metadata.BufferCopy{{Size: 64}}); err != nil {
		t.Fatalf("CopyBuffer failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	fence, _ := d.CreateFence(false)
	if err := d.GraphicsQueue().Submit([]SubmitInfo{{
		CommandBuffers: []*CommandBuffer{cb},
		Waits:          []SemaphoreWait{{Semaphore: gate, Stages: metadata.PipelineStageTransfer}},
	}}, fence); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Dropped while the copy is still blocked: destruction must defer.
	src.Destroy()
	if freed := d.Collect(); freed != 0 {
		t.Fatalf("collector freed %d objects while work was in flight", freed)
	}

	unblock := mustAllocate(t, pool, CommandBufferPrimary)
	if err := unblock.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := unblock.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if err := d.TransferQueue().Submit([]SubmitInfo{{
		CommandBuffers: []*CommandBuffer{unblock},
		Signals:        []*Semaphore{gate},
	}}, nil); err != nil {
		t.Fatalf("signal submit failed: %v", err)
	}
	if err := fence.Wait(waitTimeout); err != nil {
		t.Fatalf("fence wait failed: %v", err)
	}

	if freed := d.Collect(); freed != 1 {
		t.Fatalf("collector freed %d objects after retirement, want 1", freed)
	}
}

func TestHandlesGoStaleAfterDestroy(t *testing.T) {
	d := newTestDevice(t)
	buf, _ := d.CreateBuffer(BufferDesc{Size: 64, Usage: metadata.BufferUsageUniform, Memory: metadata.MemoryUsageCPUToGPU})
	h := buf.Handle()

	if _, ok := d.slots.Owner(h.Index, h.Generation); !ok {
		t.Fatal("live handle does not resolve")
	}
	buf.Destroy()
	if _, ok := d.slots.Owner(h.Index, h.Generation); ok {
		t.Fatal("stale handle still resolves")
	}
}

func TestDescriptorWriteReachesNativeSlot(t *testing.T) {
	d := newTestDevice(t)
	backend, ok := d.Backend().(*software.Backend)
	if !ok {
		t.Fatalf("test device is not backed by the software adapter")
	}

	setLayout, _ := d.CreateDescriptorSetLayout([]metadata.DescriptorBinding{
		{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageCompute},
		{Binding: 1, Kind: metadata.BindingKindStorageBuffer, Count: 2, Stages: metadata.ShaderStageCompute},
	})
	layout, _ := d.CreatePipelineLayout([]*DescriptorSetLayout{setLayout}, nil)
	set, _ := d.AllocateDescriptorSet(layout, 0)

	uniform, _ := d.CreateBuffer(BufferDesc{Size: 64, Usage: metadata.BufferUsageUniform, Memory: metadata.MemoryUsageCPUToGPU})
	storage, _ := d.CreateBuffer(BufferDesc{Size: 256, Usage: metadata.BufferUsageStorage, Memory: metadata.MemoryUsageCPUToGPU})

	if err := d.WriteDescriptorSets([]DescriptorSetWrite{
		{Set: set, Binding: 0, Buffer: uniform},
		{Set: set, Binding: 1, ArrayIndex: 1, Buffer: storage},
	}); err != nil {
		t.Fatalf("descriptor write failed: %v", err)
	}

	got, ok := backend.BoundBuffer(set.handle, metadata.BindingRef{Set: 0, Binding: 0}, 0)
	if !ok || got != uniform.NativeHandle() {
		t.Fatalf("slot (0,0)[0] resolves to %v, want the uniform buffer", got)
	}
	got, ok = backend.BoundBuffer(set.handle, metadata.BindingRef{Set: 0, Binding: 1}, 1)
	if !ok || got != storage.NativeHandle() {
		t.Fatalf("slot (0,1)[1] resolves to %v, want the storage buffer", got)
	}
	if _, ok := backend.BoundBuffer(set.handle, metadata.BindingRef{Set: 0, Binding: 1}, 0); ok {
		t.Fatal("unwritten array element resolves to a buffer")
	}
}
