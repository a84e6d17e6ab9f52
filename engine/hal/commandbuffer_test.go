package hal

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/spaghettifunk/vasari/engine/config"
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	instance, err := NewInstance("hal-test", config.Default())
	if err != nil {
		t.Fatalf("instance creation failed: %v", err)
	}
	device, err := instance.CreateDevice()
	if err != nil {
		t.Fatalf("device creation failed: %v", err)
	}
	t.Cleanup(func() {
		if err := device.Destroy(); err != nil {
			t.Errorf("device destroy failed: %v", err)
		}
		instance.Shutdown()
	})
	return device
}

func testRenderTarget(t *testing.T, d *Device) (*RenderPass, *Framebuffer) {
	t.Helper()
	pass, err := d.CreateRenderPass(metadata.RenderPassDesc{
		Attachments: []metadata.AttachmentDescription{{
			Format:        metadata.FormatRGBA8Unorm,
			LoadOp:        metadata.AttachmentLoadOpClear,
			StoreOp:       metadata.AttachmentStoreOpStore,
			InitialLayout: metadata.ImageLayoutUndefined,
			FinalLayout:   metadata.ImageLayoutPresentSrc,
		}},
		Subpasses: []metadata.SubpassDescription{
			{ColorRefs: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachmentOptimal}}},
			{ColorRefs: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachmentOptimal}}},
		},
	})
	if err != nil {
		t.Fatalf("render pass creation failed: %v", err)
	}
	img, err := d.CreateImage(ImageDesc{
		Extent: metadata.Extent3D{Width: 64, Height: 64},
		Format: metadata.FormatRGBA8Unorm,
		Usage:  metadata.TextureUsageColorAttachment | metadata.TextureUsageTransferSrc,
	})
	if err != nil {
		t.Fatalf("image creation failed: %v", err)
	}
	fb, err := d.CreateFramebuffer(pass, []*Image{img}, 64, 64)
	if err != nil {
		t.Fatalf("framebuffer creation failed: %v", err)
	}
	return pass, fb
}

func mustAllocate(t *testing.T, pool *CommandPool, level CommandBufferLevel) *CommandBuffer {
	t.Helper()
	cb, err := pool.Allocate(level)
	if err != nil {
		t.Fatalf("command buffer allocation failed: %v", err)
	}
	return cb
}

func TestCommandBufferLifecycle(t *testing.T) {
	d := newTestDevice(t)
	pool, err := d.CreateCommandPool()
	if err != nil {
		t.Fatalf("pool creation failed: %v", err)
	}
	cb := mustAllocate(t, pool, CommandBufferPrimary)

	if cb.State() != StateInitial {
		t.Fatalf("fresh buffer is %s", cb.State())
	}
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if cb.State() != StateRecording {
		t.Fatalf("after Begin buffer is %s", cb.State())
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if cb.State() != StateExecutable {
		t.Fatalf("after End buffer is %s", cb.State())
	}

	fence, err := d.CreateFence(false)
	if err != nil {
		t.Fatalf("fence creation failed: %v", err)
	}
	if err := d.GraphicsQueue().Submit([]SubmitInfo{{CommandBuffers: []*CommandBuffer{cb}}}, fence); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := fence.Wait(waitTimeout); err != nil {
		t.Fatalf("fence wait failed: %v", err)
	}
	if cb.State() != StateInitial {
		t.Fatalf("after retirement buffer is %s", cb.State())
	}
	// A retired buffer re-begins without any pool reset.
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin after retirement failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
}

func TestBeginFromExecutableDiscardsPriorRecording(t *testing.T) {
	d := newTestDevice(t)
	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)

	src, _ := d.CreateBuffer(BufferDesc{Size: 32, Usage: metadata.BufferUsageTransferSrc, Memory: metadata.MemoryUsageCPUToGPU})
	stale, _ := d.CreateBuffer(BufferDesc{Size: 32, Usage: metadata.BufferUsageTransferDst, Memory: metadata.MemoryUsageCPUToGPU})
	dst, _ := d.CreateBuffer(BufferDesc{Size: 32, Usage: metadata.BufferUsageTransferDst, Memory: metadata.MemoryUsageCPUToGPU})
	if err := src.Write(0, []byte("abandoned-stream-detection-bytes")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// First recording copies into stale, but is never submitted.
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.CopyBuffer(src, stale, []metadata.BufferCopy{{Size: 32}}); err != nil {
		t.Fatalf("CopyBuffer failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	// Re-begin from executable replaces the stream.
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin from executable failed: %v", err)
	}
	if err := cb.CopyBuffer(src, dst, []metadata.BufferCopy{{Size: 32}}); err != nil {
		t.Fatalf("CopyBuffer failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	fence, _ := d.CreateFence(false)
	if err := d.GraphicsQueue().Submit([]SubmitInfo{{CommandBuffers: []*CommandBuffer{cb}}}, fence); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := fence.Wait(waitTimeout); err != nil {
		t.Fatalf("fence wait failed: %v", err)
	}

	got, err := dst.Map()
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if string(got) != "abandoned-stream-detection-bytes" {
		t.Fatalf("second recording did not execute: %q", got)
	}
	dst.Unmap()

	abandoned, err := stale.Map()
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	defer stale.Unmap()
	for _, b := range abandoned {
		if b != 0 {
			t.Fatal("abandoned first recording executed")
		}
	}
}

func TestRecordingPoolDoesNotAffectSubmittedEffects(t *testing.T) {
	d := newTestDevice(t)

	src, err := d.CreateBuffer(BufferDesc{Size: 64, Usage: metadata.BufferUsageTransferSrc, Memory: metadata.MemoryUsageCPUToGPU})
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}
	payload := bytes.Repeat([]byte("pool-independence"), 4)[:64]
	if err := src.Write(0, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The same op sequence recorded through two different pools on two
	// different goroutines: stage the first half, then the second, then
	// overwrite the first quarter again from offset 32.
	record := func(cb *CommandBuffer, dst *Buffer) error {
		if err := cb.Begin(0, nil); err != nil {
			return err
		}
		copies := [][]metadata.BufferCopy{
			{{SrcOffset: 0, DstOffset: 0, Size: 32}},
			{{SrcOffset: 32, DstOffset: 32, Size: 32}},
			{{SrcOffset: 32, DstOffset: 0, Size: 16}},
		}
		for _, regions := range copies {
			if err := cb.CopyBuffer(src, dst, regions); err != nil {
				return err
			}
		}
		return cb.End()
	}

	dsts := make([]*Buffer, 2)
	cbs := make([]*CommandBuffer, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range dsts {
		dst, err := d.CreateBuffer(BufferDesc{Size: 64, Usage: metadata.BufferUsageTransferDst, Memory: metadata.MemoryUsageCPUToGPU})
		if err != nil {
			t.Fatalf("buffer creation failed: %v", err)
		}
		pool, err := d.CreateCommandPool()
		if err != nil {
			t.Fatalf("pool creation failed: %v", err)
		}
		dsts[i] = dst
		cbs[i] = mustAllocate(t, pool, CommandBufferPrimary)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = record(cbs[i], dsts[i])
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("recording %d failed: %v", i, err)
		}
	}

	fence, err := d.CreateFence(false)
	if err != nil {
		t.Fatalf("fence creation failed: %v", err)
	}
	if err := d.GraphicsQueue().Submit([]SubmitInfo{{CommandBuffers: cbs}}, fence); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := fence.Wait(waitTimeout); err != nil {
		t.Fatalf("fence wait failed: %v", err)
	}

	want := append(append([]byte{}, payload[32:48]...), payload[16:]...)
	for i, dst := range dsts {
		got, err := dst.Map()
		if err != nil {
			t.Fatalf("map failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("recording %d produced %q, want %q", i, got, want)
		}
		dst.Unmap()
	}
}

func TestCommandBufferIllegalCallsLeaveStateUntouched(t *testing.T) {
	d := newTestDevice(t)
	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)

	// Everything but Begin is illegal in the initial state.
	if err := cb.End(); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("End in initial state: %v", err)
	}
	if err := cb.Draw(3, 1, 0, 0); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("Draw in initial state: %v", err)
	}
	if err := cb.EndRenderPass(); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("EndRenderPass in initial state: %v", err)
	}
	if cb.State() != StateInitial {
		t.Fatalf("illegal calls moved the buffer to %s", cb.State())
	}

	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.Begin(0, nil); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("double Begin: %v", err)
	}
	if cb.State() != StateRecording {
		t.Fatalf("double Begin moved the buffer to %s", cb.State())
	}
}

func TestCommandBufferResetIdempotent(t *testing.T) {
	d := newTestDevice(t)
	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)

	if err := cb.Reset(); err != nil {
		t.Fatalf("reset of an initial buffer failed: %v", err)
	}
	if err := cb.Reset(); err != nil {
		t.Fatalf("second reset failed: %v", err)
	}

	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.Reset(); err != nil {
		t.Fatalf("reset of a recording buffer failed: %v", err)
	}
	if cb.State() != StateInitial {
		t.Fatalf("after reset buffer is %s", cb.State())
	}
}

func TestOneTimeSubmitInvalidatesUntilPoolReset(t *testing.T) {
	d := newTestDevice(t)
	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)

	if err := cb.Begin(UsageOneTimeSubmit, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	fence, _ := d.CreateFence(false)
	if err := d.GraphicsQueue().Submit([]SubmitInfo{{CommandBuffers: []*CommandBuffer{cb}}}, fence); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := fence.Wait(waitTimeout); err != nil {
		t.Fatalf("fence wait failed: %v", err)
	}
	d.reapQueues()

	if cb.State() != StateInvalid {
		t.Fatalf("one-time buffer is %s after retirement, want invalid", cb.State())
	}
	if err := cb.Reset(); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("direct reset of an invalid buffer: %v", err)
	}
	if err := cb.Begin(0, nil); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("Begin on an invalid buffer: %v", err)
	}

	if err := pool.Reset(); err != nil {
		t.Fatalf("pool reset failed: %v", err)
	}
	if cb.State() != StateInitial {
		t.Fatalf("after pool reset buffer is %s", cb.State())
	}
	if err := cb.Begin(0, nil); err != nil {
		t.Errorf("Begin after pool reset failed: %v", err)
	}
}

func TestRenderPassSubpassCursor(t *testing.T) {
	d := newTestDevice(t)
	pass, fb := testRenderTarget(t, d)
	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)

	area := metadata.RenderArea{Width: 64, Height: 64}
	clears := []metadata.ClearValue{{Color: [4]float32{0, 0, 0, 1}}}

	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.BeginRenderPass(pass, fb, area, clears, metadata.SubpassContentsInline); err != nil {
		t.Fatalf("BeginRenderPass failed: %v", err)
	}
	if cb.State() != StateInRenderPass {
		t.Fatalf("in pass buffer is %s", cb.State())
	}

	// Ending before the last subpass is illegal.
	if err := cb.EndRenderPass(); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("early EndRenderPass: %v", err)
	}
	if err := cb.NextSubpass(metadata.SubpassContentsInline); err != nil {
		t.Fatalf("NextSubpass failed: %v", err)
	}
	// Stepping past the last subpass is illegal.
	if err := cb.NextSubpass(metadata.SubpassContentsInline); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("NextSubpass past the end: %v", err)
	}
	if err := cb.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass failed: %v", err)
	}
	if cb.State() != StateRecording {
		t.Fatalf("after EndRenderPass buffer is %s", cb.State())
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
}

func TestSecondaryBuffersExecuteOnlyInMatchingSubpass(t *testing.T) {
	d := newTestDevice(t)
	pass, fb := testRenderTarget(t, d)
	pool, _ := d.CreateCommandPool()

	secondary := mustAllocate(t, pool, CommandBufferSecondary)
	cont := &RenderPassContinuation{Pass: pass, Subpass: 1}
	if err := secondary.Begin(UsageRenderPassContinue, cont); err != nil {
		t.Fatalf("secondary Begin failed: %v", err)
	}
	if err := secondary.End(); err != nil {
		t.Fatalf("secondary End failed: %v", err)
	}

	primary := mustAllocate(t, pool, CommandBufferPrimary)
	area := metadata.RenderArea{Width: 64, Height: 64}
	clears := []metadata.ClearValue{{}}
	if err := primary.Begin(0, nil); err != nil {
		t.Fatalf("primary Begin failed: %v", err)
	}
	if err := primary.BeginRenderPass(pass, fb, area, clears, metadata.SubpassContentsInline); err != nil {
		t.Fatalf("BeginRenderPass failed: %v", err)
	}

	// Subpass 0 was opened inline: executing secondaries is illegal.
	if err := primary.ExecuteCommands([]*CommandBuffer{secondary}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("ExecuteCommands in an inline subpass: %v", err)
	}

	if err := primary.NextSubpass(metadata.SubpassContentsSecondaryBuffers); err != nil {
		t.Fatalf("NextSubpass failed: %v", err)
	}
	if err := primary.ExecuteCommands([]*CommandBuffer{secondary}); err != nil {
		t.Fatalf("ExecuteCommands in a secondary-buffers subpass failed: %v", err)
	}

	// A secondary continuing subpass 1 cannot execute in subpass 0 of a
	// different recording.
	other := mustAllocate(t, pool, CommandBufferSecondary)
	if err := other.Begin(UsageRenderPassContinue, &RenderPassContinuation{Pass: pass, Subpass: 0}); err != nil {
		t.Fatalf("secondary Begin failed: %v", err)
	}
	if err := other.End(); err != nil {
		t.Fatalf("secondary End failed: %v", err)
	}
	if err := primary.ExecuteCommands([]*CommandBuffer{other}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("subpass-mismatched secondary accepted: %v", err)
	}

	if err := primary.EndRenderPass(); err != nil {
		t.Fatalf("EndRenderPass failed: %v", err)
	}
	if err := primary.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
}

func TestSecondaryBuffersAreNotSubmittable(t *testing.T) {
	d := newTestDevice(t)
	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferSecondary)

	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	err := d.GraphicsQueue().Submit([]SubmitInfo{{CommandBuffers: []*CommandBuffer{cb}}}, nil)
	if !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("secondary submission: %v", err)
	}
}

func TestPushConstantRangeEnforced(t *testing.T) {
	d := newTestDevice(t)
	layout, err := d.CreatePipelineLayout(nil, &metadata.PushConstantRange{
		Stages: metadata.ShaderStageVertex,
		Offset: 0,
		Size:   64,
	})
	if err != nil {
		t.Fatalf("layout creation failed: %v", err)
	}

	pool, _ := d.CreateCommandPool()
	cb := mustAllocate(t, pool, CommandBufferPrimary)
	if err := cb.Begin(0, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if err := cb.PushConstants(layout, metadata.ShaderStageVertex, 0, make([]byte, 64)); err != nil {
		t.Errorf("in-range push failed: %v", err)
	}
	if err := cb.PushConstants(layout, metadata.ShaderStageVertex, 32, make([]byte, 64)); !errors.Is(err, core.ErrOutOfBounds) {
		t.Errorf("out-of-range push: %v", err)
	}
	if err := cb.PushConstants(layout, metadata.ShaderStageFragment, 0, make([]byte, 16)); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("push to undeclared stage: %v", err)
	}
}
