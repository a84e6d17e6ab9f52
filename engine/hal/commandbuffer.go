package hal

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

type CommandBufferLevel int

const (
	CommandBufferPrimary CommandBufferLevel = iota
	CommandBufferSecondary
)

type CommandBufferUsageFlags uint32

const (
	// The buffer is invalidated by its first submission and must be
	// reallocated (or recovered through a pool reset) afterwards.
	UsageOneTimeSubmit CommandBufferUsageFlags = 1 << iota
	// Secondary only: the buffer records render-state commands for
	// execution inside someone else's render pass.
	UsageRenderPassContinue
	// The buffer may be submitted again while a previous submission of it
	// is still in flight.
	UsageSimultaneousUse
)

/**
 * @brief Recording state of a command buffer. Every recording call checks
 * the state first; an illegal call returns an error and leaves both the
 * state and the recorded stream untouched.
 */
type CommandBufferState int

const (
	// Freshly allocated, reset, or retired after completing; only Begin
	// is legal.
	StateInitial CommandBufferState = iota
	// Between Begin and End, outside any render pass.
	StateRecording
	// Between BeginRenderPass and EndRenderPass.
	StateInRenderPass
	// Ended and submittable.
	StateExecutable
	// Submitted and not yet retired by the device.
	StatePending
	// A one-time buffer after its submission retired. Unrecoverable
	// except through a pool reset.
	StateInvalid
)

func (s CommandBufferState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRecording:
		return "recording"
	case StateInRenderPass:
		return "in_render_pass"
	case StateExecutable:
		return "executable"
	case StatePending:
		return "pending"
	case StateInvalid:
		return "invalid"
	}
	return "unknown"
}

// CommandBuffer records work for queue submission. Not safe for concurrent
// use; one buffer belongs to one recording goroutine at a time.
type CommandBuffer struct {
	pool    *CommandPool
	device  *Device
	encoder native.CommandEncoder
	level   CommandBufferLevel

	state CommandBufferState
	usage CommandBufferUsageFlags
	// The encoder holds a finished stream from an earlier recording; the
	// next Begin discards it.
	recorded bool

	// Render pass cursor, valid only in StateInRenderPass (or for a
	// recording secondary with UsageRenderPassContinue).
	pass     *RenderPass
	fb       *Framebuffer
	subpass  uint32
	contents metadata.SubpassContents

	pipeline  *Pipeline
	boundSets []*DescriptorSet

	// Submission bookkeeping. pendingCount > 1 only under simultaneous use.
	pendingCount int
	lastQueue    *Queue
	lastSeq      uint64
}

func (cb *CommandBuffer) State() CommandBufferState { return cb.state }
func (cb *CommandBuffer) Level() CommandBufferLevel { return cb.level }

func (cb *CommandBuffer) stateError(op string, want CommandBufferState) error {
	return core.InvalidUsagef("%s requires the %s state, buffer is %s", op, want, cb.state)
}

// Begin moves the buffer into the recording state, legal from the initial
// and the executable states; re-beginning an executable buffer discards its
// previous stream. A secondary buffer with UsageRenderPassContinue records as
// if inside the given render pass and subpass; primaries must not pass
// continuation info.
func (cb *CommandBuffer) Begin(usage CommandBufferUsageFlags, cont *RenderPassContinuation) error {
	if cb.state != StateInitial && cb.state != StateExecutable {
		return core.InvalidUsagef("Begin requires the initial or executable state, buffer is %s", cb.state)
	}
	if usage&UsageRenderPassContinue != 0 && cb.level != CommandBufferSecondary {
		return core.InvalidUsagef("UsageRenderPassContinue is only valid on secondary buffers")
	}
	if cont != nil {
		if cb.level != CommandBufferSecondary || usage&UsageRenderPassContinue == 0 {
			return core.InvalidUsagef("render pass continuation needs a secondary buffer with UsageRenderPassContinue")
		}
		if cont.Pass == nil {
			return core.InvalidUsagef("render pass continuation without a render pass")
		}
		if cont.Subpass >= cont.Pass.SubpassCount() {
			return core.InvalidUsagef("continuation subpass %d out of range", cont.Subpass)
		}
	} else if usage&UsageRenderPassContinue != 0 {
		return core.InvalidUsagef("UsageRenderPassContinue requires continuation info")
	}

	if cb.recorded {
		if err := cb.encoder.Reset(); err != nil {
			return err
		}
		cb.recorded = false
	}
	if err := cb.encoder.Begin(usage&UsageOneTimeSubmit != 0, usage&UsageSimultaneousUse != 0); err != nil {
		return err
	}
	cb.state = StateRecording
	cb.usage = usage
	cb.pipeline = nil
	cb.boundSets = nil
	if cont != nil {
		cb.pass = cont.Pass
		cb.subpass = cont.Subpass
		cb.contents = metadata.SubpassContentsInline
	}
	return nil
}

// RenderPassContinuation tells a secondary buffer which pass and subpass it
// will be executed inside.
type RenderPassContinuation struct {
	Pass    *RenderPass
	Subpass uint32
	// Optional; backends use it only as an optimization hint.
	Framebuffer *Framebuffer
}

// End closes recording, making the buffer executable. An open render pass
// must be ended first.
func (cb *CommandBuffer) End() error {
	if cb.state == StateInRenderPass {
		return core.InvalidUsagef("End inside an open render pass")
	}
	if cb.state != StateRecording {
		return cb.stateError("End", StateRecording)
	}
	if err := cb.encoder.End(); err != nil {
		return err
	}
	cb.state = StateExecutable
	cb.recorded = true
	return nil
}

// Reset returns the buffer to the initial state, discarding its recorded
// stream. Resetting an already-initial buffer is a no-op; a pending buffer
// cannot be reset, and an invalid one is only recovered by resetting its
// pool.
func (cb *CommandBuffer) Reset() error {
	switch cb.state {
	case StateInitial:
		return nil
	case StatePending:
		return core.InvalidUsagef("Reset while the buffer is pending execution")
	case StateInvalid:
		return core.InvalidUsagef("an invalidated buffer is only recovered by a pool reset")
	}
	if err := cb.encoder.Reset(); err != nil {
		return err
	}
	cb.reset()
	return nil
}

func (cb *CommandBuffer) reset() {
	cb.state = StateInitial
	cb.recorded = false
	cb.usage = 0
	cb.pass = nil
	cb.fb = nil
	cb.subpass = 0
	cb.contents = metadata.SubpassContentsInline
	cb.pipeline = nil
	cb.boundSets = nil
}

func (cb *CommandBuffer) BeginRenderPass(pass *RenderPass, fb *Framebuffer, area metadata.RenderArea, clears []metadata.ClearValue, contents metadata.SubpassContents) error {
	if cb.state != StateRecording {
		return cb.stateError("BeginRenderPass", StateRecording)
	}
	if cb.level != CommandBufferPrimary {
		return core.InvalidUsagef("render passes begin on primary buffers only")
	}
	if pass == nil || fb == nil {
		return core.InvalidUsagef("BeginRenderPass needs a pass and a framebuffer")
	}
	if fb.pass != pass {
		return core.InvalidUsagef("framebuffer was built for a different render pass")
	}
	if len(clears) != len(pass.desc.Attachments) {
		return core.InvalidUsagef("%d clear values for %d attachments",
			len(clears), len(pass.desc.Attachments))
	}

	cb.encoder.BeginRenderPass(pass.handle, fb.handle, area, clears, contents)
	cb.state = StateInRenderPass
	cb.pass = pass
	cb.fb = fb
	cb.subpass = 0
	cb.contents = contents
	return nil
}

func (cb *CommandBuffer) NextSubpass(contents metadata.SubpassContents) error {
	if cb.state != StateInRenderPass {
		return cb.stateError("NextSubpass", StateInRenderPass)
	}
	if cb.subpass+1 >= cb.pass.SubpassCount() {
		return core.InvalidUsagef("NextSubpass past the last subpass (%d of %d)",
			cb.subpass, cb.pass.SubpassCount())
	}
	cb.encoder.NextSubpass(contents)
	cb.subpass++
	cb.contents = contents
	return nil
}

func (cb *CommandBuffer) EndRenderPass() error {
	if cb.state != StateInRenderPass {
		return cb.stateError("EndRenderPass", StateInRenderPass)
	}
	if cb.subpass != cb.pass.SubpassCount()-1 {
		return core.InvalidUsagef("EndRenderPass in subpass %d of %d",
			cb.subpass, cb.pass.SubpassCount())
	}
	cb.encoder.EndRenderPass()
	cb.state = StateRecording
	cb.pass = nil
	cb.fb = nil
	cb.subpass = 0
	return nil
}

// recordingForDraws reports whether draw-class commands are legal right now:
// inside an inline subpass on a primary, or anywhere on a recording
// secondary that continues a render pass.
func (cb *CommandBuffer) recordingForDraws() bool {
	if cb.level == CommandBufferSecondary {
		return cb.state == StateRecording && cb.usage&UsageRenderPassContinue != 0
	}
	return cb.state == StateInRenderPass && cb.contents == metadata.SubpassContentsInline
}

// recordingAny reports whether non-draw state commands (binds, push
// constants) are legal: any recording state except a secondary-buffers
// subpass, whose contents come exclusively through ExecuteCommands.
func (cb *CommandBuffer) recordingAny() bool {
	if cb.state == StateRecording {
		return true
	}
	return cb.state == StateInRenderPass && cb.contents == metadata.SubpassContentsInline
}

func (cb *CommandBuffer) BindPipeline(p *Pipeline) error {
	if !cb.recordingAny() {
		return core.InvalidUsagef("BindPipeline outside a recording state (buffer is %s)", cb.state)
	}
	if p == nil {
		return core.InvalidUsagef("BindPipeline with a nil pipeline")
	}
	cb.encoder.BindPipeline(p.handle)
	cb.pipeline = p
	return nil
}

func (cb *CommandBuffer) BindDescriptorSets(layout *PipelineLayout, firstSet uint32, sets []*DescriptorSet) error {
	if !cb.recordingAny() {
		return core.InvalidUsagef("BindDescriptorSets outside a recording state (buffer is %s)", cb.state)
	}
	if layout == nil {
		return core.InvalidUsagef("BindDescriptorSets without a layout")
	}
	handles := make([]native.DescriptorSetHandle, len(sets))
	for i, s := range sets {
		if s == nil {
			return core.InvalidUsagef("nil descriptor set at index %d", i)
		}
		if s.layout.assignment != layout.assignment && s.layout != layout {
			return core.InvalidUsagef("descriptor set %d was allocated for a different layout", i)
		}
		handles[i] = s.handle
	}
	cb.encoder.BindDescriptorSets(layout.handle, firstSet, handles)
	cb.boundSets = append(cb.boundSets, sets...)
	return nil
}

func (cb *CommandBuffer) BindVertexBuffers(first uint32, buffers []*Buffer, offsets []uint64) error {
	if !cb.recordingAny() {
		return core.InvalidUsagef("BindVertexBuffers outside a recording state (buffer is %s)", cb.state)
	}
	if len(buffers) != len(offsets) {
		return core.InvalidUsagef("%d buffers with %d offsets", len(buffers), len(offsets))
	}
	handles := make([]native.BufferHandle, len(buffers))
	for i, b := range buffers {
		if b.usage&metadata.BufferUsageVertex == 0 {
			return core.InvalidUsagef("buffer %d lacks vertex usage", i)
		}
		handles[i] = b.handle
	}
	cb.encoder.BindVertexBuffers(first, handles, offsets)
	return nil
}

func (cb *CommandBuffer) BindIndexBuffer(b *Buffer, offset uint64, indexType metadata.IndexType) error {
	if !cb.recordingAny() {
		return core.InvalidUsagef("BindIndexBuffer outside a recording state (buffer is %s)", cb.state)
	}
	if b.usage&metadata.BufferUsageIndex == 0 {
		return core.InvalidUsagef("buffer lacks index usage")
	}
	cb.encoder.BindIndexBuffer(b.handle, offset, indexType)
	return nil
}

func (cb *CommandBuffer) PushConstants(layout *PipelineLayout, stages metadata.ShaderStageFlags, offset uint32, data []byte) error {
	if !cb.recordingAny() {
		return core.InvalidUsagef("PushConstants outside a recording state (buffer is %s)", cb.state)
	}
	if layout == nil || layout.pushConstants == nil {
		return core.InvalidUsagef("pipeline layout declares no push-constant range")
	}
	r := layout.pushConstants
	if offset < r.Offset || offset+uint32(len(data)) > r.Offset+r.Size {
		return core.ErrOutOfBounds
	}
	if stages&^r.Stages != 0 {
		return core.InvalidUsagef("push to stages outside the declared range")
	}
	cb.encoder.PushConstants(layout.handle, stages, offset, data)
	return nil
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if !cb.recordingForDraws() {
		return core.InvalidUsagef("Draw outside an inline subpass (buffer is %s)", cb.state)
	}
	if cb.pipeline == nil || cb.pipeline.compute {
		return core.InvalidUsagef("Draw without a bound graphics pipeline")
	}
	cb.encoder.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	if !cb.recordingForDraws() {
		return core.InvalidUsagef("DrawIndexed outside an inline subpass (buffer is %s)", cb.state)
	}
	if cb.pipeline == nil || cb.pipeline.compute {
		return core.InvalidUsagef("DrawIndexed without a bound graphics pipeline")
	}
	cb.encoder.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return nil
}

func (cb *CommandBuffer) Dispatch(x, y, z uint32) error {
	if cb.state != StateRecording {
		return core.InvalidUsagef("Dispatch inside a render pass (buffer is %s)", cb.state)
	}
	if cb.pipeline == nil || !cb.pipeline.compute {
		return core.InvalidUsagef("Dispatch without a bound compute pipeline")
	}
	cb.encoder.Dispatch(x, y, z)
	return nil
}

func (cb *CommandBuffer) CopyBuffer(src, dst *Buffer, regions []metadata.BufferCopy) error {
	if cb.state != StateRecording {
		return core.InvalidUsagef("CopyBuffer inside a render pass (buffer is %s)", cb.state)
	}
	for _, r := range regions {
		if r.SrcOffset+r.Size > src.size || r.DstOffset+r.Size > dst.size {
			return core.ErrOutOfBounds
		}
	}
	cb.encoder.CopyBuffer(src.handle, dst.handle, regions)
	return nil
}

func (cb *CommandBuffer) CopyBufferToImage(src *Buffer, dst *Image, layout metadata.ImageLayout, regions []metadata.BufferImageCopy) error {
	if cb.state != StateRecording {
		return core.InvalidUsagef("CopyBufferToImage inside a render pass (buffer is %s)", cb.state)
	}
	cb.encoder.CopyBufferToImage(src.handle, dst.handle, layout, regions)
	return nil
}

func (cb *CommandBuffer) CopyImageToBuffer(src *Image, layout metadata.ImageLayout, dst *Buffer, regions []metadata.BufferImageCopy) error {
	if cb.state != StateRecording {
		return core.InvalidUsagef("CopyImageToBuffer inside a render pass (buffer is %s)", cb.state)
	}
	cb.encoder.CopyImageToBuffer(src.handle, layout, dst.handle, regions)
	return nil
}

// ImageBarrierRef targets a barrier at a portable image.
type ImageBarrierRef struct {
	Image   *Image
	Barrier metadata.ImageBarrier
	Range   metadata.ImageSubresourceRange
}

// BufferBarrierRef targets a barrier at a portable buffer.
type BufferBarrierRef struct {
	Buffer  *Buffer
	Barrier metadata.BufferBarrier
}

// PipelineBarrier records explicit barriers outside a render pass. Barriers
// inside passes come exclusively from the computed plan.
func (cb *CommandBuffer) PipelineBarrier(global []metadata.MemoryBarrier, buffers []BufferBarrierRef, images []ImageBarrierRef) error {
	if cb.state != StateRecording {
		return core.InvalidUsagef("PipelineBarrier inside a render pass (buffer is %s)", cb.state)
	}
	bufs := make([]native.BufferBarrierInstance, len(buffers))
	for i, b := range buffers {
		bufs[i] = native.BufferBarrierInstance{Buffer: b.Buffer.handle, Barrier: b.Barrier}
	}
	imgs := make([]native.ImageBarrierInstance, len(images))
	for i, im := range images {
		r := im.Range
		if r.LevelCount == 0 && r.LayerCount == 0 {
			r = im.Image.WholeRange()
		}
		imgs[i] = native.ImageBarrierInstance{Image: im.Image.handle, Barrier: im.Barrier, Range: r}
	}
	cb.encoder.PipelineBarrier(global, bufs, imgs)
	return nil
}

// ExecuteCommands runs executable secondary buffers from a primary. Inside a
// render pass the current subpass must have been opened with
// SubpassContentsSecondaryBuffers and every secondary must continue this
// pass at this subpass; outside a pass, plain secondaries are accepted.
func (cb *CommandBuffer) ExecuteCommands(secondaries []*CommandBuffer) error {
	if cb.level != CommandBufferPrimary {
		return core.InvalidUsagef("ExecuteCommands on a secondary buffer")
	}
	inPass := cb.state == StateInRenderPass
	if !inPass && cb.state != StateRecording {
		return cb.stateError("ExecuteCommands", StateRecording)
	}
	if inPass && cb.contents != metadata.SubpassContentsSecondaryBuffers {
		return core.InvalidUsagef("ExecuteCommands in an inline subpass")
	}
	if len(secondaries) == 0 {
		return core.InvalidUsagef("ExecuteCommands with no buffers")
	}

	handles := make([]native.CommandListHandle, len(secondaries))
	for i, s := range secondaries {
		if s.level != CommandBufferSecondary {
			return core.InvalidUsagef("buffer %d is not a secondary", i)
		}
		if s.state != StateExecutable {
			return core.InvalidUsagef("secondary %d is %s, not executable", i, s.state)
		}
		continues := s.usage&UsageRenderPassContinue != 0
		if inPass {
			if !continues {
				return core.InvalidUsagef("secondary %d does not continue a render pass", i)
			}
			if s.pass != cb.pass || s.subpass != cb.subpass {
				return core.InvalidUsagef("secondary %d continues a different pass or subpass", i)
			}
		} else if continues {
			return core.InvalidUsagef("secondary %d continues a render pass but none is open", i)
		}
		handles[i] = s.encoder.Handle()
	}

	cb.encoder.ExecuteCommands(handles)
	for _, s := range secondaries {
		cb.boundSets = append(cb.boundSets, s.boundSets...)
	}
	return nil
}

// canSubmit validates the buffer for queue submission without mutating it.
func (cb *CommandBuffer) canSubmit() error {
	if cb.level != CommandBufferPrimary {
		return core.InvalidUsagef("secondary buffers are executed, never submitted")
	}
	switch cb.state {
	case StateExecutable:
		return nil
	case StatePending:
		if cb.usage&UsageSimultaneousUse != 0 {
			return nil
		}
		return core.InvalidUsagef("buffer resubmitted while pending without UsageSimultaneousUse")
	default:
		return cb.stateError("Submit", StateExecutable)
	}
}

func (cb *CommandBuffer) markSubmitted(q *Queue, seq uint64) {
	cb.pendingCount++
	cb.state = StatePending
	cb.lastQueue = q
	cb.lastSeq = seq
}

// retire flips the buffer out of pending once a submission completes: back
// to the initial state, ready for a fresh Begin. A one-time buffer becomes
// invalid instead and needs a pool reset. The encoder keeps its stream until
// the next Begin discards it, so a simultaneous-use buffer still pending on
// another submission is untouched.
func (cb *CommandBuffer) retire() {
	if cb.pendingCount > 0 {
		cb.pendingCount--
	}
	if cb.pendingCount > 0 {
		return
	}
	if cb.usage&UsageOneTimeSubmit != 0 {
		cb.state = StateInvalid
		return
	}
	cb.state = StateInitial
}
