package software

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// encoder buffers the recording stream as replayable thunks; a list recorded
// once may be executed by several submissions (simultaneous use) without
// re-recording.
type encoder struct {
	backend *Backend
	handle  native.CommandListHandle
	primary bool
	ops     []func(*execState)
}

// execState is the mutable cursor of one execution of a command list.
type execState struct {
	backend  *Backend
	pipeline native.PipelineHandle
	pass     *softRenderPass
	fb       *softFramebuffer
	subpass  uint32
}

func (b *Backend) CreateCommandList(primary bool) (native.CommandEncoder, error) {
	enc := &encoder{
		backend: b,
		handle:  native.CommandListHandle(b.handle()),
		primary: primary,
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.encoders[enc.handle] = enc
	return enc, nil
}

func (b *Backend) DestroyCommandList(h native.CommandListHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.encoders, h)
}

func (e *encoder) Handle() native.CommandListHandle { return e.handle }

func (e *encoder) Begin(oneTime, simultaneous bool) error {
	e.ops = e.ops[:0]
	return nil
}

func (e *encoder) End() error   { return nil }
func (e *encoder) Reset() error { e.ops = nil; return nil }

func (e *encoder) run() {
	state := &execState{backend: e.backend}
	for _, op := range e.ops {
		op(state)
	}
}

func (e *encoder) record(op func(*execState)) {
	e.ops = append(e.ops, op)
}

func (e *encoder) BeginRenderPass(pass native.RenderPassHandle, fb native.FramebufferHandle, area metadata.RenderArea, clears []metadata.ClearValue, contents metadata.SubpassContents) {
	e.record(func(s *execState) {
		s.backend.mutex.RLock()
		s.pass = s.backend.passes[pass]
		s.fb = s.backend.framebuffers[fb]
		s.backend.mutex.RUnlock()
		s.subpass = 0
		if s.pass == nil || s.fb == nil {
			core.LogWarn("render pass begin with unknown pass or framebuffer")
			return
		}
		// Pass-begin performs the entry transitions implicitly.
		for _, ab := range s.pass.plan.Entry {
			s.transition(ab.Attachment, ab.Barrier.NewLayout)
		}
		s.clear(clears)
		s.applyBarriers(s.pass.plan.BeforeSubpass[0])
	})
}

func (e *encoder) NextSubpass(contents metadata.SubpassContents) {
	e.record(func(s *execState) {
		if s.pass == nil {
			return
		}
		s.subpass++
		s.applyBarriers(s.pass.plan.BeforeSubpass[s.subpass])
	})
}

func (e *encoder) EndRenderPass() {
	e.record(func(s *execState) {
		if s.pass == nil {
			return
		}
		for _, ab := range s.pass.plan.Exit {
			s.transition(ab.Attachment, ab.Barrier.NewLayout)
		}
		s.pass = nil
		s.fb = nil
		s.subpass = 0
	})
}

func (s *execState) applyBarriers(barriers []metadata.AttachmentBarrier) {
	for _, ab := range barriers {
		// End halves re-state a transition the begin half already made.
		if ab.Barrier.Half == metadata.BarrierEnd {
			continue
		}
		s.transition(ab.Attachment, ab.Barrier.NewLayout)
	}
}

func (s *execState) transition(attachment uint32, layout metadata.ImageLayout) {
	if s.fb == nil || int(attachment) >= len(s.fb.attachments) {
		return
	}
	s.backend.mutex.RLock()
	img := s.backend.images[s.fb.attachments[attachment]]
	s.backend.mutex.RUnlock()
	if img != nil {
		img.layout = layout
	}
}

func (s *execState) clear(clears []metadata.ClearValue) {
	if s.pass == nil || s.fb == nil {
		return
	}
	for i, att := range s.pass.desc.Attachments {
		if att.LoadOp != metadata.AttachmentLoadOpClear || i >= len(clears) || i >= len(s.fb.attachments) {
			continue
		}
		s.backend.mutex.RLock()
		img := s.backend.images[s.fb.attachments[i]]
		s.backend.mutex.RUnlock()
		if img == nil || img.mem == nil {
			continue
		}
		fillRGBA(img.bytes(), att.Format, clears[i])
	}
}

// fillRGBA writes a clear color into 8-bit four-channel backings; other
// formats clear to zero, which is all the host-side tests need.
func fillRGBA(dst []byte, format metadata.Format, clear metadata.ClearValue) {
	switch format {
	case metadata.FormatRGBA8Unorm, metadata.FormatRGBA8Srgb, metadata.FormatBGRA8Unorm, metadata.FormatBGRA8Srgb:
		r := uint8(clamp01(clear.Color[0]) * 255)
		g := uint8(clamp01(clear.Color[1]) * 255)
		bl := uint8(clamp01(clear.Color[2]) * 255)
		a := uint8(clamp01(clear.Color[3]) * 255)
		if format == metadata.FormatBGRA8Unorm || format == metadata.FormatBGRA8Srgb {
			r, bl = bl, r
		}
		for i := 0; i+3 < len(dst); i += 4 {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = r, g, bl, a
		}
	default:
		for i := range dst {
			dst[i] = 0
		}
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *encoder) BindPipeline(p native.PipelineHandle) {
	e.record(func(s *execState) { s.pipeline = p })
}

func (e *encoder) BindDescriptorSets(layout native.PipelineLayoutHandle, firstSet uint32, sets []native.DescriptorSetHandle) {
	e.record(func(s *execState) {})
}

func (e *encoder) BindVertexBuffers(first uint32, buffers []native.BufferHandle, offsets []uint64) {
	e.record(func(s *execState) {})
}

func (e *encoder) BindIndexBuffer(b native.BufferHandle, offset uint64, indexType metadata.IndexType) {
	e.record(func(s *execState) {})
}

func (e *encoder) PushConstants(layout native.PipelineLayoutHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte) {
	e.record(func(s *execState) {})
}

func (e *encoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	e.record(func(s *execState) {})
}

func (e *encoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	e.record(func(s *execState) {})
}

func (e *encoder) Dispatch(x, y, z uint32) {
	e.record(func(s *execState) {})
}

func (e *encoder) CopyBuffer(src, dst native.BufferHandle, regions []metadata.BufferCopy) {
	e.record(func(s *execState) {
		s.backend.mutex.RLock()
		srcBuf := s.backend.buffers[src]
		dstBuf := s.backend.buffers[dst]
		s.backend.mutex.RUnlock()
		if srcBuf == nil || dstBuf == nil || srcBuf.mem == nil || dstBuf.mem == nil {
			core.LogWarn("copy between unbound buffers skipped")
			return
		}
		for _, r := range regions {
			copy(dstBuf.bytes()[r.DstOffset:r.DstOffset+r.Size], srcBuf.bytes()[r.SrcOffset:r.SrcOffset+r.Size])
		}
	})
}

func (e *encoder) CopyBufferToImage(src native.BufferHandle, dst native.ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy) {
	e.record(func(s *execState) {
		s.backend.mutex.RLock()
		srcBuf := s.backend.buffers[src]
		dstImg := s.backend.images[dst]
		s.backend.mutex.RUnlock()
		if srcBuf == nil || dstImg == nil || srcBuf.mem == nil || dstImg.mem == nil {
			return
		}
		if dstImg.layout != layout {
			core.LogWarn("image copied to in layout '%s' while in '%s'", layout, dstImg.layout)
		}
		copyLinear(srcBuf.bytes(), dstImg, regions, true)
	})
}

func (e *encoder) CopyImageToBuffer(src native.ImageHandle, layout metadata.ImageLayout, dst native.BufferHandle, regions []metadata.BufferImageCopy) {
	e.record(func(s *execState) {
		s.backend.mutex.RLock()
		srcImg := s.backend.images[src]
		dstBuf := s.backend.buffers[dst]
		s.backend.mutex.RUnlock()
		if srcImg == nil || dstBuf == nil || srcImg.mem == nil || dstBuf.mem == nil {
			return
		}
		copyLinear(dstBuf.bytes(), srcImg, regions, false)
	})
}

// copyLinear moves whole-extent regions between a tightly packed buffer and
// an image backing. Partial-extent copies are clamped to the image size.
func copyLinear(buf []byte, img *softImage, regions []metadata.BufferImageCopy, toImage bool) {
	texel := uint64(img.desc.Format.Info().TexelSize)
	if texel == 0 {
		texel = 4
	}
	pixels := img.bytes()
	for _, r := range regions {
		n := uint64(r.ImageExtent.Width) * uint64(r.ImageExtent.Height) * texel
		if n > uint64(len(pixels)) {
			n = uint64(len(pixels))
		}
		if r.BufferOffset+n > uint64(len(buf)) {
			n = uint64(len(buf)) - r.BufferOffset
		}
		if toImage {
			copy(pixels[:n], buf[r.BufferOffset:r.BufferOffset+n])
		} else {
			copy(buf[r.BufferOffset:r.BufferOffset+n], pixels[:n])
		}
	}
}

func (e *encoder) PipelineBarrier(global []metadata.MemoryBarrier, buffers []native.BufferBarrierInstance, images []native.ImageBarrierInstance) {
	e.record(func(s *execState) {
		for _, ib := range images {
			if ib.Barrier.Half == metadata.BarrierEnd {
				continue
			}
			s.backend.mutex.RLock()
			img := s.backend.images[ib.Image]
			s.backend.mutex.RUnlock()
			if img == nil {
				continue
			}
			if ib.Barrier.OldLayout != metadata.ImageLayoutUndefined && img.layout != ib.Barrier.OldLayout {
				core.LogWarn("barrier declares old layout '%s' but image is in '%s'",
					ib.Barrier.OldLayout, img.layout)
			}
			img.layout = ib.Barrier.NewLayout
		}
	})
}

func (e *encoder) ExecuteCommands(lists []native.CommandListHandle) {
	e.record(func(s *execState) {
		for _, list := range lists {
			s.backend.mutex.RLock()
			sub := s.backend.encoders[list]
			s.backend.mutex.RUnlock()
			if sub == nil {
				core.LogWarn("execute of unknown secondary list %d", list)
				continue
			}
			// Secondary lists run in the primary's pass context.
			for _, op := range sub.ops {
				op(s)
			}
		}
	})
}
