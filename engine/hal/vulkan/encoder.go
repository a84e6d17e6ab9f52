package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// encoder drives one vk.CommandBuffer. Ordering and state legality were
// enforced portably before any method here runs.
type encoder struct {
	backend *Backend
	handle  native.CommandListHandle
	buffer  vk.CommandBuffer
	primary bool
}

func (b *Backend) CreateCommandList(primary bool) (native.CommandEncoder, error) {
	level := vk.CommandBufferLevelPrimary
	if !primary {
		level = vk.CommandBufferLevelSecondary
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.commandPool,
		Level:              level,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(b.device, &info, buffers); res != vk.Success {
		return nil, resultErr("vkAllocateCommandBuffers", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.CommandListHandle(b.handle())
	b.commands[h] = buffers[0]
	return &encoder{backend: b, handle: h, buffer: buffers[0], primary: primary}, nil
}

func (b *Backend) DestroyCommandList(h native.CommandListHandle) {
	b.mutex.Lock()
	buffer := b.commands[h]
	delete(b.commands, h)
	b.mutex.Unlock()
	vk.FreeCommandBuffers(b.device, b.commandPool, 1, []vk.CommandBuffer{buffer})
}

func (e *encoder) Handle() native.CommandListHandle { return e.handle }

func (e *encoder) Begin(oneTime, simultaneous bool) error {
	var flags vk.CommandBufferUsageFlagBits
	if oneTime {
		flags |= vk.CommandBufferUsageOneTimeSubmitBit
	}
	if simultaneous {
		flags |= vk.CommandBufferUsageSimultaneousUseBit
	}
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(flags),
	}
	return resultErr("vkBeginCommandBuffer", vk.BeginCommandBuffer(e.buffer, &info))
}

func (e *encoder) End() error {
	return resultErr("vkEndCommandBuffer", vk.EndCommandBuffer(e.buffer))
}

func (e *encoder) Reset() error {
	return resultErr("vkResetCommandBuffer", vk.ResetCommandBuffer(e.buffer, 0))
}

func (e *encoder) BeginRenderPass(pass native.RenderPassHandle, fb native.FramebufferHandle, area metadata.RenderArea, clears []metadata.ClearValue, contents metadata.SubpassContents) {
	b := e.backend
	b.mutex.Lock()
	vkPass := b.passes[pass]
	vkFb := b.framebuffers[fb]
	b.mutex.Unlock()

	clearValues := make([]vk.ClearValue, len(clears))
	for i, c := range clears {
		clearValues[i].SetColor([]float32{c.Color[0], c.Color[1], c.Color[2], c.Color[3]})
	}

	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vkPass,
		Framebuffer: vkFb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: area.X, Y: area.Y},
			Extent: vk.Extent2D{Width: area.Width, Height: area.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(e.buffer, &info, vkSubpassContents(contents))
}

func (e *encoder) NextSubpass(contents metadata.SubpassContents) {
	vk.CmdNextSubpass(e.buffer, vkSubpassContents(contents))
}

func (e *encoder) EndRenderPass() {
	vk.CmdEndRenderPass(e.buffer)
}

func (e *encoder) BindPipeline(p native.PipelineHandle) {
	b := e.backend
	b.mutex.Lock()
	pipeline := b.pipelines[p]
	b.mutex.Unlock()
	vk.CmdBindPipeline(e.buffer, vk.PipelineBindPointGraphics, pipeline)
}

func (e *encoder) BindDescriptorSets(layout native.PipelineLayoutHandle, firstSet uint32, sets []native.DescriptorSetHandle) {
	b := e.backend
	b.mutex.Lock()
	vkLayout := b.layouts[layout].layout
	vkSets := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		vkSets[i] = b.sets[s]
	}
	b.mutex.Unlock()
	vk.CmdBindDescriptorSets(e.buffer, vk.PipelineBindPointGraphics, vkLayout,
		firstSet, uint32(len(vkSets)), vkSets, 0, nil)
}

func (e *encoder) BindVertexBuffers(first uint32, buffers []native.BufferHandle, offsets []uint64) {
	b := e.backend
	b.mutex.Lock()
	vkBuffers := make([]vk.Buffer, len(buffers))
	for i, h := range buffers {
		vkBuffers[i] = b.buffers[h]
	}
	b.mutex.Unlock()
	vkOffsets := make([]vk.DeviceSize, len(offsets))
	for i, o := range offsets {
		vkOffsets[i] = vk.DeviceSize(o)
	}
	vk.CmdBindVertexBuffers(e.buffer, first, uint32(len(vkBuffers)), vkBuffers, vkOffsets)
}

func (e *encoder) BindIndexBuffer(buf native.BufferHandle, offset uint64, indexType metadata.IndexType) {
	b := e.backend
	b.mutex.Lock()
	vkBuffer := b.buffers[buf]
	b.mutex.Unlock()
	vk.CmdBindIndexBuffer(e.buffer, vkBuffer, vk.DeviceSize(offset), vkIndexType(indexType))
}

func (e *encoder) PushConstants(layout native.PipelineLayoutHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	b := e.backend
	b.mutex.Lock()
	vkLayout := b.layouts[layout].layout
	b.mutex.Unlock()
	vk.CmdPushConstants(e.buffer, vkLayout, vkShaderStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (e *encoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(e.buffer, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (e *encoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(e.buffer, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (e *encoder) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(e.buffer, x, y, z)
}

func (e *encoder) CopyBuffer(src, dst native.BufferHandle, regions []metadata.BufferCopy) {
	b := e.backend
	b.mutex.Lock()
	vkSrc, vkDst := b.buffers[src], b.buffers[dst]
	b.mutex.Unlock()

	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(e.buffer, vkSrc, vkDst, uint32(len(copies)), copies)
}

func bufferImageCopies(regions []metadata.BufferImageCopy, aspect vk.ImageAspectFlags) []vk.BufferImageCopy {
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     aspect,
				MipLevel:       r.MipLevel,
				BaseArrayLayer: r.BaseLayer,
				LayerCount:     r.LayerCount,
			},
			ImageOffset: vk.Offset3D{X: r.ImageOffset.X, Y: r.ImageOffset.Y, Z: r.ImageOffset.Z},
			ImageExtent: vk.Extent3D{
				Width:  r.ImageExtent.Width,
				Height: r.ImageExtent.Height,
				Depth:  r.ImageExtent.Depth,
			},
		}
	}
	return copies
}

func (e *encoder) CopyBufferToImage(src native.BufferHandle, dst native.ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy) {
	b := e.backend
	b.mutex.Lock()
	vkSrc := b.buffers[src]
	img := b.images[dst]
	b.mutex.Unlock()

	copies := bufferImageCopies(regions, img.aspect)
	vk.CmdCopyBufferToImage(e.buffer, vkSrc, img.image, vkImageLayout(layout), uint32(len(copies)), copies)
}

func (e *encoder) CopyImageToBuffer(src native.ImageHandle, layout metadata.ImageLayout, dst native.BufferHandle, regions []metadata.BufferImageCopy) {
	b := e.backend
	b.mutex.Lock()
	img := b.images[src]
	vkDst := b.buffers[dst]
	b.mutex.Unlock()

	copies := bufferImageCopies(regions, img.aspect)
	vk.CmdCopyImageToBuffer(e.buffer, img.image, vkImageLayout(layout), vkDst, uint32(len(copies)), copies)
}

func (e *encoder) PipelineBarrier(global []metadata.MemoryBarrier, buffers []native.BufferBarrierInstance, images []native.ImageBarrierInstance) {
	b := e.backend

	var srcStages, dstStages vk.PipelineStageFlags
	memoryBarriers := make([]vk.MemoryBarrier, len(global))
	for i, mb := range global {
		srcStages |= vkStages(mb.SrcStage)
		dstStages |= vkStages(mb.DstStage)
		memoryBarriers[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vkAccess(mb.SrcAccess),
			DstAccessMask: vkAccess(mb.DstAccess),
		}
	}

	b.mutex.Lock()
	bufferBarriers := make([]vk.BufferMemoryBarrier, len(buffers))
	for i, bb := range buffers {
		srcStages |= vkStages(bb.Barrier.SrcStage)
		dstStages |= vkStages(bb.Barrier.DstStage)
		size := vk.DeviceSize(bb.Barrier.Size)
		if bb.Barrier.Size == 0 {
			size = vk.DeviceSize(vk.WholeSize)
		}
		bufferBarriers[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vkAccess(bb.Barrier.SrcAccess),
			DstAccessMask:       vkAccess(bb.Barrier.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b.buffers[bb.Buffer],
			Offset:              vk.DeviceSize(bb.Barrier.Offset),
			Size:                size,
		}
	}
	imageBarriers := make([]vk.ImageMemoryBarrier, 0, len(images))
	for _, ib := range images {
		// Split halves collapse to the full barrier at the end half; the
		// begin half was only a scheduling hint.
		if ib.Barrier.Half == metadata.BarrierBegin {
			continue
		}
		srcStages |= vkStages(ib.Barrier.SrcStage)
		dstStages |= vkStages(ib.Barrier.DstStage)
		img := b.images[ib.Image]
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vkAccess(ib.Barrier.SrcAccess),
			DstAccessMask:       vkAccess(ib.Barrier.DstAccess),
			OldLayout:           vkImageLayout(ib.Barrier.OldLayout),
			NewLayout:           vkImageLayout(ib.Barrier.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     img.aspect,
				BaseMipLevel:   ib.Range.BaseMipLevel,
				LevelCount:     ib.Range.LevelCount,
				BaseArrayLayer: ib.Range.BaseArrayLayer,
				LayerCount:     ib.Range.LayerCount,
			},
		})
	}
	b.mutex.Unlock()

	if srcStages == 0 {
		srcStages = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	if dstStages == 0 {
		dstStages = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	vk.CmdPipelineBarrier(e.buffer, srcStages, dstStages, 0,
		uint32(len(memoryBarriers)), memoryBarriers,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

func (e *encoder) ExecuteCommands(lists []native.CommandListHandle) {
	b := e.backend
	b.mutex.Lock()
	buffers := make([]vk.CommandBuffer, len(lists))
	for i, h := range lists {
		buffers[i] = b.commands[h]
	}
	b.mutex.Unlock()
	vk.CmdExecuteCommands(e.buffer, uint32(len(buffers)), buffers)
}
