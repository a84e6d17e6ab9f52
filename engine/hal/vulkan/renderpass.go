package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

func vkAttachmentRef(ref metadata.AttachmentReference) vk.AttachmentReference {
	return vk.AttachmentReference{
		Attachment: ref.Attachment,
		Layout:     vkImageLayout(ref.Layout),
	}
}

// CreateRenderPass translates the portable description directly; the entry
// and exit transitions of the plan ride on the attachment initial/final
// layouts, and the plan's inter-subpass barriers become subpass
// dependencies. Split halves collapse back to one dependency here because
// the driver schedules across the gap itself.
func (b *Backend) CreateRenderPass(desc metadata.RenderPassDesc, plan metadata.BarrierPlan) (native.RenderPassHandle, error) {
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, att := range desc.Attachments {
		samples := vk.SampleCount1Bit
		if att.Samples > 1 {
			samples = vk.SampleCountFlagBits(att.Samples)
		}
		attachments[i] = vk.AttachmentDescription{
			Format:         vkFormat(att.Format),
			Samples:        samples,
			LoadOp:         vkLoadOp(att.LoadOp),
			StoreOp:        vkStoreOp(att.StoreOp),
			StencilLoadOp:  vkLoadOp(att.StencilLoadOp),
			StencilStoreOp: vkStoreOp(att.StencilStoreOp),
			InitialLayout:  vkImageLayout(att.InitialLayout),
			FinalLayout:    vkImageLayout(att.FinalLayout),
		}
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, sp := range desc.Subpasses {
		colorRefs := make([]vk.AttachmentReference, len(sp.ColorRefs))
		for j, ref := range sp.ColorRefs {
			colorRefs[j] = vkAttachmentRef(ref)
		}
		inputRefs := make([]vk.AttachmentReference, len(sp.InputRefs))
		for j, ref := range sp.InputRefs {
			inputRefs[j] = vkAttachmentRef(ref)
		}
		subpasses[i] = vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			ColorAttachmentCount:    uint32(len(colorRefs)),
			PColorAttachments:       colorRefs,
			InputAttachmentCount:    uint32(len(inputRefs)),
			PInputAttachments:       inputRefs,
			PreserveAttachmentCount: uint32(len(sp.Preserve)),
			PPreserveAttachments:    sp.Preserve,
		}
		if sp.DepthStencilRef != nil {
			ref := vkAttachmentRef(*sp.DepthStencilRef)
			subpasses[i].PDepthStencilAttachment = &ref
		}
	}

	var dependencies []vk.SubpassDependency
	for subpass, barriers := range plan.BeforeSubpass {
		for _, ab := range barriers {
			// The end half carries the consumer edge; its begin half is
			// implicit in the driver's dependency scheduling.
			if ab.Barrier.Half == metadata.BarrierBegin {
				continue
			}
			dependencies = append(dependencies, vk.SubpassDependency{
				SrcSubpass:    subpass - 1,
				DstSubpass:    subpass,
				SrcStageMask:  vkStages(ab.Barrier.SrcStage),
				DstStageMask:  vkStages(ab.Barrier.DstStage),
				SrcAccessMask: vkAccess(ab.Barrier.SrcAccess),
				DstAccessMask: vkAccess(ab.Barrier.DstAccess),
			})
		}
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	var pass vk.RenderPass
	if res := vk.CreateRenderPass(b.device, &info, nil, &pass); res != vk.Success {
		return 0, resultErr("vkCreateRenderPass", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.RenderPassHandle(b.handle())
	b.passes[h] = pass
	return h, nil
}

func (b *Backend) DestroyRenderPass(h native.RenderPassHandle) {
	b.mutex.Lock()
	pass := b.passes[h]
	delete(b.passes, h)
	b.mutex.Unlock()
	vk.DestroyRenderPass(b.device, pass, nil)
}

func (b *Backend) CreateFramebuffer(pass native.RenderPassHandle, attachments []native.ImageHandle, width, height uint32) (native.FramebufferHandle, error) {
	b.mutex.Lock()
	vkPass := b.passes[pass]
	views := make([]vk.ImageView, len(attachments))
	for i, h := range attachments {
		views[i] = b.images[h].view
	}
	b.mutex.Unlock()

	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      vkPass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if res := vk.CreateFramebuffer(b.device, &info, nil, &fb); res != vk.Success {
		return 0, resultErr("vkCreateFramebuffer", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.FramebufferHandle(b.handle())
	b.framebuffers[h] = fb
	return h, nil
}

func (b *Backend) DestroyFramebuffer(h native.FramebufferHandle) {
	b.mutex.Lock()
	fb := b.framebuffers[h]
	delete(b.framebuffers, h)
	b.mutex.Unlock()
	vk.DestroyFramebuffer(b.device, fb, nil)
}
