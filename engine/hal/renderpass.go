package hal

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// RenderPass couples an attachment/subpass description with its computed
// barrier plan. The plan is fixed at creation; recording only replays it.
type RenderPass struct {
	device *Device
	handle native.RenderPassHandle
	desc   metadata.RenderPassDesc
	plan   metadata.BarrierPlan
}

func (d *Device) CreateRenderPass(desc metadata.RenderPassDesc) (*RenderPass, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if len(desc.Subpasses) == 0 {
		return nil, core.InvalidUsagef("render pass needs at least one subpass")
	}
	if max := d.limits.MaxSubpasses; max > 0 && uint32(len(desc.Subpasses)) > max {
		return nil, core.ErrTooManyObjects
	}
	for i, sp := range desc.Subpasses {
		if max := d.limits.MaxColorAttachments; max > 0 && uint32(len(sp.ColorRefs)) > max {
			return nil, core.InvalidUsagef("subpass %d has %d color attachments, device limit is %d",
				i, len(sp.ColorRefs), max)
		}
	}
	for i, att := range desc.Attachments {
		if att.Format.Info().TexelSize == 0 {
			return nil, core.InvalidUsagef("attachment %d has an invalid format", i)
		}
	}

	plan, err := PlanBarriers(desc, d.backend.PassBeginTransitions())
	if err != nil {
		core.LogError("barrier planning failed: %s", err.Error())
		return nil, err
	}

	handle, err := d.backend.CreateRenderPass(desc, plan)
	if err != nil {
		core.LogError("render pass creation failed: %s", err.Error())
		return nil, err
	}

	return &RenderPass{device: d, handle: handle, desc: desc, plan: plan}, nil
}

func (rp *RenderPass) Desc() metadata.RenderPassDesc { return rp.desc }

// Plan exposes the computed barrier schedule, mainly for diagnostics.
func (rp *RenderPass) Plan() metadata.BarrierPlan { return rp.plan }

func (rp *RenderPass) SubpassCount() uint32 { return uint32(len(rp.desc.Subpasses)) }

func (rp *RenderPass) Destroy() {
	device, handle := rp.device, rp.handle
	device.gc.deferDestroy(func() {
		device.backend.DestroyRenderPass(handle)
	})
}

// Framebuffer binds concrete images to a render pass's attachment slots.
type Framebuffer struct {
	device *Device
	handle native.FramebufferHandle
	pass   *RenderPass

	attachments []*Image
	width       uint32
	height      uint32
}

func (d *Device) CreateFramebuffer(pass *RenderPass, attachments []*Image, width, height uint32) (*Framebuffer, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if len(attachments) != len(pass.desc.Attachments) {
		return nil, core.InvalidUsagef("framebuffer has %d attachments, render pass declares %d",
			len(attachments), len(pass.desc.Attachments))
	}
	for i, img := range attachments {
		want := pass.desc.Attachments[i]
		if img.format != want.Format {
			return nil, core.InvalidUsagef("attachment %d format mismatch: image %d, pass %d",
				i, img.format, want.Format)
		}
		if img.extent.Width < width || img.extent.Height < height {
			return nil, core.InvalidUsagef("attachment %d is smaller than the framebuffer", i)
		}
	}

	handles := make([]native.ImageHandle, len(attachments))
	for i, img := range attachments {
		handles[i] = img.handle
	}
	handle, err := d.backend.CreateFramebuffer(pass.handle, handles, width, height)
	if err != nil {
		core.LogError("framebuffer creation failed: %s", err.Error())
		return nil, err
	}

	return &Framebuffer{
		device:      d,
		handle:      handle,
		pass:        pass,
		attachments: attachments,
		width:       width,
		height:      height,
	}, nil
}

func (fb *Framebuffer) Extent() (uint32, uint32) { return fb.width, fb.height }

func (fb *Framebuffer) Destroy() {
	device, handle := fb.device, fb.handle
	device.gc.deferDestroy(func() {
		device.backend.DestroyFramebuffer(handle)
	})
}
