package hal

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

/**
 * @brief PipelineLayout owns the computed register assignment for a list of
 * set layouts plus an optional push-constant range. Construction walks sets
 * in ascending order and bindings in declaration order, so the same layouts
 * always produce the same native addresses on a given device.
 */
type PipelineLayout struct {
	device     *Device
	handle     native.PipelineLayoutHandle
	assignment *metadata.RegisterAssignment
	setLayouts []*DescriptorSetLayout

	pushConstants *metadata.PushConstantRange
}

func (d *Device) CreatePipelineLayout(setLayouts []*DescriptorSetLayout, push *metadata.PushConstantRange) (*PipelineLayout, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if push != nil {
		if push.Size == 0 {
			return nil, core.InvalidUsagef("push-constant range has zero size")
		}
		if max := d.limits.MaxPushConstantSize; max > 0 && push.Offset+push.Size > max {
			return nil, core.InvalidUsagef(
				"push-constant range [%d, %d) exceeds device limit %d",
				push.Offset, push.Offset+push.Size, max)
		}
	}
	if max := d.limits.MaxBoundDescriptorSets; max > 0 && uint32(len(setLayouts)) > max {
		return nil, core.ErrTooManyObjects
	}

	d.layoutMutex.Lock()
	defer d.layoutMutex.Unlock()

	assignment := metadata.NewRegisterAssignment()
	var assigned []metadata.NativeAddress
	rollback := func() {
		for _, addr := range assigned {
			d.registers.Release(addr)
		}
	}

	for set, layout := range setLayouts {
		for _, binding := range layout.bindings {
			addr, err := d.registers.Assign(uint32(set), binding)
			if err != nil {
				rollback()
				return nil, err
			}
			assigned = append(assigned, addr)
			ref := metadata.BindingRef{Set: uint32(set), Binding: binding.Binding}
			if err := assignment.Insert(ref, binding.Kind.Category(), binding.Stages, addr); err != nil {
				rollback()
				return nil, err
			}
		}
	}
	if push != nil {
		addr, err := d.registers.AssignPushConstants(*push)
		if err != nil {
			rollback()
			return nil, err
		}
		if err := assignment.SetPushConstants(addr); err != nil {
			rollback()
			return nil, err
		}
	}

	setBindings := make([][]metadata.DescriptorBinding, len(setLayouts))
	for set, layout := range setLayouts {
		setBindings[set] = layout.bindings
	}
	handle, err := d.backend.CreatePipelineLayout(native.PipelineLayoutDesc{
		Assignment:    assignment,
		SetBindings:   setBindings,
		PushConstants: push,
	})
	if err != nil {
		rollback()
		core.LogError("pipeline layout creation failed: %s", err.Error())
		return nil, err
	}

	return &PipelineLayout{
		device:        d,
		handle:        handle,
		assignment:    assignment,
		setLayouts:    setLayouts,
		pushConstants: push,
	}, nil
}

// Assignment exposes the computed binding table, mainly for the shader
// translator collaborator and for diagnostics.
func (l *PipelineLayout) Assignment() *metadata.RegisterAssignment { return l.assignment }

func (l *PipelineLayout) PushConstantRange() *metadata.PushConstantRange { return l.pushConstants }

// Destroy returns the layout's registers to the device allocator and defers
// native destruction past in-flight work.
func (l *PipelineLayout) Destroy() {
	device, handle := l.device, l.handle

	device.layoutMutex.Lock()
	for _, ref := range l.assignment.Refs() {
		if addr, ok := l.assignment.Lookup(ref); ok {
			device.registers.Release(addr)
		}
	}
	device.layoutMutex.Unlock()

	device.gc.deferDestroy(func() {
		device.backend.DestroyPipelineLayout(handle)
	})
}

// Pipeline is a compiled graphics or compute pipeline.
type Pipeline struct {
	device  *Device
	handle  native.PipelineHandle
	layout  *PipelineLayout
	compute bool
}

type GraphicsPipelineDesc struct {
	Layout     *PipelineLayout
	RenderPass *RenderPass
	Subpass    uint32
	Shaders    []native.ShaderDesc
}

func (d *Device) CreateGraphicsPipeline(desc GraphicsPipelineDesc) (*Pipeline, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if desc.Layout == nil || desc.RenderPass == nil {
		return nil, core.InvalidUsagef("graphics pipeline needs a layout and a render pass")
	}
	if int(desc.Subpass) >= len(desc.RenderPass.desc.Subpasses) {
		return nil, core.InvalidUsagef("render pass has no subpass %d", desc.Subpass)
	}
	handle, err := d.backend.CreateGraphicsPipeline(native.GraphicsPipelineDesc{
		Layout:     desc.Layout.handle,
		RenderPass: desc.RenderPass.handle,
		Subpass:    desc.Subpass,
		Shaders:    desc.Shaders,
	})
	if err != nil {
		core.LogError("graphics pipeline creation failed: %s", err.Error())
		return nil, err
	}
	return &Pipeline{device: d, handle: handle, layout: desc.Layout}, nil
}

func (d *Device) CreateComputePipeline(layout *PipelineLayout, shader native.ShaderDesc) (*Pipeline, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if layout == nil {
		return nil, core.InvalidUsagef("compute pipeline needs a layout")
	}
	handle, err := d.backend.CreateComputePipeline(native.ComputePipelineDesc{
		Layout: layout.handle,
		Shader: shader,
	})
	if err != nil {
		core.LogError("compute pipeline creation failed: %s", err.Error())
		return nil, err
	}
	return &Pipeline{device: d, handle: handle, layout: layout, compute: true}, nil
}

func (p *Pipeline) Layout() *PipelineLayout { return p.layout }
func (p *Pipeline) IsCompute() bool         { return p.compute }

func (p *Pipeline) Destroy() {
	device, handle := p.device, p.handle
	device.gc.deferDestroy(func() {
		device.backend.DestroyPipeline(handle)
	})
}
