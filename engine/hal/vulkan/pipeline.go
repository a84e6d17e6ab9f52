package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

func (b *Backend) CreatePipelineLayout(desc native.PipelineLayoutDesc) (native.PipelineLayoutHandle, error) {
	setLayouts := make([]vk.DescriptorSetLayout, len(desc.SetBindings))
	destroyCreated := func() {
		for _, sl := range setLayouts {
			if sl != vk.NullDescriptorSetLayout {
				vk.DestroyDescriptorSetLayout(b.device, sl, nil)
			}
		}
	}

	for set, bindings := range desc.SetBindings {
		vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
		for i, binding := range bindings {
			vkBindings[i] = vk.DescriptorSetLayoutBinding{
				Binding:         binding.Binding,
				DescriptorType:  vkDescriptorType(binding.Kind),
				DescriptorCount: binding.Count,
				StageFlags:      vkShaderStages(binding.Stages),
			}
		}
		info := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(vkBindings)),
			PBindings:    vkBindings,
		}
		if res := vk.CreateDescriptorSetLayout(b.device, &info, nil, &setLayouts[set]); res != vk.Success {
			destroyCreated()
			return 0, resultErr("vkCreateDescriptorSetLayout", res)
		}
	}

	var pushRanges []vk.PushConstantRange
	if desc.PushConstants != nil {
		pushRanges = append(pushRanges, vk.PushConstantRange{
			StageFlags: vkShaderStages(desc.PushConstants.Stages),
			Offset:     desc.PushConstants.Offset,
			Size:       desc.PushConstants.Size,
		})
	}

	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(pushRanges)),
		PPushConstantRanges:    pushRanges,
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(b.device, &info, nil, &layout); res != vk.Success {
		destroyCreated()
		return 0, resultErr("vkCreatePipelineLayout", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.PipelineLayoutHandle(b.handle())
	entry := vulkanLayout{layout: layout, setLayouts: setLayouts}
	b.layouts[h] = entry
	b.byAssignment[desc.Assignment] = entry
	return h, nil
}

func (b *Backend) DestroyPipelineLayout(h native.PipelineLayoutHandle) {
	b.mutex.Lock()
	entry := b.layouts[h]
	delete(b.layouts, h)
	for assignment, e := range b.byAssignment {
		if e.layout == entry.layout {
			delete(b.byAssignment, assignment)
		}
	}
	b.mutex.Unlock()

	for _, sl := range entry.setLayouts {
		vk.DestroyDescriptorSetLayout(b.device, sl, nil)
	}
	vk.DestroyPipelineLayout(b.device, entry.layout, nil)
}

func (b *Backend) AllocateDescriptorSet(assignment *metadata.RegisterAssignment, set uint32) (native.DescriptorSetHandle, error) {
	b.mutex.Lock()
	entry, ok := b.byAssignment[assignment]
	b.mutex.Unlock()
	if !ok || int(set) >= len(entry.setLayouts) {
		return 0, core.InvalidUsagef("descriptor set allocation for an unknown layout")
	}

	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     b.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{entry.setLayouts[set]},
	}
	var sets [1]vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(b.device, &info, &sets[0]); res != vk.Success {
		return 0, resultErr("vkAllocateDescriptorSets", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.DescriptorSetHandle(b.handle())
	b.sets[h] = sets[0]
	return h, nil
}

func (b *Backend) FreeDescriptorSet(h native.DescriptorSetHandle) {
	b.mutex.Lock()
	set := b.sets[h]
	delete(b.sets, h)
	b.mutex.Unlock()
	vk.FreeDescriptorSets(b.device, b.descriptorPool, 1, &set)
}

func (b *Backend) WriteDescriptorSets(writes []native.DescriptorWrite) error {
	b.mutex.Lock()
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          b.sets[w.Set],
			DstBinding:      w.Binding.Binding,
			DstArrayElement: w.ArrayIndex,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(w.Kind),
		}
		if w.Buffer != 0 {
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: b.buffers[w.Buffer],
				Offset: vk.DeviceSize(w.BufferOffset),
				Range:  vk.DeviceSize(w.BufferRange),
			}}
		} else if w.Image != 0 {
			write.PImageInfo = []vk.DescriptorImageInfo{{
				ImageView:   b.images[w.Image].view,
				ImageLayout: vkImageLayout(w.ImageLayout),
			}}
		}
		vkWrites = append(vkWrites, write)
	}
	b.mutex.Unlock()

	vk.UpdateDescriptorSets(b.device, uint32(len(vkWrites)), vkWrites, 0, nil)
	return nil
}

// sliceUint32 reinterprets SPIR-V bytes as the word slice the driver wants.
func sliceUint32(data []byte) []uint32 {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func (b *Backend) createShaderModule(code []byte) (vk.ShaderModule, error) {
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    sliceUint32(code),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(b.device, &info, nil, &module); res != vk.Success {
		return module, resultErr("vkCreateShaderModule", res)
	}
	return module, nil
}

func (b *Backend) CreateGraphicsPipeline(desc native.GraphicsPipelineDesc) (native.PipelineHandle, error) {
	b.mutex.Lock()
	layout := b.layouts[desc.Layout]
	pass := b.passes[desc.RenderPass]
	b.mutex.Unlock()

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Shaders))
	modules := make([]vk.ShaderModule, 0, len(desc.Shaders))
	destroyModules := func() {
		for _, m := range modules {
			vk.DestroyShaderModule(b.device, m, nil)
		}
	}
	for _, shader := range desc.Shaders {
		module, err := b.createShaderModule(shader.Code)
		if err != nil {
			destroyModules()
			return 0, err
		}
		modules = append(modules, module)
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(vkShaderStages(shader.Stage)),
			Module: module,
			PName:  shader.EntryPoint + "\x00",
		})
	}

	// Viewport and scissor are dynamic; everything else is the plainest
	// possible fixed-function state.
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterization := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: vk.True,
		DepthCompareOp:   vk.CompareOpLess,
	}
	blendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blendAttachment},
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterization,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamic,
		Layout:              layout.layout,
		RenderPass:          pass,
		Subpass:             desc.Subpass,
	}
	var pipelines [1]vk.Pipeline
	res := vk.CreateGraphicsPipelines(b.device, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{info}, nil, pipelines[:])
	destroyModules()
	if res != vk.Success {
		return 0, resultErr("vkCreateGraphicsPipelines", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.PipelineHandle(b.handle())
	b.pipelines[h] = pipelines[0]
	return h, nil
}

func (b *Backend) CreateComputePipeline(desc native.ComputePipelineDesc) (native.PipelineHandle, error) {
	b.mutex.Lock()
	layout := b.layouts[desc.Layout]
	b.mutex.Unlock()

	module, err := b.createShaderModule(desc.Shader.Code)
	if err != nil {
		return 0, err
	}
	info := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  desc.Shader.EntryPoint + "\x00",
		},
		Layout: layout.layout,
	}
	var pipelines [1]vk.Pipeline
	res := vk.CreateComputePipelines(b.device, vk.NullPipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{info}, nil, pipelines[:])
	vk.DestroyShaderModule(b.device, module, nil)
	if res != vk.Success {
		return 0, resultErr("vkCreateComputePipelines", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.PipelineHandle(b.handle())
	b.pipelines[h] = pipelines[0]
	return h, nil
}

func (b *Backend) DestroyPipeline(h native.PipelineHandle) {
	b.mutex.Lock()
	pipeline := b.pipelines[h]
	delete(b.pipelines, h)
	b.mutex.Unlock()
	vk.DestroyPipeline(b.device, pipeline, nil)
}
