package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

func vkFormat(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatR8Unorm:
		return vk.FormatR8Unorm
	case metadata.FormatRG8Unorm:
		return vk.FormatR8g8Unorm
	case metadata.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatRGBA8Srgb:
		return vk.FormatR8g8b8a8Srgb
	case metadata.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case metadata.FormatBGRA8Srgb:
		return vk.FormatB8g8r8a8Srgb
	case metadata.FormatR16Float:
		return vk.FormatR16Sfloat
	case metadata.FormatRG16Float:
		return vk.FormatR16g16Sfloat
	case metadata.FormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.FormatR32Uint:
		return vk.FormatR32Uint
	case metadata.FormatR32Float:
		return vk.FormatR32Sfloat
	case metadata.FormatRG32Float:
		return vk.FormatR32g32Sfloat
	case metadata.FormatRGB32Float:
		return vk.FormatR32g32b32Sfloat
	case metadata.FormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.FormatD32Float:
		return vk.FormatD32Sfloat
	case metadata.FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	case metadata.FormatD32FloatS8Uint:
		return vk.FormatD32SfloatS8Uint
	}
	return vk.FormatUndefined
}

func vkImageLayout(l metadata.ImageLayout) vk.ImageLayout {
	switch l {
	case metadata.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case metadata.ImageLayoutColorAttachmentOptimal:
		return vk.ImageLayoutColorAttachmentOptimal
	case metadata.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case metadata.ImageLayoutDepthStencilReadOnlyOptimal:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case metadata.ImageLayoutShaderReadOnlyOptimal:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case metadata.ImageLayoutTransferSrcOptimal:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.ImageLayoutTransferDstOptimal:
		return vk.ImageLayoutTransferDstOptimal
	case metadata.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func vkBufferUsage(u metadata.BufferUsageFlags) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u&metadata.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&metadata.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	if u&metadata.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u&metadata.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&metadata.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u&metadata.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u&metadata.BufferUsageIndirect != 0 {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func vkImageUsage(u metadata.TextureUsageFlags) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&metadata.TextureUsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u&metadata.TextureUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if u&metadata.TextureUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&metadata.TextureUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if u&metadata.TextureUsageColorAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&metadata.TextureUsageDepthStencilAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&metadata.TextureUsageInputAttachment != 0 {
		flags |= vk.ImageUsageInputAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

func vkShaderStages(s metadata.ShaderStageFlags) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if s&metadata.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if s&metadata.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if s&metadata.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	if s&metadata.ShaderStageGeometry != 0 {
		flags |= vk.ShaderStageGeometryBit
	}
	if s&metadata.ShaderStageTessellationControl != 0 {
		flags |= vk.ShaderStageTessellationControlBit
	}
	if s&metadata.ShaderStageTessellationEvaluation != 0 {
		flags |= vk.ShaderStageTessellationEvaluationBit
	}
	return vk.ShaderStageFlags(flags)
}

func vkDescriptorType(k metadata.BindingKind) vk.DescriptorType {
	switch k {
	case metadata.BindingKindUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case metadata.BindingKindStorageBuffer, metadata.BindingKindStorageBufferReadOnly:
		return vk.DescriptorTypeStorageBuffer
	case metadata.BindingKindSampledImage:
		return vk.DescriptorTypeSampledImage
	case metadata.BindingKindStorageImage:
		return vk.DescriptorTypeStorageImage
	case metadata.BindingKindSampler:
		return vk.DescriptorTypeSampler
	case metadata.BindingKindCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case metadata.BindingKindInputAttachment:
		return vk.DescriptorTypeInputAttachment
	}
	return vk.DescriptorTypeUniformBuffer
}

func vkAccess(a metadata.AccessFlags) vk.AccessFlags {
	var flags vk.AccessFlagBits
	if a&metadata.AccessIndirectCommandRead != 0 {
		flags |= vk.AccessIndirectCommandReadBit
	}
	if a&metadata.AccessIndexRead != 0 {
		flags |= vk.AccessIndexReadBit
	}
	if a&metadata.AccessVertexAttributeRead != 0 {
		flags |= vk.AccessVertexAttributeReadBit
	}
	if a&metadata.AccessUniformRead != 0 {
		flags |= vk.AccessUniformReadBit
	}
	if a&metadata.AccessInputAttachmentRead != 0 {
		flags |= vk.AccessInputAttachmentReadBit
	}
	if a&metadata.AccessShaderRead != 0 {
		flags |= vk.AccessShaderReadBit
	}
	if a&metadata.AccessShaderWrite != 0 {
		flags |= vk.AccessShaderWriteBit
	}
	if a&metadata.AccessColorAttachmentRead != 0 {
		flags |= vk.AccessColorAttachmentReadBit
	}
	if a&metadata.AccessColorAttachmentWrite != 0 {
		flags |= vk.AccessColorAttachmentWriteBit
	}
	if a&metadata.AccessDepthStencilAttachmentRead != 0 {
		flags |= vk.AccessDepthStencilAttachmentReadBit
	}
	if a&metadata.AccessDepthStencilAttachmentWrite != 0 {
		flags |= vk.AccessDepthStencilAttachmentWriteBit
	}
	if a&metadata.AccessTransferRead != 0 {
		flags |= vk.AccessTransferReadBit
	}
	if a&metadata.AccessTransferWrite != 0 {
		flags |= vk.AccessTransferWriteBit
	}
	if a&metadata.AccessHostRead != 0 {
		flags |= vk.AccessHostReadBit
	}
	if a&metadata.AccessHostWrite != 0 {
		flags |= vk.AccessHostWriteBit
	}
	return vk.AccessFlags(flags)
}

func vkStages(s metadata.PipelineStageFlags) vk.PipelineStageFlags {
	if s == metadata.PipelineStageAllCommands {
		return vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	var flags vk.PipelineStageFlagBits
	if s&metadata.PipelineStageTopOfPipe != 0 {
		flags |= vk.PipelineStageTopOfPipeBit
	}
	if s&metadata.PipelineStageDrawIndirect != 0 {
		flags |= vk.PipelineStageDrawIndirectBit
	}
	if s&metadata.PipelineStageVertexInput != 0 {
		flags |= vk.PipelineStageVertexInputBit
	}
	if s&metadata.PipelineStageVertexShader != 0 {
		flags |= vk.PipelineStageVertexShaderBit
	}
	if s&metadata.PipelineStageFragmentShader != 0 {
		flags |= vk.PipelineStageFragmentShaderBit
	}
	if s&metadata.PipelineStageEarlyFragmentTests != 0 {
		flags |= vk.PipelineStageEarlyFragmentTestsBit
	}
	if s&metadata.PipelineStageLateFragmentTests != 0 {
		flags |= vk.PipelineStageLateFragmentTestsBit
	}
	if s&metadata.PipelineStageColorAttachmentOutput != 0 {
		flags |= vk.PipelineStageColorAttachmentOutputBit
	}
	if s&metadata.PipelineStageComputeShader != 0 {
		flags |= vk.PipelineStageComputeShaderBit
	}
	if s&metadata.PipelineStageTransfer != 0 {
		flags |= vk.PipelineStageTransferBit
	}
	if s&metadata.PipelineStageBottomOfPipe != 0 {
		flags |= vk.PipelineStageBottomOfPipeBit
	}
	if s&metadata.PipelineStageHost != 0 {
		flags |= vk.PipelineStageHostBit
	}
	if flags == 0 {
		flags = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(flags)
}

func vkLoadOp(op metadata.AttachmentLoadOp) vk.AttachmentLoadOp {
	switch op {
	case metadata.AttachmentLoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case metadata.AttachmentLoadOpClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func vkStoreOp(op metadata.AttachmentStoreOp) vk.AttachmentStoreOp {
	if op == metadata.AttachmentStoreOpStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func vkIndexType(t metadata.IndexType) vk.IndexType {
	if t == metadata.IndexTypeUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func vkSubpassContents(c metadata.SubpassContents) vk.SubpassContents {
	if c == metadata.SubpassContentsSecondaryBuffers {
		return vk.SubpassContentsSecondaryCommandBuffers
	}
	return vk.SubpassContentsInline
}
