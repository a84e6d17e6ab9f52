package metadata

/**
 * @brief The layout an image's memory is organized in. Barriers transition
 * images between layouts; using an image in the wrong layout is undefined on
 * real hardware, so the planner tracks these exactly.
 */
type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachmentOptimal
	ImageLayoutDepthStencilAttachmentOptimal
	ImageLayoutDepthStencilReadOnlyOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutTransferDstOptimal
	ImageLayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "undefined"
	case ImageLayoutGeneral:
		return "general"
	case ImageLayoutColorAttachmentOptimal:
		return "color_attachment_optimal"
	case ImageLayoutDepthStencilAttachmentOptimal:
		return "depth_stencil_attachment_optimal"
	case ImageLayoutDepthStencilReadOnlyOptimal:
		return "depth_stencil_read_only_optimal"
	case ImageLayoutShaderReadOnlyOptimal:
		return "shader_read_only_optimal"
	case ImageLayoutTransferSrcOptimal:
		return "transfer_src_optimal"
	case ImageLayoutTransferDstOptimal:
		return "transfer_dst_optimal"
	case ImageLayoutPresentSrc:
		return "present_src"
	}
	return "unknown"
}

type AccessFlags uint32

const (
	AccessIndirectCommandRead AccessFlags = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessInputAttachmentRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilAttachmentRead
	AccessDepthStencilAttachmentWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
)

type PipelineStageFlags uint32

const (
	PipelineStageTopOfPipe PipelineStageFlags = 1 << iota
	PipelineStageDrawIndirect
	PipelineStageVertexInput
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageEarlyFragmentTests
	PipelineStageLateFragmentTests
	PipelineStageColorAttachmentOutput
	PipelineStageComputeShader
	PipelineStageTransfer
	PipelineStageBottomOfPipe
	PipelineStageHost

	PipelineStageAllCommands PipelineStageFlags = 1<<31 - 1
)

// LayoutAccess returns the access mask implied by reaching a layout.
func LayoutAccess(l ImageLayout) AccessFlags {
	switch l {
	case ImageLayoutColorAttachmentOptimal:
		return AccessColorAttachmentRead | AccessColorAttachmentWrite
	case ImageLayoutDepthStencilAttachmentOptimal:
		return AccessDepthStencilAttachmentRead | AccessDepthStencilAttachmentWrite
	case ImageLayoutDepthStencilReadOnlyOptimal:
		return AccessDepthStencilAttachmentRead | AccessShaderRead
	case ImageLayoutShaderReadOnlyOptimal:
		return AccessShaderRead
	case ImageLayoutTransferSrcOptimal:
		return AccessTransferRead
	case ImageLayoutTransferDstOptimal:
		return AccessTransferWrite
	case ImageLayoutGeneral:
		return AccessShaderRead | AccessShaderWrite
	}
	return 0
}

// LayoutStage returns the pipeline stage a layout's access happens in.
func LayoutStage(l ImageLayout) PipelineStageFlags {
	switch l {
	case ImageLayoutColorAttachmentOptimal:
		return PipelineStageColorAttachmentOutput
	case ImageLayoutDepthStencilAttachmentOptimal, ImageLayoutDepthStencilReadOnlyOptimal:
		return PipelineStageEarlyFragmentTests | PipelineStageLateFragmentTests
	case ImageLayoutShaderReadOnlyOptimal:
		return PipelineStageFragmentShader
	case ImageLayoutTransferSrcOptimal, ImageLayoutTransferDstOptimal:
		return PipelineStageTransfer
	case ImageLayoutGeneral:
		return PipelineStageAllCommands
	case ImageLayoutPresentSrc, ImageLayoutUndefined:
		return PipelineStageTopOfPipe
	}
	return PipelineStageTopOfPipe
}

type ImageSubresourceRange struct {
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

/**
 * @brief Which half of a split barrier a record represents. A begin half
 * must be matched by exactly one end half carrying the same transition
 * before the resource region is reused.
 */
type BarrierHalf int

const (
	BarrierFull BarrierHalf = iota
	BarrierBegin
	BarrierEnd
)

// ImageBarrier is one layout transition with its surrounding visibility.
type ImageBarrier struct {
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess AccessFlags
	DstAccess AccessFlags
	SrcStage  PipelineStageFlags
	DstStage  PipelineStageFlags
	Half      BarrierHalf
}

type BufferBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
	SrcStage  PipelineStageFlags
	DstStage  PipelineStageFlags
	Offset    uint64
	Size      uint64
}

type MemoryBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
	SrcStage  PipelineStageFlags
	DstStage  PipelineStageFlags
}
