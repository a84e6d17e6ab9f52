package metadata

/**
 * @brief The native binding model a backend exposes. Selected exactly once
 * at device creation; variants are never mixed at runtime.
 */
type BackendKind int

const (
	/** @brief Explicit descriptor sets (Vulkan-style). */
	BackendExplicit BackendKind = iota
	/** @brief Flat register files b#/t#/s#/u# (D3D11-style). */
	BackendFlat
	/** @brief Descriptor heaps addressed through tables (D3D12-style). */
	BackendHeap
	/** @brief Argument buffers with per-kind index spaces (Metal-style). */
	BackendArgument
	/** @brief Legacy flat uniform locations with no set concept (GL-style). */
	BackendUniform
)

func (k BackendKind) String() string {
	switch k {
	case BackendExplicit:
		return "explicit"
	case BackendFlat:
		return "flat"
	case BackendHeap:
		return "heap"
	case BackendArgument:
		return "argument"
	case BackendUniform:
		return "uniform"
	}
	return "unknown"
}

type ShaderStageFlags uint32

const (
	ShaderStageVertex ShaderStageFlags = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
	ShaderStageGeometry
	ShaderStageTessellationControl
	ShaderStageTessellationEvaluation

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageFragment | ShaderStageGeometry |
		ShaderStageTessellationControl | ShaderStageTessellationEvaluation
)

// ForEachStage invokes fn once per stage bit set in s.
func (s ShaderStageFlags) ForEachStage(fn func(ShaderStageFlags)) {
	for bit := ShaderStageFlags(1); bit <= ShaderStageTessellationEvaluation; bit <<= 1 {
		if s&bit != 0 {
			fn(bit)
		}
	}
}

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc BufferUsageFlags = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageIndirect
)

type TextureUsageFlags uint32

const (
	TextureUsageTransferSrc TextureUsageFlags = 1 << iota
	TextureUsageTransferDst
	TextureUsageSampled
	TextureUsageStorage
	TextureUsageColorAttachment
	TextureUsageDepthStencilAttachment
	TextureUsageInputAttachment
)

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal MemoryPropertyFlags = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
	MemoryPropertyHostCached
)

/**
 * @brief Intended access pattern of a resource, used to pick a memory type.
 */
type MemoryUsage int

const (
	/** @brief Device-only access; staging required for host IO. */
	MemoryUsageGPUOnly MemoryUsage = iota
	/** @brief Host writes, device reads (uniforms, staging uploads). */
	MemoryUsageCPUToGPU
	/** @brief Device writes, host reads back. */
	MemoryUsageGPUToCPU
)

type MemoryType struct {
	Properties MemoryPropertyFlags
	HeapIndex  uint32
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	// Bit i set means memory type i can back the resource.
	TypeMask uint32
}

type QueueKind int

const (
	QueueKindGraphics QueueKind = iota
	QueueKindCompute
	QueueKindTransfer
)

type QueueDesc struct {
	Kind   QueueKind
	Family uint32
}

// Limits advertised by a backend at device creation.
type Limits struct {
	MaxBoundDescriptorSets uint32
	MaxPushConstantSize    uint32
	MaxColorAttachments    uint32
	MaxSubpasses           uint32
}

type IndexType int

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

type SampleCount uint32

type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

type Offset3D struct {
	X, Y, Z int32
}

type RenderArea struct {
	X, Y          int32
	Width, Height uint32
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferImageCopy struct {
	BufferOffset uint64
	ImageOffset  Offset3D
	ImageExtent  Extent3D
	MipLevel     uint32
	BaseLayer    uint32
	LayerCount   uint32
}
