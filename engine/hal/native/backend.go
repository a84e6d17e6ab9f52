/*
Package native declares the contract between the portable layer and a
backend shim. The portable layer owns all bookkeeping and validation; a shim
only turns already validated descriptions into driver calls. Handles are
opaque tokens minted by the shim, the portable layer never inspects them.
*/
package native

import (
	"time"

	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

type (
	BufferHandle         uint64
	ImageHandle          uint64
	MemoryHandle         uint64
	PipelineLayoutHandle uint64
	PipelineHandle       uint64
	DescriptorSetHandle  uint64
	RenderPassHandle     uint64
	FramebufferHandle    uint64
	FenceHandle          uint64
	SemaphoreHandle      uint64
	QueueHandle          uint64
	CommandListHandle    uint64
)

type BufferDesc struct {
	Size  uint64
	Usage metadata.BufferUsageFlags
}

type ImageDesc struct {
	Extent      metadata.Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Format      metadata.Format
	Samples     metadata.SampleCount
	Usage       metadata.TextureUsageFlags
}

// ShaderDesc carries the output of the shader-translator collaborator: the
// compiled native object plus the entry point it exposes.
type ShaderDesc struct {
	Stage      metadata.ShaderStageFlags
	EntryPoint string
	Code       []byte
}

type GraphicsPipelineDesc struct {
	Layout     PipelineLayoutHandle
	RenderPass RenderPassHandle
	Subpass    uint32
	Shaders    []ShaderDesc
}

type ComputePipelineDesc struct {
	Layout PipelineLayoutHandle
	Shader ShaderDesc
}

// PipelineLayoutDesc is what a shim builds its native layout object from:
// the computed register assignment, the per-set binding declarations, and
// the optional push-constant range.
type PipelineLayoutDesc struct {
	Assignment    *metadata.RegisterAssignment
	SetBindings   [][]metadata.DescriptorBinding
	PushConstants *metadata.PushConstantRange
}

// DescriptorWrite binds one resource array slice to a binding of a set.
type DescriptorWrite struct {
	Set        DescriptorSetHandle
	Binding    metadata.BindingRef
	ArrayIndex uint32
	Kind       metadata.BindingKind

	// Exactly one of the following groups is populated, per Kind.
	Buffer       BufferHandle
	BufferOffset uint64
	BufferRange  uint64

	Image       ImageHandle
	ImageLayout metadata.ImageLayout
}

type ImageBarrierInstance struct {
	Image   ImageHandle
	Barrier metadata.ImageBarrier
	Range   metadata.ImageSubresourceRange
}

type BufferBarrierInstance struct {
	Buffer  BufferHandle
	Barrier metadata.BufferBarrier
}

// SemaphoreWait pairs a semaphore with the pipeline stages that must block
// on it. Shims for backends without stage-granular waits over-approximate by
// waiting earlier.
type SemaphoreWait struct {
	Semaphore SemaphoreHandle
	Stages    metadata.PipelineStageFlags
}

// SubmitBatch is one entry of a queue submission.
type SubmitBatch struct {
	CommandLists []CommandListHandle
	Waits        []SemaphoreWait
	Signals      []SemaphoreHandle
}

type WaitResult int

const (
	WaitSignaled WaitResult = iota
	WaitTimeout
	WaitDeviceLost
)

/**
 * @brief CommandEncoder receives the portable layer's recording stream. The
 * portable recorder has already enforced the state machine by the time a
 * method is called, so encoders do not re-validate ordering.
 */
type CommandEncoder interface {
	Begin(oneTime, simultaneous bool) error
	End() error
	Reset() error
	Handle() CommandListHandle

	BeginRenderPass(pass RenderPassHandle, fb FramebufferHandle, area metadata.RenderArea, clears []metadata.ClearValue, contents metadata.SubpassContents)
	NextSubpass(contents metadata.SubpassContents)
	EndRenderPass()

	BindPipeline(p PipelineHandle)
	BindDescriptorSets(layout PipelineLayoutHandle, firstSet uint32, sets []DescriptorSetHandle)
	BindVertexBuffers(first uint32, buffers []BufferHandle, offsets []uint64)
	BindIndexBuffer(b BufferHandle, offset uint64, indexType metadata.IndexType)
	PushConstants(layout PipelineLayoutHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(x, y, z uint32)

	CopyBuffer(src, dst BufferHandle, regions []metadata.BufferCopy)
	CopyBufferToImage(src BufferHandle, dst ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy)
	CopyImageToBuffer(src ImageHandle, layout metadata.ImageLayout, dst BufferHandle, regions []metadata.BufferImageCopy)

	PipelineBarrier(global []metadata.MemoryBarrier, buffers []BufferBarrierInstance, images []ImageBarrierInstance)

	ExecuteCommands(lists []CommandListHandle)
}

/**
 * @brief Backend is the native shim a Device drives. One shim instance
 * exists per Device; all methods must be callable from any goroutine.
 */
type Backend interface {
	Name() string
	Kind() metadata.BackendKind
	Limits() metadata.Limits

	// Resources.
	CreateBuffer(desc BufferDesc) (BufferHandle, error)
	DestroyBuffer(h BufferHandle)
	CreateImage(desc ImageDesc) (ImageHandle, error)
	DestroyImage(h ImageHandle)
	GetBufferRequirements(h BufferHandle) metadata.MemoryRequirements
	GetImageRequirements(h ImageHandle) metadata.MemoryRequirements

	// Memory.
	MemoryTypes() []metadata.MemoryType
	AllocateMemory(typeIndex uint32, size uint64) (MemoryHandle, error)
	FreeMemory(h MemoryHandle)
	BindBufferMemory(b BufferHandle, m MemoryHandle, offset uint64) error
	BindImageMemory(i ImageHandle, m MemoryHandle, offset uint64) error
	MapMemory(m MemoryHandle, offset, size uint64) ([]byte, error)
	UnmapMemory(m MemoryHandle)

	// Layouts, sets, pipelines.
	CreatePipelineLayout(desc PipelineLayoutDesc) (PipelineLayoutHandle, error)
	DestroyPipelineLayout(h PipelineLayoutHandle)
	AllocateDescriptorSet(assignment *metadata.RegisterAssignment, set uint32) (DescriptorSetHandle, error)
	FreeDescriptorSet(h DescriptorSetHandle)
	WriteDescriptorSets(writes []DescriptorWrite) error
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (PipelineHandle, error)
	CreateComputePipeline(desc ComputePipelineDesc) (PipelineHandle, error)
	DestroyPipeline(h PipelineHandle)

	// Render passes.
	CreateRenderPass(desc metadata.RenderPassDesc, plan metadata.BarrierPlan) (RenderPassHandle, error)
	DestroyRenderPass(h RenderPassHandle)
	// PassBeginTransitions reports whether the pass-begin instruction
	// performs the entry transitions itself, allowing the planner to elide
	// the explicit entry barrier.
	PassBeginTransitions() bool
	CreateFramebuffer(pass RenderPassHandle, attachments []ImageHandle, width, height uint32) (FramebufferHandle, error)
	DestroyFramebuffer(h FramebufferHandle)

	// Commands.
	CreateCommandList(primary bool) (CommandEncoder, error)
	DestroyCommandList(h CommandListHandle)

	// Synchronization.
	CreateFence(signaled bool) (FenceHandle, error)
	DestroyFence(h FenceHandle)
	WaitForFence(h FenceHandle, timeout time.Duration) WaitResult
	FenceSignaled(h FenceHandle) bool
	ResetFence(h FenceHandle) error
	CreateSemaphore() (SemaphoreHandle, error)
	DestroySemaphore(h SemaphoreHandle)

	// Queues.
	Queues() []metadata.QueueDesc
	Submit(q QueueHandle, batches []SubmitBatch, fence FenceHandle) error
	Present(q QueueHandle, waits []SemaphoreHandle, image ImageHandle) error
	QueueWaitIdle(q QueueHandle) error
	DeviceWaitIdle() error

	Shutdown() error
}
