package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

func (b *Backend) CreateFence(signaled bool) (native.FenceHandle, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(b.device, &info, nil, &fence); res != vk.Success {
		return 0, resultErr("vkCreateFence", res)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.FenceHandle(b.handle())
	b.fences[h] = fence
	return h, nil
}

func (b *Backend) DestroyFence(h native.FenceHandle) {
	b.mutex.Lock()
	fence := b.fences[h]
	delete(b.fences, h)
	b.mutex.Unlock()
	vk.DestroyFence(b.device, fence, nil)
}

func (b *Backend) WaitForFence(h native.FenceHandle, timeout time.Duration) native.WaitResult {
	b.mutex.Lock()
	fence := b.fences[h]
	b.mutex.Unlock()

	switch vk.WaitForFences(b.device, 1, []vk.Fence{fence}, vk.True, uint64(timeout.Nanoseconds())) {
	case vk.Success:
		return native.WaitSignaled
	case vk.Timeout:
		return native.WaitTimeout
	default:
		return native.WaitDeviceLost
	}
}

func (b *Backend) FenceSignaled(h native.FenceHandle) bool {
	b.mutex.Lock()
	fence := b.fences[h]
	b.mutex.Unlock()
	return vk.GetFenceStatus(b.device, fence) == vk.Success
}

func (b *Backend) ResetFence(h native.FenceHandle) error {
	b.mutex.Lock()
	fence := b.fences[h]
	b.mutex.Unlock()
	return resultErr("vkResetFences", vk.ResetFences(b.device, 1, []vk.Fence{fence}))
}

func (b *Backend) CreateSemaphore() (native.SemaphoreHandle, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(b.device, &info, nil, &semaphore); res != vk.Success {
		return 0, resultErr("vkCreateSemaphore", res)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.SemaphoreHandle(b.handle())
	b.semaphores[h] = semaphore
	return h, nil
}

func (b *Backend) DestroySemaphore(h native.SemaphoreHandle) {
	b.mutex.Lock()
	semaphore := b.semaphores[h]
	delete(b.semaphores, h)
	b.mutex.Unlock()
	vk.DestroySemaphore(b.device, semaphore, nil)
}

// Queues exposes a graphics queue and a transfer queue; when the adapter
// has no dedicated transfer family both map onto the same driver queue.
func (b *Backend) Queues() []metadata.QueueDesc {
	return []metadata.QueueDesc{
		{Kind: metadata.QueueKindGraphics, Family: b.graphicsFamily},
		{Kind: metadata.QueueKindTransfer, Family: b.transferFamily},
	}
}

func (b *Backend) queueAt(q native.QueueHandle) vk.Queue {
	if q == 1 {
		return b.transferQueue
	}
	return b.graphicsQueue
}

func (b *Backend) Submit(q native.QueueHandle, batches []native.SubmitBatch, fence native.FenceHandle) error {
	b.mutex.Lock()
	vkFence := b.fences[fence]
	infos := make([]vk.SubmitInfo, len(batches))
	for i, batch := range batches {
		waits := make([]vk.Semaphore, len(batch.Waits))
		stages := make([]vk.PipelineStageFlags, len(batch.Waits))
		for j, w := range batch.Waits {
			waits[j] = b.semaphores[w.Semaphore]
			stages[j] = vkStages(w.Stages)
		}
		signals := make([]vk.Semaphore, len(batch.Signals))
		for j, s := range batch.Signals {
			signals[j] = b.semaphores[s]
		}
		commandBuffers := make([]vk.CommandBuffer, len(batch.CommandLists))
		for j, cl := range batch.CommandLists {
			commandBuffers[j] = b.commands[cl]
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(commandBuffers)),
			PCommandBuffers:      commandBuffers,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}
	}
	b.mutex.Unlock()

	b.queueMutex.Lock()
	defer b.queueMutex.Unlock()
	return resultErr("vkQueueSubmit",
		vk.QueueSubmit(b.queueAt(q), uint32(len(infos)), infos, vkFence))
}

// Present needs a swapchain, which the windowing collaborator owns. The
// headless shim has none.
func (b *Backend) Present(q native.QueueHandle, waits []native.SemaphoreHandle, image native.ImageHandle) error {
	return fmt.Errorf("%w: present requires an external swapchain collaborator", core.ErrUnsupportedUsage)
}

func (b *Backend) QueueWaitIdle(q native.QueueHandle) error {
	b.queueMutex.Lock()
	defer b.queueMutex.Unlock()
	return resultErr("vkQueueWaitIdle", vk.QueueWaitIdle(b.queueAt(q)))
}

func (b *Backend) DeviceWaitIdle() error {
	return resultErr("vkDeviceWaitIdle", vk.DeviceWaitIdle(b.device))
}
