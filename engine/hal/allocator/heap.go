package allocator

import (
	"fmt"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

// heapRun is a recycled region of a descriptor heap.
type heapRun struct {
	offset uint32
	count  uint32
}

// descriptorHeap hands out contiguous runs of CPU+GPU descriptor handles.
// Offsets are never reused while the owning layout is live; released runs go
// to a free list and are recycled exact-fit first.
type descriptorHeap struct {
	kind     metadata.HeapKind
	capacity uint32
	next     uint32
	freeList []heapRun
}

func (h *descriptorHeap) allocate(count uint32) (uint32, error) {
	// Exact-fit from the free list before growing the bump pointer.
	for i, run := range h.freeList {
		if run.count == count {
			h.freeList = append(h.freeList[:i], h.freeList[i+1:]...)
			return run.offset, nil
		}
	}
	if h.next+count > h.capacity {
		err := fmt.Errorf("%w: %s exhausted (%d of %d descriptors in use)",
			errRegisterFileFull, h.kind, h.next, h.capacity)
		core.LogError(err.Error())
		return 0, err
	}
	offset := h.next
	h.next += count
	return offset, nil
}

func (h *descriptorHeap) release(offset, count uint32) {
	h.freeList = append(h.freeList, heapRun{offset: offset, count: count})
}

// heapAllocator targets descriptor-heap backends: one heap for samplers, one
// shared heap for everything else. A binding's run length equals its declared
// array count; the root table index mirrors the portable set so a whole set
// binds with one table pointer update.
type heapAllocator struct {
	resources descriptorHeap
	samplers  descriptorHeap

	pushConstantsTaken bool
}

func newHeapAllocator(limits Limits) *heapAllocator {
	return &heapAllocator{
		resources: descriptorHeap{kind: metadata.HeapResource, capacity: limits.ResourceDescriptors},
		samplers:  descriptorHeap{kind: metadata.HeapSampler, capacity: limits.SamplerDescriptors},
	}
}

func (a *heapAllocator) Kind() metadata.BackendKind {
	return metadata.BackendHeap
}

func (a *heapAllocator) Assign(set uint32, b metadata.DescriptorBinding) (metadata.NativeAddress, error) {
	count := arrayCount(b)

	if b.Kind.Category() == metadata.CategorySampler {
		offset, err := a.samplers.allocate(count)
		if err != nil {
			return nil, err
		}
		return metadata.HeapOffset{Heap: metadata.HeapSampler, Table: set, Offset: offset, Count: count}, nil
	}

	offset, err := a.resources.allocate(count)
	if err != nil {
		return nil, err
	}
	addr := metadata.HeapOffset{Heap: metadata.HeapResource, Table: set, Offset: offset, Count: count}

	if b.Kind == metadata.BindingKindCombinedImageSampler {
		samplerOffset, err := a.samplers.allocate(count)
		if err != nil {
			a.resources.release(offset, count)
			return nil, err
		}
		addr.SamplerOffset = &samplerOffset
	}
	return addr, nil
}

func (a *heapAllocator) AssignPushConstants(r metadata.PushConstantRange) (metadata.NativeAddress, error) {
	if a.pushConstantsTaken {
		return nil, core.InvalidUsagef("at most one push-constant range is supported")
	}
	a.pushConstantsTaken = true
	// Root constants live outside the heaps in the root signature itself.
	return metadata.PushConstantSlot{}, nil
}

func (a *heapAllocator) Release(addr metadata.NativeAddress) {
	ho, ok := addr.(metadata.HeapOffset)
	if !ok {
		return
	}
	switch ho.Heap {
	case metadata.HeapSampler:
		a.samplers.release(ho.Offset, ho.Count)
	case metadata.HeapResource:
		a.resources.release(ho.Offset, ho.Count)
		if ho.SamplerOffset != nil {
			a.samplers.release(*ho.SamplerOffset, ho.Count)
		}
	}
}
