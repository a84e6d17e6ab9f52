package allocator

import (
	"fmt"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

// flatAllocator targets register-file backends: one monotonically increasing
// counter per resource category (b#, t#, s#), except writable storage, whose
// register file is shared with render-target slots on the graphics side.
// Compute-visible storage allocates bottom-up; graphics-visible storage
// allocates top-down from the category maximum so the two never meet the
// render-target-bound low slots.
type flatAllocator struct {
	limits Limits

	nextUniform uint32
	nextTexture uint32
	nextSampler uint32

	nextStorageCompute  uint32
	nextStorageGraphics uint32 // grows downward, holds the next free top slot

	pushConstantsTaken bool
}

func newFlatAllocator(limits Limits) *flatAllocator {
	return &flatAllocator{
		limits:              limits,
		nextStorageGraphics: limits.MaxStorageSlots,
	}
}

func (a *flatAllocator) Kind() metadata.BackendKind {
	return metadata.BackendFlat
}

func (a *flatAllocator) Assign(set uint32, b metadata.DescriptorBinding) (metadata.NativeAddress, error) {
	count := arrayCount(b)
	category := b.Kind.Category()

	switch category {
	case metadata.CategoryUniformBuffer:
		// The top b register is reserved for push constants.
		slot, err := a.bump(&a.nextUniform, count, a.limits.MaxUniformBuffers-1, "b")
		if err != nil {
			return nil, err
		}
		return metadata.FlatSlot{Category: category, Slot: slot, Count: count}, nil

	case metadata.CategorySampler:
		slot, err := a.bump(&a.nextSampler, count, a.limits.MaxSamplers, "s")
		if err != nil {
			return nil, err
		}
		return metadata.FlatSlot{Category: category, Slot: slot, Count: count}, nil

	case metadata.CategoryTexture:
		slot, err := a.bump(&a.nextTexture, count, a.limits.MaxSampledImages, "t")
		if err != nil {
			return nil, err
		}
		addr := metadata.FlatSlot{Category: category, Slot: slot, Count: count}
		if b.Kind == metadata.BindingKindCombinedImageSampler {
			// The sampler half claims its own s register.
			sampler, err := a.bump(&a.nextSampler, count, a.limits.MaxSamplers, "s")
			if err != nil {
				return nil, err
			}
			addr.SamplerSlot = &sampler
			return addr, nil
		}
		return addr, nil

	case metadata.CategoryStorage:
		if graphicsStages(b.Stages) {
			return a.assignStorageTopDown(count)
		}
		slot, err := a.bumpStorageBottomUp(count)
		if err != nil {
			return nil, err
		}
		return metadata.FlatSlot{Category: category, Slot: slot, Count: count}, nil
	}

	return nil, core.InvalidUsagef("binding kind '%s' has no flat register category", b.Kind)
}

func (a *flatAllocator) AssignPushConstants(r metadata.PushConstantRange) (metadata.NativeAddress, error) {
	if a.pushConstantsTaken {
		return nil, core.InvalidUsagef("at most one push-constant range is supported")
	}
	a.pushConstantsTaken = true
	// One reserved register regardless of the declared size.
	return metadata.FlatSlot{
		Category: metadata.CategoryUniformBuffer,
		Slot:     a.limits.MaxUniformBuffers - 1,
		Count:    1,
	}, nil
}

func (a *flatAllocator) Release(addr metadata.NativeAddress) {
	// Register files are cheap and densely packed per layout set; slots are
	// not recycled for the lifetime of the allocator.
}

func (a *flatAllocator) bump(next *uint32, count, max uint32, file string) (uint32, error) {
	if *next+count > max {
		err := fmt.Errorf("%w: register file '%s' exhausted (%d of %d in use)",
			errRegisterFileFull, file, *next, max)
		core.LogError(err.Error())
		return 0, err
	}
	slot := *next
	*next += count
	return slot, nil
}

func (a *flatAllocator) bumpStorageBottomUp(count uint32) (uint32, error) {
	if a.nextStorageCompute+count > a.nextStorageGraphics {
		err := fmt.Errorf("%w: register file 'u' exhausted (bottom=%d, top=%d)",
			errRegisterFileFull, a.nextStorageCompute, a.nextStorageGraphics)
		core.LogError(err.Error())
		return 0, err
	}
	slot := a.nextStorageCompute
	a.nextStorageCompute += count
	return slot, nil
}

func (a *flatAllocator) assignStorageTopDown(count uint32) (metadata.NativeAddress, error) {
	if a.nextStorageGraphics < count || a.nextStorageGraphics-count < a.nextStorageCompute {
		err := fmt.Errorf("%w: register file 'u' exhausted (bottom=%d, top=%d)",
			errRegisterFileFull, a.nextStorageCompute, a.nextStorageGraphics)
		core.LogError(err.Error())
		return nil, err
	}
	a.nextStorageGraphics -= count
	return metadata.FlatSlot{
		Category: metadata.CategoryStorage,
		Slot:     a.nextStorageGraphics,
		Count:    count,
	}, nil
}
