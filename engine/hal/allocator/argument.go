package allocator

import (
	"fmt"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

// The buffer index push constants occupy on argument-buffer backends. Kept
// at the top of the buffer table so normal allocation, which grows upward,
// only meets it when the table is genuinely full.
const argumentPushConstantIndex = 30

// argumentAllocator targets argument-buffer backends, which keep separate
// index spaces for buffers, textures and samplers. Each binding receives a
// run of indices in its space, one per array element.
type argumentAllocator struct {
	limits Limits

	nextBuffer  uint32
	nextTexture uint32
	nextSampler uint32

	pushConstantsTaken bool
}

func newArgumentAllocator(limits Limits) *argumentAllocator {
	return &argumentAllocator{limits: limits}
}

func (a *argumentAllocator) Kind() metadata.BackendKind {
	return metadata.BackendArgument
}

func (a *argumentAllocator) Assign(set uint32, b metadata.DescriptorBinding) (metadata.NativeAddress, error) {
	count := arrayCount(b)

	switch b.Kind {
	case metadata.BindingKindUniformBuffer, metadata.BindingKindStorageBuffer, metadata.BindingKindStorageBufferReadOnly:
		index, err := a.bump(&a.nextBuffer, count, argumentPushConstantIndex, metadata.ArgumentSpaceBuffer)
		if err != nil {
			return nil, err
		}
		return metadata.ArgumentIndex{Space: metadata.ArgumentSpaceBuffer, Index: index, Count: count}, nil

	case metadata.BindingKindSampler:
		index, err := a.bump(&a.nextSampler, count, a.limits.MaxArgumentSamplers, metadata.ArgumentSpaceSampler)
		if err != nil {
			return nil, err
		}
		return metadata.ArgumentIndex{Space: metadata.ArgumentSpaceSampler, Index: index, Count: count}, nil

	case metadata.BindingKindSampledImage, metadata.BindingKindStorageImage,
		metadata.BindingKindInputAttachment, metadata.BindingKindCombinedImageSampler:
		index, err := a.bump(&a.nextTexture, count, a.limits.MaxArgumentTextures, metadata.ArgumentSpaceTexture)
		if err != nil {
			return nil, err
		}
		addr := metadata.ArgumentIndex{Space: metadata.ArgumentSpaceTexture, Index: index, Count: count}
		if b.Kind == metadata.BindingKindCombinedImageSampler {
			sampler, err := a.bump(&a.nextSampler, count, a.limits.MaxArgumentSamplers, metadata.ArgumentSpaceSampler)
			if err != nil {
				return nil, err
			}
			addr.SamplerIndex = &sampler
		}
		return addr, nil
	}

	return nil, core.InvalidUsagef("binding kind '%s' has no argument index space", b.Kind)
}

func (a *argumentAllocator) AssignPushConstants(r metadata.PushConstantRange) (metadata.NativeAddress, error) {
	if a.pushConstantsTaken {
		return nil, core.InvalidUsagef("at most one push-constant range is supported")
	}
	a.pushConstantsTaken = true
	return metadata.ArgumentIndex{
		Space: metadata.ArgumentSpaceBuffer,
		Index: argumentPushConstantIndex,
		Count: 1,
	}, nil
}

func (a *argumentAllocator) Release(addr metadata.NativeAddress) {
	// Argument tables are rebuilt per layout; indices are not recycled.
}

func (a *argumentAllocator) bump(next *uint32, count, max uint32, space metadata.ArgumentSpace) (uint32, error) {
	if *next+count > max {
		err := fmt.Errorf("%w: argument space '%s' exhausted (%d of %d in use)",
			errRegisterFileFull, space, *next, max)
		core.LogError(err.Error())
		return 0, err
	}
	index := *next
	*next += count
	return index, nil
}
