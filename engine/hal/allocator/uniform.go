package allocator

import (
	"fmt"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

type uniformKey struct {
	category metadata.RegisterCategory
	set      uint32
	binding  uint32
}

// uniformAllocator targets legacy backends with no set concept at all: every
// set is merged into one flat namespace keyed by (category, set, binding).
// Arrays receive one location per element because overlapping locations are
// not expressible there.
type uniformAllocator struct {
	limits   Limits
	assigned map[uniformKey][]uint32

	// One counter per category: texture units, buffer binding points and
	// storage binding points are separate namespaces on this path.
	next map[metadata.RegisterCategory]uint32

	pushConstantsTaken bool
}

func newUniformAllocator(limits Limits) *uniformAllocator {
	return &uniformAllocator{
		limits:   limits,
		assigned: make(map[uniformKey][]uint32),
		next: map[metadata.RegisterCategory]uint32{
			// Location 0 of the uniform category is the push-constant block.
			metadata.CategoryUniformBuffer: 1,
		},
	}
}

func (a *uniformAllocator) Kind() metadata.BackendKind {
	return metadata.BackendUniform
}

func (a *uniformAllocator) Assign(set uint32, b metadata.DescriptorBinding) (metadata.NativeAddress, error) {
	count := arrayCount(b)
	category := b.Kind.Category()

	key := uniformKey{category: category, set: set, binding: b.Binding}
	if locations, exists := a.assigned[key]; exists {
		// Same binding requested again (e.g. a second pipeline layout over
		// the same set layout): the earlier assignment is authoritative.
		return metadata.UniformLocations{Locations: locations}, nil
	}

	budget := a.limits.MaxUniformLocations
	if a.next[category]+count > budget {
		err := fmt.Errorf("%w: uniform namespace '%s' exhausted (%d of %d in use)",
			errRegisterFileFull, category, a.next[category], budget)
		core.LogError(err.Error())
		return nil, err
	}

	locations := make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		locations[i] = a.next[category] + i
	}
	a.next[category] += count
	a.assigned[key] = locations

	return metadata.UniformLocations{Locations: locations}, nil
}

func (a *uniformAllocator) AssignPushConstants(r metadata.PushConstantRange) (metadata.NativeAddress, error) {
	if a.pushConstantsTaken {
		return nil, core.InvalidUsagef("at most one push-constant range is supported")
	}
	a.pushConstantsTaken = true
	return metadata.UniformLocations{Locations: []uint32{0}}, nil
}

func (a *uniformAllocator) Release(addr metadata.NativeAddress) {
	// The merged namespace is shared by every layout on the device, so
	// locations stay assigned for the device's lifetime.
}
