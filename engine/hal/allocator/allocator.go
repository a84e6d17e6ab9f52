/*
Package allocator flattens the portable (set, binding, array-index) resource
binding model onto each backend's native addressing scheme.

One allocator exists per device, selected from the backend kind at device
creation and never swapped afterwards. All variants honor the same contract:
assignments are deterministic given declaration order (bindings in order
within a set, sets ascending), collision-free within a resource category and
shader stage, and stable — assigning one binding never moves a previously
issued address of an unrelated binding.
*/
package allocator

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

// Limits caps the native address spaces. Values come from the tuning file
// with backend-appropriate defaults.
type Limits struct {
	// Flat-register caps.
	MaxUniformBuffers uint32
	MaxSampledImages  uint32
	MaxSamplers       uint32
	MaxStorageSlots   uint32

	// Descriptor heap capacities.
	ResourceDescriptors uint32
	SamplerDescriptors  uint32

	// Argument table sizes per index space.
	MaxArgumentBuffers  uint32
	MaxArgumentTextures uint32
	MaxArgumentSamplers uint32

	// Flat uniform location budget on legacy backends.
	MaxUniformLocations uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxUniformBuffers:   14,
		MaxSampledImages:    128,
		MaxSamplers:         16,
		MaxStorageSlots:     64,
		ResourceDescriptors: 1_000_000,
		SamplerDescriptors:  2048,
		MaxArgumentBuffers:  31,
		MaxArgumentTextures: 128,
		MaxArgumentSamplers: 16,
		MaxUniformLocations: 1024,
	}
}

/**
 * @brief Maps portable bindings to backend-native addresses.
 *
 * Assign is invoked by the pipeline layout manager in declaration order.
 * Release returns an address's registers to the allocator once the owning
 * layout is destroyed; variants whose address spaces are per-layout rather
 * than pooled treat it as a no-op.
 */
type RegisterAllocator interface {
	Kind() metadata.BackendKind
	Assign(set uint32, b metadata.DescriptorBinding) (metadata.NativeAddress, error)
	AssignPushConstants(r metadata.PushConstantRange) (metadata.NativeAddress, error)
	Release(addr metadata.NativeAddress)
}

// New builds the allocator variant for a backend kind.
func New(kind metadata.BackendKind, limits Limits) RegisterAllocator {
	switch kind {
	case metadata.BackendFlat:
		return newFlatAllocator(limits)
	case metadata.BackendHeap:
		return newHeapAllocator(limits)
	case metadata.BackendArgument:
		return newArgumentAllocator(limits)
	case metadata.BackendUniform:
		return newUniformAllocator(limits)
	default:
		return newExplicitAllocator()
	}
}

func arrayCount(b metadata.DescriptorBinding) uint32 {
	if b.Count == 0 {
		return 1
	}
	return b.Count
}

// graphicsStages reports whether a binding is visible to any graphics stage.
// Storage bindings visible to graphics allocate from the opposite end of the
// writable register file so they cannot collide with render-target-bound
// slots, which claim the low indices.
func graphicsStages(stages metadata.ShaderStageFlags) bool {
	return stages&metadata.ShaderStageAllGraphics != 0
}

var errRegisterFileFull = core.ErrTooManyObjects
