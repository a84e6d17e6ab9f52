package hal

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// alignUp rounds v to the next multiple of align. align of zero passes v
// through unchanged.
func alignUp[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	m := v % align
	if m == 0 {
		return v
	}
	return v - m + align
}

// memoryProperties returns, in preference order, the property sets that can
// serve a usage. Later entries are acceptable fallbacks when the preferred
// type does not exist on the adapter.
func memoryProperties(usage metadata.MemoryUsage) []metadata.MemoryPropertyFlags {
	switch usage {
	case metadata.MemoryUsageCPUToGPU:
		return []metadata.MemoryPropertyFlags{
			metadata.MemoryPropertyDeviceLocal | metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent,
			metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent,
		}
	case metadata.MemoryUsageGPUToCPU:
		return []metadata.MemoryPropertyFlags{
			metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent | metadata.MemoryPropertyHostCached,
			metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent,
		}
	default:
		return []metadata.MemoryPropertyFlags{
			metadata.MemoryPropertyDeviceLocal,
			// Unified-memory adapters expose no pure device-local type.
			metadata.MemoryPropertyDeviceLocal | metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent,
		}
	}
}

// findMemoryIndex picks the memory type for a resource: the first type
// allowed by the requirement mask that carries a preferred property set,
// walking the fallback chain before giving up.
func (d *Device) findMemoryIndex(requirements metadata.MemoryRequirements, usage metadata.MemoryUsage) (uint32, error) {
	for _, wanted := range memoryProperties(usage) {
		for i, mt := range d.memTypes {
			if requirements.TypeMask&(1<<uint32(i)) == 0 {
				continue
			}
			if mt.Properties&wanted == wanted {
				return uint32(i), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: no memory type matches mask %#x for usage %d",
		core.ErrWrongMemoryType, requirements.TypeMask, usage)
}

// allocateBound creates the backing allocation for a resource and returns
// it together with the chosen type index.
func (d *Device) allocateBound(requirements metadata.MemoryRequirements, usage metadata.MemoryUsage) (native.MemoryHandle, uint32, error) {
	typeIndex, err := d.findMemoryIndex(requirements, usage)
	if err != nil {
		return 0, 0, err
	}
	size := alignUp(requirements.Size, requirements.Alignment)
	mem, err := d.backend.AllocateMemory(typeIndex, size)
	if err != nil {
		core.LogError("memory allocation of %d bytes failed: %s", size, err.Error())
		return 0, 0, err
	}
	return mem, typeIndex, nil
}

func (d *Device) hostVisible(typeIndex uint32) bool {
	if int(typeIndex) >= len(d.memTypes) {
		return false
	}
	return d.memTypes[typeIndex].Properties&metadata.MemoryPropertyHostVisible != 0
}
