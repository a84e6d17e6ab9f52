package metadata

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/vasari/engine/core"
)

/**
 * @brief The kind of resource a descriptor binding exposes to shaders.
 */
type BindingKind int

const (
	BindingKindUniformBuffer BindingKind = iota
	BindingKindStorageBuffer
	BindingKindStorageBufferReadOnly
	BindingKindSampledImage
	BindingKindStorageImage
	BindingKindSampler
	BindingKindCombinedImageSampler
	BindingKindInputAttachment
)

func (k BindingKind) String() string {
	switch k {
	case BindingKindUniformBuffer:
		return "uniform_buffer"
	case BindingKindStorageBuffer:
		return "storage_buffer"
	case BindingKindStorageBufferReadOnly:
		return "storage_buffer_ro"
	case BindingKindSampledImage:
		return "sampled_image"
	case BindingKindStorageImage:
		return "storage_image"
	case BindingKindSampler:
		return "sampler"
	case BindingKindCombinedImageSampler:
		return "combined_image_sampler"
	case BindingKindInputAttachment:
		return "input_attachment"
	}
	return "unknown"
}

/**
 * @brief The register file a binding kind resolves into on register-addressed
 * backends. Read-write storage lives in its own writable category even though
 * it shares a BindingKind family with read-only storage.
 */
type RegisterCategory int

const (
	/** @brief Constant/uniform buffer registers (b#). */
	CategoryUniformBuffer RegisterCategory = iota
	/** @brief Read-only shader resource registers (t#). */
	CategoryTexture
	/** @brief Sampler registers (s#). */
	CategorySampler
	/** @brief Writable storage registers (u#). */
	CategoryStorage
)

func (c RegisterCategory) String() string {
	switch c {
	case CategoryUniformBuffer:
		return "b"
	case CategoryTexture:
		return "t"
	case CategorySampler:
		return "s"
	case CategoryStorage:
		return "u"
	}
	return "?"
}

// Category maps a binding kind to the register file it occupies. Read-only
// views of storage buffers deliberately land in the texture category.
func (k BindingKind) Category() RegisterCategory {
	switch k {
	case BindingKindUniformBuffer:
		return CategoryUniformBuffer
	case BindingKindStorageBuffer, BindingKindStorageImage:
		return CategoryStorage
	case BindingKindSampler:
		return CategorySampler
	default:
		return CategoryTexture
	}
}

// Writable reports whether shaders may store through the binding.
func (k BindingKind) Writable() bool {
	return k == BindingKindStorageBuffer || k == BindingKindStorageImage
}

/**
 * @brief One binding of a descriptor set layout.
 */
type DescriptorBinding struct {
	Binding uint32
	Kind    BindingKind
	// Array size; 1 for non-arrays.
	Count  uint32
	Stages ShaderStageFlags
}

type PushConstantRange struct {
	Stages ShaderStageFlags
	Offset uint32
	Size   uint32
}

// BindingRef identifies a binding in the portable model.
type BindingRef struct {
	Set     uint32
	Binding uint32
}

func (r BindingRef) String() string {
	return fmt.Sprintf("(set=%d, binding=%d)", r.Set, r.Binding)
}

/**
 * @brief A backend-native address. Exactly one concrete variant is produced
 * per binding, matching the backend kind selected at device creation.
 */
type NativeAddress interface {
	// Key is unique among addresses of one category on one backend.
	// Assignment collision checks compare keys.
	Key() string
	String() string
}

// SetBinding is the identity address of explicit-descriptor backends.
type SetBinding struct {
	Set     uint32
	Binding uint32
}

func (a SetBinding) Key() string    { return fmt.Sprintf("set%d.%d", a.Set, a.Binding) }
func (a SetBinding) String() string { return fmt.Sprintf("(set=%d, binding=%d)", a.Set, a.Binding) }

// FlatSlot is a register index on flat-register backends. Combined image
// samplers additionally claim a sampler register, carried in SamplerSlot.
type FlatSlot struct {
	Category RegisterCategory
	Slot     uint32
	Count    uint32
	// Paired sampler register for combined image samplers, else nil.
	SamplerSlot *uint32
}

func (a FlatSlot) Key() string { return fmt.Sprintf("%s%d", a.Category, a.Slot) }
func (a FlatSlot) String() string {
	if a.Count > 1 {
		return fmt.Sprintf("%s%d..%s%d", a.Category, a.Slot, a.Category, a.Slot+a.Count-1)
	}
	return fmt.Sprintf("%s%d", a.Category, a.Slot)
}

type HeapKind int

const (
	// CBV/SRV/UAV descriptors.
	HeapResource HeapKind = iota
	HeapSampler
)

func (h HeapKind) String() string {
	if h == HeapSampler {
		return "sampler_heap"
	}
	return "resource_heap"
}

// HeapOffset is a contiguous descriptor run on heap/table backends.
// Combined image samplers carry a paired run in the sampler heap.
type HeapOffset struct {
	Heap HeapKind
	// Root table this run is reached through.
	Table  uint32
	Offset uint32
	Count  uint32
	// Paired sampler-heap offset for combined image samplers, else nil.
	SamplerOffset *uint32
}

func (a HeapOffset) Key() string { return fmt.Sprintf("%s+%d", a.Heap, a.Offset) }
func (a HeapOffset) String() string {
	return fmt.Sprintf("%s[table=%d, offset=%d, count=%d]", a.Heap, a.Table, a.Offset, a.Count)
}

type ArgumentSpace int

const (
	ArgumentSpaceBuffer ArgumentSpace = iota
	ArgumentSpaceTexture
	ArgumentSpaceSampler
)

func (s ArgumentSpace) String() string {
	switch s {
	case ArgumentSpaceBuffer:
		return "buffer"
	case ArgumentSpaceTexture:
		return "texture"
	case ArgumentSpaceSampler:
		return "sampler"
	}
	return "?"
}

// ArgumentIndex is a run of argument-table indices on argument-buffer
// backends. Combined image samplers carry a paired sampler run.
type ArgumentIndex struct {
	Space ArgumentSpace
	Index uint32
	Count uint32
	// Paired sampler index for combined image samplers, else nil.
	SamplerIndex *uint32
}

func (a ArgumentIndex) Key() string { return fmt.Sprintf("%s[%d]", a.Space, a.Index) }
func (a ArgumentIndex) String() string {
	return fmt.Sprintf("%s[%d..%d]", a.Space, a.Index, a.Index+a.Count-1)
}

// UniformLocations is the set of flat uniform locations assigned on legacy
// backends, one per array element because overlapping locations cannot be
// expressed there.
type UniformLocations struct {
	Locations []uint32
}

func (a UniformLocations) Key() string {
	if len(a.Locations) == 0 {
		return "loc(empty)"
	}
	return fmt.Sprintf("loc%d", a.Locations[0])
}

func (a UniformLocations) String() string {
	return fmt.Sprintf("locations%v", a.Locations)
}

// PushConstantSlot is the single reserved address for the one push-constant
// range the system supports.
type PushConstantSlot struct{}

func (a PushConstantSlot) Key() string    { return "push_constants" }
func (a PushConstantSlot) String() string { return "push_constants" }

type collisionKey struct {
	category RegisterCategory
	stage    ShaderStageFlags
	key      string
}

/**
 * @brief The computed (set, binding) -> native address table of one pipeline
 * layout. Built once at layout creation and immutable afterwards.
 */
type RegisterAssignment struct {
	entries map[BindingRef]NativeAddress
	seen    map[collisionKey]BindingRef

	pushConstants NativeAddress
}

func NewRegisterAssignment() *RegisterAssignment {
	return &RegisterAssignment{
		entries: make(map[BindingRef]NativeAddress),
		seen:    make(map[collisionKey]BindingRef),
	}
}

// Insert records the address of one binding. Two bindings of the same
// category resolving to the same address on an overlapping shader stage is a
// construction-time error, never a runtime one.
func (ra *RegisterAssignment) Insert(ref BindingRef, category RegisterCategory, stages ShaderStageFlags, addr NativeAddress) error {
	if _, exists := ra.entries[ref]; exists {
		return core.InvalidUsagef("binding %s assigned twice", ref)
	}

	var collision error
	stages.ForEachStage(func(stage ShaderStageFlags) {
		if collision != nil {
			return
		}
		ck := collisionKey{category: category, stage: stage, key: addr.Key()}
		if prev, exists := ra.seen[ck]; exists {
			collision = core.InvalidUsagef(
				"register collision: %s and %s both resolve to %s in category '%s'",
				prev, ref, addr, category)
			return
		}
		ra.seen[ck] = ref
	})
	if collision != nil {
		return collision
	}

	ra.entries[ref] = addr
	return nil
}

// Lookup resolves a portable binding reference to its native address.
func (ra *RegisterAssignment) Lookup(ref BindingRef) (NativeAddress, bool) {
	addr, ok := ra.entries[ref]
	return addr, ok
}

// SetPushConstants records the reserved push-constant address. At most one
// range exists system-wide.
func (ra *RegisterAssignment) SetPushConstants(addr NativeAddress) error {
	if ra.pushConstants != nil {
		return core.InvalidUsagef("a pipeline layout supports at most one push-constant range")
	}
	ra.pushConstants = addr
	return nil
}

func (ra *RegisterAssignment) PushConstants() (NativeAddress, bool) {
	if ra.pushConstants == nil {
		return nil, false
	}
	return ra.pushConstants, true
}

func (ra *RegisterAssignment) Len() int {
	return len(ra.entries)
}

// Refs returns every assigned binding reference in deterministic order.
func (ra *RegisterAssignment) Refs() []BindingRef {
	refs := make([]BindingRef, 0, len(ra.entries))
	for ref := range ra.entries {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Set != refs[j].Set {
			return refs[i].Set < refs[j].Set
		}
		return refs[i].Binding < refs[j].Binding
	})
	return refs
}
