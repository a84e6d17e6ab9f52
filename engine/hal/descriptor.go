package hal

import (
	"sync/atomic"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

/**
 * @brief DescriptorSetLayout is the validated shape of one descriptor set:
 * which bindings exist, their kinds, array sizes and stage visibility.
 * Layouts are immutable and freely shared between pipeline layouts.
 */
type DescriptorSetLayout struct {
	bindings  []metadata.DescriptorBinding
	byBinding map[uint32]metadata.DescriptorBinding
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (*DescriptorSetLayout, error) {
	layout := &DescriptorSetLayout{
		bindings:  make([]metadata.DescriptorBinding, len(bindings)),
		byBinding: make(map[uint32]metadata.DescriptorBinding, len(bindings)),
	}
	copy(layout.bindings, bindings)
	for _, b := range bindings {
		if b.Count == 0 {
			return nil, core.InvalidUsagef("binding %d has zero array count", b.Binding)
		}
		if b.Stages == 0 {
			return nil, core.InvalidUsagef("binding %d is visible to no shader stage", b.Binding)
		}
		if _, dup := layout.byBinding[b.Binding]; dup {
			return nil, core.InvalidUsagef("binding %d declared twice in one set", b.Binding)
		}
		layout.byBinding[b.Binding] = b
	}
	return layout, nil
}

func (l *DescriptorSetLayout) Bindings() []metadata.DescriptorBinding { return l.bindings }

// DescriptorSet is one allocated set whose slots point at resources.
// Concurrent reads (binding the set on multiple recording threads) are fine;
// writes must be serialized by the caller and are rejected outright while
// any submission referencing the set is still in flight.
type DescriptorSet struct {
	device *Device
	handle native.DescriptorSetHandle
	layout *PipelineLayout
	set    uint32

	pendingCount atomic.Int32
}

// AllocateDescriptorSet allocates a set matching slot `set` of the pipeline
// layout's register assignment.
func (d *Device) AllocateDescriptorSet(layout *PipelineLayout, set uint32) (*DescriptorSet, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if int(set) >= len(layout.setLayouts) {
		return nil, core.InvalidUsagef("pipeline layout has no set %d", set)
	}
	handle, err := d.backend.AllocateDescriptorSet(layout.assignment, set)
	if err != nil {
		core.LogError("descriptor set allocation failed: %s", err.Error())
		return nil, err
	}
	return &DescriptorSet{device: d, handle: handle, layout: layout, set: set}, nil
}

func (s *DescriptorSet) addPending()     { s.pendingCount.Add(1) }
func (s *DescriptorSet) releasePending() { s.pendingCount.Add(-1) }

// InFlight reports whether any submitted, unretired work references the set.
func (s *DescriptorSet) InFlight() bool { return s.pendingCount.Load() > 0 }

func (s *DescriptorSet) Destroy() {
	device, handle := s.device, s.handle
	device.gc.deferDestroy(func() {
		device.backend.FreeDescriptorSet(handle)
	})
}

// DescriptorSetWrite points one slot of a set at a resource. Exactly one of
// the buffer and image groups is used, per the binding's kind.
type DescriptorSetWrite struct {
	Set        *DescriptorSet
	Binding    uint32
	ArrayIndex uint32

	Buffer *Buffer
	Offset uint64
	// Zero means the whole buffer from Offset.
	Range uint64

	Image  *Image
	Layout metadata.ImageLayout
}

func bindingWantsBuffer(kind metadata.BindingKind) bool {
	switch kind {
	case metadata.BindingKindUniformBuffer,
		metadata.BindingKindStorageBuffer,
		metadata.BindingKindStorageBufferReadOnly:
		return true
	}
	return false
}

// WriteDescriptorSets validates and applies a batch of slot updates. The
// whole batch is validated before any write lands, so a failed call leaves
// every set untouched.
func (d *Device) WriteDescriptorSets(writes []DescriptorSetWrite) error {
	if d.Lost() {
		return core.ErrDeviceLost
	}
	d.reapQueues()

	nativeWrites := make([]native.DescriptorWrite, 0, len(writes))
	for _, w := range writes {
		if w.Set == nil {
			return core.InvalidUsagef("descriptor write without a target set")
		}
		if w.Set.InFlight() {
			return core.InvalidUsagef(
				"descriptor set written while referenced by in-flight work (set %d, binding %d)",
				w.Set.set, w.Binding)
		}
		binding, ok := w.Set.layout.setLayouts[w.Set.set].byBinding[w.Binding]
		if !ok {
			return core.InvalidUsagef("set %d has no binding %d", w.Set.set, w.Binding)
		}
		if w.ArrayIndex >= binding.Count {
			return core.InvalidUsagef(
				"array index %d out of range for binding %d (count %d)",
				w.ArrayIndex, w.Binding, binding.Count)
		}

		nw := native.DescriptorWrite{
			Set:        w.Set.handle,
			Binding:    metadata.BindingRef{Set: w.Set.set, Binding: w.Binding},
			ArrayIndex: w.ArrayIndex,
			Kind:       binding.Kind,
		}
		if bindingWantsBuffer(binding.Kind) {
			if w.Buffer == nil {
				return core.InvalidUsagef("binding %d (%s) needs a buffer", w.Binding, binding.Kind)
			}
			size := w.Range
			if size == 0 {
				if w.Offset > w.Buffer.size {
					return core.ErrOutOfBounds
				}
				size = w.Buffer.size - w.Offset
			}
			if w.Offset+size > w.Buffer.size {
				return core.ErrOutOfBounds
			}
			nw.Buffer = w.Buffer.handle
			nw.BufferOffset = w.Offset
			nw.BufferRange = size
		} else if binding.Kind == metadata.BindingKindSampler {
			// Sampler objects are immutable backend state; the write only
			// marks the slot occupied.
		} else {
			if w.Image == nil {
				return core.InvalidUsagef("binding %d (%s) needs an image", w.Binding, binding.Kind)
			}
			nw.Image = w.Image.handle
			nw.ImageLayout = w.Layout
		}
		nativeWrites = append(nativeWrites, nw)
	}

	return d.backend.WriteDescriptorSets(nativeWrites)
}
