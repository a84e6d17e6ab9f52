package allocator

import (
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

// explicitAllocator serves backends whose native model already is
// (set, binding): the portable reference passes through unchanged and the
// native pipeline layout object carries the real addressing.
type explicitAllocator struct{}

func newExplicitAllocator() *explicitAllocator {
	return &explicitAllocator{}
}

func (a *explicitAllocator) Kind() metadata.BackendKind {
	return metadata.BackendExplicit
}

func (a *explicitAllocator) Assign(set uint32, b metadata.DescriptorBinding) (metadata.NativeAddress, error) {
	return metadata.SetBinding{Set: set, Binding: b.Binding}, nil
}

func (a *explicitAllocator) AssignPushConstants(r metadata.PushConstantRange) (metadata.NativeAddress, error) {
	return metadata.PushConstantSlot{}, nil
}

func (a *explicitAllocator) Release(addr metadata.NativeAddress) {}
