package hal

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

type BufferDesc struct {
	Size   uint64
	Usage  metadata.BufferUsageFlags
	Memory metadata.MemoryUsage
}

// Buffer owns a native buffer and its backing allocation. Memory is chosen
// and bound exactly once at creation; there is no rebind.
type Buffer struct {
	device *Device
	handle native.BufferHandle
	memory native.MemoryHandle
	slot   Handle

	size      uint64
	usage     metadata.BufferUsageFlags
	typeIndex uint32
	mapped    bool
}

func (d *Device) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if desc.Size == 0 {
		return nil, core.InvalidUsagef("buffer size must be nonzero")
	}
	if desc.Usage == 0 {
		return nil, core.InvalidUsagef("buffer usage must not be empty")
	}

	handle, err := d.backend.CreateBuffer(native.BufferDesc{Size: desc.Size, Usage: desc.Usage})
	if err != nil {
		core.LogError("buffer creation failed: %s", err.Error())
		return nil, err
	}

	requirements := d.backend.GetBufferRequirements(handle)
	memory, typeIndex, err := d.allocateBound(requirements, desc.Memory)
	if err != nil {
		d.backend.DestroyBuffer(handle)
		return nil, err
	}
	if err := d.backend.BindBufferMemory(handle, memory, 0); err != nil {
		d.backend.FreeMemory(memory)
		d.backend.DestroyBuffer(handle)
		return nil, err
	}

	b := &Buffer{
		device:    d,
		handle:    handle,
		memory:    memory,
		size:      desc.Size,
		usage:     desc.Usage,
		typeIndex: typeIndex,
	}
	b.slot = d.acquireHandle(b)
	return b, nil
}

func (b *Buffer) Size() uint64                      { return b.size }
func (b *Buffer) Usage() metadata.BufferUsageFlags  { return b.usage }
func (b *Buffer) Handle() Handle                    { return b.slot }
func (b *Buffer) NativeHandle() native.BufferHandle { return b.handle }

// Map exposes the buffer's memory to the host. Only buffers in host-visible
// memory can be mapped.
func (b *Buffer) Map() ([]byte, error) {
	if !b.device.hostVisible(b.typeIndex) {
		return nil, core.ErrWrongMemoryType
	}
	data, err := b.device.backend.MapMemory(b.memory, 0, b.size)
	if err != nil {
		return nil, err
	}
	b.mapped = true
	return data, nil
}

func (b *Buffer) Unmap() {
	if !b.mapped {
		return
	}
	b.device.backend.UnmapMemory(b.memory)
	b.mapped = false
}

// Write copies data into the buffer at offset through a transient mapping.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.size {
		return core.ErrOutOfBounds
	}
	mapped, err := b.Map()
	if err != nil {
		return err
	}
	defer b.Unmap()
	copy(mapped[offset:], data)
	return nil
}

// Destroy releases the buffer once no in-flight submission can reference it.
// The handle goes stale immediately; the native object outlives it only
// inside the collector.
func (b *Buffer) Destroy() {
	device, handle, memory, slot := b.device, b.handle, b.memory, b.slot
	device.releaseHandle(slot)
	device.gc.deferDestroy(func() {
		device.backend.DestroyBuffer(handle)
		device.backend.FreeMemory(memory)
	})
}
