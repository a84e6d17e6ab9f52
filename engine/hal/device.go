package hal

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vasari/engine/config"
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/allocator"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// Handle is a generation-counted reference to a device-owned resource. A
// stale handle (one whose slot was recycled) never resolves.
type Handle struct {
	Index      uint32
	Generation uint32
}

type Device struct {
	ID uuid.UUID

	backend   native.Backend
	registers allocator.RegisterAllocator
	limits    metadata.Limits
	memTypes  []metadata.MemoryType

	slots *core.SlotAllocator
	gc    *collector

	queues []*Queue

	// Serializes layout construction so register assignment stays
	// deterministic under concurrent creation.
	layoutMutex sync.Mutex

	lost atomic.Bool
}

func newDevice(i *Instance, backend native.Backend) (*Device, error) {
	cfg := i.cfg
	limits := allocatorLimits(cfg)

	d := &Device{
		ID:        uuid.New(),
		backend:   backend,
		registers: allocator.New(backend.Kind(), limits),
		limits:    backend.Limits(),
		memTypes:  backend.MemoryTypes(),
		slots:     core.NewSlotAllocator(256),
	}
	d.gc = newCollector(d, cfg.GC.QueueSize)

	for handle, desc := range backend.Queues() {
		d.queues = append(d.queues, newQueue(d, native.QueueHandle(handle), desc))
	}

	core.LogInfo("device %s opened on '%s' (%s binding model, %d queues)",
		d.ID, backend.Name(), backend.Kind(), len(d.queues))
	return d, nil
}

func allocatorLimits(cfg *config.Config) allocator.Limits {
	limits := allocator.DefaultLimits()
	if cfg == nil {
		return limits
	}
	if cfg.Registers.MaxUniformBuffers > 0 {
		limits.MaxUniformBuffers = cfg.Registers.MaxUniformBuffers
	}
	if cfg.Registers.MaxSampledImages > 0 {
		limits.MaxSampledImages = cfg.Registers.MaxSampledImages
	}
	if cfg.Registers.MaxSamplers > 0 {
		limits.MaxSamplers = cfg.Registers.MaxSamplers
	}
	if cfg.Registers.MaxStorageSlots > 0 {
		limits.MaxStorageSlots = cfg.Registers.MaxStorageSlots
	}
	if cfg.Heaps.ResourceDescriptors > 0 {
		limits.ResourceDescriptors = cfg.Heaps.ResourceDescriptors
	}
	if cfg.Heaps.SamplerDescriptors > 0 {
		limits.SamplerDescriptors = cfg.Heaps.SamplerDescriptors
	}
	return limits
}

// Backend exposes the shim for collaborators (shader translator, swapchain
// glue) that need to talk to it directly.
func (d *Device) Backend() native.Backend { return d.backend }

func (d *Device) Limits() metadata.Limits { return d.limits }

// Queues returns the device's submission channels, graphics first.
func (d *Device) Queues() []*Queue { return d.queues }

// GraphicsQueue returns the first graphics-capable queue.
func (d *Device) GraphicsQueue() *Queue {
	for _, q := range d.queues {
		if q.desc.Kind == metadata.QueueKindGraphics {
			return q
		}
	}
	return d.queues[0]
}

// TransferQueue returns a transfer queue, falling back to graphics.
func (d *Device) TransferQueue() *Queue {
	for _, q := range d.queues {
		if q.desc.Kind == metadata.QueueKindTransfer {
			return q
		}
	}
	return d.GraphicsQueue()
}

func (d *Device) Lost() bool { return d.lost.Load() }

// markLost flips the device into the lost state. Everything built on the
// device is invalid afterwards and must be recreated from a fresh device.
func (d *Device) markLost() {
	if d.lost.CompareAndSwap(false, true) {
		core.LogError("device %s lost", d.ID)
		ctx := core.EventContext{}
		ctx.Data.C[0] = d.ID.String()
		core.EventFire(core.EVENT_CODE_DEVICE_LOST, d, ctx)
	}
}

// reapQueues retires finished submissions on every queue, flipping their
// command buffers out of Pending and releasing descriptor set guards.
func (d *Device) reapQueues() {
	for _, q := range d.queues {
		q.reap()
	}
}

// Collect runs one deferred-destruction cycle: every enqueued resource whose
// guarding submissions have all completed is released to the backend.
func (d *Device) Collect() int {
	d.reapQueues()
	return d.gc.collect()
}

// WaitIdle drains all queues, which retires every pending submission, then
// collects. Used at shutdown and resize boundaries.
func (d *Device) WaitIdle() error {
	if d.Lost() {
		return core.ErrDeviceLost
	}
	if err := d.backend.DeviceWaitIdle(); err != nil {
		if err == core.ErrDeviceLost {
			d.markLost()
		}
		return err
	}
	d.reapQueues()
	d.gc.collect()
	return nil
}

// Destroy drains outstanding work and releases the device. Resources still
// alive are freed through a final collect cycle.
func (d *Device) Destroy() error {
	if err := d.WaitIdle(); err != nil && err != core.ErrDeviceLost {
		return err
	}
	d.gc.drain()
	if err := d.backend.Shutdown(); err != nil {
		return err
	}
	core.LogInfo("device %s destroyed", d.ID)
	return nil
}

func (d *Device) acquireHandle(owner interface{}) Handle {
	index, generation := d.slots.Acquire(owner)
	return Handle{Index: index, Generation: generation}
}

func (d *Device) releaseHandle(h Handle) {
	if err := d.slots.Release(h.Index); err != nil {
		core.LogWarn(err.Error())
	}
}
