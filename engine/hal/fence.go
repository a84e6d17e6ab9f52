package hal

import (
	"time"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// Fence is a device-to-host signal. It starts unsignaled (or signaled when
// requested, so first-frame waits don't deadlock), is signaled by the device
// when a guarded submission completes, and must be reset by the host before
// reuse.
type Fence struct {
	device *Device
	handle native.FenceHandle
}

func (d *Device) CreateFence(signaled bool) (*Fence, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	handle, err := d.backend.CreateFence(signaled)
	if err != nil {
		core.LogError("fence creation failed: %s", err.Error())
		return nil, err
	}
	return &Fence{device: d, handle: handle}, nil
}

// Wait blocks until the fence signals or the timeout elapses. A timeout
// returns core.ErrTimeout with the fence left untouched; a device loss
// returns core.ErrDeviceLost and poisons the device.
func (f *Fence) Wait(timeout time.Duration) error {
	switch f.device.backend.WaitForFence(f.handle, timeout) {
	case native.WaitSignaled:
		f.device.reapQueues()
		return nil
	case native.WaitTimeout:
		return core.ErrTimeout
	default:
		f.device.markLost()
		return core.ErrDeviceLost
	}
}

// Signaled polls the fence without blocking.
func (f *Fence) Signaled() bool {
	return f.device.backend.FenceSignaled(f.handle)
}

// Reset returns a signaled fence to the unsignaled state. Resetting a fence
// still guarding an in-flight submission is a usage error.
func (f *Fence) Reset() error {
	for _, q := range f.device.queues {
		if q.guardsFence(f) {
			return core.InvalidUsagef("fence reset while guarding an in-flight submission")
		}
	}
	return f.device.backend.ResetFence(f.handle)
}

// Destroy releases the fence once no in-flight submission can signal it.
func (f *Fence) Destroy() {
	device, handle := f.device, f.handle
	device.gc.deferDestroy(func() {
		device.backend.DestroyFence(handle)
	})
}
