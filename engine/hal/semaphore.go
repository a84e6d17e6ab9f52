package hal

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// Semaphore orders work between queues on the device timeline. Binary
// semantics: a signal arms it, exactly one wait consumes it. The host never
// observes its state.
type Semaphore struct {
	device *Device
	handle native.SemaphoreHandle
}

func (d *Device) CreateSemaphore() (*Semaphore, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	handle, err := d.backend.CreateSemaphore()
	if err != nil {
		core.LogError("semaphore creation failed: %s", err.Error())
		return nil, err
	}
	return &Semaphore{device: d, handle: handle}, nil
}

func (s *Semaphore) Destroy() {
	device, handle := s.device, s.handle
	device.gc.deferDestroy(func() {
		device.backend.DestroySemaphore(handle)
	})
}

// SemaphoreWait pairs a semaphore with the first pipeline stages of the
// waiting submission that must block on it.
type SemaphoreWait struct {
	Semaphore *Semaphore
	Stages    metadata.PipelineStageFlags
}
