package hal

import (
	"sync"

	"github.com/spaghettifunk/vasari/engine/core"
)

// CommandPool allocates command buffers and is the only way to recover
// invalidated ones. Allocation and reset are serialized; the buffers
// themselves are single-owner.
type CommandPool struct {
	device *Device

	mutex   sync.Mutex
	buffers []*CommandBuffer
}

func (d *Device) CreateCommandPool() (*CommandPool, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	return &CommandPool{device: d}, nil
}

func (p *CommandPool) Allocate(level CommandBufferLevel) (*CommandBuffer, error) {
	if p.device.Lost() {
		return nil, core.ErrDeviceLost
	}
	encoder, err := p.device.backend.CreateCommandList(level == CommandBufferPrimary)
	if err != nil {
		core.LogError("command buffer allocation failed: %s", err.Error())
		return nil, err
	}
	cb := &CommandBuffer{
		pool:    p,
		device:  p.device,
		encoder: encoder,
		level:   level,
		state:   StateInitial,
	}
	p.mutex.Lock()
	p.buffers = append(p.buffers, cb)
	p.mutex.Unlock()
	return cb, nil
}

// Reset returns every buffer of the pool to the initial state, including
// invalidated ones. Fails without touching anything if any buffer is still
// pending execution.
func (p *CommandPool) Reset() error {
	p.device.reapQueues()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, cb := range p.buffers {
		if cb.state == StatePending {
			return core.InvalidUsagef("pool reset while a buffer is pending execution")
		}
	}
	for _, cb := range p.buffers {
		if cb.state == StateInitial {
			continue
		}
		if err := cb.encoder.Reset(); err != nil {
			return err
		}
		cb.reset()
	}
	return nil
}

// Destroy releases every buffer of the pool once in-flight work retires.
func (p *CommandPool) Destroy() {
	p.mutex.Lock()
	buffers := p.buffers
	p.buffers = nil
	p.mutex.Unlock()

	device := p.device
	for _, cb := range buffers {
		handle := cb.encoder.Handle()
		device.gc.deferDestroy(func() {
			device.backend.DestroyCommandList(handle)
		})
	}
}
