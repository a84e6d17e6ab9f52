package hal

import (
	"sync"

	"github.com/spaghettifunk/vasari/engine/containers"
	"github.com/spaghettifunk/vasari/engine/core"
)

// gcEntry is one native object awaiting destruction. guards snapshots, per
// queue, the submission sequence that was in flight when the owner was
// dropped; the object is released only once every queue has retired past
// that point, because any of those submissions could still reference it.
type gcEntry struct {
	guards  map[*Queue]uint64
	destroy func()
}

// collector defers native destruction until the GPU provably cannot touch
// the object anymore. Dropping an owning wrapper enqueues here instead of
// destroying immediately.
type collector struct {
	device *Device

	mutex   sync.Mutex
	pending *containers.RingQueue
}

func newCollector(device *Device, queueSize int) *collector {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &collector{
		device:  device,
		pending: containers.NewRingQueue(queueSize),
	}
}

// defer enqueues a native destruction guarded by the current tail of every
// queue. When the queue is full a collect cycle runs first; if still full,
// the entry is destroyed after a full device drain rather than leaked.
func (c *collector) deferDestroy(destroy func()) {
	entry := &gcEntry{
		guards:  c.device.submissionWatermarks(),
		destroy: destroy,
	}
	if len(entry.guards) == 0 {
		// Nothing in flight can reference the object.
		destroy()
		return
	}

	c.mutex.Lock()
	err := c.pending.Enqueue(entry)
	c.mutex.Unlock()
	if err == nil {
		return
	}

	c.device.Collect()
	c.mutex.Lock()
	err = c.pending.Enqueue(entry)
	c.mutex.Unlock()
	if err == nil {
		return
	}

	core.LogWarn("gc queue full, draining device to destroy safely")
	_ = c.device.WaitIdle()
	destroy()
}

// collect releases every entry whose guarding submissions have completed.
func (c *collector) collect() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	freed := 0
	c.pending.Filter(func(value interface{}) bool {
		entry := value.(*gcEntry)
		for q, seq := range entry.guards {
			if !q.retired(seq) {
				return true
			}
		}
		entry.destroy()
		freed++
		return false
	})

	if freed > 0 {
		core.MetricsCollected(uint32(freed))
		ctx := core.EventContext{}
		ctx.Data.U32[0] = uint32(freed)
		core.EventFire(core.EVENT_CODE_RESOURCES_COLLECTED, c.device, ctx)
	}
	return freed
}

// drain destroys everything unconditionally. Only legal once the device has
// fully idled.
func (c *collector) drain() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for !c.pending.IsEmpty() {
		value, err := c.pending.Dequeue()
		if err != nil {
			return
		}
		value.(*gcEntry).destroy()
	}
}
