package hal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/vasari/engine/containers"
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

// SubmitInfo is one batch of a queue submission: the command buffers to
// execute after every wait semaphore fires, plus the semaphores signaled
// when all of them complete.
type SubmitInfo struct {
	CommandBuffers []*CommandBuffer
	Waits          []SemaphoreWait
	Signals        []*Semaphore
}

// pendingSubmission tracks one in-flight submission until its guard fence
// signals. The guard is the user fence when one was supplied, otherwise an
// internal fence the queue owns and recycles on retirement.
type pendingSubmission struct {
	seq       uint64
	guard     native.FenceHandle
	ownsGuard bool
	userFence *Fence
	buffers   []*CommandBuffer
	sets      []*DescriptorSet
}

// Queue is a portable submission channel. Submissions on one queue complete
// in submission order, which is what lets a single monotonic watermark stand
// in for per-submission completion tracking.
type Queue struct {
	device *Device
	handle native.QueueHandle
	desc   metadata.QueueDesc

	mutex   sync.Mutex
	pending *containers.RingQueue

	submitSeq    atomic.Uint64
	completedSeq atomic.Uint64
}

func newQueue(d *Device, handle native.QueueHandle, desc metadata.QueueDesc) *Queue {
	return &Queue{
		device:  d,
		handle:  handle,
		desc:    desc,
		pending: containers.NewRingQueue(256),
	}
}

func (q *Queue) Kind() metadata.QueueKind { return q.desc.Kind }
func (q *Queue) Family() uint32           { return q.desc.Family }

// Submit hands batches to the device for execution. Every command buffer
// must be a primary in the executable state; all of them move to pending
// atomically, and a failed validation leaves every buffer untouched. The
// optional fence signals when the whole submission completes.
func (q *Queue) Submit(infos []SubmitInfo, fence *Fence) error {
	if q.device.Lost() {
		return core.ErrDeviceLost
	}
	if fence != nil && fence.Signaled() {
		return core.InvalidUsagef("submit with an already signaled fence")
	}

	// Validate everything before mutating any state.
	var buffers []*CommandBuffer
	for _, info := range infos {
		for _, cb := range info.CommandBuffers {
			if err := cb.canSubmit(); err != nil {
				return err
			}
			buffers = append(buffers, cb)
		}
	}

	sub := &pendingSubmission{
		userFence: fence,
		buffers:   buffers,
	}
	if fence != nil {
		sub.guard = fence.handle
	} else {
		guard, err := q.device.backend.CreateFence(false)
		if err != nil {
			return err
		}
		sub.guard = guard
		sub.ownsGuard = true
	}

	batches := make([]native.SubmitBatch, 0, len(infos))
	for _, info := range infos {
		batch := native.SubmitBatch{}
		for _, cb := range info.CommandBuffers {
			batch.CommandLists = append(batch.CommandLists, cb.encoder.Handle())
		}
		for _, w := range info.Waits {
			batch.Waits = append(batch.Waits, native.SemaphoreWait{
				Semaphore: w.Semaphore.handle,
				Stages:    w.Stages,
			})
		}
		for _, s := range info.Signals {
			batch.Signals = append(batch.Signals, s.handle)
		}
		batches = append(batches, batch)
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	start := time.Now()
	if err := q.device.backend.Submit(q.handle, batches, sub.guard); err != nil {
		if sub.ownsGuard {
			q.device.backend.DestroyFence(sub.guard)
		}
		if err == core.ErrDeviceLost {
			q.device.markLost()
		}
		core.LogError("queue submission failed: %s", err.Error())
		return err
	}
	core.MetricsSubmission(time.Since(start))

	// Sequence numbers exist only for accepted submissions, so the counter
	// advances here, under the queue mutex, never before the backend call.
	sub.seq = q.submitSeq.Add(1)
	for _, cb := range buffers {
		cb.markSubmitted(q, sub.seq)
		for _, ds := range cb.boundSets {
			ds.addPending()
			sub.sets = append(sub.sets, ds)
		}
	}

	if err := q.pending.Enqueue(sub); err != nil {
		// The ring is full of retirable entries; make room in place.
		q.reapLocked()
		if err := q.pending.Enqueue(sub); err != nil {
			core.LogWarn("submission tracking queue full, draining queue")
			q.mutex.Unlock()
			_ = q.WaitIdle()
			q.mutex.Lock()
			q.retire(sub)
		}
	}
	return nil
}

// reap retires every leading submission whose guard fence has signaled.
// Completion is in order on a queue, so reaping stops at the first
// unsignaled guard.
func (q *Queue) reap() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.reapLocked()
}

func (q *Queue) reapLocked() {
	for !q.pending.IsEmpty() {
		value, err := q.pending.Peek()
		if err != nil {
			return
		}
		sub := value.(*pendingSubmission)
		if !q.device.backend.FenceSignaled(sub.guard) {
			return
		}
		if _, err := q.pending.Dequeue(); err != nil {
			return
		}
		q.retire(sub)
	}
}

func (q *Queue) retire(sub *pendingSubmission) {
	for _, cb := range sub.buffers {
		cb.retire()
	}
	for _, ds := range sub.sets {
		ds.releasePending()
	}
	if sub.ownsGuard {
		q.device.backend.DestroyFence(sub.guard)
	}
	q.completedSeq.Store(sub.seq)
}

// retired reports whether the submission with the given sequence number has
// provably completed.
func (q *Queue) retired(seq uint64) bool {
	return q.completedSeq.Load() >= seq
}

// guardsFence reports whether an in-flight submission will signal f.
func (q *Queue) guardsFence(f *Fence) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	found := false
	q.pending.Visit(func(value interface{}) {
		if value.(*pendingSubmission).userFence == f {
			found = true
		}
	})
	return found
}

// Present queues image for display after the wait semaphores fire. Surface
// errors (out of date, lost) pass through for the caller's swapchain logic;
// a device loss poisons the device.
func (q *Queue) Present(waits []*Semaphore, image *Image) error {
	if q.device.Lost() {
		return core.ErrDeviceLost
	}
	handles := make([]native.SemaphoreHandle, 0, len(waits))
	for _, s := range waits {
		handles = append(handles, s.handle)
	}
	if err := q.device.backend.Present(q.handle, handles, image.handle); err != nil {
		if err == core.ErrDeviceLost {
			q.device.markLost()
		}
		return err
	}
	return nil
}

// WaitIdle blocks until every submission on this queue has completed, then
// retires them all.
func (q *Queue) WaitIdle() error {
	if q.device.Lost() {
		return core.ErrDeviceLost
	}
	if err := q.device.backend.QueueWaitIdle(q.handle); err != nil {
		if err == core.ErrDeviceLost {
			q.device.markLost()
		}
		return err
	}
	q.reap()
	return nil
}

// submissionWatermarks snapshots, per queue, the most recent submission
// sequence still in flight. Queues with nothing outstanding are omitted.
func (d *Device) submissionWatermarks() map[*Queue]uint64 {
	marks := make(map[*Queue]uint64, len(d.queues))
	for _, q := range d.queues {
		tail := q.submitSeq.Load()
		if tail > q.completedSeq.Load() {
			marks[q] = tail
		}
	}
	return marks
}
