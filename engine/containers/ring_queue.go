package containers

import "errors"

var ErrQueueFull = errors.New("queue is full")
var ErrQueueEmpty = errors.New("queue is empty")

// RingQueue is a fixed-capacity FIFO. The deferred-destruction collector and
// the per-queue pending submission lists use it so steady-state frames do not
// allocate.
type RingQueue struct {
	data       []interface{}
	size       int
	readIndex  int
	writeIndex int
	count      int
}

func NewRingQueue(size int) *RingQueue {
	return &RingQueue{
		data: make([]interface{}, size),
		size: size,
	}
}

// Enqueue adds an element to the back of the queue.
func (rq *RingQueue) Enqueue(value interface{}) error {
	if rq.IsFull() {
		return ErrQueueFull
	}
	rq.data[rq.writeIndex] = value
	rq.writeIndex = (rq.writeIndex + 1) % rq.size
	rq.count++
	return nil
}

// Dequeue removes and returns the front element.
func (rq *RingQueue) Dequeue() (interface{}, error) {
	if rq.IsEmpty() {
		return nil, ErrQueueEmpty
	}
	value := rq.data[rq.readIndex]
	rq.data[rq.readIndex] = nil
	rq.readIndex = (rq.readIndex + 1) % rq.size
	rq.count--
	return value, nil
}

// Peek returns the front element without removing it.
func (rq *RingQueue) Peek() (interface{}, error) {
	if rq.IsEmpty() {
		return nil, ErrQueueEmpty
	}
	return rq.data[rq.readIndex], nil
}

// Filter makes one pass over the queue, dropping every element for which
// keep returns false. Relative order of the kept elements is preserved.
func (rq *RingQueue) Filter(keep func(interface{}) bool) {
	for n := rq.count; n > 0; n-- {
		value, err := rq.Dequeue()
		if err != nil {
			return
		}
		if keep(value) {
			// Capacity cannot be exceeded here, we just made room.
			_ = rq.Enqueue(value)
		}
	}
}

// Visit calls fn for every element, front to back, without mutating the
// queue.
func (rq *RingQueue) Visit(fn func(interface{})) {
	for i := 0; i < rq.count; i++ {
		fn(rq.data[(rq.readIndex+i)%rq.size])
	}
}

func (rq *RingQueue) Len() int {
	return rq.count
}

func (rq *RingQueue) IsEmpty() bool {
	return rq.count == 0
}

func (rq *RingQueue) IsFull() bool {
	return rq.count == rq.size
}
