package core

import (
	"fmt"
	"sync"
)

// SlotAllocator hands out reusable slot indices paired with a generation
// counter. Releasing a slot bumps its generation, so an index held past its
// release can be detected as stale instead of silently aliasing the next
// owner of the same slot.
type SlotAllocator struct {
	mutex       sync.Mutex
	owners      []interface{}
	generations []uint32
}

func NewSlotAllocator(initialCapacity int) *SlotAllocator {
	if initialCapacity < 0 {
		initialCapacity = 0
	}
	return &SlotAllocator{
		owners:      make([]interface{}, initialCapacity),
		generations: make([]uint32, initialCapacity),
	}
}

// Acquire claims a free slot for owner and returns its index and current
// generation. The table grows when no free slot exists.
func (s *SlotAllocator) Acquire(owner interface{}) (index uint32, generation uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.owners {
		// Existing free spot. Take it.
		if s.owners[i] == nil {
			s.owners[i] = owner
			return uint32(i), s.generations[i]
		}
	}

	// No free slots, push a new one.
	s.owners = append(s.owners, owner)
	s.generations = append(s.generations, 0)
	return uint32(len(s.owners) - 1), 0
}

// Release frees a slot and invalidates every outstanding (index, generation)
// pair that referenced it.
func (s *SlotAllocator) Release(index uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if int(index) >= len(s.owners) {
		return fmt.Errorf("slot index '%d' out of range (max=%d), nothing was done", index, len(s.owners))
	}
	if s.owners[index] == nil {
		return fmt.Errorf("slot index '%d' released twice", index)
	}
	s.owners[index] = nil
	s.generations[index]++
	return nil
}

// Owner resolves an (index, generation) pair to its owner. The second return
// is false when the slot was recycled since the pair was issued.
func (s *SlotAllocator) Owner(index, generation uint32) (interface{}, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if int(index) >= len(s.owners) {
		return nil, false
	}
	if s.generations[index] != generation || s.owners[index] == nil {
		return nil, false
	}
	return s.owners[index], true
}

// Len reports the number of live slots.
func (s *SlotAllocator) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n := 0
	for _, o := range s.owners {
		if o != nil {
			n++
		}
	}
	return n
}
