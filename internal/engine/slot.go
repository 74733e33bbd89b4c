package engine

// SlotState is the lifecycle of a lazily created engine handle.
type SlotState int

const (
	SlotAbsent SlotState = iota
	SlotInitializing
	SlotReady
)

func (s SlotState) String() string {
	switch s {
	case SlotInitializing:
		return "initializing"
	case SlotReady:
		return "ready"
	default:
		return "absent"
	}
}

// Slot holds at most one lazily created handle. It is not synchronised; the
// owning session guards it with its own lock.
type Slot[T interface{ Release() }] struct {
	state SlotState
	value T
}

func (s *Slot[T]) State() SlotState { return s.state }

// Get returns the handle when the slot is ready.
func (s *Slot[T]) Get() (T, bool) {
	if s.state != SlotReady {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Begin moves an absent slot to initializing. It reports false if the slot
// is already initializing or ready.
func (s *Slot[T]) Begin() bool {
	if s.state != SlotAbsent {
		return false
	}
	s.state = SlotInitializing
	return true
}

// Complete finishes a Begin. On error the slot returns to absent. If the slot
// was released while initializing, v is released and Complete reports false.
func (s *Slot[T]) Complete(v T, err error) bool {
	if err != nil {
		if s.state == SlotInitializing {
			s.state = SlotAbsent
		}
		return false
	}
	if s.state != SlotInitializing {
		v.Release()
		return false
	}
	s.value = v
	s.state = SlotReady
	return true
}

// Release frees a ready handle and empties the slot.
func (s *Slot[T]) Release() {
	if s.state == SlotReady {
		s.value.Release()
	}
	var zero T
	s.value = zero
	s.state = SlotAbsent
}
