package groutine

// RingChannel is a bounded channel with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Readers treat C() as a normal <-chan T.
type RingChannel[T any] struct {
	ch chan T
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	for {
		select {
		case rc.ch <- v:
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			dropped = true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}
