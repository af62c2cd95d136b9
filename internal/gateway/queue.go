package gateway

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidOffset is returned when a prepared fragment does not continue the
// bytes already queued for its handle.
var ErrInvalidOffset = errors.New("invalid prepared write offset")

// ErrQueueFull is returned when a prepared value would exceed the queue limit.
var ErrQueueFull = errors.New("prepare queue full")

// PrepareQueue reassembles prepared writes per attribute handle until they are
// executed or cancelled. It is not safe for concurrent use.
type PrepareQueue struct {
	limit  int
	values map[uint16][]byte
}

// NewPrepareQueue returns a queue holding at most limit bytes per handle.
// A non-positive limit means no limit.
func NewPrepareQueue(limit int) *PrepareQueue {
	return &PrepareQueue{
		limit:  limit,
		values: make(map[uint16][]byte),
	}
}

// Prepare queues data at offset for handle. Offsets must be contiguous.
func (q *PrepareQueue) Prepare(handle uint16, offset int, data []byte) error {
	queued := q.values[handle]
	if offset != len(queued) {
		return fmt.Errorf("%w: handle 0x%04x expected %d, got %d", ErrInvalidOffset, handle, len(queued), offset)
	}
	if q.limit > 0 && len(queued)+len(data) > q.limit {
		return fmt.Errorf("%w: handle 0x%04x would hold %d bytes (limit %d)", ErrQueueFull, handle, len(queued)+len(data), q.limit)
	}
	q.values[handle] = append(queued, data...)
	return nil
}

// Commit returns the reassembled value of every queued handle, in handle
// order, and empties the queue.
func (q *PrepareQueue) Commit() []Value {
	handles := make([]uint16, 0, len(q.values))
	for h := range q.values {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	out := make([]Value, 0, len(handles))
	for _, h := range handles {
		out = append(out, Value{Handle: h, Data: q.values[h]})
	}
	q.Cancel()
	return out
}

// Cancel drops everything queued.
func (q *PrepareQueue) Cancel() {
	q.values = make(map[uint16][]byte)
}

// Len returns the number of bytes queued for handle.
func (q *PrepareQueue) Len(handle uint16) int {
	return len(q.values[handle])
}

// Value is a committed attribute value.
type Value struct {
	Handle uint16
	Data   []byte
}

// ErrInvalidHandle is returned for writes to attributes that do not accept them.
var ErrInvalidHandle = errors.New("invalid attribute handle")
