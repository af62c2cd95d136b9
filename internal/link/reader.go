package link

const (
	// DefaultPageSize is the largest value a single read returns at the default
	// ATT MTU. A page of exactly this size means more data may follow.
	DefaultPageSize = 22

	// DefaultBodyCapacity bounds the response accumulator.
	DefaultBodyCapacity = 512
)

// Reader drains an attribute of unknown length by repeated offset reads.
// A page shorter than the page size (including an empty one) ends the body.
type Reader struct {
	buf      []byte
	total    int
	pageSize int
	reads    int
	overruns int
}

// NewReader returns a Reader with a fixed-capacity accumulator.
// Non-positive arguments select the defaults.
func NewReader(capacity, pageSize int) *Reader {
	if capacity <= 0 {
		capacity = DefaultBodyCapacity
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Reader{
		buf:      make([]byte, capacity),
		pageSize: pageSize,
	}
}

// Reset discards accumulated bytes and counters.
func (r *Reader) Reset() {
	clear(r.buf)
	r.total = 0
	r.reads = 0
	r.overruns = 0
}

// Accept stores one page read at offset. It returns the offset of the next read
// and more=true while the body is not exhausted.
//
// A page that would land outside the accumulator is dropped and counted as an
// overrun; the read sequence continues regardless.
func (r *Reader) Accept(offset int, page []byte) (next int, more bool) {
	r.reads++
	n := len(page)

	if r.fits(offset, n) {
		copy(r.buf[offset:offset+n], page)
		r.total += n
	} else {
		r.overruns++
	}

	if n == r.pageSize {
		return offset + n, true
	}
	return 0, false
}

func (r *Reader) fits(offset, n int) bool {
	capacity := len(r.buf)
	return offset >= 0 && offset <= capacity && n <= capacity-offset && n <= capacity-r.total
}

// Body returns a copy of the accumulated bytes.
func (r *Reader) Body() []byte {
	out := make([]byte, r.total)
	copy(out, r.buf[:r.total])
	return out
}

// Len returns the number of accumulated bytes.
func (r *Reader) Len() int {
	return r.total
}

// Cap returns the accumulator capacity.
func (r *Reader) Cap() int {
	return len(r.buf)
}

// Reads returns how many pages were accepted since the last Reset.
func (r *Reader) Reads() int {
	return r.reads
}

// Overruns returns how many pages were dropped for falling outside the accumulator.
func (r *Reader) Overruns() int {
	return r.overruns
}
