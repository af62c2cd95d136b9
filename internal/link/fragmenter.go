package link

// DefaultFragmentSize is the largest prepare-write payload that fits one
// link-layer packet at the default ATT MTU (23 - opcode - handle - offset).
const DefaultFragmentSize = 18

// EnableNotificationValue is written to the CCCD to turn notifications on.
var EnableNotificationValue = []byte{0x01, 0x00}

// WriteStep is the step of the long-write sequence.
type WriteStep int

const (
	StepEnableNotifications WriteStep = iota
	StepPrepare
	StepExecute
	StepDone
)

func (s WriteStep) String() string {
	switch s {
	case StepEnableNotifications:
		return "enable_notifications"
	case StepPrepare:
		return "prepare"
	case StepExecute:
		return "execute"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// Fragmenter streams a request into the remote control characteristic as a
// sequence of queued (prepare) writes followed by one execute write, so the
// remote only ever acts on the complete request.
//
// The caller issues the write returned by Next, waits for its acknowledgement
// and calls Next again. A buffer of length L takes ceil(L/size)+2 writes.
type Fragmenter struct {
	size    int
	state   WriteStep
	data    []byte
	offset  int
	handles HandleSet
}

// NewFragmenter returns a Fragmenter that never emits fragments larger than size.
// A non-positive size selects DefaultFragmentSize.
func NewFragmenter(size int) *Fragmenter {
	if size <= 0 {
		size = DefaultFragmentSize
	}
	return &Fragmenter{size: size, state: StepDone}
}

// Reset starts a new sequence for data. data is borrowed, not copied.
func (f *Fragmenter) Reset(data []byte, handles HandleSet) {
	f.data = data
	f.offset = 0
	f.handles = handles
	f.state = StepEnableNotifications
}

// Next returns the next write to issue. ok is false once the sequence is done;
// calling Next again after that is a no-op.
func (f *Fragmenter) Next() (w Write, ok bool) {
	switch f.state {
	case StepEnableNotifications:
		f.state = StepPrepare
		return Write{
			Handle: f.handles.NotifyConfig,
			Op:     WriteRequest,
			Data:   EnableNotificationValue,
		}, true

	case StepPrepare:
		if f.offset < len(f.data) {
			n := len(f.data) - f.offset
			if n > f.size {
				n = f.size
			}
			w = Write{
				Handle: f.handles.Control,
				Op:     WritePrepare,
				Offset: f.offset,
				Data:   f.data[f.offset : f.offset+n],
			}
			f.offset += n
			if f.offset >= len(f.data) {
				f.state = StepExecute
			}
			return w, true
		}
		// empty request: nothing to queue
		f.state = StepExecute
		fallthrough

	case StepExecute:
		f.state = StepDone
		return Write{
			Handle: f.handles.Control,
			Op:     WriteExecute,
			Flags:  ExecuteCommit,
		}, true
	}

	return Write{}, false
}

// State returns the current step.
func (f *Fragmenter) State() WriteStep {
	return f.state
}

// Offset returns how many request bytes have been queued so far.
func (f *Fragmenter) Offset() int {
	return f.offset
}

// Size returns the fragment size cap.
func (f *Fragmenter) Size() int {
	return f.size
}

// Done reports whether the execute write has been issued.
func (f *Fragmenter) Done() bool {
	return f.state == StepDone
}

// Writes returns the number of writes a buffer of length n needs.
func (f *Fragmenter) Writes(n int) int {
	return (n+f.size-1)/f.size + 2
}
