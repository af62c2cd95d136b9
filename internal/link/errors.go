package link

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"
)

// ErrorKind classifies a transfer failure.
type ErrorKind string

const (
	DiscoveryFailed ErrorKind = "discovery_failed"
	WriteRejected   ErrorKind = "write_rejected"
	ReadRejected    ErrorKind = "read_rejected"
	BufferOverrun   ErrorKind = "buffer_overrun"
	Aborted         ErrorKind = "aborted"
)

// TransferError describes why a transfer did not complete.
type TransferError struct {
	Kind   ErrorKind
	Op     string       // protocol step that failed, e.g. "prepare" or "discover characteristics"
	Status ble.ATTError // remote status, ble.ErrSuccess when not applicable
	Msg    string
}

// Error implements the error interface
func (e *TransferError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Op)
	}
	if e.Status != ble.ErrSuccess {
		msg = fmt.Sprintf("%s (status 0x%02x)", msg, byte(e.Status))
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	return msg
}

// Is allows errors.Is to compare TransferError values by Kind
func (e *TransferError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransferError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrDiscoveryFailed = &TransferError{Kind: DiscoveryFailed}
	ErrWriteRejected   = &TransferError{Kind: WriteRejected}
	ErrReadRejected    = &TransferError{Kind: ReadRejected}
	ErrBufferOverrun   = &TransferError{Kind: BufferOverrun}
	ErrAborted         = &TransferError{Kind: Aborted}
)

// ErrBusy is returned by Session.Start while another transfer is in flight.
var ErrBusy = errors.New("transfer already in progress")

// IsKind reports whether err is a TransferError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var terr *TransferError
	if errors.As(err, &terr) {
		return terr.Kind == kind
	}
	return false
}
