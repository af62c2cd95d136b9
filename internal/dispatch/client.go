package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrTransferFailed is returned by Post when the dispatcher accepted the
// message but the transfer did not complete.
var ErrTransferFailed = errors.New("transfer failed")

// Post sends msg to the dispatcher listening on socketPath and waits for the
// outcome. It returns the acknowledgement and, for accepted messages, the
// response body.
func Post(ctx context.Context, socketPath string, msg []byte) (Ack, []byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return 0, nil, fmt.Errorf("connect to dispatcher: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(msg); err != nil {
		return 0, nil, fmt.Errorf("send message: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return 0, nil, fmt.Errorf("close write: %w", err)
		}
	}

	var ackBuf [1]byte
	if _, err := io.ReadFull(conn, ackBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read acknowledgement: %w", err)
	}
	ack := Ack(ackBuf[0])
	if ack != AckAccepted {
		return ack, nil, nil
	}

	result, err := io.ReadAll(conn)
	if err != nil {
		return ack, nil, fmt.Errorf("read result: %w", err)
	}
	if len(result) == 0 {
		return ack, nil, fmt.Errorf("%w: dispatcher closed without a result", ErrTransferFailed)
	}
	if result[0] != ResultOK {
		return ack, nil, fmt.Errorf("%w: %s", ErrTransferFailed, result[1:])
	}
	return ack, result[1:], nil
}
