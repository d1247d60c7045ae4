package session

import (
	"context"
	"errors"
	"time"

	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

// CloseTimeout bounds how long either side waits for a connection to close.
const CloseTimeout = 3 * time.Second

var ErrCloseTimeout = errors.New("session: close timed out")

// WaitClosed blocks until conn is gone or timeout passes. It returns nil when
// the peer closed the connection as an application, ErrCloseTimeout on
// timeout and the close reason otherwise.
func WaitClosed(ctx context.Context, conn transport.Conn, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = CloseTimeout
	}
	return waitClosedUntil(ctx, conn, time.Now().Add(timeout))
}

func waitClosedUntil(ctx context.Context, conn transport.Conn, deadline time.Time) error {
	ctx, cancel := context.WithDeadlineCause(ctx, deadline, ErrCloseTimeout)
	defer cancel()

	select {
	case <-conn.Done():
		reason := conn.CloseReason()
		if transport.IsRemoteApplicationClose(reason) {
			return nil
		}
		return reason
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// boundedClose runs closeFn but stops waiting for it after timeout.
func boundedClose(ctx context.Context, timeout time.Duration, closeFn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = CloseTimeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrCloseTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- closeFn(ctx) }()
	select {
	case err := <-done:
		if err != nil && context.Cause(ctx) == ErrCloseTimeout {
			return ErrCloseTimeout
		}
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// closeBoundStream starts the close-wait clock when Send begins waiting for the
// peer to stop the stream. Both that wait and the following wait for the
// connection to close share the one deadline.
type closeBoundStream struct {
	transport.Stream
	timeout  time.Duration
	deadline time.Time
}

func (s *closeBoundStream) Stopped(ctx context.Context) error {
	s.deadline = time.Now().Add(s.timeout)
	ctx, cancel := context.WithDeadlineCause(ctx, s.deadline, ErrCloseTimeout)
	defer cancel()

	err := s.Stream.Stopped(ctx)
	if err != nil && context.Cause(ctx) == ErrCloseTimeout {
		return ErrCloseTimeout
	}
	return err
}
