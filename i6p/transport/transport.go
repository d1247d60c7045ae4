// Package transport defines the connection abstraction the transfer session is
// written against. The QUIC endpoint in transport/quic is the production
// implementation; transport/memory is an in-process one for tests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/TheusHen/i6p-transfer/i6p/discovery"
	"github.com/TheusHen/i6p-transfer/i6p/identity"
)

var (
	ErrClosed       = errors.New("transport: closed")
	ErrALPNMismatch = errors.New("transport: no common application protocol")
	ErrPeerMismatch = errors.New("transport: remote identity does not match")
	ErrNoAddress    = errors.New("transport: node address has no usable direct address")
	ErrNoDatagrams  = errors.New("transport: datagrams not supported")
)

// ErrorCode is an application-defined code sent when closing a connection.
type ErrorCode uint64

// ApplicationError is the close reason of a connection that was closed by an
// application, either ours (Remote false) or the peer's.
type ApplicationError struct {
	Code   ErrorCode
	Reason string
	Remote bool
}

func (e *ApplicationError) Error() string {
	side := "local"
	if e.Remote {
		side = "remote"
	}
	if e.Reason == "" {
		return fmt.Sprintf("application closed (%s, code %d)", side, e.Code)
	}
	return fmt.Sprintf("application closed (%s, code %d): %s", side, e.Code, e.Reason)
}

// IsRemoteApplicationClose reports whether err says the peer closed the
// connection deliberately.
func IsRemoteApplicationClose(err error) bool {
	var appErr *ApplicationError
	return errors.As(err, &appErr) && appErr.Remote
}

// Stream is one bidirectional stream.
// Close finishes the send side; the receive side stays readable.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
	// CancelRead tells the peer we will not read any more data.
	CancelRead(code ErrorCode)
	// Stopped blocks until the peer is done with what we sent, or ctx ends.
	Stopped(ctx context.Context) error
}

// Conn is an established, authenticated connection.
type Conn interface {
	LocalPeerID() identity.PeerID
	RemotePeerID() identity.PeerID
	RemoteAddr() net.Addr
	ALPN() string

	OpenStream(ctx context.Context) (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)

	// Done is closed once the connection is gone for any reason.
	Done() <-chan struct{}
	// CloseReason is nil while the connection is open.
	CloseReason() error
	CloseWithError(code ErrorCode, msg string) error
}

// DatagramConn is a Conn that can also exchange unreliable datagrams.
type DatagramConn interface {
	Conn
	SendDatagram(b []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
}

// Incoming is a connection attempt that has not completed its handshake yet.
type Incoming interface {
	RemoteAddr() net.Addr
	// Accept completes the handshake. A failure only concerns this attempt.
	Accept(ctx context.Context) (Conn, error)
}

// Listener yields connection attempts until closed.
type Listener interface {
	Accept(ctx context.Context) (Incoming, error)
	Close() error
}

// Dialer opens connections to nodes and owns them until Close.
type Dialer interface {
	LocalPeerID() identity.PeerID
	Connect(ctx context.Context, addr discovery.NodeAddr, alpn string) (Conn, error)
	// Close closes every connection gracefully and waits for them to go away
	// until ctx ends.
	Close(ctx context.Context) error
}
