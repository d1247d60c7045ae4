package quic

import (
	"context"
	"errors"
	"net"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/i6p-transfer/i6p/identity"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

type conn struct {
	c             *q.Conn
	local, remote identity.PeerID
}

func newConn(c *q.Conn, local, remote identity.PeerID) *conn {
	return &conn{c: c, local: local, remote: remote}
}

func (c *conn) LocalPeerID() identity.PeerID  { return c.local }
func (c *conn) RemotePeerID() identity.PeerID { return c.remote }
func (c *conn) RemoteAddr() net.Addr          { return c.c.RemoteAddr() }
func (c *conn) ALPN() string                  { return c.c.ConnectionState().TLS.NegotiatedProtocol }
func (c *conn) Done() <-chan struct{}         { return c.c.Context().Done() }

func (c *conn) CloseReason() error {
	select {
	case <-c.c.Context().Done():
		return closeReason(context.Cause(c.c.Context()))
	default:
		return nil
	}
}

func (c *conn) OpenStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.c.OpenStreamSync(ctx)
	if err != nil {
		return nil, closeReason(err)
	}
	return &stream{s: s, c: c}, nil
}

func (c *conn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.c.AcceptStream(ctx)
	if err != nil {
		return nil, closeReason(err)
	}
	return &stream{s: s, c: c}, nil
}

func (c *conn) CloseWithError(code transport.ErrorCode, msg string) error {
	return c.c.CloseWithError(q.ApplicationErrorCode(code), msg)
}

func (c *conn) SendDatagram(b []byte) error { return c.c.SendDatagram(b) }

func (c *conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	b, err := c.c.ReceiveDatagram(ctx)
	if err != nil {
		return nil, closeReason(err)
	}
	return b, nil
}

// closeReason turns quic-go's application close into transport.ApplicationError
// and passes anything else through.
func closeReason(err error) error {
	var appErr *q.ApplicationError
	if errors.As(err, &appErr) {
		return &transport.ApplicationError{
			Code:   transport.ErrorCode(appErr.ErrorCode),
			Reason: appErr.ErrorMessage,
			Remote: appErr.Remote,
		}
	}
	return err
}

type stream struct {
	s *q.Stream
	c *conn
}

func (s *stream) Read(p []byte) (int, error)  { return s.s.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.s.Write(p) }
func (s *stream) Close() error                { return s.s.Close() }

func (s *stream) CancelRead(code transport.ErrorCode) {
	s.s.CancelRead(q.StreamErrorCode(code))
}

// Stopped waits for the connection to end. quic-go does not report when the
// peer has acknowledged a finished stream, so the peer closing the connection
// after reading everything is the signal; an idle timeout ends the wait too.
func (s *stream) Stopped(ctx context.Context) error {
	select {
	case <-s.c.Done():
		if reason := s.c.CloseReason(); !transport.IsRemoteApplicationClose(reason) {
			return reason
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ transport.DatagramConn = (*conn)(nil)
	_ transport.Stream       = (*stream)(nil)
)
