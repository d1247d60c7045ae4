package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheusHen/i6p-transfer/i6p/protocol"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

// EchoDatagrams answers every datagram on conn with protocol.EchoReply until
// the connection ends. A peer closing the connection is not an error.
func EchoDatagrams(ctx context.Context, conn transport.DatagramConn, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	reply := []byte(protocol.EchoReply(conn.LocalPeerID()))
	for {
		b, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil || transport.IsRemoteApplicationClose(err) {
				return nil
			}
			return err
		}
		if !utf8.Valid(b) {
			return protocol.ErrGreetingNotUTF8
		}
		log.Info("received datagram", zap.String("message", string(b)))
		if err := conn.SendDatagram(reply); err != nil {
			return fmt.Errorf("session: send datagram: %w", err)
		}
	}
}

// SayHello sends the greeting as a datagram and returns the first reply.
func SayHello(ctx context.Context, conn transport.DatagramConn) (string, error) {
	if err := conn.SendDatagram([]byte(protocol.Greeting(conn.LocalPeerID()))); err != nil {
		return "", fmt.Errorf("session: send datagram: %w", err)
	}
	b, err := conn.ReceiveDatagram(ctx)
	if err != nil {
		return "", fmt.Errorf("session: receive datagram: %w", err)
	}
	if !utf8.Valid(b) {
		return "", protocol.ErrGreetingNotUTF8
	}
	return string(b), nil
}

// ServeEcho accepts connections from ln and echoes datagrams on each until
// ctx ends or the listener closes.
func ServeEcho(ctx context.Context, ln transport.Listener, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		in, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("session: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			clog := log.With(zap.String("conn", uuid.NewString()), zap.Stringer("remote_addr", in.RemoteAddr()))
			conn, err := in.Accept(ctx)
			if err != nil {
				clog.Warn("incoming connection failed", zap.Error(err))
				return
			}
			defer conn.CloseWithError(transport.ErrorCode(protocol.CloseDone), "bye")

			dc, ok := conn.(transport.DatagramConn)
			if !ok {
				clog.Warn("connection does not support datagrams")
				return
			}
			clog.Info("new (unreliable) connection", zap.Stringer("peer", conn.RemotePeerID()), zap.String("alpn", conn.ALPN()))
			if err := EchoDatagrams(ctx, dc, clog); err != nil {
				clog.Warn("echo stopped", zap.Error(err))
			}
		}()
	}
}
