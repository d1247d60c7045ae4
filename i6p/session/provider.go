package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheusHen/i6p-transfer/i6p/protocol"
	"github.com/TheusHen/i6p-transfer/i6p/transfer"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	// Size is the payload length served to every connection.
	Size         uint64
	CloseTimeout time.Duration
	// GreetingTimeout bounds accepting the stream and reading the greeting.
	GreetingTimeout time.Duration
	GreetingLimit   int
	Logger          *zap.Logger
}

// GreetingTimeout is the default time a peer has to open its stream and
// finish the greeting.
const GreetingTimeout = 10 * time.Second

var ErrGreetingTimeout = errors.New("session: greeting timed out")

// Stats are cumulative provider counters.
type Stats struct {
	Accepted       uint64
	Rejected       uint64
	Completed      uint64
	Failed         uint64
	CloseAnomalies uint64
	CloseTimeouts  uint64
}

// Provider serves the payload to every peer that connects.
type Provider struct {
	ln  transport.Listener
	cfg ProviderConfig
	log *zap.Logger

	state atomic.Uint32
	wg    sync.WaitGroup

	accepted       atomic.Uint64
	rejected       atomic.Uint64
	completed      atomic.Uint64
	failed         atomic.Uint64
	closeAnomalies atomic.Uint64
	closeTimeouts  atomic.Uint64
}

func NewProvider(ln transport.Listener, cfg ProviderConfig) *Provider {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = CloseTimeout
	}
	if cfg.GreetingTimeout <= 0 {
		cfg.GreetingTimeout = GreetingTimeout
	}
	if cfg.GreetingLimit <= 0 {
		cfg.GreetingLimit = protocol.MaxGreetingSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &Provider{ln: ln, cfg: cfg, log: cfg.Logger}
	p.setState(ProviderListening)
	return p
}

func (p *Provider) State() ProviderState { return ProviderState(p.state.Load()) }

func (p *Provider) setState(s ProviderState) {
	if ProviderState(p.state.Swap(uint32(s))) != s {
		p.log.Debug("provider state", zap.Stringer("state", s))
	}
}

func (p *Provider) Stats() Stats {
	return Stats{
		Accepted:       p.accepted.Load(),
		Rejected:       p.rejected.Load(),
		Completed:      p.completed.Load(),
		Failed:         p.failed.Load(),
		CloseAnomalies: p.closeAnomalies.Load(),
		CloseTimeouts:  p.closeTimeouts.Load(),
	}
}

// Serve accepts connections until ctx ends or the listener closes, then waits
// for connections in flight. Failures of single connections never stop it.
func (p *Provider) Serve(ctx context.Context) error {
	p.setState(ProviderAwaitingConnection)
	defer func() {
		p.wg.Wait()
		p.setState(ProviderClosed)
	}()

	for {
		in, err := p.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("session: accept: %w", err)
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(ctx, in)
		}()
	}
}

func (p *Provider) handle(ctx context.Context, in transport.Incoming) {
	log := p.log.With(zap.String("conn", uuid.NewString()), zap.Stringer("remote_addr", in.RemoteAddr()))

	conn, err := in.Accept(ctx)
	if err != nil {
		p.rejected.Add(1)
		log.Warn("incoming connection failed", zap.Error(err))
		return
	}
	p.accepted.Add(1)
	log = log.With(zap.Stringer("peer", conn.RemotePeerID()))
	log.Info("new connection", zap.String("alpn", conn.ALPN()))

	code := protocol.CloseDone
	defer func() {
		_ = conn.CloseWithError(transport.ErrorCode(code), code.String())
	}()

	if err := p.serveConn(ctx, conn, log); err != nil {
		p.failed.Add(1)
		code = closeCodeFor(err)
		log.Error("connection failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
}

func (p *Provider) serveConn(ctx context.Context, conn transport.Conn, log *zap.Logger) error {
	connState := func(s ProviderState) { log.Debug("connection state", zap.Stringer("state", s)) }

	connState(ProviderHandlingGreeting)
	s, msg, err := p.readGreeting(ctx, conn)
	if err != nil {
		return err
	}
	log.Info("received greeting", zap.String("message", msg))

	connState(ProviderSending)
	bs := &closeBoundStream{Stream: s, timeout: p.cfg.CloseTimeout}
	st, err := transfer.Send(ctx, bs, p.cfg.Size)
	if err != nil {
		switch {
		case errors.Is(err, ErrCloseTimeout):
			p.closeTimedOut(log)
			return nil
		// The payload is written; the peer went away before confirming it.
		case errors.Is(err, transfer.ErrStoppedFailed) && conn.CloseReason() != nil:
			p.closeAnomaly(log, conn.CloseReason())
			return nil
		}
		return fmt.Errorf("session: %w", err)
	}
	log.Debug("payload sent",
		zap.Uint64("bytes", st.Bytes),
		zap.Uint64("full_chunks", st.FullChunks),
		zap.Uint64("partial_chunks", st.PartialChunks))

	connState(ProviderAwaitingClose)
	switch err := waitClosedUntil(ctx, conn, bs.deadline); {
	case err == nil:
	case errors.Is(err, ErrCloseTimeout):
		p.closeTimedOut(log)
	default:
		p.closeAnomaly(log, err)
	}
	return nil
}

// readGreeting accepts the first stream and reads the greeting from it within
// GreetingTimeout. A peer that stalls gets its stream cancelled.
func (p *Provider) readGreeting(ctx context.Context, conn transport.Conn) (transport.Stream, string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, p.cfg.GreetingTimeout, ErrGreetingTimeout)
	defer cancel()

	s, err := conn.AcceptStream(ctx)
	if err != nil {
		if context.Cause(ctx) == ErrGreetingTimeout {
			err = ErrGreetingTimeout
		}
		return nil, "", fmt.Errorf("session: accept stream: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		s.CancelRead(transport.ErrorCode(protocol.CloseBadGreeting))
	})
	msg, err := protocol.ReadGreeting(s, p.cfg.GreetingLimit)
	if !stop() && context.Cause(ctx) == ErrGreetingTimeout {
		err = ErrGreetingTimeout
	}
	if err != nil {
		s.CancelRead(transport.ErrorCode(protocol.CloseBadGreeting))
		return nil, "", fmt.Errorf("session: read greeting: %w", err)
	}
	return s, msg, nil
}

func (p *Provider) closeTimedOut(log *zap.Logger) {
	p.closeTimeouts.Add(1)
	log.Warn(fmt.Sprintf("node did not disconnect within %s", p.cfg.CloseTimeout))
}

func (p *Provider) closeAnomaly(log *zap.Logger, reason error) {
	p.closeAnomalies.Add(1)
	log.Warn("node disconnected with an error", zap.Error(reason))
}

func closeCodeFor(err error) protocol.CloseCode {
	switch {
	case errors.Is(err, protocol.ErrGreetingTooLarge), errors.Is(err, protocol.ErrGreetingNotUTF8),
		errors.Is(err, ErrGreetingTimeout):
		return protocol.CloseBadGreeting
	case errors.Is(err, transfer.ErrSendFailed), errors.Is(err, transfer.ErrFinishFailed), errors.Is(err, transfer.ErrStoppedFailed):
		return protocol.CloseSendFailed
	default:
		return protocol.CloseInternalError
	}
}
