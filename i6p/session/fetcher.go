package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TheusHen/i6p-transfer/i6p/identity"
	"github.com/TheusHen/i6p-transfer/i6p/protocol"
	"github.com/TheusHen/i6p-transfer/i6p/report"
	"github.com/TheusHen/i6p-transfer/i6p/ticket"
	"github.com/TheusHen/i6p-transfer/i6p/transfer"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

var (
	ErrConnectFailed  = errors.New("session: failed to connect")
	ErrGreetingFailed = errors.New("session: failed sending greeting")
)

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	ReadMode     transfer.ReadMode
	CloseTimeout time.Duration
	Logger       *zap.Logger
}

// Result is a completed fetch. CloseErr records a close that failed or timed
// out after the payload had already been received.
type Result struct {
	Remote   identity.PeerID
	Report   report.Report
	CloseErr error
}

// Fetcher downloads the payload from one provider. It closes its dialer when
// a fetch completes, so it is meant to be used once.
type Fetcher struct {
	d     transport.Dialer
	cfg   FetcherConfig
	log   *zap.Logger
	state atomic.Uint32
}

func NewFetcher(d transport.Dialer, cfg FetcherConfig) *Fetcher {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = CloseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Fetcher{d: d, cfg: cfg, log: cfg.Logger}
}

func (f *Fetcher) State() FetcherState { return FetcherState(f.state.Load()) }

func (f *Fetcher) setState(s FetcherState) {
	f.state.Store(uint32(s))
	f.log.Debug("fetcher state", zap.Stringer("state", s))
}

// FetchTicket parses s and fetches from the node it names. A bad ticket fails
// before anything is dialed.
func (f *Fetcher) FetchTicket(ctx context.Context, s string) (Result, error) {
	f.setState(FetcherResolving)
	t, err := ticket.Parse(s)
	if err != nil {
		return Result{}, err
	}
	return f.Fetch(ctx, t)
}

func (f *Fetcher) Fetch(ctx context.Context, t ticket.Ticket) (Result, error) {
	log := f.log.With(zap.Stringer("peer", t.PeerID()))

	f.setState(FetcherConnecting)
	start := time.Now()
	conn, err := f.d.Connect(ctx, t.Addr(), protocol.TransferALPN)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	log.Info("connected", zap.Stringer("remote_addr", conn.RemoteAddr()))

	m, err := f.exchange(ctx, conn)
	if err != nil {
		_ = conn.CloseWithError(transport.ErrorCode(protocol.CloseInternalError), err.Error())
		return Result{}, err
	}
	m.Elapsed = time.Since(start)

	f.setState(FetcherReporting)
	res := Result{Remote: conn.RemotePeerID(), Report: report.New(m)}
	log.Info("transfer complete", res.Report.Fields()...)

	f.setState(FetcherClosing)
	_ = conn.CloseWithError(transport.ErrorCode(protocol.CloseDone), protocol.CloseDone.String())
	if err := boundedClose(ctx, f.cfg.CloseTimeout, f.d.Close); err != nil {
		res.CloseErr = err
		log.Warn("failed to close connection", zap.Error(err))
	}
	f.setState(FetcherClosed)
	return res, nil
}

func (f *Fetcher) exchange(ctx context.Context, conn transport.Conn) (transfer.Metrics, error) {
	f.setState(FetcherGreeting)
	s, err := conn.OpenStream(ctx)
	if err != nil {
		return transfer.Metrics{}, fmt.Errorf("session: open stream: %w", err)
	}
	if _, err := io.WriteString(s, protocol.Greeting(f.d.LocalPeerID())); err != nil {
		return transfer.Metrics{}, fmt.Errorf("%w: %w", ErrGreetingFailed, err)
	}
	if err := s.Close(); err != nil {
		return transfer.Metrics{}, fmt.Errorf("%w: %w", ErrGreetingFailed, err)
	}

	f.setState(FetcherDraining)
	m, err := transfer.Drain(s, f.cfg.ReadMode)
	if err != nil {
		return m, fmt.Errorf("session: %w", err)
	}
	return m, nil
}
