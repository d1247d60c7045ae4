package i6p

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheusHen/i6p-transfer/i6p/config"
	"github.com/TheusHen/i6p-transfer/i6p/protocol"
	"github.com/TheusHen/i6p-transfer/i6p/session"
	"github.com/TheusHen/i6p-transfer/i6p/ticket"
	"github.com/TheusHen/i6p-transfer/i6p/transport/quic"
)

var ErrNotListening = errors.New("peer is not listening")

// Peer is a bound QUIC endpoint plus the settings to run either side of a
// transfer on it.
type Peer struct {
	cfg config.Config
	ep  *quic.Endpoint
	log *zap.Logger
}

// NewPeer binds an endpoint from cfg that accepts alpns, or only the transfer
// protocol when none are given. A bind failure is returned as is.
func NewPeer(cfg config.Config, log *zap.Logger, alpns ...string) (*Peer, error) {
	if len(alpns) == 0 {
		alpns = []string{protocol.TransferALPN}
	}
	return bind(cfg, log, alpns)
}

// NewDialPeer binds an endpoint that only dials out. It accepts no
// connections, so Provide fails with ErrNotListening.
func NewDialPeer(cfg config.Config, log *zap.Logger) (*Peer, error) {
	return bind(cfg, log, nil)
}

func bind(cfg config.Config, log *zap.Logger, alpns []string) (*Peer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sk, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	relay, err := cfg.Relay()
	if err != nil {
		return nil, err
	}

	log.Debug("provider state", zap.Stringer("state", session.ProviderBinding))
	ep, err := quic.Bind(quic.Options{
		SecretKey: sk,
		ALPNs:     alpns,
		Relay:     relay,
		BindAddr:  cfg.BindAddr,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	return &Peer{cfg: cfg, ep: ep, log: log}, nil
}

func (p *Peer) Endpoint() *quic.Endpoint { return p.ep }

// Ticket describes how to reach this peer.
func (p *Peer) Ticket() (ticket.Ticket, error) {
	addr, err := p.ep.NodeAddr()
	if err != nil {
		return ticket.Ticket{}, err
	}
	return ticket.New(addr)
}

// Provide serves the configured payload size until ctx ends.
func (p *Peer) Provide(ctx context.Context) error {
	ln := p.ep.Listener()
	if ln == nil {
		return ErrNotListening
	}
	size, err := p.cfg.PayloadSize()
	if err != nil {
		return err
	}
	prov := session.NewProvider(ln, session.ProviderConfig{
		Size:         size,
		CloseTimeout: p.cfg.CloseTimeout,
		Logger:       p.log,
	})
	err = prov.Serve(ctx)
	st := prov.Stats()
	p.log.Info("provider stopped",
		zap.Uint64("accepted", st.Accepted),
		zap.Uint64("rejected", st.Rejected),
		zap.Uint64("completed", st.Completed),
		zap.Uint64("failed", st.Failed))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Fetch downloads from the node named by the ticket text. The endpoint is
// closed once the transfer has finished.
func (p *Peer) Fetch(ctx context.Context, ticketText string) (session.Result, error) {
	mode, err := p.cfg.Mode()
	if err != nil {
		return session.Result{}, err
	}
	f := session.NewFetcher(p.ep, session.FetcherConfig{
		ReadMode:     mode,
		CloseTimeout: p.cfg.CloseTimeout,
		Logger:       p.log,
	})
	res, err := f.FetchTicket(ctx, ticketText)
	if err != nil {
		return session.Result{}, fmt.Errorf("fetch: %w", err)
	}
	return res, nil
}

// Close releases the endpoint, waiting at most the configured close timeout.
func (p *Peer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CloseTimeout)
	defer cancel()
	return p.ep.Close(ctx)
}
