// Package quic is the quic-go backed transport. Every node is an Endpoint: one
// UDP socket that both accepts and dials, authenticated by the node's Ed25519
// identity through TLS 1.3.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/TheusHen/i6p-transfer/i6p/discovery"
	"github.com/TheusHen/i6p-transfer/i6p/discovery/memory"
	"github.com/TheusHen/i6p-transfer/i6p/identity"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

// DefaultRelayURL is the home relay hint published when no relay is configured.
const DefaultRelayURL = "https://relay.i6p.example./"

// DefaultBindAddr listens on every interface, IPv4 and IPv6, on a random port.
const DefaultBindAddr = ":0"

type relayKind uint8

const (
	relayDefault relayKind = iota
	relayCustom
	relayDisabled
)

// RelayMode chooses which relay URL the endpoint advertises. Connections are
// always attempted over direct addresses; the relay is a hint for peers.
type RelayMode struct {
	kind relayKind
	url  string
}

var (
	RelayDefault  = RelayMode{kind: relayDefault}
	RelayDisabled = RelayMode{kind: relayDisabled}
)

// RelayCustom advertises url instead of the default relay.
func RelayCustom(url string) (RelayMode, error) {
	if err := discovery.ValidateRelayURL(url); err != nil {
		return RelayMode{}, err
	}
	return RelayMode{kind: relayCustom, url: url}, nil
}

// URL is the advertised relay, empty when disabled.
func (m RelayMode) URL() string {
	switch m.kind {
	case relayCustom:
		return m.url
	case relayDisabled:
		return ""
	default:
		return DefaultRelayURL
	}
}

func (m RelayMode) String() string {
	switch m.kind {
	case relayCustom:
		return "custom(" + m.url + ")"
	case relayDisabled:
		return "disabled"
	default:
		return "default"
	}
}

// Options configures Bind.
type Options struct {
	SecretKey identity.SecretKey
	// ALPNs lists the protocols accepted from incoming connections.
	ALPNs    []string
	Relay    RelayMode
	BindAddr string
	Logger   *zap.Logger
	// Config overrides DefaultConfig. Datagrams are always enabled.
	Config *q.Config
}

// DefaultConfig is tuned for one large stream per connection.
func DefaultConfig() *q.Config {
	return &q.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             100,
		InitialConnectionReceiveWindow: 64 * 1024 * 1024,
		MaxConnectionReceiveWindow:     64 * 1024 * 1024,
		InitialStreamReceiveWindow:     16 * 1024 * 1024,
		MaxStreamReceiveWindow:         16 * 1024 * 1024,
		EnableDatagrams:                true,
	}
}

// Endpoint implements transport.Dialer; Listener returns its accepting side.
type Endpoint struct {
	sk    identity.SecretKey
	id    identity.PeerID
	cert  tls.Certificate
	alpns []string
	relay RelayMode
	conf  *q.Config
	log   *zap.Logger

	udp *net.UDPConn
	tr  *q.Transport
	ln  *q.EarlyListener

	// book remembers every address we were handed for a peer.
	book *memory.Store

	mu     sync.Mutex
	conns  map[*q.Conn]struct{}
	closed bool
}

// Bind opens the UDP socket and starts listening. A missing secret key is
// generated.
func Bind(opts Options) (*Endpoint, error) {
	if opts.SecretKey.IsZero() {
		sk, err := identity.GenerateSecretKey()
		if err != nil {
			return nil, err
		}
		opts.SecretKey = sk
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BindAddr == "" {
		opts.BindAddr = DefaultBindAddr
	}
	conf := DefaultConfig()
	if opts.Config != nil {
		conf = opts.Config.Clone()
		conf.EnableDatagrams = true
	}

	cert, err := identityCertificate(opts.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("quic: identity certificate: %w", err)
	}
	laddr, err := net.ResolveUDPAddr("udp", opts.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("quic: bind address %q: %w", opts.BindAddr, err)
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("quic: bind %s: %w", opts.BindAddr, err)
	}

	e := &Endpoint{
		sk:    opts.SecretKey,
		id:    opts.SecretKey.PeerID(),
		cert:  cert,
		alpns: slices.Clone(opts.ALPNs),
		relay: opts.Relay,
		conf:  conf,
		log:   opts.Logger.With(zap.String("node", opts.SecretKey.PeerID().Short())),
		udp:   udp,
		tr:    &q.Transport{Conn: udp},
		book:  memory.New(),
		conns: map[*q.Conn]struct{}{},
	}
	if len(e.alpns) > 0 {
		ln, err := e.tr.ListenEarly(newServerTLSConfig(cert, e.alpns), conf)
		if err != nil {
			_ = e.tr.Close()
			_ = udp.Close()
			return nil, fmt.Errorf("quic: listen: %w", err)
		}
		e.ln = ln
	}
	e.log.Debug("endpoint bound", zap.Stringer("addr", udp.LocalAddr()), zap.Strings("alpns", e.alpns), zap.Stringer("relay", e.relay))
	return e, nil
}

func (e *Endpoint) LocalPeerID() identity.PeerID { return e.id }

func (e *Endpoint) SecretKey() identity.SecretKey { return e.sk }

func (e *Endpoint) LocalAddr() netip.AddrPort {
	ap := e.udp.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// HomeRelay is the relay URL this endpoint advertises, empty when disabled.
func (e *Endpoint) HomeRelay() string { return e.relay.URL() }

// DirectAddresses lists the socket addresses peers can dial. For a wildcard
// bind these are the addresses of every interface that is up, loopback last.
func (e *Endpoint) DirectAddresses() ([]netip.AddrPort, error) {
	local := e.LocalAddr()
	if !local.Addr().IsUnspecified() {
		return []netip.AddrPort{local}, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("quic: list interfaces: %w", err)
	}
	var global, loopback []netip.AddrPort
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			prefix, err := netip.ParsePrefix(a.String())
			if err != nil {
				continue
			}
			addr := prefix.Addr().Unmap()
			if addr.IsLinkLocalUnicast() || addr.IsMulticast() {
				continue
			}
			ap := netip.AddrPortFrom(addr, local.Port())
			if addr.IsLoopback() {
				loopback = append(loopback, ap)
			} else {
				global = append(global, ap)
			}
		}
	}
	out := append(global, loopback...)
	if len(out) == 0 {
		return nil, errors.New("quic: no usable interface addresses")
	}
	return out, nil
}

// NodeAddr is the address to put in a ticket for this endpoint.
func (e *Endpoint) NodeAddr() (discovery.NodeAddr, error) {
	direct, err := e.DirectAddresses()
	if err != nil {
		return discovery.NodeAddr{}, err
	}
	return discovery.NodeAddr{PeerID: e.id, RelayURL: e.HomeRelay(), DirectAddrs: direct}, nil
}

// Listener returns the accepting side. It is nil when no ALPNs were configured.
func (e *Endpoint) Listener() transport.Listener {
	if e.ln == nil {
		return nil
	}
	return &listener{e: e}
}

// Connect dials the node at addr, trying its direct addresses in order. The
// remote certificate must belong to addr.PeerID.
func (e *Endpoint) Connect(ctx context.Context, addr discovery.NodeAddr, alpn string) (transport.Conn, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}
	if err := e.book.Announce(addr); err != nil {
		return nil, err
	}
	known, err := e.book.Lookup(addr.PeerID)
	if err != nil {
		return nil, err
	}
	if len(known.DirectAddrs) == 0 {
		if known.RelayURL != "" {
			return nil, fmt.Errorf("%w: only relay %s is known and relayed connections are not supported", transport.ErrNoAddress, known.RelayURL)
		}
		return nil, transport.ErrNoAddress
	}

	tlsConf := newClientTLSConfig(e.cert, addr.PeerID, alpn)
	var errs []error
	for _, ap := range known.DirectAddrs {
		e.log.Debug("dialing", zap.Stringer("peer", addr.PeerID), zap.Stringer("addr", ap))
		c, err := e.tr.Dial(ctx, net.UDPAddrFromAddrPort(ap), tlsConf, e.conf)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ap, mapHandshakeErr(err)))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		e.track(c)
		return newConn(c, e.id, addr.PeerID), nil
	}
	return nil, errors.Join(errs...)
}

// Close closes the listener and every connection, then waits for the
// connections to finish closing until ctx ends. The socket is released either way.
func (e *Endpoint) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]*q.Conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	if e.ln != nil {
		_ = e.ln.Close()
	}
	for _, c := range conns {
		_ = c.CloseWithError(0, "endpoint closed")
	}

	var waitErr error
	for _, c := range conns {
		select {
		case <-c.Context().Done():
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
		if waitErr != nil {
			break
		}
	}
	if err := e.tr.Close(); err != nil && waitErr == nil {
		waitErr = err
	}
	_ = e.udp.Close()
	e.log.Debug("endpoint closed", zap.Int("connections", len(conns)))
	return waitErr
}

func (e *Endpoint) track(c *q.Conn) {
	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
	go func() {
		<-c.Context().Done()
		e.mu.Lock()
		delete(e.conns, c)
		e.mu.Unlock()
	}()
}

// tlsAlertNoApplicationProtocol is CRYPTO_ERROR carrying TLS alert 120.
const tlsAlertNoApplicationProtocol = q.TransportErrorCode(0x100 + 120)

func mapHandshakeErr(err error) error {
	var te *q.TransportError
	if errors.As(err, &te) && te.ErrorCode == tlsAlertNoApplicationProtocol {
		return fmt.Errorf("%w: %w", transport.ErrALPNMismatch, err)
	}
	return err
}

type listener struct {
	e *Endpoint
}

func (l *listener) Accept(ctx context.Context) (transport.Incoming, error) {
	c, err := l.e.ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, q.ErrServerClosed) || errors.Is(err, q.ErrTransportClosed) {
			return nil, transport.ErrClosed
		}
		return nil, err
	}
	l.e.track(c)
	return &incoming{e: l.e, c: c}, nil
}

func (l *listener) Close() error { return l.e.ln.Close() }

type incoming struct {
	e *Endpoint
	c *q.Conn
}

func (in *incoming) RemoteAddr() net.Addr { return in.c.RemoteAddr() }

// Accept waits for the handshake to finish and checks the negotiated protocol.
func (in *incoming) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-in.c.HandshakeComplete():
	case <-in.c.Context().Done():
		return nil, mapHandshakeErr(context.Cause(in.c.Context()))
	case <-ctx.Done():
		_ = in.c.CloseWithError(0, "handshake abandoned")
		return nil, ctx.Err()
	}
	state := in.c.ConnectionState().TLS
	if !slices.Contains(in.e.alpns, state.NegotiatedProtocol) {
		_ = in.c.CloseWithError(0, "unsupported protocol")
		return nil, fmt.Errorf("%w: %q", transport.ErrALPNMismatch, state.NegotiatedProtocol)
	}
	if len(state.PeerCertificates) == 0 {
		_ = in.c.CloseWithError(0, "missing identity")
		return nil, errBadCertificate
	}
	remote, err := peerIDFromCert(state.PeerCertificates[0])
	if err != nil {
		_ = in.c.CloseWithError(0, "bad identity")
		return nil, err
	}
	return newConn(in.c, in.e.id, remote), nil
}

var (
	_ transport.Dialer   = (*Endpoint)(nil)
	_ transport.Listener = (*listener)(nil)
	_ transport.Incoming = (*incoming)(nil)
)
