// Package memory is an in-process transport. Streams are io.Pipe pairs, so a
// write blocks until the other side reads it.
package memory

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/TheusHen/i6p-transfer/i6p/discovery"
	"github.com/TheusHen/i6p-transfer/i6p/identity"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

var errStreamStopped = errors.New("memory: stream stopped by peer")

// Network routes dials to listeners by socket address.
type Network struct {
	mu        sync.Mutex
	listeners map[netip.AddrPort]*Listener
	nextPort  uint16
}

func NewNetwork() *Network {
	return &Network{listeners: map[netip.AddrPort]*Listener{}, nextPort: 40000}
}

func (n *Network) allocAddr() netip.AddrPort {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextPort++
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), n.nextPort)
}

// Listen registers a listener for id that accepts the given protocols.
func (n *Network) Listen(id identity.PeerID, alpns ...string) *Listener {
	l := &Listener{
		net:      n,
		id:       id,
		addr:     n.allocAddr(),
		alpns:    slices.Clone(alpns),
		incoming: make(chan *incoming, 16),
		closed:   make(chan struct{}),
	}
	n.mu.Lock()
	n.listeners[l.addr] = l
	n.mu.Unlock()
	return l
}

func (n *Network) lookup(ap netip.AddrPort) (*Listener, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.listeners[ap]
	return l, ok
}

// Dialer returns a dialer that connects as id.
func (n *Network) Dialer(id identity.PeerID) *Dialer {
	return &Dialer{net: n, id: id, addr: n.allocAddr()}
}

// Listener implements transport.Listener.
type Listener struct {
	net      *Network
	id       identity.PeerID
	addr     netip.AddrPort
	alpns    []string
	incoming chan *incoming

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *Listener) Addr() netip.AddrPort { return l.addr }

// NodeAddr is what a ticket for this listener carries.
func (l *Listener) NodeAddr() discovery.NodeAddr {
	return discovery.NodeAddr{PeerID: l.id, DirectAddrs: []netip.AddrPort{l.addr}}
}

func (l *Listener) Accept(ctx context.Context) (transport.Incoming, error) {
	select {
	case in := <-l.incoming:
		return in, nil
	case <-l.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DialRejected queues a connection attempt whose handshake fails with err.
func (l *Listener) DialRejected(ctx context.Context, err error) error {
	in := &incoming{
		ln:     l,
		remote: net.UDPAddrFromAddrPort(l.net.allocAddr()),
		fail:   err,
		result: make(chan dialResult, 1),
	}
	return l.enqueue(ctx, in)
}

func (l *Listener) enqueue(ctx context.Context, in *incoming) error {
	select {
	case l.incoming <- in:
		return nil
	case <-l.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.net.mu.Lock()
		delete(l.net.listeners, l.addr)
		l.net.mu.Unlock()
	})
	return nil
}

type dialResult struct {
	conn *Conn
	err  error
}

type incoming struct {
	ln     *Listener
	remote net.Addr
	client identity.PeerID
	alpn   string
	fail   error
	result chan dialResult
}

func (in *incoming) RemoteAddr() net.Addr { return in.remote }

func (in *incoming) Accept(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		in.result <- dialResult{err: err}
		return nil, err
	}
	if in.fail != nil {
		in.result <- dialResult{err: in.fail}
		return nil, in.fail
	}
	if !slices.Contains(in.ln.alpns, in.alpn) {
		in.result <- dialResult{err: transport.ErrALPNMismatch}
		return nil, transport.ErrALPNMismatch
	}
	server, client := newConnPair(in.ln.id, net.UDPAddrFromAddrPort(in.ln.addr), in.client, in.remote, in.alpn)
	in.result <- dialResult{conn: client}
	return server, nil
}

// Dialer implements transport.Dialer.
type Dialer struct {
	net  *Network
	id   identity.PeerID
	addr netip.AddrPort

	mu     sync.Mutex
	conns  []*Conn
	closed bool
}

func (d *Dialer) LocalPeerID() identity.PeerID { return d.id }

// Connect tries every direct address in order until one answers.
func (d *Dialer) Connect(ctx context.Context, addr discovery.NodeAddr, alpn string) (transport.Conn, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}
	if len(addr.DirectAddrs) == 0 {
		return nil, transport.ErrNoAddress
	}

	var errs []error
	for _, ap := range addr.DirectAddrs {
		c, err := d.dial(ctx, ap, addr.PeerID, alpn)
		if err == nil {
			return c, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (d *Dialer) dial(ctx context.Context, ap netip.AddrPort, want identity.PeerID, alpn string) (*Conn, error) {
	l, ok := d.net.lookup(ap)
	if !ok {
		return nil, &net.OpError{Op: "dial", Net: "memory", Addr: net.UDPAddrFromAddrPort(ap), Err: errors.New("connection refused")}
	}
	if l.id != want {
		return nil, transport.ErrPeerMismatch
	}
	in := &incoming{
		ln:     l,
		remote: net.UDPAddrFromAddrPort(d.addr),
		client: d.id,
		alpn:   alpn,
		result: make(chan dialResult, 1),
	}
	if err := l.enqueue(ctx, in); err != nil {
		return nil, err
	}
	select {
	case res := <-in.result:
		if res.err != nil {
			return nil, res.err
		}
		d.mu.Lock()
		d.conns = append(d.conns, res.conn)
		d.mu.Unlock()
		return res.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes every connection this dialer opened.
func (d *Dialer) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	conns := d.conns
	d.conns = nil
	d.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseWithError(0, "endpoint closed")
	}
	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

var (
	_ transport.Listener     = (*Listener)(nil)
	_ transport.Incoming     = (*incoming)(nil)
	_ transport.Dialer       = (*Dialer)(nil)
	_ transport.DatagramConn = (*Conn)(nil)
	_ transport.Stream       = (*stream)(nil)
)

// Conn implements transport.DatagramConn.
type Conn struct {
	local, remote         identity.PeerID
	localAddr, remoteAddr net.Addr
	alpn                  string
	peer                  *Conn
	streams               chan *stream
	datagrams             chan []byte

	mu       sync.Mutex
	open     []*stream
	reason   error
	doneOnce sync.Once
	done     chan struct{}
}

func newConnPair(serverID identity.PeerID, serverAddr net.Addr, clientID identity.PeerID, clientAddr net.Addr, alpn string) (server, client *Conn) {
	server = &Conn{
		local: serverID, remote: clientID,
		localAddr: serverAddr, remoteAddr: clientAddr,
		alpn: alpn,
	}
	client = &Conn{
		local: clientID, remote: serverID,
		localAddr: clientAddr, remoteAddr: serverAddr,
		alpn: alpn,
	}
	for _, c := range []*Conn{server, client} {
		c.streams = make(chan *stream, 8)
		c.datagrams = make(chan []byte, 32)
		c.done = make(chan struct{})
	}
	server.peer, client.peer = client, server
	return server, client
}

func (c *Conn) LocalPeerID() identity.PeerID  { return c.local }
func (c *Conn) RemotePeerID() identity.PeerID { return c.remote }
func (c *Conn) RemoteAddr() net.Addr          { return c.remoteAddr }
func (c *Conn) ALPN() string                  { return c.alpn }
func (c *Conn) Done() <-chan struct{}         { return c.done }

func (c *Conn) CloseReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Conn) OpenStream(ctx context.Context) (transport.Stream, error) {
	if err := c.CloseReason(); err != nil {
		return nil, err
	}
	local, remote := newStreamPair(c, c.peer)
	c.track(local)
	c.peer.track(remote)
	select {
	case c.peer.streams <- remote:
		return local, nil
	case <-c.done:
		return nil, c.CloseReason()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	select {
	case s := <-c.streams:
		return s, nil
	case <-c.done:
		return nil, c.CloseReason()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) CloseWithError(code transport.ErrorCode, msg string) error {
	c.shutdown(&transport.ApplicationError{Code: code, Reason: msg})
	c.peer.shutdown(&transport.ApplicationError{Code: code, Reason: msg, Remote: true})
	return nil
}

// Abort tears the connection down without an application close, the way a
// lost path or a reset would.
func (c *Conn) Abort(reason error) {
	c.shutdown(reason)
	c.peer.shutdown(reason)
}

func (c *Conn) SendDatagram(b []byte) error {
	if err := c.CloseReason(); err != nil {
		return err
	}
	select {
	case c.peer.datagrams <- slices.Clone(b):
	default:
		// queue full: dropped, like any unreliable datagram
	}
	return nil
}

func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.datagrams:
		return b, nil
	case <-c.done:
		return nil, c.CloseReason()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) track(s *stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = append(c.open, s)
}

func (c *Conn) shutdown(reason error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		streams := c.open
		c.open = nil
		c.mu.Unlock()
		for _, s := range streams {
			s.abort(reason)
		}
		close(c.done)
	})
}

type stream struct {
	conn *Conn
	peer *stream
	r    *io.PipeReader
	w    *io.PipeWriter

	stopOnce sync.Once
	stopped  chan struct{}
}

func newStreamPair(a, b *Conn) (*stream, *stream) {
	abR, abW := io.Pipe()
	baR, baW := io.Pipe()
	sa := &stream{conn: a, r: baR, w: abW, stopped: make(chan struct{})}
	sb := &stream{conn: b, r: abR, w: baW, stopped: make(chan struct{})}
	sa.peer, sb.peer = sb, sa
	return sa, sb
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		s.peer.markStopped()
	}
	return n, err
}

func (s *stream) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *stream) Close() error { return s.w.Close() }

func (s *stream) CancelRead(transport.ErrorCode) {
	_ = s.r.CloseWithError(errStreamStopped)
	s.peer.markStopped()
}

func (s *stream) Stopped(ctx context.Context) error {
	select {
	case <-s.stopped:
		return nil
	case <-s.conn.done:
		if reason := s.conn.CloseReason(); !transport.IsRemoteApplicationClose(reason) {
			return reason
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stream) markStopped() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *stream) abort(reason error) {
	_ = s.r.CloseWithError(reason)
	_ = s.w.CloseWithError(reason)
}
