package discovery

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"

	"github.com/TheusHen/i6p-transfer/i6p/identity"
)

var (
	ErrNotFound       = errors.New("peer not found")
	ErrMissingPeerID  = errors.New("discovery: node address has no peer id")
	ErrInvalidRelay   = errors.New("discovery: invalid relay url")
	ErrInvalidAddress = errors.New("discovery: invalid direct address")
)

// NodeAddr is everything needed to reach a node: who it is, an optional relay
// it can be reached through, and the socket addresses it observed locally.
type NodeAddr struct {
	PeerID      identity.PeerID
	RelayURL    string
	DirectAddrs []netip.AddrPort
}

// Validate checks that the peer id is set and that every hint is well formed.
func (a NodeAddr) Validate() error {
	if a.PeerID.IsZero() {
		return ErrMissingPeerID
	}
	if a.RelayURL != "" {
		if err := ValidateRelayURL(a.RelayURL); err != nil {
			return err
		}
	}
	for i, ap := range a.DirectAddrs {
		if !ap.IsValid() || ap.Port() == 0 {
			return fmt.Errorf("%w: #%d %q", ErrInvalidAddress, i, ap.String())
		}
	}
	return nil
}

// Clone returns a copy that shares no memory with a.
func (a NodeAddr) Clone() NodeAddr {
	out := a
	out.DirectAddrs = append([]netip.AddrPort(nil), a.DirectAddrs...)
	return out
}

// Equal reports whether both addresses carry the same identity and hints in the same order.
func (a NodeAddr) Equal(b NodeAddr) bool {
	if a.PeerID != b.PeerID || a.RelayURL != b.RelayURL || len(a.DirectAddrs) != len(b.DirectAddrs) {
		return false
	}
	for i := range a.DirectAddrs {
		if a.DirectAddrs[i] != b.DirectAddrs[i] {
			return false
		}
	}
	return true
}

// ValidateRelayURL accepts absolute http(s) URLs with a host.
func ValidateRelayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRelay, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidRelay, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidRelay)
	}
	return nil
}

// Resolver is an address book keyed by peer id.
// Implementations can be backed by DHT, mDNS/DNS-SD, bootstrap lists, etc.
type Resolver interface {
	Announce(addr NodeAddr) error
	Lookup(peerID identity.PeerID) (NodeAddr, error)
	List() ([]NodeAddr, error)
}
