package memory

import (
	"slices"
	"sync"

	"github.com/TheusHen/i6p-transfer/i6p/discovery"
	"github.com/TheusHen/i6p-transfer/i6p/identity"
)

// Store is an in-memory discovery resolver.
// Announcing a peer twice merges the hints: the newest relay wins and new direct
// addresses are appended after the known ones.
type Store struct {
	mu    sync.RWMutex
	peers map[identity.PeerID]discovery.NodeAddr
}

func New() *Store {
	return &Store{peers: map[identity.PeerID]discovery.NodeAddr{}}
}

func (s *Store) Announce(addr discovery.NodeAddr) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	known, ok := s.peers[addr.PeerID]
	if !ok {
		s.peers[addr.PeerID] = addr.Clone()
		return nil
	}
	if addr.RelayURL != "" {
		known.RelayURL = addr.RelayURL
	}
	for _, ap := range addr.DirectAddrs {
		if !slices.Contains(known.DirectAddrs, ap) {
			known.DirectAddrs = append(known.DirectAddrs, ap)
		}
	}
	s.peers[addr.PeerID] = known
	return nil
}

func (s *Store) Lookup(peerID identity.PeerID) (discovery.NodeAddr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.peers[peerID]
	if !ok {
		return discovery.NodeAddr{}, discovery.ErrNotFound
	}
	return addr.Clone(), nil
}

func (s *Store) List() ([]discovery.NodeAddr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]discovery.NodeAddr, 0, len(s.peers))
	for _, addr := range s.peers {
		out = append(out, addr.Clone())
	}
	return out, nil
}

var _ discovery.Resolver = (*Store)(nil)
