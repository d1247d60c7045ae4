package memory

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/i6p-transfer/i6p/discovery"
	"github.com/TheusHen/i6p-transfer/i6p/identity"
)

func TestStoreAnnounceLookup(t *testing.T) {
	sk, err := identity.GenerateSecretKey()
	require.NoError(t, err)

	s := New()
	addr := discovery.NodeAddr{
		PeerID:      sk.PeerID(),
		RelayURL:    "https://relay.example.org",
		DirectAddrs: []netip.AddrPort{netip.MustParseAddrPort("[2001:db8::1]:4242")},
	}
	require.NoError(t, s.Announce(addr))

	got, err := s.Lookup(sk.PeerID())
	require.NoError(t, err)
	assert.True(t, got.Equal(addr))

	// Mutating the result must not leak into the store.
	got.DirectAddrs[0] = netip.MustParseAddrPort("127.0.0.1:1")
	again, err := s.Lookup(sk.PeerID())
	require.NoError(t, err)
	assert.True(t, again.Equal(addr))
}

func TestStoreMergesHints(t *testing.T) {
	sk, err := identity.GenerateSecretKey()
	require.NoError(t, err)

	s := New()
	first := netip.MustParseAddrPort("10.0.0.1:7000")
	second := netip.MustParseAddrPort("192.168.1.2:7000")
	require.NoError(t, s.Announce(discovery.NodeAddr{PeerID: sk.PeerID(), DirectAddrs: []netip.AddrPort{first}}))
	require.NoError(t, s.Announce(discovery.NodeAddr{PeerID: sk.PeerID(), RelayURL: "https://relay.example.org", DirectAddrs: []netip.AddrPort{second, first}}))

	got, err := s.Lookup(sk.PeerID())
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{first, second}, got.DirectAddrs)
	assert.Equal(t, "https://relay.example.org", got.RelayURL)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreRejectsInvalid(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Announce(discovery.NodeAddr{}), discovery.ErrMissingPeerID)

	_, err := s.Lookup(identity.PeerID{1})
	assert.ErrorIs(t, err, discovery.ErrNotFound)
}
