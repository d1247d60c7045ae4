package ticket

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/i6p-transfer/i6p/discovery"
	"github.com/TheusHen/i6p-transfer/i6p/identity"
)

func testAddr(t *testing.T) discovery.NodeAddr {
	t.Helper()
	sk, err := identity.GenerateSecretKey()
	require.NoError(t, err)
	return discovery.NodeAddr{
		PeerID:   sk.PeerID(),
		RelayURL: "https://relay.example.org./",
		DirectAddrs: []netip.AddrPort{
			netip.MustParseAddrPort("192.168.1.20:51820"),
			netip.MustParseAddrPort("[2001:db8::7]:51820"),
		},
	}
}

func TestTicketRoundTrip(t *testing.T) {
	cases := map[string]func(a *discovery.NodeAddr){
		"full":      func(a *discovery.NodeAddr) {},
		"no relay":  func(a *discovery.NodeAddr) { a.RelayURL = "" },
		"no direct": func(a *discovery.NodeAddr) { a.DirectAddrs = nil },
		"identity only": func(a *discovery.NodeAddr) {
			a.RelayURL = ""
			a.DirectAddrs = nil
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			addr := testAddr(t)
			mutate(&addr)
			tk, err := New(addr)
			require.NoError(t, err)

			s, err := tk.Encode()
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(s, Prefix))

			again, err := tk.Encode()
			require.NoError(t, err)
			assert.Equal(t, s, again, "encoding must be deterministic")

			parsed, err := Parse(s)
			require.NoError(t, err)
			assert.True(t, parsed.Equal(tk))
			assert.Equal(t, addr.PeerID, parsed.PeerID())
		})
	}
}

func TestTicketRejectsSingleCorruptedCharacter(t *testing.T) {
	tk, err := New(testAddr(t))
	require.NoError(t, err)
	s := tk.String()

	for i := len(Prefix); i < len(s); i++ {
		replacement := byte('a')
		if s[i] == 'a' {
			replacement = 'b'
		}
		corrupted := s[:i] + string(replacement) + s[i+1:]
		_, err := Parse(corrupted)
		require.ErrorIs(t, err, ErrParse, "position %d", i)
	}
}

func TestTicketRejectsTruncation(t *testing.T) {
	tk, err := New(testAddr(t))
	require.NoError(t, err)
	s := tk.String()

	for n := 0; n < len(s); n++ {
		_, err := Parse(s[:n])
		require.ErrorIs(t, err, ErrParse, "length %d", n)
	}
}

func TestTicketRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "hello", Prefix, Prefix + "!!!!", Prefix + strings.ToUpper("mfrggzdf")} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrParse, in)
	}
}

func TestNewValidatesAddress(t *testing.T) {
	_, err := New(discovery.NodeAddr{})
	assert.ErrorIs(t, err, ErrInvalid)

	addr := testAddr(t)
	addr.RelayURL = "not a url"
	_, err = New(addr)
	assert.ErrorIs(t, err, ErrInvalid)

	addr = testAddr(t)
	addr.DirectAddrs = append(addr.DirectAddrs, netip.AddrPort{})
	_, err = New(addr)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTicketIsImmutable(t *testing.T) {
	addr := testAddr(t)
	tk, err := New(addr)
	require.NoError(t, err)

	addr.DirectAddrs[0] = netip.MustParseAddrPort("127.0.0.1:9")
	got := tk.Addr()
	got.DirectAddrs[1] = netip.MustParseAddrPort("127.0.0.1:9")

	assert.Equal(t, netip.MustParseAddrPort("192.168.1.20:51820"), tk.Addr().DirectAddrs[0])
	assert.Equal(t, netip.MustParseAddrPort("[2001:db8::7]:51820"), tk.Addr().DirectAddrs[1])
}

func TestTicketText(t *testing.T) {
	tk, err := New(testAddr(t))
	require.NoError(t, err)

	text, err := tk.MarshalText()
	require.NoError(t, err)

	var out Ticket
	require.NoError(t, out.UnmarshalText(text))
	assert.True(t, out.Equal(tk))
}
