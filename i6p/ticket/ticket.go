package ticket

import (
	"bytes"
	"encoding/base32"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/TheusHen/i6p-transfer/i6p/discovery"
	"github.com/TheusHen/i6p-transfer/i6p/identity"
)

var (
	ErrParse   = errors.New("ticket: parse error")
	ErrInvalid = errors.New("ticket: invalid node address")
)

const (
	// Prefix starts every encoded ticket.
	Prefix = "i6pnode"
	// Version is the payload layout written by Encode.
	Version = 1

	checksumSize = 4
)

// Format:
//
//	Prefix || base32(lowercase, unpadded)( CBOR(payload) || blake2b-256(CBOR)[:4] )
var textEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create ticket CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create ticket CBOR decoder mode: %v", err))
	}
}

type payload struct {
	Version uint8    `cbor:"1,keyasint"`
	PeerID  []byte   `cbor:"2,keyasint"`
	Relay   string   `cbor:"3,keyasint,omitempty"`
	Direct  [][]byte `cbor:"4,keyasint,omitempty"`
}

// Ticket is the out-of-band handoff a Provider prints and a Fetcher pastes.
// It is immutable; Addr returns a copy.
type Ticket struct {
	addr discovery.NodeAddr
}

// New wraps a node address after validating it.
func New(addr discovery.NodeAddr) (Ticket, error) {
	if err := addr.Validate(); err != nil {
		return Ticket{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return Ticket{addr: addr.Clone()}, nil
}

func (t Ticket) Addr() discovery.NodeAddr { return t.addr.Clone() }

func (t Ticket) PeerID() identity.PeerID { return t.addr.PeerID }

func (t Ticket) Equal(o Ticket) bool { return t.addr.Equal(o.addr) }

// Encode returns the text form. It is deterministic for a given ticket.
func (t Ticket) Encode() (string, error) {
	p := payload{
		Version: Version,
		PeerID:  t.addr.PeerID[:],
		Relay:   t.addr.RelayURL,
	}
	for _, ap := range t.addr.DirectAddrs {
		b, err := ap.MarshalBinary()
		if err != nil {
			return "", err
		}
		p.Direct = append(p.Direct, b)
	}
	body, err := encMode.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(body)
	raw := append(body, sum[:checksumSize]...)
	return Prefix + strings.ToLower(textEncoding.EncodeToString(raw)), nil
}

// String is Encode for tickets built by New, which always encode.
func (t Ticket) String() string {
	s, err := t.Encode()
	if err != nil {
		return "<invalid ticket>"
	}
	return s
}

// Parse decodes the text form. Every failure wraps ErrParse; a ticket that
// is truncated or has a single altered character never parses.
func Parse(s string) (Ticket, error) {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return Ticket{}, fmt.Errorf("%w: missing %q prefix", ErrParse, Prefix)
	}
	raw, err := textEncoding.DecodeString(strings.ToUpper(rest))
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	// Unused trailing bits or upper-case letters would otherwise decode to the same bytes.
	if strings.ToLower(textEncoding.EncodeToString(raw)) != rest {
		return Ticket{}, fmt.Errorf("%w: non-canonical encoding", ErrParse)
	}
	if len(raw) <= checksumSize {
		return Ticket{}, fmt.Errorf("%w: too short", ErrParse)
	}
	body, check := raw[:len(raw)-checksumSize], raw[len(raw)-checksumSize:]
	sum := blake2b.Sum256(body)
	if !bytes.Equal(sum[:checksumSize], check) {
		return Ticket{}, fmt.Errorf("%w: checksum mismatch", ErrParse)
	}

	var p payload
	if err := decMode.Unmarshal(body, &p); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if p.Version != Version {
		return Ticket{}, fmt.Errorf("%w: unsupported version %d", ErrParse, p.Version)
	}
	id, err := identity.PeerIDFromBytes(p.PeerID)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	addr := discovery.NodeAddr{PeerID: id, RelayURL: p.Relay}
	for _, b := range p.Direct {
		var ap netip.AddrPort
		if err := ap.UnmarshalBinary(b); err != nil {
			return Ticket{}, fmt.Errorf("%w: direct address: %v", ErrParse, err)
		}
		addr.DirectAddrs = append(addr.DirectAddrs, ap)
	}
	if err := addr.Validate(); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return Ticket{addr: addr}, nil
}

func (t Ticket) MarshalText() ([]byte, error) {
	s, err := t.Encode()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (t *Ticket) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
