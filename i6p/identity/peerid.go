package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
)

var ErrInvalidPeerID = errors.New("identity: invalid PeerID")

// PeerID is the stable public identifier of a node: its raw Ed25519 public key.
type PeerID [ed25519.PublicKeySize]byte

func PeerIDFromPublicKey(publicKey ed25519.PublicKey) PeerID {
	var id PeerID
	copy(id[:], publicKey)
	return id
}

// PeerIDFromBytes validates the length of b before converting it.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != ed25519.PublicKeySize {
		return PeerID{}, ErrInvalidPeerID
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

func ParsePeerIDHex(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, ErrInvalidPeerID
	}
	return PeerIDFromBytes(b)
}

func (id PeerID) IsZero() bool { return id == PeerID{} }

func (id PeerID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(append([]byte(nil), id[:]...))
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is the first 10 hex characters, for log lines.
func (id PeerID) Short() string {
	return id.String()[:10]
}

func (id PeerID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *PeerID) UnmarshalText(b []byte) error {
	parsed, err := ParsePeerIDHex(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
