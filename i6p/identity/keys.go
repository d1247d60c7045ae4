package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var ErrInvalidSecretKey = errors.New("identity: invalid Ed25519 secret key")

// SecretKey is the Ed25519 key a node authenticates with.
// Its public half is the node's PeerID.
type SecretKey struct {
	priv ed25519.PrivateKey
}

func GenerateSecretKey() (SecretKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SecretKey{}, err
	}
	return SecretKey{priv: priv}, nil
}

// SecretKeyFromSeed derives a key from a 32-byte Ed25519 seed.
func SecretKeyFromSeed(seed []byte) (SecretKey, error) {
	if len(seed) != ed25519.SeedSize {
		return SecretKey{}, ErrInvalidSecretKey
	}
	return SecretKey{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// ParseSecretKeyHex parses the hex form of a 32-byte seed.
func ParseSecretKeyHex(s string) (SecretKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return SecretKey{}, ErrInvalidSecretKey
	}
	return SecretKeyFromSeed(b)
}

func (k SecretKey) IsZero() bool { return len(k.priv) == 0 }

func (k SecretKey) PeerID() PeerID {
	return PeerIDFromPublicKey(k.priv.Public().(ed25519.PublicKey))
}

// PrivateKey returns the key in the form crypto/tls and crypto/x509 expect.
func (k SecretKey) PrivateKey() ed25519.PrivateKey { return k.priv }

// String returns the hex seed. Handle with care.
func (k SecretKey) String() string {
	return hex.EncodeToString(k.priv.Seed())
}
