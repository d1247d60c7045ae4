package quic

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/TheusHen/i6p-transfer/i6p/identity"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
)

// serverName is sent in the ClientHello; certificates are never checked against it.
const serverName = "i6p"

var errBadCertificate = errors.New("quic: peer certificate does not carry an ed25519 identity")

// identityCertificate self-signs a certificate for the node's own key, so the
// TLS handshake proves possession of the identity.
func identityCertificate(sk identity.SecretKey) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}
	id := sk.PeerID()
	tpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: id.Short(),
		},
		NotBefore: time.Now().Add(-1 * time.Hour),
		NotAfter:  time.Now().Add(30 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tpl, &tpl, id.PublicKey(), sk.PrivateKey())
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  sk.PrivateKey(),
	}, nil
}

// peerIDFromRaw extracts the identity from a single self-signed certificate.
func peerIDFromRaw(rawCerts [][]byte) (identity.PeerID, error) {
	if len(rawCerts) != 1 {
		return identity.PeerID{}, fmt.Errorf("%w: got %d certificates", errBadCertificate, len(rawCerts))
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return identity.PeerID{}, fmt.Errorf("%w: %v", errBadCertificate, err)
	}
	return peerIDFromCert(cert)
}

func peerIDFromCert(cert *x509.Certificate) (identity.PeerID, error) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok || len(pub) != ed25519.PublicKeySize {
		return identity.PeerID{}, errBadCertificate
	}
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return identity.PeerID{}, fmt.Errorf("%w: %v", errBadCertificate, err)
	}
	return identity.PeerIDFromPublicKey(pub), nil
}

func newServerTLSConfig(cert tls.Certificate, alpns []string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   alpns,
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			_, err := peerIDFromRaw(rawCerts)
			return err
		},
	}
}

// newClientTLSConfig only accepts a server whose certificate key is want.
func newClientTLSConfig(cert tls.Certificate, want identity.PeerID, alpn string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{alpn},
		ServerName:   serverName,
		// There is no PKI; the pinned identity below replaces chain verification.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			got, err := peerIDFromRaw(rawCerts)
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("%w: expected %s, got %s", transport.ErrPeerMismatch, want.Short(), got.Short())
			}
			return nil
		},
	}
}
