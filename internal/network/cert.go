package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// certValidity is how long a freshly minted node certificate lasts.
// Nodes mint a new one on every start, so the window only has to cover
// one process lifetime generously.
const certValidity = 90 * 24 * time.Hour

// selfSignedCert mints the node's TLS identity: a self-signed X.509
// certificate carrying the ed25519 key. Certificates are not chained to
// any authority; peers trust the embedded key, not the certificate.
func selfSignedCert(key ed25519.PrivateKey) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("pick serial:\n%w", err)
	}

	pub := key.Public().(ed25519.PublicKey)
	now := time.Now()

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"paystream"},
			CommonName:   fmt.Sprintf("node-%x", pub[:6]),
		},
		DNSNames:              []string{"paystream"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate:\n%w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

// peerIdentity pulls the remote ed25519 key out of the TLS handshake
// state. Connections without an ed25519 leaf certificate are rejected.
func peerIdentity(state tls.ConnectionState) (ed25519.PublicKey, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("peer sent no certificate")
	}

	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("peer certificate key is %T, not ed25519", state.PeerCertificates[0].PublicKey)
	}

	return pub, nil
}
