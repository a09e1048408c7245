package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"time"
)

const (
	alpnProtocol = "axr-link-v1"
	alpnHTTP11   = "http/1.1"

	// exporterLabel names the TLS exporter material QUIC auth tokens are bound to.
	exporterLabel = "axr-auth-v1"
	exporterSize  = 32
)

// GenerateSelfSignedCert creates an ephemeral self-signed TLS certificate
// for the streamer's listeners. The certificate is in-memory only and lives
// for 24 hours.
func GenerateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}

// ServerTLSConfig returns a TLS config for the streamer's QUIC listener.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig returns a TLS config for the client's QUIC dialer.
// InsecureSkipVerify is true because we authenticate via passkey HMAC,
// not via CA certificate chain.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

func webSocketServerTLSConfig(cert tls.Certificate) *tls.Config {
	conf := ServerTLSConfig(cert)
	conf.NextProtos = []string{alpnHTTP11}
	return conf
}

func webSocketClientTLSConfig() *tls.Config {
	conf := ClientTLSConfig()
	conf.NextProtos = []string{alpnHTTP11}
	return conf
}
