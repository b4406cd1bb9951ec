package server

import (
	"crypto/tls"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/dreamware/ringdb/internal/apperr"
)

// loadIdentity reads a PKCS#12 bundle (private key + leaf certificate)
// from path, decrypting it with password, and builds a server-side
// tls.Config for the external client listener, per spec.md §6's "TLS
// identity is a PKCS#12 file read at startup".
func loadIdentity(path, password string) (*tls.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindServer, err, "read identity file %q", path)
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServer, err, "decode PKCS#12 identity")
	}
	certificate := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientAuth:   tls.NoClientCert,
	}, nil
}
