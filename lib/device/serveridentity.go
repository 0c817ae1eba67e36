package device

import (
	"crypto/rsa"

	"github.com/fleetstress/fleetstress/lib/crypto/rsacipher"
	"github.com/samber/oops"
)

// ServerIdentity is the server's RSA public key (spec §3). It is loaded
// once at process startup and shared, read-only, by every DeviceSession —
// no hidden singleton: it is passed into each session constructor
// explicitly (spec §9 design note).
type ServerIdentity struct {
	Pub *rsa.PublicKey
}

// LoadServerIdentity parses a PKCS#8 server public key PEM.
func LoadServerIdentity(pemBytes []byte) (*ServerIdentity, error) {
	pub, err := rsacipher.LoadPublicPEM(pemBytes)
	if err != nil {
		return nil, oops.Wrapf(err, "device: load server public key")
	}
	return &ServerIdentity{Pub: pub}, nil
}
