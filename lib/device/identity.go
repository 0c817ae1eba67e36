// Package device implements the virtual-device transport stack: the
// per-device state machine (DeviceSession) and the fleet that owns many of
// them (DeviceFleet), built on lib/transport and lib/coap.
package device

import (
	"crypto/rsa"
	"encoding/hex"

	"github.com/fleetstress/fleetstress/lib/crypto/randbytes"
	"github.com/fleetstress/fleetstress/lib/crypto/rsacipher"
	"github.com/samber/oops"
)

// IdentityByteLen is the length of the opaque device id carried on the wire
// (spec §3).
const IdentityByteLen = 12

// Identity is a device's 12-byte id plus its 1024-bit RSA keypair. It is
// created once and is immutable after creation (spec §3); the private key
// is persisted externally (lib/device/keystore.go) so the same identity
// reconnects across process restarts.
type Identity struct {
	ID   [IdentityByteLen]byte
	Priv *rsa.PrivateKey
}

// NewIdentity mints a fresh device identity: a random 12-byte id and a new
// 1024-bit RSA keypair.
func NewIdentity() (*Identity, error) {
	idBytes, err := randbytes.Bytes(IdentityByteLen)
	if err != nil {
		return nil, oops.Wrapf(err, "device: generate identity id")
	}
	priv, err := rsacipher.Generate1024()
	if err != nil {
		return nil, oops.Wrapf(err, "device: generate identity keypair")
	}
	id := &Identity{Priv: priv}
	copy(id.ID[:], idBytes)
	return id, nil
}

// IDHex renders the device id as 24 lowercase hex characters, the form
// external APIs use (spec §3).
func (id *Identity) IDHex() string {
	return hex.EncodeToString(id.ID[:])
}

// IdentityFromHex parses a 24-hex-char device id into its 12 raw bytes.
func IdentityFromHex(s string) ([IdentityByteLen]byte, error) {
	var out [IdentityByteLen]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, oops.Wrapf(err, "device: decode hex id %q", s)
	}
	if len(b) != IdentityByteLen {
		return out, oops.Errorf("device: hex id %q decodes to %d bytes, want %d", s, len(b), IdentityByteLen)
	}
	copy(out[:], b)
	return out, nil
}

// PublicKeyPEM exports the device's public key as PKCS#8 PEM, for
// out-of-band registration with the cloud API (spec §6).
func (id *Identity) PublicKeyPEM() ([]byte, error) {
	return rsacipher.ExportPublicPEM(&id.Priv.PublicKey)
}

// PublicKeyDER returns the raw PKCS#8 DER bytes of the device's public key,
// the form carried on the wire in handshake step 1 (spec §4.5).
func (id *Identity) PublicKeyDER() ([]byte, error) {
	return rsacipher.ExportPublicDER(&id.Priv.PublicKey)
}

// PrivatePEM exports the device's private key as PKCS#1 PEM, the form
// written to <data>/keys/<deviceIdHex>.pem (spec §6).
func (id *Identity) PrivatePEM() []byte {
	return rsacipher.ExportPrivatePEM(id.Priv)
}
