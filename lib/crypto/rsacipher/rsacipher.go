// Package rsacipher wraps crypto/rsa for the two roles this system needs:
// device identities (1024-bit) and the server identity (2048-bit or larger).
// Unlike the teacher's fixed-size RSA2048PrivateKey array types, key size
// here is whatever the PEM/DER actually contains — a single process holds
// both a small device key and a large server key at once.
package rsacipher

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"math/big"

	"github.com/fleetstress/fleetstress/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetFleetLogger()

// PublicExponent is fixed at 65537 for all keys this package generates.
const PublicExponent = 65537

// Generate1024 creates a fresh 1024-bit RSA keypair for a device identity.
func Generate1024() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, oops.Wrapf(err, "rsacipher: generate 1024-bit key")
	}
	log.Debug("generated 1024-bit device RSA keypair")
	return key, nil
}

// LoadPrivatePEM parses a PKCS#1 RSA private key PEM block.
func LoadPrivatePEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, oops.Errorf("rsacipher: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.Wrapf(err, "rsacipher: parse PKCS#1 private key")
	}
	return key, nil
}

// LoadPublicPEM parses a PKCS#8 RSA public key PEM block.
func LoadPublicPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, oops.Errorf("rsacipher: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, oops.Wrapf(err, "rsacipher: parse PKCS#8 public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, oops.Errorf("rsacipher: PEM block is not an RSA public key")
	}
	return rsaPub, nil
}

// ExportPrivatePEM encodes a private key as PKCS#1 PEM.
func ExportPrivatePEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// ExportPublicPEM encodes a public key as PKCS#8 PEM.
func ExportPublicPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := ExportPublicDER(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}), nil
}

// ExportPublicDER returns the raw PKCS#8 DER bytes of a public key — the
// form carried on the wire in handshake step 1 (spec §4.5).
func ExportPublicDER(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, oops.Wrapf(err, "rsacipher: marshal PKCS#8 public key")
	}
	return der, nil
}

// ParsePublicDER parses the raw PKCS#8 DER bytes carried on the wire.
func ParsePublicDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, oops.Wrapf(err, "rsacipher: parse PKCS#8 DER public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, oops.Errorf("rsacipher: DER block is not an RSA public key")
	}
	return rsaPub, nil
}

// EncryptPublic encrypts buf to pub using PKCS#1 v1.5 padding.
func EncryptPublic(pub *rsa.PublicKey, buf []byte) ([]byte, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, buf)
	if err != nil {
		return nil, oops.Wrapf(err, "rsacipher: PKCS#1v15 encrypt")
	}
	return ct, nil
}

// DecryptPrivate decrypts ct with priv using PKCS#1 v1.5 padding. Any error
// here is a cryptographic-integrity failure per spec §4.6 — fatal to the
// session, never retried with the same material.
func DecryptPrivate(priv *rsa.PrivateKey, ct []byte) ([]byte, error) {
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ct)
	if err != nil {
		return nil, oops.Wrapf(err, "rsacipher: PKCS#1v15 decrypt")
	}
	return pt, nil
}

// EncryptPrivate "signs" buf by RSA-encrypting it with the private key, the
// scheme this system's server uses in place of a signature scheme (spec
// §4.5 step 2): the device verifies by DecryptPublic-ing with the server's
// public key and comparing against a locally computed HMAC. Go's crypto/rsa
// only exposes signature verification via hashed SignPKCS1v15/VerifyPKCS1v15,
// which hash-wraps the payload; this protocol signs a raw 20-byte HMAC
// directly, so the type-1 PKCS#1 padding and modular exponentiation are done
// by hand here, matching what the server side (outside this module) does.
func EncryptPrivate(priv *rsa.PrivateKey, buf []byte) ([]byte, error) {
	k := priv.Size()
	em, err := pkcs1Pad(buf, k, 0x01)
	if err != nil {
		return nil, err
	}
	m := new(big.Int).SetBytes(em)
	if m.Cmp(priv.N) >= 0 {
		return nil, oops.Errorf("rsacipher: padded message too large for modulus")
	}
	c := new(big.Int).Exp(m, priv.D, priv.N)
	return leftPad(c.Bytes(), k), nil
}

// DecryptPublic reverses EncryptPrivate using the matching public key.
func DecryptPublic(pub *rsa.PublicKey, ct []byte) ([]byte, error) {
	k := pub.Size()
	if len(ct) != k {
		return nil, oops.Errorf("rsacipher: ciphertext length %d does not match modulus size %d", len(ct), k)
	}
	c := new(big.Int).SetBytes(ct)
	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)
	return pkcs1Unpad(leftPad(m.Bytes(), k), 0x01)
}

// pkcs1Pad builds an EM = 0x00 || blockType || PS || 0x00 || data block of
// exactly k bytes, per PKCS#1 v1.5 §8.1 (blockType 0x01 for signatures: PS
// is 0xFF bytes).
func pkcs1Pad(data []byte, k int, blockType byte) ([]byte, error) {
	if len(data) > k-11 {
		return nil, oops.Errorf("rsacipher: data too long (%d bytes) for %d-byte modulus", len(data), k)
	}
	psLen := k - len(data) - 3
	em := make([]byte, k)
	em[0] = 0x00
	em[1] = blockType
	for i := 0; i < psLen; i++ {
		em[2+i] = 0xFF
	}
	em[2+psLen] = 0x00
	copy(em[3+psLen:], data)
	return em, nil
}

func pkcs1Unpad(em []byte, blockType byte) ([]byte, error) {
	if len(em) < 11 || em[0] != 0x00 || em[1] != blockType {
		return nil, oops.Errorf("rsacipher: invalid PKCS#1 v1.5 block header")
	}
	i := 2
	for i < len(em) && em[i] == 0xFF {
		i++
	}
	if i >= len(em) || em[i] != 0x00 {
		return nil, oops.Errorf("rsacipher: invalid PKCS#1 v1.5 padding separator")
	}
	return em[i+1:], nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
