package transport

import (
	"github.com/fleetstress/fleetstress/lib/crypto/aescbc"
	"github.com/samber/oops"
)

// CipherState owns the evolving IV for one direction of one connection
// (spec §3). It is touched only by the single goroutine that processes that
// direction, so no locking is needed within a session (spec §9).
type CipherState struct {
	key []byte
	iv  []byte
}

// NewCipherState seeds a direction's state from the session's AES key and
// initial IV (spec §4.4). Both directions start from the same initial IV;
// they diverge as soon as each processes its own frames.
func NewCipherState(key, iv []byte) *CipherState {
	ivCopy := make([]byte, len(iv))
	copy(ivCopy, iv)
	return &CipherState{key: key, iv: ivCopy}
}

// Encrypt CBC-encrypts frame under the current IV, then advances the IV to
// the last 16 bytes of the ciphertext it just produced (spec §4.4 step 2,
// encrypt direction).
func (c *CipherState) Encrypt(frame []byte) ([]byte, error) {
	out, err := aescbc.Encrypt(c.key, c.iv, frame)
	if err != nil {
		return nil, oops.Wrapf(err, "cipherchain: encrypt frame")
	}
	c.advance(out)
	return out, nil
}

// Decrypt CBC-decrypts frame under the current IV, then advances the IV to
// the last 16 bytes of the ciphertext it just consumed (spec §4.4 step 2,
// decrypt direction). A failure here is a cryptographic-integrity error:
// fatal to the session, never retried (spec §4.6).
func (c *CipherState) Decrypt(frame []byte) ([]byte, error) {
	out, err := aescbc.Decrypt(c.key, c.iv, frame)
	if err != nil {
		return nil, oops.Wrapf(err, "cipherchain: decrypt frame")
	}
	c.advance(frame)
	return out, nil
}

func (c *CipherState) advance(ciphertextSide []byte) {
	if len(ciphertextSide) < aescbc.BlockSize {
		// A zero-length frame (legal per spec §4.2) PKCS#7-pads to exactly
		// one block on encrypt, so ciphertextSide is never actually shorter
		// than a block in practice; guard anyway rather than panic on slice.
		return
	}
	tail := ciphertextSide[len(ciphertextSide)-aescbc.BlockSize:]
	copy(c.iv, tail)
}

// CipherChain couples a connection's two independent per-direction
// CipherStates (spec §3 invariant: directions evolve independently).
type CipherChain struct {
	Send *CipherState
	Recv *CipherState
}

// NewCipherChain builds both directions from the same session key and
// initial IV, per spec §4.4 "Initial IVs: both directions initialized from
// SessionSecrets.bytes[16..32]".
func NewCipherChain(key, initialIV []byte) *CipherChain {
	return &CipherChain{
		Send: NewCipherState(key, initialIV),
		Recv: NewCipherState(key, initialIV),
	}
}
