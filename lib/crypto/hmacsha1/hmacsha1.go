// Package hmacsha1 computes the HMAC-SHA1 tag used to authenticate the
// server's session-key delivery in handshake step 2 (spec §4.5). SHA-1 is
// the protocol's choice, not this package's; it is not used anywhere else
// in the system.
package hmacsha1

import (
	"crypto/hmac"
	"crypto/sha1"
)

// Size is the HMAC-SHA1 output length in bytes.
const Size = sha1.Size

// Sum computes HMAC-SHA1(key, data).
func Sum(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Equal performs a constant-time comparison of two MAC tags. Spec §9 flags
// the source's `compare(...) === -1` check as meaning "not equal" rather
// than the correct "!= 0" test, and recommends constant-time comparison —
// this is that fix, applied directly rather than guessed at.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
