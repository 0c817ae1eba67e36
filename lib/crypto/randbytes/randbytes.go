// Package randbytes provides cryptographically secure random byte
// generation, used for fresh device ids and for the "return value"
// payloads DeviceSession fabricates for Function/Variable replies (spec
// §4.5).
package randbytes

import (
	"crypto/rand"

	"github.com/samber/oops"
)

// Bytes returns n cryptographically secure random bytes.
func Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, oops.Wrapf(err, "randbytes: read %d random bytes", n)
	}
	return buf, nil
}

// Uint32 returns a cryptographically secure random uint32.
func Uint32() (uint32, error) {
	b, err := Bytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
