package hmacsha1

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumLengthAndDeterminism(t *testing.T) {
	key := []byte("session-key-material")
	data := []byte("cipherText bytes to authenticate")

	sum1 := Sum(key, data)
	require.Equal(t, Size, len(sum1))

	sum2 := Sum(key, data)
	require.True(t, Equal(sum1, sum2))
}

func TestEqualDetectsMismatch(t *testing.T) {
	a := Sum([]byte("k1"), []byte("d"))
	b := Sum([]byte("k2"), []byte("d"))
	require.False(t, Equal(a, b))
}
