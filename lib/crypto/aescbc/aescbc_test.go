package aescbc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	iv := make([]byte, BlockSize)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(0xA0 + i)
	}

	for _, msg := range [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("exactly16bytes!!"),
		[]byte("a message that spans more than one AES block of plaintext"),
	} {
		ct, err := Encrypt(key, iv, msg)
		require.NoError(t, err)
		require.Equal(t, 0, len(ct)%BlockSize)

		pt, err := Decrypt(key, iv, ct)
		require.NoError(t, err)
		require.Equal(t, msg, pt)
	}
}

func TestChainedIV(t *testing.T) {
	key := make([]byte, KeySize)
	iv0 := make([]byte, BlockSize)
	for i := range key {
		key[i] = byte(i * 3)
	}
	for i := range iv0 {
		iv0[i] = byte(i)
	}

	m1 := []byte("first frame")
	m2 := []byte("second frame, chained off the first ciphertext tail")

	c1, err := Encrypt(key, iv0, m1)
	require.NoError(t, err)
	iv1 := c1[len(c1)-BlockSize:]

	c2, err := Encrypt(key, iv1, m2)
	require.NoError(t, err)

	p1, err := Decrypt(key, iv0, c1)
	require.NoError(t, err)
	require.Equal(t, m1, p1)

	p2, err := Decrypt(key, iv1, c2)
	require.NoError(t, err)
	require.Equal(t, m2, p2)
}

func TestDecryptRejectsBadPadding(t *testing.T) {
	key := make([]byte, KeySize)
	iv := make([]byte, BlockSize)
	ct := make([]byte, BlockSize)
	for i := range ct {
		ct[i] = 0xFF
	}
	_, err := Decrypt(key, iv, ct)
	require.Error(t, err)
}

func TestRejectsBadKeyOrIVSize(t *testing.T) {
	_, err := Encrypt(make([]byte, 10), make([]byte, BlockSize), []byte("x"))
	require.Error(t, err)

	_, err = Encrypt(make([]byte, KeySize), make([]byte, 5), []byte("x"))
	require.Error(t, err)
}
