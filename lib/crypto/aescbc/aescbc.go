// Package aescbc implements one-shot AES-128-CBC encryption and decryption
// with PKCS#7 padding. Each call creates its own cipher.Block; there is no
// streaming state held between calls — the chained-IV discipline that spans
// frames lives one layer up, in lib/transport.
package aescbc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"

	"github.com/fleetstress/fleetstress/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetFleetLogger()

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

// BlockSize is the AES block size, also the CBC IV length.
const BlockSize = aes.BlockSize

// Encrypt pads data with PKCS#7 and encrypts it under key/iv with CBC.
// Returns ciphertext, whose last BlockSize bytes become the IV for the next
// frame in the same direction (lib/transport.CipherChain).
func Encrypt(key, iv, data []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, oops.Errorf("aescbc: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != BlockSize {
		return nil, oops.Errorf("aescbc: iv must be %d bytes, got %d", BlockSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		log.WithError(err).Error("failed to create AES cipher")
		return nil, oops.Wrapf(err, "aescbc: new cipher")
	}

	plaintext := pkcs7Pad(data, BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	log.WithField("ciphertext_length", len(ciphertext)).Debug("aes-cbc frame encrypted")
	return ciphertext, nil
}

// Decrypt reverses Encrypt: CBC-decrypts then strips PKCS#7 padding. A
// padding failure is treated as a cryptographic-integrity error — fatal to
// the calling session per spec §4.6, not locally recoverable.
func Decrypt(key, iv, data []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, oops.Errorf("aescbc: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != BlockSize {
		return nil, oops.Errorf("aescbc: iv must be %d bytes, got %d", BlockSize, len(iv))
	}
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, oops.Errorf("aescbc: ciphertext length %d is not a nonzero multiple of block size", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		log.WithError(err).Error("failed to create AES cipher")
		return nil, oops.Wrapf(err, "aescbc: new cipher")
	}

	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, data)

	plaintext, err = pkcs7Unpad(plaintext)
	if err != nil {
		log.WithError(err).Error("invalid PKCS#7 padding on decrypt")
		return nil, err
	}

	log.WithField("plaintext_length", len(plaintext)).Debug("aes-cbc frame decrypted")
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	out := make([]byte, 0, len(data)+padding)
	out = append(out, data...)
	out = append(out, padText...)
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, oops.Errorf("aescbc: cannot unpad empty plaintext")
	}
	padding := int(data[length-1])
	if padding == 0 || padding > BlockSize || padding > length {
		return nil, oops.Errorf("aescbc: invalid PKCS#7 padding byte %d", padding)
	}
	paddingStart := length - padding
	for i := paddingStart; i < length; i++ {
		if data[i] != byte(padding) {
			return nil, oops.Errorf("aescbc: inconsistent PKCS#7 padding")
		}
	}
	return data[:paddingStart], nil
}
