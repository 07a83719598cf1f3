package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	AESKeySize = 32
	// GCMNonceSize is the standard 96-bit GCM nonce length.
	GCMNonceSize = 12
	// GCMTagSize is the full 128-bit GCM authentication tag length.
	GCMTagSize = 16
)

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptAESWithAAD seals plainText with AES-256-GCM and returns
// nonce || ciphertext || tag.
func EncryptAESWithAAD(plainText, rawKey, aad []byte) ([]byte, error) {
	nonce, sealed, err := SealAESGCM(plainText, rawKey, aad)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	return append(out, sealed...), nil
}

// DecryptAESWithAAD reverses EncryptAESWithAAD.
func DecryptAESWithAAD(cipherText, rawKey, aad []byte) ([]byte, error) {
	if len(cipherText) < GCMNonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce size")
	}
	return OpenAESGCM(cipherText[:GCMNonceSize], cipherText[GCMNonceSize:], rawKey, aad)
}

// SealAESGCM encrypts plainText under a fresh random nonce and returns the
// nonce and the ciphertext with the tag appended, separately.
func SealAESGCM(plainText, rawKey, aad []byte) (nonce, sealed []byte, err error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	return nonce, gcm.Seal(nil, nonce, plainText, aad), nil
}

// OpenAESGCM authenticates and decrypts sealed with the given nonce.
func OpenAESGCM(nonce, sealed, rawKey, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	if len(sealed) < gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext shorter than tag size")
	}

	plainText, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}

	return plainText, nil
}

func NewAESKey() ([]byte, error) {
	return RandomBytes(AESKeySize)
}
