package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Resign turns a decrypted secret into its whisper: the URL-safe, padded
// base64 of HMAC-SHA256(pepper, secret). Whispers are what get stored and
// compared; the raw secret never is.
func Resign(pepper, secret []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write(secret)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// WhisperEqual compares two whispers in constant time.
func WhisperEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
