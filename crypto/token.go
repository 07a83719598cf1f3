package crypto

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/emfabro/steelgate/internal/util"
)

// frameHeaderLen is the big-endian uint32 nonce length that prefixes a token.
const frameHeaderLen = 4

// Seal encrypts plaintext with AES-256-GCM under key and frames it as
// base64([u32 nonce length][nonce][ciphertext || tag]).
func Seal(plaintext, key []byte) (string, error) {
	nonce, sealed, err := util.SealAESGCM(plaintext, key, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	frame := make([]byte, frameHeaderLen, frameHeaderLen+len(nonce)+len(sealed))
	binary.BigEndian.PutUint32(frame, uint32(len(nonce)))
	frame = append(frame, nonce...)
	frame = append(frame, sealed...)
	return base64.StdEncoding.EncodeToString(frame), nil
}

// Open reverses Seal. Any decoding, framing or authentication failure is
// reported as ErrCrypto.
func Open(token string, key []byte) ([]byte, error) {
	frame, err := base64.StdEncoding.Strict().DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: token encoding: %v", ErrCrypto, err)
	}
	if len(frame) < frameHeaderLen {
		return nil, fmt.Errorf("%w: token too short", ErrCrypto)
	}

	nonceLen := binary.BigEndian.Uint32(frame[:frameHeaderLen])
	if nonceLen != util.GCMNonceSize {
		return nil, fmt.Errorf("%w: unexpected nonce length %d", ErrCrypto, nonceLen)
	}
	body := frame[frameHeaderLen:]
	if len(body) < util.GCMNonceSize+util.GCMTagSize {
		return nil, fmt.Errorf("%w: token truncated", ErrCrypto)
	}

	plain, err := util.OpenAESGCM(body[:util.GCMNonceSize], body[util.GCMNonceSize:], key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return plain, nil
}
