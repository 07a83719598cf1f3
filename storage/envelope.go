package storage

import (
	"errors"
	"fmt"

	"github.com/emfabro/steelgate/internal/util"
)

const (
	envelopeVersion = 1
	schemeAESGCM    = "aes256gcm"
)

// ErrUnsupportedEnvelope is returned when an envelope was written with an
// unknown version or scheme.
var ErrUnsupportedEnvelope = errors.New("unsupported envelope")

// Envelope is a sealed record containing AES-256-GCM encrypted data.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Clone returns a deep copy of e.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	return &Envelope{
		Ver:        e.Ver,
		Scheme:     e.Scheme,
		Nonce:      util.CopyBytes(e.Nonce),
		Ciphertext: util.CopyBytes(e.Ciphertext),
	}
}

// SealRecord encrypts plaintext into an Envelope bound to aad.
func SealRecord(recordKey, plaintext, aad []byte) (*Envelope, error) {
	nonce, sealed, err := util.SealAESGCM(plaintext, recordKey, aad)
	if err != nil {
		return nil, fmt.Errorf("sealing record: %w", err)
	}
	return &Envelope{
		Ver:        envelopeVersion,
		Scheme:     schemeAESGCM,
		Nonce:      nonce,
		Ciphertext: sealed,
	}, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("nil envelope: %w", ErrUnsupportedEnvelope)
	}
	if envelope.Ver != envelopeVersion {
		return nil, fmt.Errorf("version %d: %w", envelope.Ver, ErrUnsupportedEnvelope)
	}
	if envelope.Scheme != schemeAESGCM {
		return nil, fmt.Errorf("scheme %q: %w", envelope.Scheme, ErrUnsupportedEnvelope)
	}
	return util.OpenAESGCM(envelope.Nonce, envelope.Ciphertext, recordKey, aad)
}
