package crypto

import (
	"fmt"

	"github.com/emfabro/steelgate/internal/util"
)

var (
	tokenKeyInfo = []byte("steelgate:token:v1")
	pepperInfo   = []byte("steelgate:whisper:v1")
	storeKeyInfo = []byte("steelgate:store:v1")
)

// MinMasterSecretLen is the shortest master secret DeriveKeys accepts.
const MinMasterSecretLen = 32

// Keys holds the server-side symmetric material used by the login flow.
type Keys struct {
	// TokenKey seals session tokens (AES-256-GCM).
	TokenKey []byte
	// Pepper keys the whisper HMAC. Changing it invalidates every stored whisper.
	Pepper []byte
	// StoreKey seals records at rest (member directory, shared keypair store).
	StoreKey []byte
}

// DeriveKeys expands one master secret into independent keys with HKDF-SHA256.
func DeriveKeys(master []byte) (Keys, error) {
	if len(master) < MinMasterSecretLen {
		return Keys{}, fmt.Errorf("master secret must be at least %d bytes, got %d", MinMasterSecretLen, len(master))
	}
	tokenKey, err := util.HKDF(master, nil, tokenKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	pepper, err := util.HKDF(master, nil, pepperInfo)
	if err != nil {
		return Keys{}, err
	}
	storeKey, err := util.HKDF(master, nil, storeKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	return Keys{TokenKey: tokenKey, Pepper: pepper, StoreKey: storeKey}, nil
}

// Validate checks key sizes.
func (k Keys) Validate() error {
	if len(k.TokenKey) != util.AESKeySize {
		return fmt.Errorf("token key must be %d bytes, got %d", util.AESKeySize, len(k.TokenKey))
	}
	if len(k.StoreKey) != util.AESKeySize {
		return fmt.Errorf("store key must be %d bytes, got %d", util.AESKeySize, len(k.StoreKey))
	}
	if len(k.Pepper) == 0 {
		return fmt.Errorf("whisper pepper is empty")
	}
	return nil
}

// Wipe zeroes all key material.
func (k Keys) Wipe() {
	util.WipeBytes(k.TokenKey)
	util.WipeBytes(k.Pepper)
	util.WipeBytes(k.StoreKey)
}
