package storage

import (
	"bytes"
	"errors"
	"testing"

	"github.com/emfabro/steelgate/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, _ := util.NewAESKey()
	plain := []byte(`{"account":"alice","status":1}`)
	aad := []byte("member:alice")

	env, err := SealRecord(key, plain, aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 || env.Scheme != "aes256gcm" {
		t.Errorf("unexpected envelope header %d/%q", env.Ver, env.Scheme)
	}
	if len(env.Nonce) != util.GCMNonceSize {
		t.Errorf("expected %d byte nonce, got %d", util.GCMNonceSize, len(env.Nonce))
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := OpenRecord(key, env, []byte("member:bob")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.NewAESKey()
		if _, err := OpenRecord(wrongKey, env, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		if _, err := OpenRecord(key, &badEnv, aad); !errors.Is(err, ErrUnsupportedEnvelope) {
			t.Errorf("expected ErrUnsupportedEnvelope, got %v", err)
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = "unknown"
		if _, err := OpenRecord(key, &badEnv, aad); !errors.Is(err, ErrUnsupportedEnvelope) {
			t.Errorf("expected ErrUnsupportedEnvelope, got %v", err)
		}
	})

	t.Run("Nil", func(t *testing.T) {
		if _, err := OpenRecord(key, nil, aad); !errors.Is(err, ErrUnsupportedEnvelope) {
			t.Errorf("expected ErrUnsupportedEnvelope, got %v", err)
		}
	})

	t.Run("CloneIsDeep", func(t *testing.T) {
		c := env.Clone()
		c.Ciphertext[0] ^= 0xff
		if bytes.Equal(c.Ciphertext, env.Ciphertext) {
			t.Error("clone shares ciphertext with original")
		}
		if (*Envelope)(nil).Clone() != nil {
			t.Error("clone of nil should be nil")
		}
	})
}
