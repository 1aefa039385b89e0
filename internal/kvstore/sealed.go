package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
)

// saltKey holds the per-installation Argon2 salt in the wrapped store.
const saltKey = "_meta:seal-salt"

// Sealed encrypts every value before handing it to the wrapped store, so
// token records (which carry raw file keys) are never at rest in the clear.
// Each record key is used as associated data, which stops a ciphertext from
// being moved under another key.
type Sealed struct {
	inner  Store
	sealer *cryptox.Sealer
}

// NewSealed derives the sealing key from passphrase and a salt persisted in
// inner, creating the salt on first use.
func NewSealed(ctx context.Context, inner Store, passphrase string) (*Sealed, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", common.ErrorValidation)
	}

	salt, err := inner.Get(ctx, saltKey)
	if errors.Is(err, common.ErrorNotFound) {
		salt = common.GenerateRandByteArray(16)
		err = inner.Create(ctx, saltKey, salt)
		if errors.Is(err, common.ErrorAlreadyExists) {
			salt, err = inner.Get(ctx, saltKey)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load seal salt: %w", err)
	}

	key := cryptox.DeriveMasterKey([]byte(passphrase), salt)
	defer common.WipeByteArray(key)

	sealer, err := cryptox.NewSealer(key)
	if err != nil {
		return nil, err
	}
	return &Sealed{inner: inner, sealer: sealer}, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.sealer.Open(raw, []byte(key))
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.sealer.Seal(value, []byte(key))
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *Sealed) Create(ctx context.Context, key string, value []byte) error {
	sealed, err := s.sealer.Seal(value, []byte(key))
	if err != nil {
		return err
	}
	return s.inner.Create(ctx, key, sealed)
}

// CompareAndSwap compares plaintexts. Sealing is randomized, so the swap is
// performed against the raw ciphertext that was just opened.
func (s *Sealed) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return false, err
	}
	cur, err := s.sealer.Open(raw, []byte(key))
	if err != nil {
		return false, err
	}
	if !bytes.Equal(cur, prev) {
		return false, nil
	}
	sealed, err := s.sealer.Seal(next, []byte(key))
	if err != nil {
		return false, err
	}
	return s.inner.CompareAndSwap(ctx, key, raw, sealed)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Sealed) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	raw, err := s.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		if k == saltKey {
			continue
		}
		plain, err := s.sealer.Open(v, []byte(k))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}

func (s *Sealed) Close() error {
	return s.inner.Close()
}
