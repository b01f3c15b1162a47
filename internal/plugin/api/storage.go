package api

import (
	"context"
	"errors"
	"strings"

	"github.com/dshills/fedihook/internal/plugin/security"
	"github.com/dshills/fedihook/internal/store"
)

// maxKeyLen bounds storage key length.
const maxKeyLen = 256

// ErrInvalidKey is returned for empty, oversized or malformed storage keys.
var ErrInvalidKey = errors.New("api: invalid storage key")

func storagePrefix(pluginID string) string {
	return "plugins/" + pluginID + "/"
}

// Storage is a plugin's private key/value namespace. Reads need storage:read
// and writes need storage:write.
type Storage struct {
	ctx    *SecureContext
	store  store.Store
	prefix string
}

func validKey(key string) error {
	if key == "" || len(key) > maxKeyLen || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	return nil
}

// Get returns the value stored under key. ok is false when the key is unset.
func (s *Storage) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	if err := s.ctx.check(security.PermStorageRead, "storage.get"); err != nil {
		return nil, false, err
	}
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	v, err := s.store.Get(ctx, s.prefix+key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set stores value under key.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := s.ctx.check(security.PermStorageWrite, "storage.set"); err != nil {
		return err
	}
	if err := validKey(key); err != nil {
		return err
	}
	return s.store.Put(ctx, s.prefix+key, value)
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.ctx.check(security.PermStorageWrite, "storage.delete"); err != nil {
		return err
	}
	if err := validKey(key); err != nil {
		return err
	}
	return s.store.Delete(ctx, s.prefix+key)
}

// Keys returns the plugin's keys in sorted order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if err := s.ctx.check(security.PermStorageRead, "storage.keys"); err != nil {
		return nil, err
	}
	full, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(full))
	for i, k := range full {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	return keys, nil
}
