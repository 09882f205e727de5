package auth

import (
	"context"
	"crypto/ed25519"
	"sync"
)

// KeySource holds the process-wide verification key. The key is late-bound:
// the registry client sets it after the first successful registration, and
// callers wait with a bounded context until it is ready.
type KeySource struct {
	mu    sync.RWMutex
	key   ed25519.PublicKey
	ready chan struct{}
	once  sync.Once
}

func NewKeySource() *KeySource {
	return &KeySource{ready: make(chan struct{})}
}

// Set installs or rotates the verification key and unblocks waiters.
func (s *KeySource) Set(key ed25519.PublicKey) {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
}

// Get returns the key, waiting until it is available or ctx expires.
func (s *KeySource) Get(ctx context.Context) (ed25519.PublicKey, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key, nil
}

// Ready reports without blocking whether a key has been set.
func (s *KeySource) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}
