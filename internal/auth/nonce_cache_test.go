package auth

import (
	"context"
	"testing"
	"time"
)

func contextWithTimeout(t *testing.T, d time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), d)
}

func TestNonceCache(t *testing.T) {
	t.Run("marked nonce is used", func(t *testing.T) {
		c := NewNonceCache(16, time.Minute)
		if c.Used("a") {
			t.Fatalf("fresh nonce reported used")
		}
		c.Mark("a")
		if !c.Used("a") {
			t.Fatalf("marked nonce not reported used")
		}
	})

	t.Run("capacity bound evicts oldest", func(t *testing.T) {
		c := NewNonceCache(2, time.Minute)
		c.Mark("a")
		c.Mark("b")
		c.Mark("c")
		if c.Used("a") {
			t.Fatalf("oldest entry survived capacity eviction")
		}
		if !c.Used("b") || !c.Used("c") {
			t.Fatalf("recent entries evicted")
		}
	})

	t.Run("entries expire after the window", func(t *testing.T) {
		c := NewNonceCache(16, 50*time.Millisecond)
		c.Mark("a")
		time.Sleep(120 * time.Millisecond)
		if c.Used("a") {
			t.Fatalf("expired nonce still reported used")
		}
	})
}

func TestKeySource(t *testing.T) {
	t.Run("get waits for set", func(t *testing.T) {
		s := NewKeySource()
		if s.Ready() {
			t.Fatalf("ready before set")
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			s.Set(make([]byte, 32))
		}()
		ctx, cancel := contextWithTimeout(t, time.Second)
		defer cancel()
		key, err := s.Get(ctx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(key) != 32 {
			t.Fatalf("key len=%d", len(key))
		}
	})

	t.Run("get fails when context expires first", func(t *testing.T) {
		s := NewKeySource()
		ctx, cancel := contextWithTimeout(t, 20*time.Millisecond)
		defer cancel()
		if _, err := s.Get(ctx); err == nil {
			t.Fatalf("expected error")
		}
	})
}
