package core

import (
	"testing"
	"time"
)

func authedSession(t *testing.T, sid SessionID) (*Session, *fakeTransport) {
	t.Helper()
	s := NewSession(sid)
	if err := s.Authenticate(testClaims()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	tr := &fakeTransport{id: "t-" + string(sid)}
	s.AttachTransport(tr)
	return s, tr
}

func TestReconnectCache(t *testing.T) {
	t.Run("reclaim returns the identical session", func(t *testing.T) {
		c := NewReconnectCache(8, time.Minute)
		s, tr := authedSession(t, "sid-1")
		s.Rename("carol")
		s.SetAudioProducer(&fakeProducer{id: "p-1", kind: KindAudio})

		c.Park("sid-1", s)
		got, ok := c.Reclaim("sid-1")
		if !ok {
			t.Fatalf("reclaim missed")
		}
		if got != s {
			t.Fatalf("reclaim returned a different session")
		}
		if !got.Authenticated() || got.DisplayName() != "carol" || got.AudioProducer() == nil {
			t.Fatalf("state lost across park/reclaim")
		}
		if tr.Closed() {
			t.Fatalf("reclaim destroyed the session")
		}
		if _, ok := c.Reclaim("sid-1"); ok {
			t.Fatalf("second reclaim should miss")
		}
	})

	t.Run("parking over the same key destroys the displaced session", func(t *testing.T) {
		c := NewReconnectCache(8, time.Minute)
		first, firstTr := authedSession(t, "sid-1")
		second, secondTr := authedSession(t, "sid-1")

		c.Park("sid-1", first)
		c.Park("sid-1", second)

		if !firstTr.Closed() {
			t.Fatalf("displaced session's transport left open")
		}
		if secondTr.Closed() {
			t.Fatalf("newly parked session destroyed")
		}
		got, ok := c.Reclaim("sid-1")
		if !ok || got != second {
			t.Fatalf("reclaim ok=%v got second=%v", ok, got == second)
		}
	})

	t.Run("re-parking the same session keeps it alive", func(t *testing.T) {
		c := NewReconnectCache(8, time.Minute)
		s, tr := authedSession(t, "sid-1")

		c.Park("sid-1", s)
		c.Park("sid-1", s)

		if tr.Closed() {
			t.Fatalf("re-parked session destroyed")
		}
		if _, ok := c.Reclaim("sid-1"); !ok {
			t.Fatalf("re-parked session not reclaimable")
		}
	})

	t.Run("capacity eviction destroys the oldest session", func(t *testing.T) {
		c := NewReconnectCache(1, time.Minute)
		first, firstTr := authedSession(t, "sid-1")
		second, secondTr := authedSession(t, "sid-2")

		c.Park(first.ID(), first)
		c.Park(second.ID(), second)

		if !firstTr.Closed() {
			t.Fatalf("evicted session's transport left open")
		}
		if secondTr.Closed() {
			t.Fatalf("resident session destroyed")
		}
	})

	t.Run("TTL expiry destroys without client action", func(t *testing.T) {
		c := NewReconnectCache(8, 50*time.Millisecond)
		s, tr := authedSession(t, "sid-1")
		c.Park(s.ID(), s)

		deadline := time.Now().Add(3 * time.Second)
		for !tr.Closed() {
			if time.Now().After(deadline) {
				t.Fatalf("expired session not destroyed")
			}
			time.Sleep(10 * time.Millisecond)
		}

		if _, ok := c.Reclaim("sid-1"); ok {
			t.Fatalf("expired session still reclaimable")
		}
	})
}
