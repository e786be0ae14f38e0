package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fpang/gemini-image-chat/internal/chat"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(gen Generator, ttl time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	st := NewStore(gen, ttl)
	st.now = clock.Now
	return st, clock
}

func TestStoreCreateGetDelete(t *testing.T) {
	st, _ := newTestStore(&fakeGenerator{}, time.Hour)

	a := st.Create()
	b := st.Create()
	if a.ID() == b.ID() {
		t.Fatal("session IDs should be unique")
	}
	if st.Len() != 2 {
		t.Errorf("Len = %d, want 2", st.Len())
	}

	got, err := st.Get(a.ID())
	if err != nil || got != a {
		t.Errorf("Get = %v, %v", got, err)
	}
	if _, err := st.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(missing) = %v, want ErrSessionNotFound", err)
	}

	if !st.Delete(a.ID()) {
		t.Error("Delete should report the session existed")
	}
	if st.Delete(a.ID()) {
		t.Error("second Delete should report false")
	}
	if _, err := st.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after Delete = %v", err)
	}
}

func TestStoreDefaultTTL(t *testing.T) {
	st := NewStore(&fakeGenerator{}, 0)
	if st.ttl != DefaultSessionTTL {
		t.Errorf("ttl = %v, want %v", st.ttl, DefaultSessionTTL)
	}
}

func TestStoreSweep(t *testing.T) {
	st, clock := newTestStore(&fakeGenerator{}, time.Hour)

	stale := st.Create()
	clock.Advance(45 * time.Minute)
	fresh := st.Create()
	clock.Advance(30 * time.Minute)

	if n := st.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if _, err := st.Get(stale.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Error("stale session should be swept")
	}
	if _, err := st.Get(fresh.ID()); err != nil {
		t.Error("fresh session should survive")
	}
}

func TestStoreSweepTouchedSessionSurvives(t *testing.T) {
	st, clock := newTestStore(&fakeGenerator{}, time.Hour)

	s := st.Create()
	clock.Advance(50 * time.Minute)
	if err := s.SetScale(2); err != nil {
		t.Fatalf("SetScale: %v", err)
	}
	clock.Advance(50 * time.Minute)

	if n := st.Sweep(); n != 0 {
		t.Errorf("Sweep removed %d, want 0", n)
	}
}

func TestStoreSweepKeepsLoadingSession(t *testing.T) {
	gen := &fakeGenerator{
		results: []chat.ImageResult{{URL: "data:image/png;base64,QQ=="}},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	st, clock := newTestStore(gen, time.Hour)
	s := st.Create()

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background(), "slow") }()
	<-gen.started

	clock.Advance(2 * time.Hour)
	if n := st.Sweep(); n != 0 {
		t.Errorf("Sweep removed %d, want 0 while loading", n)
	}

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestStoreRunSweeperStops(t *testing.T) {
	st, _ := newTestStore(&fakeGenerator{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		st.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}
