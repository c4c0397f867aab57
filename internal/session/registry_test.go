package session

import (
	"errors"
	"testing"
	"time"

	"github.com/mbertin/ardoise/internal/engine"
	"github.com/mbertin/ardoise/internal/model"
)

func newLive(t *testing.T) *Live {
	t.Helper()
	c, err := engine.NewCollector(model.CollectorFreeText)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	eng, err := engine.New([]model.Item{{Answer: "chat"}}, c, engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return &Live{Topic: model.Topic{Slug: "t"}, Student: "Léa", Engine: eng}
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry(time.Hour)

	token, err := r.Add(newLive(t))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	live, err := r.Get(token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if live.Student != "Léa" {
		t.Errorf("unexpected live session %+v", live)
	}

	if _, err := r.Get("unknown"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if !r.Remove(token) {
		t.Error("first Remove should report removal")
	}
	if r.Remove(token) {
		t.Error("second Remove should report nothing left to remove")
	}
	if _, err := r.Get(token); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after remove, got %v", err)
	}
}

func TestRegistryTokensUnique(t *testing.T) {
	r := NewRegistry(time.Hour)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		token, err := r.Add(newLive(t))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
	if r.Len() != 20 {
		t.Errorf("expected 20 live sessions, got %d", r.Len())
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	r := NewRegistry(time.Minute)

	stale, err := r.Add(newLive(t))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	fresh, err := r.Add(newLive(t))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Age the first session past the TTL by hand.
	r.mu.Lock()
	r.sessions[stale].LastSeen = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if _, err := r.Get(stale); err == nil {
		t.Error("stale session should be gone")
	}
	if _, err := r.Get(fresh); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
}
