// Package session keeps live play-throughs in memory. Sessions are never
// persisted: a finished one is summarized into history and dropped, an
// abandoned one expires.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbertin/ardoise/internal/engine"
	"github.com/mbertin/ardoise/internal/model"
	"github.com/mbertin/ardoise/internal/store"
)

// Live couples an engine with the request-level data the handlers need.
type Live struct {
	Token    string
	Topic    model.Topic
	Student  string
	Level    string
	Engine   *engine.Session
	LastSeen time.Time

	// Mu serializes handler access to the engine, which is not safe for
	// concurrent use on its own.
	Mu sync.Mutex
}

// Registry is a mutex-guarded map of live sessions keyed by random token.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Live
	ttl      time.Duration
}

// NewRegistry creates a registry expiring idle sessions after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Registry{
		sessions: make(map[string]*Live),
		ttl:      ttl,
	}
}

// Add registers a live session under a fresh token and returns the token.
func (r *Registry) Add(live *Live) (string, error) {
	token, err := store.GenerateToken()
	if err != nil {
		return "", err
	}
	live.Token = token
	live.LastSeen = time.Now()

	r.mu.Lock()
	r.sessions[token] = live
	r.mu.Unlock()
	return token, nil
}

// Get returns the live session for a token, refreshing its idle timer.
func (r *Registry) Get(token string) (*Live, error) {
	r.mu.RLock()
	live, ok := r.sessions[token]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrSessionNotFound
	}

	r.mu.Lock()
	live.LastSeen = time.Now()
	r.mu.Unlock()
	return live, nil
}

// Remove drops a session from the registry. It reports whether this call
// removed it, so concurrent finalizers can elect a single winner.
func (r *Registry) Remove(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; !ok {
		return false
	}
	delete(r.sessions, token)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle longer than the TTL and returns how many.
func (r *Registry) Sweep() int {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, live := range r.sessions {
		if live.LastSeen.Before(cutoff) {
			delete(r.sessions, token)
			removed++
		}
	}
	return removed
}

// Janitor sweeps expired sessions until ctx is done.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Info("expired idle sessions", "count", n)
			}
		}
	}
}
