// Package conversation holds the per-page chat sessions: the transcript of
// user and model messages, the pending attachment, and the generation
// settings, plus the single-flight submission that ties them to the image
// generator.
//
// Sessions live only in process memory. One is created per page load and is
// dropped when the page clears it or after it has sat idle past the store TTL.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultSessionTTL is how long an idle session is kept before it is swept.
const DefaultSessionTTL = 2 * time.Hour

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Store is an in-memory registry of sessions. It is safe for concurrent use.
type Store struct {
	generator Generator
	ttl       time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates a store whose sessions submit to generator. A non-positive
// ttl selects DefaultSessionTTL.
func NewStore(generator Generator, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{
		generator: generator,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// Create starts a new empty session.
func (st *Store) Create() *Session {
	s := newSession(uuid.NewString(), st.generator, st.now)

	st.mu.Lock()
	st.sessions[s.id] = s
	count := len(st.sessions)
	st.mu.Unlock()

	log.Debug().Str("session_id", s.id).Int("active_sessions", count).Msg("Session created")
	return s
}

// Get looks up a session by ID.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes a session. It reports whether the session existed.
// A submission still running on the removed session completes normally.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if ok {
		log.Debug().Str("session_id", id).Msg("Session deleted")
	}
	return ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep removes every session that has been idle longer than the TTL and
// returns how many were removed. Sessions with a submission in flight are kept.
func (st *Store) Sweep() int {
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	removed := 0
	for id, s := range st.sessions {
		if s.idleSince(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	remaining := len(st.sessions)
	st.mu.Unlock()

	if removed > 0 {
		log.Info().
			Int("removed", removed).
			Int("active_sessions", remaining).
			Dur("ttl", st.ttl).
			Msg("Swept idle sessions")
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (st *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}
