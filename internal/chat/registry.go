package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultIdleTTL is how long an unused session stays in a Registry.
	DefaultIdleTTL = 30 * time.Minute
	// DefaultMaxSessions caps the sessions a Registry keeps live.
	DefaultMaxSessions = 1000
)

// Factory builds a new, not yet initialized session for id.
type Factory func(id string) (*Session, error)

// Registry keeps the live sessions of one hosting process. Sessions idle for
// longer than the idle TTL are closed and forgotten, and the least recently
// used idle session is evicted when the registry is full.
type Registry struct {
	factory     Factory
	idleTTL     time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*registryEntry
}

type registryEntry struct {
	session  *Session
	lastUsed time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL sets how long an unused session is kept. Non-positive values
// are ignored.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithMaxSessions caps the number of live sessions. Non-positive values are
// ignored.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithRegistryClock overrides the clock used for idle tracking.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty Registry that builds sessions with factory.
func NewRegistry(factory Factory, opts ...RegistryOption) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("chat: session factory must not be nil")
	}
	r := &Registry{
		factory:     factory,
		idleTTL:     DefaultIdleTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		sessions:    make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the session for id, creating and initializing it on first use.
// The store read done by Init runs without holding the registry lock.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("chat: session id must not be empty")
	}

	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e.session, nil
	}
	r.mu.Unlock()

	s, err := r.factory(id)
	if err != nil {
		return nil, err
	}
	s.Init(ctx)

	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		s.Close()
		return e.session, nil
	}
	evicted := r.evictLocked()
	r.sessions[id] = &registryEntry{session: s, lastUsed: r.now()}
	r.mu.Unlock()

	for _, old := range evicted {
		old.Close()
	}
	return s, nil
}

// evictLocked removes expired sessions and, when the registry is full, the
// least recently used idle one. Sessions with a send in flight are kept.
// r.mu must be held.
func (r *Registry) evictLocked() []*Session {
	var out []*Session
	cutoff := r.now().Add(-r.idleTTL)
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) && e.session.State() == StateIdle {
			delete(r.sessions, id)
			out = append(out, e.session)
		}
	}
	for len(r.sessions) >= r.maxSessions {
		oldestID := ""
		var oldest time.Time
		for id, e := range r.sessions {
			if e.session.State() != StateIdle {
				continue
			}
			if oldestID == "" || e.lastUsed.Before(oldest) {
				oldestID, oldest = id, e.lastUsed
			}
		}
		if oldestID == "" {
			break
		}
		out = append(out, r.sessions[oldestID].session)
		delete(r.sessions, oldestID)
	}
	return out
}

// Drop closes and forgets the session for id.
func (r *Registry) Drop(id string) {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		e.session.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
