// Package app wires the service together: it tracks the live verification
// sessions so the server can enumerate and stop them during shutdown.
package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/natalietdg/context-md-sub001/internal/consent"
)

// Session is one registered verification session.
type Session struct {
	// ID is the ULID assigned at registration.
	ID string

	// Language is the consent-script language of the session.
	Language string

	// Mode is the alignment mode the session runs in.
	Mode consent.Mode

	// StartedAt is when the session was registered.
	StartedAt time.Time

	// Verifier is the session's engine.
	Verifier *consent.Verifier
}

// Registry tracks active verification sessions by ID.
// All exported methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register assigns a fresh ULID to the session, stores it, and returns the
// ID. The StartedAt timestamp is set here.
func (r *Registry) Register(language string, mode consent.Mode, v *consent.Verifier) *Session {
	s := &Session{
		ID:        ulid.Make().String(),
		Language:  language,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		Verifier:  v,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	slog.Info("app: session registered",
		"session_id", s.ID,
		"language", language,
		"mode", string(mode),
	)
	return s
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the session with the given ID from the registry. The
// session's verifier is not stopped; callers own that lifecycle.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		slog.Info("app: session removed", "session_id", id)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopAll stops every registered session's verifier and clears the
// registry. Called during server shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Verifier.Stop()
		slog.Info("app: session stopped on shutdown", "session_id", s.ID)
	}
}
