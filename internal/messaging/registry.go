package messaging

import (
	"log/slog"
	"sort"
	"sync"
)

// SessionState is the externally visible status of an owner's session.
type SessionState string

const (
	StateReady        SessionState = "ready"
	StateReconnecting SessionState = "reconnecting"
	StateNotPaired    SessionState = "not_paired"
)

type session struct {
	client Client
	ready  bool
}

// Registry maps owners to their messaging clients and readiness. It is the
// session readiness signal consumed by the scheduler.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	hooks    []func(owner string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// OnReady registers fn to run whenever an owner's session becomes ready.
// Hooks run outside the registry lock.
func (r *Registry) OnReady(fn func(owner string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Register attaches a client to an owner. The session starts not ready.
func (r *Registry) Register(owner string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[owner] = &session{client: c}
}

// Remove detaches an owner's session.
func (r *Registry) Remove(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, owner)
}

// SetReady updates readiness. A not-ready to ready transition fires the
// OnReady hooks.
func (r *Registry) SetReady(owner string, ready bool) {
	r.mu.Lock()
	s, ok := r.sessions[owner]
	if !ok {
		r.mu.Unlock()
		slog.Warn("Readiness change for unknown session", "owner", owner, "ready", ready)
		return
	}
	became := ready && !s.ready
	s.ready = ready
	hooks := append([]func(string){}, r.hooks...)
	r.mu.Unlock()

	slog.Info("Session readiness changed", "owner", owner, "ready", ready)
	if !became {
		return
	}
	for _, fn := range hooks {
		fn(owner)
	}
}

// Ready reports whether the owner has a connected session.
func (r *Registry) Ready(owner string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[owner]
	return ok && s.ready
}

// Client returns the owner's client if the session is ready.
func (r *Registry) Client(owner string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[owner]
	if !ok || !s.ready {
		return nil, ErrNotReady
	}
	return s.client, nil
}

// State returns the owner's session state.
func (r *Registry) State(owner string) SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[owner]
	switch {
	case !ok:
		return StateNotPaired
	case s.ready:
		return StateReady
	default:
		return StateReconnecting
	}
}

// Owners lists registered owners in sorted order.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for o := range r.sessions {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
