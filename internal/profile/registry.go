package profile

import (
	"sync"

	"github.com/benvon/community-portal/internal/session"
)

// Registry hands out one Holder per live session.
type Registry struct {
	checker *Checker

	mu      sync.Mutex
	holders map[string]*Holder
}

// NewRegistry creates a registry.
func NewRegistry(checker *Checker) *Registry {
	return &Registry{checker: checker, holders: make(map[string]*Holder)}
}

// For returns the holder of s, creating it on first use. The holder is dropped when
// the session's token is cleared.
func (r *Registry) For(s *session.Session) *Holder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.holders[s.ID]; ok {
		return h
	}

	h := NewHolder(r.checker, s.Store)
	r.holders[s.ID] = h

	var unsubscribe func()
	unsubscribe = s.Store.Subscribe(func(tok *session.Token) {
		if tok != nil {
			return
		}
		r.mu.Lock()
		if r.holders[s.ID] == h {
			delete(r.holders, s.ID)
		}
		r.mu.Unlock()
		h.Close()
		unsubscribe()
	})
	return h
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}
