// Package session holds the authenticated session state: the persisted token, the
// derived authentication and permission state, and the background loops that keep
// the token fresh.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benvon/community-portal/internal/authz"
)

// DefaultStorageKey is the key used when a store holds the only session of a process.
const DefaultStorageKey = "session"

// Listener is notified after every change of the stored token. A nil token means the
// session was cleared.
type Listener func(tok *Token)

// Store owns one session token. Save and Clear are the only writers to storage.
type Store struct {
	storage Storage
	key     string
	ttl     time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	token     *Token
	listeners map[int]Listener
	nextID    int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL sets the storage TTL applied on every save.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store persisting under key.
func NewStore(storage Storage, key string, opts ...StoreOption) *Store {
	if key == "" {
		key = DefaultStorageKey
	}
	s := &Store{
		storage:   storage,
		key:       key,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the storage key.
func (s *Store) Key() string {
	return s.key
}

// Save persists tok and makes it the current token.
func (s *Store) Save(ctx context.Context, tok *Token) error {
	if tok == nil {
		return errors.New("session: cannot save nil token")
	}
	tok = tok.clone()
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.storage.Set(ctx, s.key, data, s.ttl); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}

	s.mu.Lock()
	s.token = tok
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	notify(listeners, tok)
	return nil
}

// SaveIfCurrent replaces expected with tok only if expected is still the current
// token, and reports whether it did. The swap happens before tok is persisted so a
// concurrent ClearIfCurrent on expected either wins outright or becomes a no-op.
func (s *Store) SaveIfCurrent(ctx context.Context, expected, tok *Token) (bool, error) {
	if expected == nil || tok == nil {
		return false, nil
	}
	tok = tok.clone()
	data, err := json.Marshal(tok)
	if err != nil {
		return false, fmt.Errorf("failed to encode token: %w", err)
	}

	s.mu.Lock()
	if s.token != expected {
		s.mu.Unlock()
		return false, nil
	}
	s.token = tok
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	err = s.storage.Set(ctx, s.key, data, s.ttl)
	notify(listeners, tok)
	if err != nil {
		return true, fmt.Errorf("failed to persist token: %w", err)
	}
	return true, nil
}

// Clear removes the stored token and resets the in-memory state.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.clear(ctx, nil)
	return err
}

// ClearIfCurrent clears the session only if tok is still the current token. It
// reports whether the session was cleared. Loops use it so that a logout decided on a
// stale token never wipes a token saved in the meantime.
func (s *Store) ClearIfCurrent(ctx context.Context, tok *Token) (bool, error) {
	if tok == nil {
		return false, nil
	}
	return s.clear(ctx, tok)
}

func (s *Store) clear(ctx context.Context, expected *Token) (bool, error) {
	s.mu.Lock()
	if expected != nil && s.token != expected {
		s.mu.Unlock()
		return false, nil
	}
	s.token = nil
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	err := s.storage.Delete(ctx, s.key)
	notify(listeners, nil)
	if err != nil {
		return true, fmt.Errorf("failed to delete stored token: %w", err)
	}
	return true, nil
}

// Load reads the token from storage, replacing the in-memory state. It returns nil
// without error when nothing is stored.
func (s *Store) Load(ctx context.Context) (*Token, error) {
	data, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stored token: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode stored token: %w", err)
	}

	s.mu.Lock()
	s.token = &tok
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	notify(listeners, &tok)
	return &tok, nil
}

// Current returns the current token, which may be expired, or nil.
func (s *Store) Current() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether a token is held and has not expired. Expiry is
// checked against the clock on every call.
func (s *Store) IsAuthenticated() bool {
	tok := s.Current()
	return tok != nil && !tok.Expired(s.now())
}

// Permission returns the permission level derived from the current token.
func (s *Store) Permission() authz.Permission {
	tok := s.Current()
	if tok == nil || tok.Expired(s.now()) {
		return authz.Public
	}
	return authz.FromRoles(true, tok.Claims.Roles)
}

// Subscribe registers fn for change notifications and returns a function that
// removes it. Listeners run synchronously on the goroutine that changed the token.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []Listener, tok *Token) {
	for _, fn := range listeners {
		fn(tok)
	}
}
