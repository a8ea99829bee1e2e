package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when no session is stored under an ID.
var ErrSessionNotFound = errors.New("session not found")

const keyPrefix = "session:"

// Session is one browser session: its Store and the refresh loop that keeps it alive.
// The loop runs from Manager.Create or Manager.Get until the session is destroyed,
// its token is cleared, or the manager is closed.
type Session struct {
	ID    string
	Store *Store

	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the session's refresh loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Loop LoopConfig
	// TTL is applied to stored tokens so abandoned sessions eventually vanish.
	TTL time.Duration
}

// Manager owns the live sessions of the process.
type Manager struct {
	storage Storage
	idp     IdentityClient
	cfg     ManagerConfig
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager creates a manager. Close must be called to stop every refresh loop.
func NewManager(storage Storage, idp IdentityClient, cfg ManagerConfig) *Manager {
	cfg.Loop = cfg.Loop.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		storage:  storage,
		idp:      idp,
		cfg:      cfg,
		log:      cfg.Loop.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Storage returns the storage backing all sessions.
func (m *Manager) Storage() Storage {
	return m.storage
}

// Create saves tok under a new session ID and starts its refresh loop.
func (m *Manager) Create(ctx context.Context, tok *Token) (*Session, error) {
	if err := m.ctx.Err(); err != nil {
		return nil, fmt.Errorf("session manager closed: %w", err)
	}
	id := uuid.NewString()
	store := m.newStore(id)
	if err := store.Save(ctx, tok); err != nil {
		return nil, err
	}
	return m.start(id, store), nil
}

// Get returns the live session for id, rehydrating it from storage after a restart.
// A session whose token was cleared is reported as not found.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		if s.Store.Current() == nil {
			return nil, ErrSessionNotFound
		}
		return s, nil
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	store := m.newStore(id)
	tok, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrSessionNotFound
	}
	return m.start(id, store), nil
}

// Destroy stops the session's loop and clears its token.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.cancel()
		<-s.done
		return s.Store.Clear(ctx)
	}
	return m.storage.Delete(ctx, keyPrefix+id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every refresh loop and waits for them to exit. Stored tokens are kept
// so sessions survive a restart.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}

func (m *Manager) newStore(id string) *Store {
	return NewStore(m.storage, keyPrefix+id, WithTTL(m.cfg.TTL), WithClock(m.cfg.Loop.Now))
}

func (m *Manager) start(id string, store *Store) *Session {
	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return existing
	}
	ctx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		ID:     id,
		Store:  store,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.sessions[id] = s
	m.mu.Unlock()

	// A cleared token ends the session: forget it and stop its loop. This runs on the
	// loop's own goroutine when the loop logs out, so it must not wait for the loop.
	store.Subscribe(func(tok *Token) {
		if tok == nil {
			m.forget(s)
		}
	})

	loopCfg := m.cfg.Loop
	loopCfg.SessionID = id
	loop := NewRefreshLoop(store, m.idp, loopCfg)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(s.done)
		loop.Run(ctx)
	}()

	m.log.Debug("session_started", zap.String("session_id", id))
	return s
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()
	s.cancel()
}
