package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeIdentity struct {
	mu          sync.Mutex
	refresh     func(refreshToken string) (*Token, error)
	refreshes   int
	logouts     []string
	logoutError error
}

func (f *fakeIdentity) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	f.mu.Lock()
	f.refreshes++
	fn := f.refresh
	f.mu.Unlock()
	if fn == nil {
		return nil, autherr.New(autherr.CodeInvalidToken, "no refresh configured")
	}
	return fn(refreshToken)
}

func (f *fakeIdentity) Logout(ctx context.Context, tok *Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, tok.RefreshToken)
	return f.logoutError
}

func (f *fakeIdentity) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logouts)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (r *recordingSink) Record(ctx context.Context, event models.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) types() []models.SessionEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SessionEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type countingObserver struct {
	mu      sync.Mutex
	results []autherr.Code
	forced  []models.SessionEventType
}

func (o *countingObserver) RefreshResult(code autherr.Code) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, code)
}

func (o *countingObserver) ForcedLogout(reason models.SessionEventType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forced = append(o.forced, reason)
}

func TestRefreshLoop_RenewWithoutSessionDoesNothing(t *testing.T) {
	t.Parallel()

	idp := &fakeIdentity{}
	loop := NewRefreshLoop(NewStore(NewMemoryStorage(), "k"), idp, LoopConfig{})
	loop.Renew(context.Background())

	if idp.refreshes != 0 {
		t.Errorf("Expected no refresh without a session, got %d", idp.refreshes)
	}
}

func TestRefreshLoop_RenewSuccessSavesToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fresh := testToken("alice", time.Now().Add(time.Hour), "admin")
	fresh.RefreshToken = "refresh-2"
	idp := &fakeIdentity{refresh: func(rt string) (*Token, error) {
		if rt != "refresh-alice" {
			t.Errorf("Expected stored refresh token, got %q", rt)
		}
		return fresh, nil
	}}
	sink := &recordingSink{}
	observer := &countingObserver{}

	NewRefreshLoop(store, idp, LoopConfig{SessionID: "s1", Events: sink, Observer: observer}).Renew(ctx)

	if got := store.Current(); got == nil || got.RefreshToken != "refresh-2" {
		t.Fatalf("Expected refreshed token to be current, got %+v", got)
	}
	reloaded, err := NewStore(storage, "k").Load(ctx)
	if err != nil || reloaded == nil || reloaded.RefreshToken != "refresh-2" {
		t.Errorf("Expected refreshed token to be persisted, got %+v (err=%v)", reloaded, err)
	}
	if types := sink.types(); len(types) != 1 || types[0] != models.SessionEventRefreshed {
		t.Errorf("Expected a refreshed event, got %v", types)
	}
	if len(observer.results) != 1 || observer.results[0] != "" {
		t.Errorf("Expected one successful refresh observation, got %v", observer.results)
	}
}

func TestRefreshLoop_RenewFailureLogsOut(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode autherr.Code
	}{
		{name: "expired refresh token", err: autherr.New(autherr.CodeExpiredToken, "Token is not active"), wantCode: autherr.CodeExpiredToken},
		{name: "network failure", err: autherr.New(autherr.CodeNetworkError, "dial tcp"), wantCode: autherr.CodeNetworkError},
		{name: "unclassified failure", err: errors.New("boom"), wantCode: autherr.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			storage := NewMemoryStorage()
			store := NewStore(storage, "k")
			if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Minute))); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			idp := &fakeIdentity{
				refresh:     func(string) (*Token, error) { return nil, tt.err },
				logoutError: errors.New("idp unreachable"),
			}
			sink := &recordingSink{}

			NewRefreshLoop(store, idp, LoopConfig{Events: sink}).Renew(ctx)

			if store.Current() != nil {
				t.Error("Expected session to be cleared after failed refresh")
			}
			if _, err := storage.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected storage to be cleared, got %v", err)
			}
			if idp.logoutCount() != 1 {
				t.Errorf("Expected one identity provider logout, got %d", idp.logoutCount())
			}
			if len(sink.events) != 1 {
				t.Fatalf("Expected one event, got %d", len(sink.events))
			}
			if sink.events[0].Type != models.SessionEventRefreshFailed || sink.events[0].Code != string(tt.wantCode) {
				t.Errorf("Expected refresh_failed/%s, got %s/%s", tt.wantCode, sink.events[0].Type, sink.events[0].Code)
			}
		})
	}
}

func TestRefreshLoop_RenewWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), "k")
	tok := testToken("alice", time.Now().Add(time.Hour))
	tok.RefreshToken = ""
	if err := store.Save(ctx, tok); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	idp := &fakeIdentity{}

	NewRefreshLoop(store, idp, LoopConfig{}).Renew(ctx)

	if store.Current() != nil {
		t.Error("Expected session without refresh token to be cleared")
	}
	if idp.refreshes != 0 || idp.logoutCount() != 0 {
		t.Errorf("Expected no identity provider calls, got refreshes=%d logouts=%d", idp.refreshes, idp.logoutCount())
	}
}

func TestRefreshLoop_RenewCancelledKeepsSession(t *testing.T) {
	t.Parallel()

	store := NewStore(NewMemoryStorage(), "k")
	if err := store.Save(context.Background(), testToken("alice", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	idp := &fakeIdentity{refresh: func(string) (*Token, error) {
		cancel()
		return nil, context.Canceled
	}}

	NewRefreshLoop(store, idp, LoopConfig{}).Renew(ctx)

	if store.Current() == nil {
		t.Error("Expected session to survive a refresh interrupted by shutdown")
	}
}

func TestRefreshLoop_RenewDoesNotOverwriteReplacedToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	idp := &fakeIdentity{refresh: func(string) (*Token, error) {
		// A new login lands while the refresh is in flight.
		if err := store.Save(ctx, testToken("bob", time.Now().Add(time.Hour))); err != nil {
			t.Errorf("Save failed: %v", err)
		}
		return testToken("alice", time.Now().Add(2*time.Hour)), nil
	}}

	NewRefreshLoop(store, idp, LoopConfig{}).Renew(ctx)

	if got := store.Current(); got == nil || got.Claims.Sub != "bob" {
		t.Errorf("Expected the newer login to be kept, got %+v", got)
	}
}

func TestRefreshLoop_SweepExpiredSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(-time.Second))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	idp := &fakeIdentity{}
	sink := &recordingSink{}
	observer := &countingObserver{}

	NewRefreshLoop(store, idp, LoopConfig{Events: sink, Observer: observer}).Sweep(ctx)

	if store.IsAuthenticated() || store.Current() != nil {
		t.Error("Expected expired session to be logged out")
	}
	if _, err := storage.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected storage to be cleared, got %v", err)
	}
	if idp.logoutCount() != 1 {
		t.Errorf("Expected identity provider logout, got %d", idp.logoutCount())
	}
	if types := sink.types(); len(types) != 1 || types[0] != models.SessionEventExpired {
		t.Errorf("Expected an expired event, got %v", types)
	}
	if len(observer.forced) != 1 || observer.forced[0] != models.SessionEventExpired {
		t.Errorf("Expected forced logout observation, got %v", observer.forced)
	}
}

func TestRefreshLoop_SweepLiveSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	idp := &fakeIdentity{}

	NewRefreshLoop(store, idp, LoopConfig{}).Sweep(ctx)

	if !store.IsAuthenticated() {
		t.Error("Expected live session to survive a sweep")
	}
	if idp.logoutCount() != 0 {
		t.Errorf("Expected no logout, got %d", idp.logoutCount())
	}
}

func TestRefreshLoop_RunSweepsAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	store := NewStore(storage, "k")
	if err := store.Save(context.Background(), testToken("alice", time.Now().Add(-time.Second))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cleared := make(chan struct{})
	store.Subscribe(func(tok *Token) {
		if tok == nil {
			close(cleared)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRefreshLoop(store, &fakeIdentity{}, LoopConfig{
			RenewInterval: time.Hour,
			SweepInterval: 5 * time.Millisecond,
		}).Run(ctx)
		close(done)
	}()

	select {
	case <-cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the sweep to clear the session")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// hookStorage runs onSet once, before the first Set reaches the wrapped storage.
type hookStorage struct {
	*MemoryStorage
	once  sync.Once
	onSet func()
}

func (h *hookStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	h.once.Do(func() {
		if h.onSet != nil {
			h.onSet()
		}
	})
	return h.MemoryStorage.Set(ctx, key, value, ttl)
}

func TestRefreshLoop_SweepDuringRefreshStaysLoggedOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(-time.Second))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	sink := &recordingSink{}
	var loop *RefreshLoop
	idp := &fakeIdentity{refresh: func(string) (*Token, error) {
		loop.Sweep(ctx)
		return testToken("alice", time.Now().Add(time.Hour)), nil
	}}
	loop = NewRefreshLoop(store, idp, LoopConfig{Events: sink})

	loop.Renew(ctx)

	if store.IsAuthenticated() || store.Current() != nil {
		t.Error("Expected the forced logout to win over the late refresh")
	}
	if _, err := storage.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected storage to stay empty, got %v", err)
	}
	if idp.logoutCount() != 1 {
		t.Errorf("Expected one identity provider logout, got %d", idp.logoutCount())
	}
	if types := sink.types(); len(types) != 1 || types[0] != models.SessionEventExpired {
		t.Errorf("Expected only an expired event, got %v", types)
	}
}

func TestRefreshLoop_SweepWhileSavingKeepsFreshToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := &hookStorage{MemoryStorage: NewMemoryStorage()}
	store := NewStore(storage, "k")
	stale := testToken("alice", time.Now().Add(-time.Second))
	if err := storage.MemoryStorage.Set(ctx, "k", mustJSON(t, stale), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	idp := &fakeIdentity{refresh: func(string) (*Token, error) {
		return testToken("alice", time.Now().Add(time.Hour)), nil
	}}
	loop := NewRefreshLoop(store, idp, LoopConfig{})
	storage.onSet = func() { loop.Sweep(ctx) }

	loop.Renew(ctx)

	if idp.logoutCount() != 0 {
		t.Errorf("Expected no logout once the fresh token is current, got %d", idp.logoutCount())
	}
	if !store.IsAuthenticated() {
		t.Error("Expected the refreshed session to be authenticated")
	}
	reloaded, err := NewStore(storage.MemoryStorage, "k").Load(ctx)
	if err != nil || reloaded == nil || reloaded.Expired(time.Now()) {
		t.Errorf("Expected the fresh token to be persisted, got %+v (err=%v)", reloaded, err)
	}
}

func TestRefreshLoop_RenewFailureRedactsToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), "k")
	tok := testToken("alice", time.Now().Add(time.Minute))
	tok.RefreshToken = "eyJhbGciOiJIUzI1NiJ9.secret-refresh-tail"
	if err := store.Save(ctx, tok); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	idp := &fakeIdentity{
		refresh: func(string) (*Token, error) {
			return nil, autherr.New(autherr.CodeInvalidToken, "Token is not active\x1b[31m")
		},
		logoutError: errors.New("connection refused"),
	}
	core, logs := observer.New(zap.DebugLevel)

	NewRefreshLoop(store, idp, LoopConfig{SessionID: "s1", Logger: zap.New(core)}).Renew(ctx)

	for _, entry := range logs.All() {
		for _, field := range entry.Context {
			if strings.Contains(field.String, "secret-refresh") {
				t.Errorf("Log line %q leaked the refresh token in %s", entry.Message, field.Key)
			}
			if strings.ContainsRune(field.String, 0x1b) {
				t.Errorf("Log line %q kept a control character in %s", entry.Message, field.Key)
			}
		}
	}
	failed := logs.FilterMessage("session_refresh_failed").All()
	if len(failed) != 1 {
		t.Fatalf("Expected one refresh failure line, got %d", len(failed))
	}
	if got := failed[0].ContextMap()["refresh_token"]; got != "[redacted]...tail" {
		t.Errorf("Expected redacted refresh token, got %v", got)
	}
	if logs.FilterMessage("identity_provider_logout_failed").Len() != 1 {
		t.Error("Expected the failed identity provider logout to be logged")
	}
}
