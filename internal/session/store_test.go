package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/benvon/community-portal/internal/authz"
)

func TestStore_IsAuthenticated(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name string
		tok  *Token
		want bool
	}{
		{name: "no token", tok: nil, want: false},
		{name: "live token", tok: testToken("alice", now.Add(time.Hour)), want: true},
		{name: "expired token", tok: testToken("alice", now.Add(-time.Second)), want: false},
		{
			name: "expired but otherwise complete token",
			tok:  testToken("alice", now.Add(-time.Hour), "admin", "super-admin"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := NewStore(NewMemoryStorage(), "k")
			if tt.tok != nil {
				if err := store.Save(context.Background(), tt.tok); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}
			if got := store.IsAuthenticated(); got != tt.want {
				t.Errorf("Expected IsAuthenticated=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestStore_IsAuthenticatedRechecksClock(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := NewStore(NewMemoryStorage(), "k", WithClock(clock))
	if err := store.Save(context.Background(), testToken("alice", now.Add(time.Minute), "admin")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !store.IsAuthenticated() {
		t.Fatal("Expected session to be authenticated before expiry")
	}
	if store.Permission() != authz.Admin {
		t.Errorf("Expected admin permission, got %q", store.Permission())
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if store.IsAuthenticated() {
		t.Error("Expected session to stop being authenticated once exp has passed")
	}
	if store.Permission() != authz.Public {
		t.Errorf("Expected public permission after expiry, got %q", store.Permission())
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := NewMemoryStorage()
	tok := testToken("alice", time.Now().Add(time.Hour).Truncate(time.Second), "user", "admin")

	if err := NewStore(storage, "k").Save(ctx, tok); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := NewStore(storage, "k").Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected a stored token")
	}
	if loaded.Claims.Sub != tok.Claims.Sub || loaded.Claims.Exp != tok.Claims.Exp {
		t.Errorf("Expected claims %+v, got %+v", tok.Claims, loaded.Claims)
	}
	if !reflect.DeepEqual(loaded.Claims.Roles, tok.Claims.Roles) {
		t.Errorf("Expected roles %v, got %v", tok.Claims.Roles, loaded.Claims.Roles)
	}
	if loaded.RefreshToken != tok.RefreshToken {
		t.Errorf("Expected refresh token %q, got %q", tok.RefreshToken, loaded.RefreshToken)
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	t.Parallel()

	tok, err := NewStore(NewMemoryStorage(), "k").Load(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tok != nil {
		t.Errorf("Expected nil token, got %+v", tok)
	}
}

func TestStore_SaveIsolatesCallerToken(t *testing.T) {
	t.Parallel()

	store := NewStore(NewMemoryStorage(), "k")
	tok := testToken("alice", time.Now().Add(time.Hour), "user")
	if err := store.Save(context.Background(), tok); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	tok.Claims.Roles[0] = "super-admin"

	if store.Permission() != authz.User {
		t.Errorf("Expected stored token to be unaffected by caller mutation, got %q", store.Permission())
	}
}

func TestStore_ClearRemovesStorage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if store.Current() != nil {
		t.Error("Expected no current token after Clear")
	}
	if _, err := storage.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from storage, got %v", err)
	}
}

func TestStore_ClearIfCurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), "k")
	old := testToken("alice", time.Now().Add(-time.Minute))
	if err := store.Save(ctx, old); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	stale := store.Current()
	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cleared, err := store.ClearIfCurrent(ctx, stale)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cleared {
		t.Error("Expected stale token not to clear the session")
	}
	if !store.IsAuthenticated() {
		t.Error("Expected fresh token to survive")
	}

	cleared, err = store.ClearIfCurrent(ctx, store.Current())
	if err != nil || !cleared {
		t.Errorf("Expected current token to clear the session, cleared=%v err=%v", cleared, err)
	}
}

func TestStore_SubscribersNotifiedSynchronously(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), "k")

	var seen []string
	unsubscribe := store.Subscribe(func(tok *Token) {
		if tok == nil {
			seen = append(seen, "cleared")
			return
		}
		seen = append(seen, tok.Claims.Sub)
	})

	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	unsubscribe()
	if err := store.Save(ctx, testToken("bob", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	want := []string{"alice", "cleared"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("Expected notifications %v, got %v", want, seen)
	}
}

func TestStore_SaveNil(t *testing.T) {
	t.Parallel()

	if err := NewStore(NewMemoryStorage(), "k").Save(context.Background(), nil); err == nil {
		t.Error("Expected error saving nil token")
	}
}

func TestStore_SaveIfCurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	stale := store.Current()
	if err := store.Save(ctx, testToken("bob", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	saved, err := store.SaveIfCurrent(ctx, stale, testToken("alice", time.Now().Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if saved {
		t.Error("Expected a stale token not to be replaced")
	}
	if got := store.Current(); got.Claims.Sub != "bob" {
		t.Errorf("Expected bob to stay current, got %s", got.Claims.Sub)
	}

	saved, err = store.SaveIfCurrent(ctx, store.Current(), testToken("carol", time.Now().Add(time.Hour)))
	if err != nil || !saved {
		t.Fatalf("Expected the current token to be replaced, saved=%v err=%v", saved, err)
	}
	reloaded, err := NewStore(storage, "k").Load(ctx)
	if err != nil || reloaded == nil || reloaded.Claims.Sub != "carol" {
		t.Errorf("Expected carol to be persisted, got %+v (err=%v)", reloaded, err)
	}
}

func TestStore_SaveIfCurrentAfterClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, "k")
	if err := store.Save(ctx, testToken("alice", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	tok := store.Current()
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	saved, err := store.SaveIfCurrent(ctx, tok, testToken("alice", time.Now().Add(time.Hour)))
	if err != nil || saved {
		t.Errorf("Expected a cleared session to stay cleared, saved=%v err=%v", saved, err)
	}
	if _, err := storage.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected nothing to be persisted, got %v", err)
	}
}
