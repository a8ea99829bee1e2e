package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/benvon/community-portal/internal/session"
	"go.uber.org/zap"
)

// fakeSessions serves fixed sessions by ID.
type fakeSessions map[string]*session.Session

func (f fakeSessions) Get(ctx context.Context, id string) (*session.Session, error) {
	s, ok := f[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s, nil
}

// newSession returns a session whose token expires at exp and carries roles.
func newSession(t *testing.T, id string, exp time.Time, roles ...string) *session.Session {
	t.Helper()

	store := session.NewStore(session.NewMemoryStorage(), "session:"+id)
	tok := &session.Token{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		Claims:       session.Claims{Sub: "sub-" + id, Exp: exp.Unix(), Roles: roles},
	}
	if err := store.Save(context.Background(), tok); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}
	return &session.Session{ID: id, Store: store}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

var testLogger = zap.NewNop()
