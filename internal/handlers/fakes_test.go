package handlers

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/middleware"
	"github.com/benvon/community-portal/internal/models"
	"github.com/benvon/community-portal/internal/services/oidc"
	"github.com/benvon/community-portal/internal/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	testCookie   = "community_session"
	testFrontend = "https://portal.example.com"
)

// fakeIDP stands in for the identity provider client.
type fakeIDP struct {
	mu           sync.Mutex
	loginErr     error
	exchangeErr  error
	logoutErr    error
	roles        []string
	logouts      int
	lastVerifier string
}

func (f *fakeIDP) token(sub string) *session.Token {
	return &session.Token{
		AccessToken:  "access-" + sub,
		IDToken:      "id-" + sub,
		RefreshToken: "refresh-" + sub,
		Claims: session.Claims{
			Sub:   sub,
			Email: sub + "@example.com",
			Exp:   time.Now().Add(time.Hour).Unix(),
			Roles: f.roles,
		},
	}
}

func (f *fakeIDP) Login(ctx context.Context, creds oidc.Credentials) (*session.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.token(creds.Username), nil
}

func (f *fakeIDP) AuthCodeURL(state, verifier string) string {
	return "https://idp.example.com/auth?" + url.Values{"state": {state}}.Encode()
}

func (f *fakeIDP) RegistrationURL(state, verifier string) string {
	return "https://idp.example.com/registrations?" + url.Values{"state": {state}}.Encode()
}

func (f *fakeIDP) Exchange(ctx context.Context, code, verifier string) (*session.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVerifier = verifier
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.token("code-user"), nil
}

func (f *fakeIDP) Refresh(ctx context.Context, refreshToken string) (*session.Token, error) {
	return nil, autherr.ErrInvalidToken
}

func (f *fakeIDP) Logout(ctx context.Context, tok *session.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return f.logoutErr
}

func (f *fakeIDP) EndSessionURL(idToken, redirect string) string {
	return "https://idp.example.com/logout?" + url.Values{"id_token_hint": {idToken}}.Encode()
}

func (f *fakeIDP) LoginConfig() oidc.LoginConfig {
	return oidc.LoginConfig{ClientID: "community-web", Scope: "openid"}
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

func (r *recordingSink) all() []models.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SessionEvent(nil), r.events...)
}

type loginRecorder struct {
	mu      sync.Mutex
	results []autherr.Code
}

func (l *loginRecorder) LoginResult(flow string, code autherr.Code) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, code)
}

// authServer wires an AuthHandler behind LoadSession the way the server does.
type authServer struct {
	router  *mux.Router
	idp     *fakeIDP
	manager *session.Manager
	events  *recordingSink
	logins  *loginRecorder
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()

	idp := &fakeIDP{}
	manager := session.NewManager(session.NewMemoryStorage(), idp, session.ManagerConfig{TTL: time.Hour})
	t.Cleanup(manager.Close)

	events := &recordingSink{}
	logins := &loginRecorder{}
	h := NewAuthHandler(AuthHandlerConfig{
		IDP:         idp,
		Sessions:    manager,
		Events:      events,
		Recorder:    logins,
		Cookie:      CookieConfig{Name: testCookie, MaxAge: time.Hour},
		FrontendURL: testFrontend,
	})

	router := mux.NewRouter()
	router.Use(middleware.LoadSession(manager, testCookie, zap.NewNop()))
	h.RegisterRoutes(router.PathPrefix("/api/v1/auth").Subrouter(), nil)

	return &authServer{router: router, idp: idp, manager: manager, events: events, logins: logins}
}

func cookieFrom(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
