package oidc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	testRealm    = "community"
	testClientID = "community-web"
)

// fakeKeycloak serves the token and logout endpoints of one realm.
type fakeKeycloak struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	tokenStatus int
	tokenError  map[string]string
	forms       []map[string]string
	logoutCalls int
	logoutFail  bool
	omitRefresh bool
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	f := &fakeKeycloak{t: t}
	mux := http.NewServeMux()
	prefix := "/realms/" + testRealm + "/protocol/openid-connect"
	mux.HandleFunc(prefix+"/token", f.token)
	mux.HandleFunc(prefix+"/logout", f.logout)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeKeycloak) fail(status int, code, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
	f.tokenError = map[string]string{"error": code, "error_description": description}
}

func (f *fakeKeycloak) logouts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

func (f *fakeKeycloak) lastForm() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forms) == 0 {
		return nil
	}
	return f.forms[len(f.forms)-1]
}

func (f *fakeKeycloak) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := make(map[string]string)
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	f.mu.Lock()
	f.forms = append(f.forms, form)
	status, tokenError, omitRefresh := f.tokenStatus, f.tokenError, f.omitRefresh
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if tokenError != nil {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(tokenError)
		return
	}

	sub := form["username"]
	if sub == "" {
		sub = "alice"
	}
	body := map[string]any{
		"access_token": accessToken(f.t, sub, time.Now().Add(5*time.Minute), "admin"),
		"id_token":     "id-token-" + sub,
		"token_type":   "Bearer",
		"expires_in":   300,
	}
	if !omitRefresh {
		body["refresh_token"] = "refresh-" + form["grant_type"]
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeKeycloak) logout(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.logoutCalls++
	failing := f.logoutFail
	f.mu.Unlock()

	if r.PostForm.Get("refresh_token") == "" || failing {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid refresh token",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:     f.server.URL,
		Realm:       testRealm,
		ClientID:    testClientID,
		RedirectURL: "http://portal.example.com/api/v1/auth/callback",
		HTTPClient:  f.server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func accessToken(t *testing.T, sub string, exp time.Time, roles ...string) string {
	t.Helper()
	tok := jwt.New()
	for k, v := range map[string]any{
		jwt.SubjectKey:       sub,
		jwt.ExpirationKey:    exp,
		jwt.IssuerKey:        "http://idp/realms/" + testRealm,
		"preferred_username": sub,
		"realm_access":       map[string]any{"roles": roles},
	} {
		if err := tok.Set(k, v); err != nil {
			t.Fatalf("Failed to set %s: %v", k, err)
		}
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("secret")))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return string(signed)
}
