package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/authz"
	logpkg "github.com/benvon/community-portal/internal/logger"
	"github.com/benvon/community-portal/internal/models"
	"github.com/benvon/community-portal/internal/request"
	"github.com/benvon/community-portal/internal/services/oidc"
	"github.com/benvon/community-portal/internal/session"
	"github.com/benvon/community-portal/internal/telemetry"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	stateKeyPrefix  = "oauth_state:"
	stateCookieName = "community_oauth_state"
	// stateTTL bounds how long a user may spend on the identity provider's pages.
	stateTTL = 10 * time.Minute
)

// IdentityProvider is the part of the identity client the auth handlers drive.
type IdentityProvider interface {
	Login(ctx context.Context, creds oidc.Credentials) (*session.Token, error)
	AuthCodeURL(state, verifier string) string
	RegistrationURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*session.Token, error)
	Logout(ctx context.Context, tok *session.Token) error
	EndSessionURL(idToken, redirect string) string
	LoginConfig() oidc.LoginConfig
}

// SessionManager creates and destroys browser sessions.
type SessionManager interface {
	Create(ctx context.Context, tok *session.Token) (*session.Session, error)
	Destroy(ctx context.Context, id string) error
	Storage() session.Storage
}

// LoginRecorder receives login outcomes for metrics.
type LoginRecorder interface {
	LoginResult(flow string, code autherr.Code)
}

// CookieConfig configures the session cookie.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

// AuthHandler handles the identity-provider flows and the session endpoints.
type AuthHandler struct {
	idp         IdentityProvider
	sessions    SessionManager
	events      session.EventSink
	recorder    LoginRecorder
	cookie      CookieConfig
	frontendURL string
	log         *zap.Logger
}

// AuthHandlerConfig bundles the dependencies of an AuthHandler. Events and Recorder
// are optional.
type AuthHandlerConfig struct {
	IDP         IdentityProvider
	Sessions    SessionManager
	Events      session.EventSink
	Recorder    LoginRecorder
	Cookie      CookieConfig
	FrontendURL string
	Logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &AuthHandler{
		idp:         cfg.IDP,
		sessions:    cfg.Sessions,
		events:      cfg.Events,
		recorder:    cfg.Recorder,
		cookie:      cfg.Cookie,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		log:         cfg.Logger,
	}
}

// RegisterRoutes registers the redirect flows and session endpoints. The router
// should already have the /api/v1/auth prefix; loginLimit wraps the password login.
func (h *AuthHandler) RegisterRoutes(r *mux.Router, loginLimit func(http.Handler) http.Handler) {
	r.HandleFunc("/login", h.BeginLogin).Methods(http.MethodGet)
	r.HandleFunc("/register", h.BeginRegistration).Methods(http.MethodGet)
	r.HandleFunc("/callback", h.Callback).Methods(http.MethodGet)
	r.HandleFunc("/config", h.GetConfig).Methods(http.MethodGet)
	r.HandleFunc("/session", h.GetSession).Methods(http.MethodGet)
	r.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)

	var login http.Handler = http.HandlerFunc(h.Login)
	if loginLimit != nil {
		login = loginLimit(login)
	}
	r.Handle("/login", login).Methods(http.MethodPost)
}

// stateRecord is kept in session storage between the redirect and the callback.
type stateRecord struct {
	Verifier string `json:"verifier"`
	ReturnTo string `json:"return_to"`
}

// BeginLogin redirects the browser to the identity provider's login page.
func (h *AuthHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	h.beginRedirect(w, r, h.idp.AuthCodeURL)
}

// BeginRegistration redirects the browser to the identity provider's registration page.
func (h *AuthHandler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	h.beginRedirect(w, r, h.idp.RegistrationURL)
}

func (h *AuthHandler) beginRedirect(w http.ResponseWriter, r *http.Request, target func(state, verifier string) string) {
	state := uuid.NewString()
	record := stateRecord{
		Verifier: oauth2.GenerateVerifier(),
		ReturnTo: safeReturnPath(r.URL.Query().Get("returnTo")),
	}
	data, err := json.Marshal(record)
	if err != nil {
		respondAuthError(w, r, err, h.log)
		return
	}
	if err := h.sessions.Storage().Set(r.Context(), stateKeyPrefix+state, data, stateTTL); err != nil {
		h.log.Error("oauth_state_not_saved", zap.Error(err))
		respondAuthError(w, r, autherr.Wrap(autherr.CodeNetworkError, err), h.log)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/v1/auth",
		Domain:   h.cookie.Domain,
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target(state, record.Verifier), http.StatusFound)
}

// Callback completes the authorization-code flow and starts a session. Failures
// redirect to the frontend login page with the error code.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if idpErr := q.Get("error"); idpErr != "" {
		err := oidc.MapError(&oauth2.RetrieveError{ErrorCode: idpErr, ErrorDescription: q.Get("error_description")})
		h.failLogin(w, r, "code", autherr.CodeOf(err))
		return
	}

	state := q.Get("state")
	cookie, err := r.Cookie(stateCookieName)
	if state == "" || err != nil || cookie.Value != state {
		h.log.Warn("oauth_state_mismatch", zap.String("ip", request.ClientIP(r)))
		h.failLogin(w, r, "code", autherr.CodeInvalidToken)
		return
	}
	h.clearStateCookie(w)

	record, err := h.takeState(ctx, state)
	if err != nil {
		h.log.Warn("oauth_state_unknown", zap.Error(err))
		h.failLogin(w, r, "code", autherr.CodeInvalidToken)
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "oidc.exchange")
	tok, err := h.idp.Exchange(ctx, q.Get("code"), record.Verifier)
	telemetry.EndSpan(span, err)
	if err != nil {
		h.failLogin(w, r, "code", autherr.CodeOf(err))
		return
	}

	if _, err := h.startSession(w, r, tok, "code"); err != nil {
		h.failLogin(w, r, "code", autherr.CodeOf(err))
		return
	}
	http.Redirect(w, r, h.frontendURL+record.ReturnTo, http.StatusFound)
}

func (h *AuthHandler) takeState(ctx context.Context, state string) (stateRecord, error) {
	storage := h.sessions.Storage()
	data, err := storage.Get(ctx, stateKeyPrefix+state)
	if err != nil {
		return stateRecord{}, err
	}
	// States are single use.
	if err := storage.Delete(ctx, stateKeyPrefix+state); err != nil {
		h.log.Warn("oauth_state_not_deleted", zap.Error(err))
	}
	var record stateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return stateRecord{}, err
	}
	return record, nil
}

func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, flow string, code autherr.Code) {
	h.recordLogin(r.Context(), flow, code, "", "", request.ClientIP(r))
	target := h.frontendURL + "/login?" + url.Values{"error": {string(code)}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// Login performs the password grant and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds oidc.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		respondJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "oidc.login", attribute.String("auth.flow", "password"))
	tok, err := h.idp.Login(ctx, creds)
	telemetry.EndSpan(span, err)
	if err != nil {
		code := autherr.CodeOf(err)
		h.log.Info("login_failed",
			zap.String("username", logpkg.SanitizeUsername(creds.Username)),
			zap.String("code", string(code)),
		)
		h.recordLogin(r.Context(), "password", code, "", "", request.ClientIP(r))
		respondAuthError(w, r, err, h.log)
		return
	}

	s, err := h.startSession(w, r, tok, "password")
	if err != nil {
		respondAuthError(w, r, err, h.log)
		return
	}
	respondJSON(w, http.StatusOK, sessionView(s.Store))
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, tok *session.Token, flow string) (*session.Session, error) {
	s, err := h.sessions.Create(r.Context(), tok)
	if err != nil {
		h.log.Error("session_not_created", zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeUnknown, err)
	}
	// The previous session is only dropped locally. Its identity provider session
	// may be the one the new token belongs to.
	if prev := request.SessionFromContext(r); prev != nil && prev.ID != s.ID {
		if err := h.sessions.Destroy(r.Context(), prev.ID); err != nil {
			h.log.Warn("previous_session_not_destroyed", zap.String("session_id", prev.ID), zap.Error(err))
		}
	}
	h.setSessionCookie(w, s.ID, h.cookie.MaxAge)
	h.recordLogin(r.Context(), flow, "", s.ID, tok.Claims.Sub, request.ClientIP(r))
	h.log.Info("login_succeeded", logpkg.SessionFields(s.ID, tok.Claims.Sub)...)
	return s, nil
}

func (h *AuthHandler) recordLogin(ctx context.Context, flow string, code autherr.Code, sessionID, subject, ip string) {
	if h.recorder != nil {
		h.recorder.LoginResult(flow, code)
	}
	if h.events == nil {
		return
	}
	eventType := models.SessionEventLogin
	if code != "" {
		eventType = models.SessionEventLoginFailed
	}
	event := models.NewSessionEvent(eventType, sessionID, subject)
	event.Code = string(code)
	event.ClientIP = ip
	h.events.Record(ctx, event)
}

// LogoutResponse tells the frontend where to send the browser to end the identity
// provider's own session.
type LogoutResponse struct {
	LoggedOut     bool   `json:"loggedOut"`
	EndSessionURL string `json:"endSessionUrl,omitempty"`
}

// Logout ends the session. The identity provider logout is best effort; the local
// session is cleared regardless.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	resp := LogoutResponse{LoggedOut: true}
	s := request.SessionFromContext(r)
	if s != nil {
		tok := s.Store.Current()
		if tok != nil {
			ctx, span := telemetry.StartSpan(r.Context(), "oidc.logout")
			err := h.idp.Logout(ctx, tok)
			telemetry.EndSpan(span, err)
			if err != nil {
				h.log.Warn("idp_logout_failed", zap.String("session_id", s.ID), zap.Error(err))
			}
			if tok.IDToken != "" {
				resp.EndSessionURL = h.idp.EndSessionURL(tok.IDToken, h.frontendURL+"/")
			}
		}
		if err := h.sessions.Destroy(r.Context(), s.ID); err != nil {
			h.log.Error("session_not_destroyed", zap.String("session_id", s.ID), zap.Error(err))
		}
		if h.events != nil {
			subject := ""
			if tok != nil {
				subject = tok.Claims.Sub
			}
			event := models.NewSessionEvent(models.SessionEventLogout, s.ID, subject)
			event.ClientIP = request.ClientIP(r)
			h.events.Record(r.Context(), event)
		}
	}
	h.setSessionCookie(w, "", -1)
	respondJSON(w, http.StatusOK, resp)
}

// SessionResponse describes the current session to the frontend.
type SessionResponse struct {
	IsAuthenticated bool             `json:"isAuthenticated"`
	Permission      authz.Permission `json:"permission"`
	PermissionLabel string           `json:"permissionLabel"`
	Claims          *session.Claims  `json:"claims,omitempty"`
	ExpiresAt       *time.Time       `json:"expiresAt,omitempty"`
}

func sessionView(store *session.Store) SessionResponse {
	resp := SessionResponse{Permission: authz.Public, PermissionLabel: authz.Public.Label()}
	if store == nil || !store.IsAuthenticated() {
		return resp
	}
	tok := store.Current()
	if tok == nil {
		return resp
	}
	claims := tok.Claims
	exp := tok.ExpiresAt().UTC()
	resp.IsAuthenticated = true
	resp.Permission = store.Permission()
	resp.PermissionLabel = resp.Permission.Label()
	resp.Claims = &claims
	resp.ExpiresAt = &exp
	return resp
}

// GetSession returns the current session's authentication state and claims.
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	var store *session.Store
	if s := request.SessionFromContext(r); s != nil {
		store = s.Store
	}
	respondJSON(w, http.StatusOK, sessionView(store))
}

// GetConfig returns the public identity provider configuration for the frontend.
func (h *AuthHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.idp.LoginConfig())
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookie.Domain,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	} else if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, c)
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Path:     "/api/v1/auth",
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// safeReturnPath accepts only local absolute paths so the callback cannot be used as
// an open redirect.
func safeReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return "/"
	}
	if u, err := url.Parse(p); err != nil || u.Host != "" || u.Scheme != "" {
		return "/"
	}
	return p
}
