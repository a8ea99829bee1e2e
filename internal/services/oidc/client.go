// Package oidc adapts a Keycloak-style OpenID Connect provider to the session layer:
// it runs the password, authorization-code and refresh grants, logs sessions out, and
// normalizes provider failures into autherr codes.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/session"
	"golang.org/x/oauth2"
)

// DefaultScopes are requested on every grant.
var DefaultScopes = []string{"openid", "email", "profile"}

// Config configures a Client.
type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Endpoints overrides the endpoints derived from BaseURL and Realm, e.g. with the
	// result of Discover.
	Endpoints  *Endpoints
	HTTPClient *http.Client
	// Verifier, when set, checks the signature of every ID token received.
	Verifier *Verifier
}

// Credentials are the username and password of the password grant.
type Credentials struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// Client talks to the identity provider.
type Client struct {
	config     *oauth2.Config
	endpoints  Endpoints
	httpClient *http.Client
	verifier   *Verifier
}

// NewClient creates a client. Missing base URL, realm or client ID is an
// INVALID_CONFIGURATION error.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" && cfg.Endpoints == nil {
		return nil, autherr.Configuration("identity provider base URL is required")
	}
	if strings.TrimSpace(cfg.Realm) == "" && cfg.Endpoints == nil {
		return nil, autherr.Configuration("identity provider realm is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, autherr.Configuration("identity provider client ID is required")
	}
	if cfg.BaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
			return nil, autherr.Configuration("identity provider base URL is invalid: %v", err)
		}
	}

	endpoints := KeycloakEndpoints(cfg.BaseURL, cfg.Realm)
	if cfg.Endpoints != nil {
		endpoints = *cfg.Endpoints
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.Authorization,
				TokenURL:  endpoints.Token,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		endpoints:  endpoints,
		httpClient: httpClient,
		verifier:   cfg.Verifier,
	}, nil
}

// Endpoints returns the endpoints in use.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// LoginConfig returns the configuration a browser needs to start the redirect flow.
func (c *Client) LoginConfig() LoginConfig {
	return LoginConfig{
		AuthorizationEndpoint: c.endpoints.Authorization,
		TokenEndpoint:         c.endpoints.Token,
		RegistrationEndpoint:  c.endpoints.Registration,
		EndSessionEndpoint:    c.endpoints.EndSession,
		ClientID:              c.config.ClientID,
		RedirectURI:           c.config.RedirectURL,
		Scope:                 strings.Join(c.config.Scopes, " "),
	}
}

// Login runs the password grant.
func (c *Client) Login(ctx context.Context, creds Credentials) (*session.Token, error) {
	tok, err := c.config.PasswordCredentialsToken(c.withHTTPClient(ctx), creds.Username, creds.Password)
	if err != nil {
		return nil, mapError(err, autherr.CodeInvalidUserPassword)
	}
	return c.convert(ctx, tok, "")
}

// AuthCodeURL returns the provider's login page URL. verifier is the PKCE code
// verifier later passed to Exchange.
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// RegistrationURL returns the provider's self-registration page URL.
func (c *Client) RegistrationURL(state, verifier string) string {
	authURL := c.AuthCodeURL(state, verifier)
	if c.endpoints.Registration == "" {
		return authURL
	}
	u, err := url.Parse(authURL)
	if err != nil {
		return authURL
	}
	return c.endpoints.Registration + "?" + u.RawQuery
}

// Exchange runs the authorization-code grant.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*session.Token, error) {
	tok, err := c.config.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, mapError(err, autherr.CodeInvalidToken)
	}
	return c.convert(ctx, tok, "")
}

// Refresh trades a refresh token for a new token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Token, error) {
	if refreshToken == "" {
		return nil, autherr.New(autherr.CodeInvalidToken, "no refresh token")
	}
	src := c.config.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapError(err, autherr.CodeInvalidToken)
	}
	return c.convert(ctx, tok, refreshToken)
}

// Logout ends the provider session behind tok.
func (c *Client) Logout(ctx context.Context, tok *session.Token) error {
	if tok == nil || tok.RefreshToken == "" {
		return nil
	}
	form := url.Values{
		"client_id":     {c.config.ClientID},
		"refresh_token": {tok.RefreshToken},
	}
	if c.config.ClientSecret != "" {
		form.Set("client_secret", c.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.EndSession, strings.NewReader(form.Encode()))
	if err != nil {
		return autherr.Wrap(autherr.CodeInvalidConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return MapError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &payload)
	code := classify(payload.Error, payload.ErrorDescription, resp.StatusCode, autherr.CodeInvalidToken)
	return autherr.New(code, fmt.Sprintf("logout returned status %d: %s", resp.StatusCode, payload.ErrorDescription))
}

// EndSessionURL returns the provider URL that ends the browser's provider session and
// returns to redirect.
func (c *Client) EndSessionURL(idToken, redirect string) string {
	q := url.Values{"client_id": {c.config.ClientID}}
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if redirect != "" {
		q.Set("post_logout_redirect_uri", redirect)
	}
	return c.endpoints.EndSession + "?" + q.Encode()
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// convert builds a session token from a grant response. Refresh responses that omit a
// new refresh token keep previousRefresh.
func (c *Client) convert(ctx context.Context, tok *oauth2.Token, previousRefresh string) (*session.Token, error) {
	claims, err := session.DecodeClaims(tok.AccessToken, c.config.ClientID)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidToken, err)
	}
	if claims.Exp == 0 && !tok.Expiry.IsZero() {
		claims.Exp = tok.Expiry.Unix()
	}

	idToken, _ := tok.Extra("id_token").(string)
	if c.verifier != nil && idToken != "" {
		if _, err := c.verifier.Verify(ctx, idToken); err != nil {
			return nil, err
		}
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return &session.Token{
		AccessToken:  tok.AccessToken,
		IDToken:      idToken,
		RefreshToken: refresh,
		Claims:       claims,
	}, nil
}
