package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Endpoints are the identity provider URLs the client talks to.
type Endpoints struct {
	Issuer        string `json:"issuer"`
	Authorization string `json:"authorization_endpoint"`
	Token         string `json:"token_endpoint"`
	EndSession    string `json:"end_session_endpoint"`
	Registration  string `json:"registration_endpoint,omitempty"`
	JWKS          string `json:"jwks_uri"`
}

// KeycloakEndpoints derives the endpoints of a Keycloak realm from its base URL.
func KeycloakEndpoints(baseURL, realm string) Endpoints {
	issuer := strings.TrimRight(baseURL, "/") + "/realms/" + realm
	protocol := issuer + "/protocol/openid-connect"
	return Endpoints{
		Issuer:        issuer,
		Authorization: protocol + "/auth",
		Token:         protocol + "/token",
		EndSession:    protocol + "/logout",
		Registration:  protocol + "/registrations",
		JWKS:          protocol + "/certs",
	}
}

// Discover reads the issuer's discovery document. Endpoints missing from the document
// keep the values of fallback.
func Discover(ctx context.Context, httpClient *http.Client, fallback Endpoints) (Endpoints, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	discoveryURL := strings.TrimRight(fallback.Issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return fallback, fmt.Errorf("failed to create discovery request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fallback, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fallback, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc Endpoints
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fallback, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	out := fallback
	override(&out.Issuer, doc.Issuer)
	override(&out.Authorization, doc.Authorization)
	override(&out.Token, doc.Token)
	override(&out.EndSession, doc.EndSession)
	override(&out.Registration, doc.Registration)
	override(&out.JWKS, doc.JWKS)
	return out, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoginConfig contains the login configuration handed to the frontend.
type LoginConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	ClientID              string `json:"client_id"`
	RedirectURI           string `json:"redirect_uri"`
	Scope                 string `json:"scope"`
}
