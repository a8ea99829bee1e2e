package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testClientID = "community-web"

// signedJWT builds an HS256 token carrying Keycloak-shaped claims.
func signedJWT(t *testing.T, sub string, exp time.Time, realmRoles, clientRoles []string) string {
	t.Helper()

	tok := jwt.New()
	mustSet(t, tok, jwt.SubjectKey, sub)
	mustSet(t, tok, jwt.ExpirationKey, exp)
	mustSet(t, tok, jwt.IssuedAtKey, exp.Add(-5*time.Minute))
	mustSet(t, tok, jwt.IssuerKey, "https://idp.example.com/realms/community")
	mustSet(t, tok, "email", sub+"@example.com")
	mustSet(t, tok, "preferred_username", sub)
	if realmRoles != nil {
		mustSet(t, tok, "realm_access", map[string]any{"roles": realmRoles})
	}
	if clientRoles != nil {
		mustSet(t, tok, "resource_access", map[string]any{
			testClientID: map[string]any{"roles": clientRoles},
		})
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return string(signed)
}

func mustSet(t *testing.T, tok jwt.Token, key string, value any) {
	t.Helper()
	if err := tok.Set(key, value); err != nil {
		t.Fatalf("Failed to set claim %s: %v", key, err)
	}
}

// testToken builds a Token whose claims expire at exp.
func testToken(sub string, exp time.Time, roles ...string) *Token {
	return &Token{
		AccessToken:  "access-" + sub,
		IDToken:      "id-" + sub,
		RefreshToken: "refresh-" + sub,
		Claims: Claims{
			Sub:   sub,
			Email: sub + "@example.com",
			Exp:   exp.Unix(),
			Roles: roles,
		},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	return data
}
