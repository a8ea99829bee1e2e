package session

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims is the decoded payload of the access token.
type Claims struct {
	Sub      string   `json:"sub"`
	Email    string   `json:"email,omitempty"`
	Username string   `json:"preferred_username,omitempty"`
	Name     string   `json:"name,omitempty"`
	Exp      int64    `json:"exp"`
	Iat      int64    `json:"iat,omitempty"`
	Iss      string   `json:"iss,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Token is the credential triple plus decoded claims held for the current user.
// A Token is never modified after construction; refresh and login replace it.
type Token struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Claims       Claims `json:"claims"`
}

// ExpiresAt returns the access token expiry.
func (t *Token) ExpiresAt() time.Time {
	return time.Unix(t.Claims.Exp, 0)
}

// Expired reports whether the token has expired at now. Expiry is compared in
// milliseconds: a token is live only while exp*1000 > now.
func (t *Token) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return t.Claims.Exp*1000 <= now.UnixMilli()
}

func (t *Token) clone() *Token {
	c := *t
	if t.Claims.Roles != nil {
		c.Claims.Roles = append([]string(nil), t.Claims.Roles...)
	}
	return &c
}

// DecodeClaims reads the claims of a JWT without checking its signature or validity.
func DecodeClaims(raw, clientID string) (Claims, error) {
	tok, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return Claims{}, fmt.Errorf("failed to decode token: %w", err)
	}
	return ClaimsFromJWT(tok, clientID), nil
}

// ClaimsFromJWT extracts claims from a parsed token. Roles are gathered from the
// realm_access and resource_access.<clientID> claims and from a flat roles claim.
func ClaimsFromJWT(tok jwt.Token, clientID string) Claims {
	claims := Claims{
		Sub: tok.Subject(),
		Iss: tok.Issuer(),
	}
	if exp := tok.Expiration(); !exp.IsZero() {
		claims.Exp = exp.Unix()
	}
	if iat := tok.IssuedAt(); !iat.IsZero() {
		claims.Iat = iat.Unix()
	}
	claims.Email = stringClaim(tok, "email")
	claims.Username = stringClaim(tok, "preferred_username")
	claims.Name = stringClaim(tok, "name")

	seen := make(map[string]bool)
	add := func(roles []string) {
		for _, r := range roles {
			if r != "" && !seen[r] {
				seen[r] = true
				claims.Roles = append(claims.Roles, r)
			}
		}
	}
	if v, ok := tok.Get("realm_access"); ok {
		add(rolesFrom(v))
	}
	if v, ok := tok.Get("resource_access"); ok && clientID != "" {
		if m, ok := v.(map[string]any); ok {
			add(rolesFrom(m[clientID]))
		}
	}
	if v, ok := tok.Get("roles"); ok {
		add(stringSlice(v))
	}
	return claims
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// rolesFrom reads {"roles": [...]} objects.
func rolesFrom(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return stringSlice(m["roles"])
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
