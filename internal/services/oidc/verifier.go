package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/session"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier checks token signatures against the provider's published keys.
type Verifier struct {
	jwks     *JWKSManager
	jwksURL  string
	issuer   string
	clientID string
	skew     time.Duration
}

// NewVerifier creates a verifier for tokens issued by issuer to clientID.
func NewVerifier(jwks *JWKSManager, jwksURL, issuer, clientID string) *Verifier {
	return &Verifier{
		jwks:     jwks,
		jwksURL:  jwksURL,
		issuer:   issuer,
		clientID: clientID,
		skew:     30 * time.Second,
	}
}

// Verify validates the signature, issuer, audience and lifetime of an ID token and
// returns its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (session.Claims, error) {
	keys, err := v.jwks.GetJWKS(ctx, v.jwksURL)
	if err != nil {
		return session.Claims{}, autherr.Wrap(autherr.CodeOf(err), err)
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKeySet(keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.clientID),
		jwt.WithAcceptableSkew(v.skew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return session.Claims{}, autherr.Wrap(autherr.CodeExpiredToken, err)
		}
		return session.Claims{}, autherr.Wrap(autherr.CodeInvalidToken, fmt.Errorf("failed to verify token: %w", err))
	}

	return session.ClaimsFromJWT(tok, v.clientID), nil
}
