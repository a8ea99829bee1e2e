package oidc

import (
	"errors"
	"net/http"
	"strings"

	"github.com/benvon/community-portal/internal/autherr"
	"golang.org/x/oauth2"
)

// descriptionRules match Keycloak error descriptions. Keycloak reuses invalid_grant for
// most password and refresh failures, so the description is the only way to tell them
// apart. The wording is not a stable contract; keep the list in one place.
var descriptionRules = []struct {
	fragment string
	code     autherr.Code
}{
	{"invalid user credentials", autherr.CodeInvalidUserPassword},
	{"temporarily disabled", autherr.CodeTooManyAttempts},
	{"account locked", autherr.CodeTooManyAttempts},
	{"account disabled", autherr.CodeBlockedUser},
	{"account is not fully set up", autherr.CodeBlockedUser},
	{"token is not active", autherr.CodeExpiredToken},
	{"session not active", autherr.CodeExpiredToken},
	{"invalid refresh token", autherr.CodeInvalidToken},
}

// MapError normalizes an identity provider failure into an *autherr.Error.
func MapError(err error) error {
	return mapError(err, autherr.CodeUnknown)
}

// mapError is MapError with the code used for an otherwise unrecognized invalid_grant.
func mapError(err error, invalidGrant autherr.Code) error {
	if err == nil {
		return nil
	}
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return err
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		desc := re.ErrorDescription
		if desc == "" {
			desc = strings.TrimSpace(string(re.Body))
		}
		return autherr.Wrap(classify(re.ErrorCode, desc, statusOf(re.Response), invalidGrant), err)
	}

	return autherr.Wrap(autherr.CodeOf(err), err)
}

func classify(errorCode, description string, status int, invalidGrant autherr.Code) autherr.Code {
	switch errorCode {
	case "invalid_client", "unauthorized_client", "unsupported_grant_type", "invalid_scope":
		return autherr.CodeInvalidConfiguration
	case "temporarily_unavailable":
		return autherr.CodeNetworkError
	}

	lower := strings.ToLower(description)
	for _, rule := range descriptionRules {
		if strings.Contains(lower, rule.fragment) {
			return rule.code
		}
	}

	switch {
	case errorCode == "invalid_grant":
		return invalidGrant
	case errorCode == "invalid_token":
		return autherr.CodeInvalidToken
	case status >= http.StatusInternalServerError:
		return autherr.CodeNetworkError
	}
	return autherr.CodeUnknown
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
