// Package profile checks whether the signed-in identity has a backend profile and
// keeps the answer for the lifetime of the session.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/models"
	"github.com/benvon/community-portal/internal/session"
	"go.uber.org/zap"
)

// ErrNoSession is returned when a check is asked for without a live token.
var ErrNoSession = errors.New("no active session")

// StatusFetcher is the backend call behind a profile check.
type StatusFetcher interface {
	ProfileStatus(ctx context.Context, accessToken string) (*models.ProfileStatus, error)
}

// Result is the outcome of a profile check. A failed check has HasProfile false and a
// non-empty Error.
type Result struct {
	HasProfile bool         `json:"hasProfile"`
	User       *models.User `json:"user,omitempty"`
	Error      string       `json:"error,omitempty"`
	Code       autherr.Code `json:"code,omitempty"`
	CheckedAt  time.Time    `json:"checkedAt"`
}

// Observer receives check outcomes for metrics.
type Observer interface {
	ProfileChecked(hasProfile bool, code autherr.Code)
}

// Checker performs profile checks.
type Checker struct {
	backend  StatusFetcher
	log      *zap.Logger
	now      func() time.Time
	observer Observer
}

// NewChecker creates a checker.
func NewChecker(backend StatusFetcher, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{backend: backend, log: log, now: time.Now}
}

// WithObserver reports every check outcome to o.
func (c *Checker) WithObserver(o Observer) *Checker {
	c.observer = o
	return c
}

// Check makes exactly one profile-status request for tok. Failures are returned as is
// and never retried.
func (c *Checker) Check(ctx context.Context, tok *session.Token) (Result, error) {
	if tok == nil || tok.AccessToken == "" {
		return Result{}, ErrNoSession
	}
	status, err := c.backend.ProfileStatus(ctx, tok.AccessToken)
	if err != nil {
		c.log.Info("profile_check_failed", zap.String("subject", tok.Claims.Sub), zap.Error(err))
		c.observe(false, autherr.CodeOf(err))
		return Result{}, err
	}
	c.observe(status.HasProfile, "")
	return Result{
		HasProfile: status.HasProfile,
		User:       status.User,
		CheckedAt:  c.now(),
	}, nil
}

func (c *Checker) observe(hasProfile bool, code autherr.Code) {
	if c.observer != nil {
		c.observer.ProfileChecked(hasProfile, code)
	}
}
