package session

import (
	"context"
	"sync"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	logpkg "github.com/benvon/community-portal/internal/logger"
	"github.com/benvon/community-portal/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultRenewInterval is how often the access token is renewed.
	DefaultRenewInterval = 60 * time.Second
	// DefaultSweepInterval is how often the stored token's expiry is checked.
	DefaultSweepInterval = 5 * time.Second
)

// IdentityClient is the part of the identity provider the refresh loop needs.
type IdentityClient interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Logout(ctx context.Context, tok *Token) error
}

// EventSink receives session lifecycle events.
type EventSink interface {
	Record(ctx context.Context, event models.SessionEvent)
}

// Observer receives loop outcomes for metrics.
type Observer interface {
	RefreshResult(code autherr.Code)
	ForcedLogout(reason models.SessionEventType)
}

// LoopConfig configures a RefreshLoop.
type LoopConfig struct {
	RenewInterval time.Duration
	SweepInterval time.Duration
	// SessionID is attached to emitted events.
	SessionID string
	Events    EventSink
	Observer  Observer
	Logger    *zap.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.RenewInterval <= 0 {
		c.RenewInterval = DefaultRenewInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// RefreshLoop keeps one Store's token alive: it renews the access token on one
// interval and logs the session out on another once the token has expired.
type RefreshLoop struct {
	store *Store
	idp   IdentityClient
	cfg   LoopConfig
}

// NewRefreshLoop creates a loop for store.
func NewRefreshLoop(store *Store, idp IdentityClient, cfg LoopConfig) *RefreshLoop {
	return &RefreshLoop{
		store: store,
		idp:   idp,
		cfg:   cfg.withDefaults(),
	}
}

// Run runs the renewal and sweep checks until ctx is cancelled.
func (l *RefreshLoop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.every(ctx, l.cfg.RenewInterval, l.Renew)
	}()
	go func() {
		defer wg.Done()
		l.every(ctx, l.cfg.SweepInterval, l.Sweep)
	}()
	wg.Wait()
}

func (l *RefreshLoop) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Renew performs one renewal tick. With no session it does nothing; a successful
// refresh replaces the stored token and a failed one logs the session out.
func (l *RefreshLoop) Renew(ctx context.Context) {
	tok := l.store.Current()
	if tok == nil {
		return
	}
	log := l.cfg.Logger.With(zap.String("session_id", l.cfg.SessionID))

	if tok.RefreshToken == "" {
		l.observeRefresh(autherr.CodeInvalidToken)
		l.logout(ctx, tok, models.SessionEventRefreshFailed, autherr.CodeInvalidToken)
		return
	}

	fresh, err := l.idp.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; the session is left as it is.
			return
		}
		code := autherr.CodeOf(err)
		l.observeRefresh(code)
		log.Info("session_refresh_failed",
			zap.String("code", string(code)),
			zap.String("refresh_token", logpkg.RedactToken(tok.RefreshToken)),
			zap.String("error", logpkg.SanitizeError(err)),
		)
		l.logout(ctx, tok, models.SessionEventRefreshFailed, code)
		return
	}

	saved, err := l.store.SaveIfCurrent(ctx, tok, fresh)
	if err != nil {
		log.Warn("session_refresh_save_failed", zap.Error(err))
		return
	}
	if !saved {
		// Replaced or cleared while the refresh was in flight.
		return
	}
	l.observeRefresh("")
	l.emit(ctx, models.SessionEventRefreshed, fresh.Claims.Sub, "")
	log.Debug("session_refreshed", zap.Time("expires_at", fresh.ExpiresAt()))
}

// Sweep performs one expiry check and logs the session out if its token has expired.
func (l *RefreshLoop) Sweep(ctx context.Context) {
	tok := l.store.Current()
	if tok == nil || !tok.Expired(l.cfg.Now()) {
		return
	}
	l.logout(ctx, tok, models.SessionEventExpired, autherr.CodeExpiredToken)
}

func (l *RefreshLoop) logout(ctx context.Context, tok *Token, reason models.SessionEventType, code autherr.Code) {
	log := l.cfg.Logger.With(zap.String("session_id", l.cfg.SessionID), zap.String("reason", string(reason)))

	cleared, err := l.store.ClearIfCurrent(ctx, tok)
	if err != nil {
		log.Warn("session_clear_failed", zap.Error(err))
	}
	if !cleared {
		return
	}

	if tok.RefreshToken != "" {
		if err := l.idp.Logout(ctx, tok); err != nil {
			log.Debug("identity_provider_logout_failed",
				zap.String("refresh_token", logpkg.RedactToken(tok.RefreshToken)),
				zap.String("error", logpkg.SanitizeError(err)),
			)
		}
	}
	if l.cfg.Observer != nil {
		l.cfg.Observer.ForcedLogout(reason)
	}
	l.emit(ctx, reason, tok.Claims.Sub, code)
	log.Info("session_logged_out")
}

func (l *RefreshLoop) observeRefresh(code autherr.Code) {
	if l.cfg.Observer != nil {
		l.cfg.Observer.RefreshResult(code)
	}
}

func (l *RefreshLoop) emit(ctx context.Context, eventType models.SessionEventType, subject string, code autherr.Code) {
	if l.cfg.Events == nil {
		return
	}
	event := models.NewSessionEvent(eventType, l.cfg.SessionID, subject)
	event.Code = string(code)
	l.cfg.Events.Record(ctx, event)
}
