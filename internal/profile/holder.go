package profile

import (
	"context"
	"strconv"
	"sync"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/session"
	"golang.org/x/sync/singleflight"
)

// Holder keeps the profile check result of one session. A new check runs when the
// signed-in subject changes; afterwards only RefreshUser checks again.
type Holder struct {
	checker *Checker
	store   *session.Store

	mu          sync.Mutex
	generation  uint64
	subject     string
	result      *Result
	group       singleflight.Group
	unsubscribe func()
}

// NewHolder creates a holder bound to store. Close releases the subscription.
func NewHolder(checker *Checker, store *session.Store) *Holder {
	h := &Holder{checker: checker, store: store}
	if tok := store.Current(); tok != nil {
		h.subject = tok.Claims.Sub
	}
	h.unsubscribe = store.Subscribe(h.sessionChanged)
	return h
}

func (h *Holder) sessionChanged(tok *session.Token) {
	subject := ""
	if tok != nil {
		subject = tok.Claims.Sub
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if tok != nil && subject == h.subject {
		// Token refresh for the same identity.
		return
	}
	h.subject = subject
	h.generation++
	h.result = nil
}

// Peek returns the cached result, if a check has completed for the current session.
func (h *Holder) Peek() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result == nil {
		return Result{}, false
	}
	return *h.result, true
}

// Ensure returns the cached result or runs the first check of the current session.
// Concurrent callers share one request.
func (h *Holder) Ensure(ctx context.Context) Result {
	if res, ok := h.Peek(); ok {
		return res
	}
	return h.check(ctx)
}

// RefreshUser re-runs the check and replaces the cached result.
func (h *Holder) RefreshUser(ctx context.Context) Result {
	return h.check(ctx)
}

// Close stops tracking session changes.
func (h *Holder) Close() {
	h.unsubscribe()
}

func (h *Holder) check(ctx context.Context) Result {
	h.mu.Lock()
	gen := h.generation
	h.mu.Unlock()

	v, _, _ := h.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		res, err := h.checker.Check(ctx, h.store.Current())
		if err != nil {
			code := autherr.CodeOf(err)
			res = Result{
				Error:     autherr.Message(code, autherr.DefaultLanguage),
				Code:      code,
				CheckedAt: h.checker.now(),
			}
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		// A result for a session that has since changed is dropped.
		if gen == h.generation && ctx.Err() == nil {
			h.result = &res
		}
		return res, nil
	})
	return v.(Result)
}
