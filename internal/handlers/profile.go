package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/benvon/community-portal/internal/models"
	"github.com/benvon/community-portal/internal/profile"
	"github.com/benvon/community-portal/internal/request"
	"github.com/benvon/community-portal/internal/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// EventLister reads the session audit log.
type EventLister interface {
	ListBySubject(ctx context.Context, subject string, limit int) ([]models.SessionEvent, error)
}

// ProfileHandler serves the profile check of the current session.
type ProfileHandler struct {
	profiles *profile.Registry
	events   EventLister
	log      *zap.Logger
}

// NewProfileHandler creates a profile handler. events may be nil when no audit
// database is configured.
func NewProfileHandler(profiles *profile.Registry, events EventLister, log *zap.Logger) *ProfileHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfileHandler{profiles: profiles, events: events, log: log}
}

// RegisterRoutes registers profile routes. The router should already have the
// /api/v1/profile prefix and require an authenticated session.
func (h *ProfileHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.GetProfile).Methods(http.MethodGet)
	r.HandleFunc("/refresh", h.RefreshProfile).Methods(http.MethodPost)
	r.HandleFunc("/sessions", h.GetSessionEvents).Methods(http.MethodGet)
}

// GetProfile returns the cached profile check, running it on first use.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	holder := h.holder(w, r)
	if holder == nil {
		return
	}
	respondJSON(w, http.StatusOK, holder.Ensure(r.Context()))
}

// RefreshProfile runs the profile check again, typically after profile setup.
func (h *ProfileHandler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	holder := h.holder(w, r)
	if holder == nil {
		return
	}
	respondJSON(w, http.StatusOK, holder.RefreshUser(r.Context()))
}

// GetSessionEvents lists the recent login, refresh and logout events of the
// signed-in subject.
func (h *ProfileHandler) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondJSONError(w, http.StatusNotFound, "NOT_CONFIGURED", "Session history is not available")
		return
	}
	var tok *session.Token
	if s := request.SessionFromContext(r); s != nil {
		tok = s.Store.Current()
	}
	if tok == nil {
		respondJSONError(w, http.StatusUnauthorized, "INVALID_TOKEN", "No active session")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.events.ListBySubject(r.Context(), tok.Claims.Sub, limit)
	if err != nil {
		h.log.Error("session_events_not_listed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load session history")
		return
	}
	if events == nil {
		events = []models.SessionEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *ProfileHandler) holder(w http.ResponseWriter, r *http.Request) *profile.Holder {
	s := request.SessionFromContext(r)
	if s == nil {
		respondJSONError(w, http.StatusUnauthorized, "INVALID_TOKEN", "No active session")
		return nil
	}
	return h.profiles.For(s)
}
