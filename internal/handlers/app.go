package handlers

import (
	"net/http"

	"github.com/benvon/community-portal/internal/gate"
	"github.com/benvon/community-portal/internal/profile"
	"github.com/benvon/community-portal/internal/request"
	"github.com/gorilla/mux"
)

// AppHandler exposes the route gate to the frontend.
type AppHandler struct {
	gate     *gate.Gate
	profiles *profile.Registry
}

// NewAppHandler creates an app handler. profiles may be nil when no backend profile
// check is configured.
func NewAppHandler(g *gate.Gate, profiles *profile.Registry) *AppHandler {
	return &AppHandler{gate: g, profiles: profiles}
}

// RegisterRoutes registers gate routes. The router should already have the
// /api/v1/app prefix.
func (h *AppHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/view", h.GetView).Methods(http.MethodGet)
	r.HandleFunc("/sidebar", h.GetSidebar).Methods(http.MethodGet)
	r.HandleFunc("/routes", h.GetRoutes).Methods(http.MethodGet)
}

// GetView decides what the frontend renders for ?path=.
func (h *AppHandler) GetView(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	in := gate.Input{Path: path}
	if s := request.SessionFromContext(r); s != nil {
		in.Store = s.Store
		if h.profiles != nil {
			in.Profile = h.profiles.For(s)
		}
	}
	respondJSON(w, http.StatusOK, h.gate.Evaluate(r.Context(), in))
}

// GetSidebar lists the sidebar entries the session may see.
func (h *AppHandler) GetSidebar(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.gate.Sidebar(request.Permission(r)))
}

// GetRoutes returns the full route table.
func (h *AppHandler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.gate.Table().Routes())
}
