package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/benvon/community-portal/internal/authz"
	"github.com/benvon/community-portal/internal/middleware"
	"github.com/benvon/community-portal/internal/models"
	"github.com/benvon/community-portal/internal/request"
	"github.com/benvon/community-portal/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const defaultPerPage = 20

// UserAdmin is the part of the backend client the admin endpoints use.
type UserAdmin interface {
	ListUsers(ctx context.Context, accessToken string, params models.UserListParams) (*models.UserPage, error)
	UpdateUser(ctx context.Context, accessToken, id string, update models.UserUpdate) (*models.User, error)
	UpdateRoles(ctx context.Context, accessToken, id string, update models.RolesUpdate) (*models.User, error)
}

// AdminHandler proxies user administration to the backend with the session's token.
type AdminHandler struct {
	backend UserAdmin
	log     *zap.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(backend UserAdmin, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{backend: backend, log: log}
}

// RegisterRoutes registers admin routes. The router should already have the
// /api/v1/admin prefix. Role changes need super-admin, everything else admin.
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	admin := middleware.RequirePermission(authz.Admin, h.log)
	superAdmin := middleware.RequirePermission(authz.SuperAdmin, h.log)

	r.Handle("/users", admin(http.HandlerFunc(h.ListUsers))).Methods(http.MethodGet)
	r.Handle("/users/{id}", admin(http.HandlerFunc(h.UpdateUser))).Methods(http.MethodPatch)
	r.Handle("/users/{id}/roles", superAdmin(http.HandlerFunc(h.UpdateRoles))).Methods(http.MethodPut)
}

// ListUsers returns one page of users. Query: page, perPage, filter.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	params, err := listParams(r)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	page, err := h.backend.ListUsers(r.Context(), accessToken(r), params)
	if err != nil {
		respondAuthError(w, r, err, h.log)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func listParams(r *http.Request) (models.UserListParams, error) {
	q := r.URL.Query()
	params := models.UserListParams{Page: 1, PerPage: defaultPerPage, Filter: q.Get("filter")}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, errors.New("page must be a number")
		}
		params.Page = n
	}
	if v := q.Get("perPage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, errors.New("perPage must be a number")
		}
		params.PerPage = n
	}
	params.Filter = validation.SanitizeText(params.Filter)
	return params, validation.Struct(params)
}

// UpdateUser applies an admin edit to a user.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var update models.UserUpdate
	if err := decodeJSON(r, &update); err != nil {
		respondJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	user, err := h.backend.UpdateUser(r.Context(), accessToken(r), mux.Vars(r)["id"], update)
	if err != nil {
		respondAuthError(w, r, err, h.log)
		return
	}
	h.log.Info("user_updated", zap.String("user_id", user.ID))
	respondJSON(w, http.StatusOK, user)
}

// UpdateRoles replaces a user's roles.
func (h *AdminHandler) UpdateRoles(w http.ResponseWriter, r *http.Request) {
	var update models.RolesUpdate
	if err := decodeJSON(r, &update); err != nil {
		respondJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	user, err := h.backend.UpdateRoles(r.Context(), accessToken(r), mux.Vars(r)["id"], update)
	if err != nil {
		respondAuthError(w, r, err, h.log)
		return
	}
	h.log.Info("user_roles_updated", zap.String("user_id", user.ID), zap.Strings("roles", user.Roles))
	respondJSON(w, http.StatusOK, user)
}

func accessToken(r *http.Request) string {
	s := request.SessionFromContext(r)
	if s == nil {
		return ""
	}
	if tok := s.Store.Current(); tok != nil {
		return tok.AccessToken
	}
	return ""
}
