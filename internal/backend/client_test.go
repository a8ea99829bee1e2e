package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api/", srv.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := NewClient(raw, nil); !errors.Is(err, autherr.ErrInvalidConfiguration) {
			t.Errorf("NewClient(%q): expected INVALID_CONFIGURATION, got %v", raw, err)
		}
	}
}

func TestClient_ProfileStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantHas    bool
		wantErr    error
		wantAPIErr bool
	}{
		{name: "has profile", status: 200, body: `{"hasProfile":true,"user":{"id":"u1","username":"alice","roles":["user"],"isBlocked":false}}`, wantHas: true},
		{name: "no profile", status: 200, body: `{"hasProfile":false}`},
		{name: "unauthorized", status: 401, body: `{"message":"token expired"}`, wantErr: autherr.ErrInvalidToken},
		{name: "server error", status: 500, body: `boom`, wantAPIErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/users/profile-status" {
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
					t.Errorf("Expected bearer token, got %q", got)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			status, err := c.ProfileStatus(context.Background(), "access-1")
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Message != "token expired" {
					t.Errorf("Expected wrapped APIError with message, got %v", err)
				}
			case tt.wantAPIErr:
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
					t.Errorf("Expected APIError 500, got %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if status.HasProfile != tt.wantHas {
					t.Errorf("Expected hasProfile=%v, got %v", tt.wantHas, status.HasProfile)
				}
				if tt.wantHas && (status.User == nil || status.User.ID != "u1") {
					t.Errorf("Expected user u1, got %+v", status.User)
				}
			}
		})
	}
}

func TestClient_ListUsers(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("perPage") != "25" || q.Get("filter") != "ali ce" {
			t.Errorf("Unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(models.UserPage{
			Items:   []models.User{{ID: "u1", Username: "alice"}},
			Page:    2,
			PerPage: 25,
			Total:   26,
		})
	})

	page, err := c.ListUsers(context.Background(), "access-1", models.UserListParams{Page: 2, PerPage: 25, Filter: "ali ce"})
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(page.Items) != 1 || page.Total != 26 {
		t.Errorf("Unexpected page %+v", page)
	}
}

func TestClient_UpdateUserAndRoles(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/api/users/u1":
			var update models.UserUpdate
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				t.Errorf("Failed to decode body: %v", err)
			}
			if update.IsBlocked == nil || !*update.IsBlocked || update.FirstName != nil {
				t.Errorf("Unexpected update %+v", update)
			}
			_ = json.NewEncoder(w).Encode(models.User{ID: "u1", IsBlocked: true})
		case r.Method == http.MethodPut && r.URL.Path == "/api/users/u1/roles":
			var update models.RolesUpdate
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				t.Errorf("Failed to decode body: %v", err)
			}
			_ = json.NewEncoder(w).Encode(models.User{ID: "u1", Roles: update.Roles})
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	blocked := true
	user, err := c.UpdateUser(context.Background(), "access-1", "u1", models.UserUpdate{IsBlocked: &blocked})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if !user.IsBlocked {
		t.Error("Expected blocked user")
	}

	user, err = c.UpdateRoles(context.Background(), "access-1", "u1", models.RolesUpdate{Roles: []string{"admin"}})
	if err != nil {
		t.Fatalf("UpdateRoles failed: %v", err)
	}
	if len(user.Roles) != 1 || user.Roles[0] != "admin" {
		t.Errorf("Expected admin role, got %v", user.Roles)
	}
}

func TestClient_NetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	srv.Close()

	if _, err := c.ProfileStatus(context.Background(), "access-1"); !errors.Is(err, autherr.ErrNetwork) {
		t.Errorf("Expected NETWORK_ERROR, got %v", err)
	}
}
