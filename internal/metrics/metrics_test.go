package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserver(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())

	m.RefreshResult("")
	m.RefreshResult("")
	m.RefreshResult(autherr.CodeInvalidToken)
	m.ForcedLogout(models.SessionEventExpired)
	m.LoginResult("password", autherr.CodeInvalidUserPassword)
	m.ProfileChecked(false, "")

	if got := testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successful refreshes, got %v", got)
	}
	if got := testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("INVALID_TOKEN")); got != 1 {
		t.Errorf("Expected 1 failed refresh, got %v", got)
	}
	if got := testutil.ToFloat64(m.ForcedLogoutsTotal.WithLabelValues("expired")); got != 1 {
		t.Errorf("Expected 1 forced logout, got %v", got)
	}
	if got := testutil.ToFloat64(m.LoginsTotal.WithLabelValues("password", "INVALID_USER_PASSWORD")); got != 1 {
		t.Errorf("Expected 1 failed login, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProfileChecksTotal.WithLabelValues("no_profile")); got != 1 {
		t.Errorf("Expected 1 profile check, got %v", got)
	}
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	router := mux.NewRouter()
	router.Use(m.Middleware)
	router.HandleFunc("/api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"1", "2", "3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/api/v1/users/"+id, nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPatch, "/api/v1/users/{id}", "204"))
	if got != 3 {
		t.Errorf("Expected 3 requests under the route template, got %v", got)
	}
}

func TestHandler_ExposesActiveSessions(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	m.RegisterActiveSessions(func() int { return 4 })

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "community_portal_active_sessions 4") {
		t.Errorf("Expected active_sessions gauge in output, got:\n%s", body)
	}
}
