package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benvon/community-portal/internal/authz"
)

func TestTable_Sidebar(t *testing.T) {
	t.Parallel()

	table, err := DefaultTable()
	if err != nil {
		t.Fatalf("DefaultTable failed: %v", err)
	}

	tests := []struct {
		permission authz.Permission
		want       []string
	}{
		{permission: authz.Public, want: []string{"/"}},
		{permission: authz.User, want: []string{"/", "/feed", "/profile"}},
		{permission: authz.Admin, want: []string{"/", "/feed", "/profile", "/admin/users"}},
		{permission: authz.SuperAdmin, want: []string{"/", "/feed", "/profile", "/admin/users", "/admin/roles"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.permission), func(t *testing.T) {
			t.Parallel()

			got := table.Sidebar(tt.permission)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d entries, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, r := range got {
				if r.Path != tt.want[i] {
					t.Errorf("Entry %d: expected %s, got %s", i, tt.want[i], r.Path)
				}
			}
		})
	}
}

func TestTable_Match(t *testing.T) {
	t.Parallel()

	table, err := DefaultTable()
	if err != nil {
		t.Fatalf("DefaultTable failed: %v", err)
	}

	tests := map[string]string{
		"/feed":          "/feed",
		"/feed/":         "/feed",
		"/feed?tab=new":  "/feed",
		"":               "/",
		"/users/abc":     "/users/:id",
		"/profile/setup": "/profile/setup",
	}
	for path, want := range tests {
		r, ok := table.Match(path)
		if !ok || r.Path != want {
			t.Errorf("Match(%q): expected %s, got %s (ok=%v)", path, want, r.Path, ok)
		}
	}
	if _, ok := table.Match("/users/abc/extra"); ok {
		t.Error("Expected pattern not to match a longer path")
	}
}

func TestParseTable_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: "routes: []"},
		{name: "malformed", yaml: "routes: [:"},
		{name: "missing label", yaml: "routes:\n  - path: /\n"},
		{name: "relative path", yaml: "routes:\n  - path: feed\n    label: Feed\n"},
		{name: "unknown permission", yaml: "routes:\n  - path: /\n    label: Home\n  - path: /x\n    label: X\n    permission: owner\n"},
		{name: "duplicate", yaml: "routes:\n  - path: /\n    label: Home\n  - path: /\n    label: Again\n"},
		{name: "missing default", yaml: "default: /home\nroutes:\n  - path: /\n    label: Home\n"},
		{name: "private default", yaml: "routes:\n  - path: /\n    label: Home\n    permission: user\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := ParseTable([]byte(tt.yaml)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadTable_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routes.yaml")
	data := "default: /welcome\nroutes:\n  - path: /welcome\n    label: Welcome\n    showInSidebar: true\n  - path: /Admin\n    label: Admin\n    permission: ADMIN\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if table.Default().Path != "/welcome" {
		t.Errorf("Expected default /welcome, got %s", table.Default().Path)
	}
	r, ok := table.Match("/Admin")
	if !ok || r.Required() != authz.Admin {
		t.Errorf("Expected admin route, got %+v", r)
	}
	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
