package gate

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/benvon/community-portal/internal/authz"
	"github.com/benvon/community-portal/internal/validation"
	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Route describes one page of the application and the permission it requires.
type Route struct {
	Path          string           `yaml:"path" json:"path" validate:"required,startswith=/"`
	Label         string           `yaml:"label" json:"label" validate:"required,max=100"`
	Permission    authz.Permission `yaml:"permission,omitempty" json:"permission" validate:"omitempty,permission"`
	Order         int              `yaml:"order,omitempty" json:"order"`
	ShowInSidebar bool             `yaml:"showInSidebar,omitempty" json:"showInSidebar"`
}

// Required returns the route's permission, Public when none is declared.
func (r Route) Required() authz.Permission {
	if r.Permission == "" {
		return authz.Public
	}
	return r.Permission
}

type tableFile struct {
	Default string  `yaml:"default"`
	Routes  []Route `yaml:"routes"`
}

// Table is an immutable route table.
type Table struct {
	routes      []Route
	defaultPath string
}

// DefaultTable returns the built-in route table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultRoutes)
}

// LoadTable reads a route table from path, or the built-in table if path is empty.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses and validates a YAML route table. The default route must exist
// and be public so that a failed permission check always has somewhere to go.
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("route table has no routes")
	}

	seen := make(map[string]bool, len(file.Routes))
	for i := range file.Routes {
		r := &file.Routes[i]
		r.Permission = authz.Permission(strings.ToLower(string(r.Permission)))
		if err := validation.Validate.Struct(r); err != nil {
			return nil, fmt.Errorf("invalid route %q: %w", r.Path, err)
		}
		if seen[r.Path] {
			return nil, fmt.Errorf("duplicate route %q", r.Path)
		}
		seen[r.Path] = true
	}

	if file.Default == "" {
		file.Default = "/"
	}
	t := &Table{routes: file.Routes, defaultPath: file.Default}
	def, ok := t.Match(file.Default)
	if !ok {
		return nil, fmt.Errorf("default route %q is not in the table", file.Default)
	}
	if def.Required() != authz.Public {
		return nil, fmt.Errorf("default route %q must be public, is %s", file.Default, def.Required())
	}
	return t, nil
}

// Routes returns a copy of every route.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Default returns the route failed permission checks redirect to.
func (t *Table) Default() Route {
	r, _ := t.Match(t.defaultPath)
	return r
}

// Match finds the route for path. Exact paths win over patterns with ":param" segments.
func (t *Table) Match(path string) (Route, bool) {
	path = normalize(path)
	for _, r := range t.routes {
		if r.Path == path {
			return r, true
		}
	}
	for _, r := range t.routes {
		if matchPattern(r.Path, path) {
			return r, true
		}
	}
	return Route{}, false
}

// Sidebar returns the sidebar routes visible at permission p, ordered by Order.
func (t *Table) Sidebar(p authz.Permission) []Route {
	var out []Route
	for _, r := range t.routes {
		if r.ShowInSidebar && authz.Allows(p, r.Required()) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func matchPattern(pattern, path string) bool {
	if !strings.Contains(pattern, ":") {
		return false
	}
	ps := strings.Split(pattern, "/")
	xs := strings.Split(path, "/")
	if len(ps) != len(xs) {
		return false
	}
	for i := range ps {
		if strings.HasPrefix(ps[i], ":") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != xs[i] {
			return false
		}
	}
	return true
}
