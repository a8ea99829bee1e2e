// Package gate decides which top-level view a request renders: the public view, the
// application shell, the profile-setup flow, or a redirect when the session lacks
// the permission a route requires.
package gate

import (
	"context"

	"github.com/benvon/community-portal/internal/authz"
	"github.com/benvon/community-portal/internal/profile"
	"github.com/benvon/community-portal/internal/session"
	"go.uber.org/zap"
)

// View is the top-level view to render.
type View string

const (
	ViewLoading      View = "loading"
	ViewPublic       View = "public"
	ViewApp          View = "app"
	ViewProfileSetup View = "profile-setup"
)

// Pinger reports whether session storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Input is what the gate evaluates. Store and Profile are nil for a visitor without a
// session.
type Input struct {
	Path    string
	Store   *session.Store
	Profile *profile.Holder
}

// Decision is the outcome of one evaluation.
type Decision struct {
	State      State            `json:"state"`
	View       View             `json:"view"`
	Permission authz.Permission `json:"permission"`
	Route      *Route           `json:"route,omitempty"`
	// Redirect is set when the requested route may not be rendered.
	Redirect string          `json:"redirect,omitempty"`
	Profile  *profile.Result `json:"profile,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Gate evaluates routes against sessions.
type Gate struct {
	table   *Table
	storage Pinger
	log     *zap.Logger
}

// New creates a gate over table.
func New(table *Table, storage Pinger, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{table: table, storage: storage, log: log}
}

// Table returns the route table.
func (g *Gate) Table() *Table {
	return g.table
}

// Sidebar returns the sidebar entries for permission p.
func (g *Gate) Sidebar(p authz.Permission) []Route {
	return g.table.Sidebar(p)
}

// Evaluate runs the state machine for in and applies the route permission check.
func (g *Gate) Evaluate(ctx context.Context, in Input) Decision {
	m := NewMachine()

	if g.storage != nil {
		if err := g.storage.Ping(ctx); err != nil {
			g.log.Warn("session_storage_unavailable", zap.Error(err))
			return Decision{State: m.State(), View: ViewLoading, Permission: authz.Public, Error: "session storage unavailable"}
		}
	}
	if err := m.StorageReady(); err != nil {
		return Decision{State: m.State(), View: ViewLoading, Error: err.Error()}
	}

	authenticated := in.Store != nil && in.Store.IsAuthenticated()
	permission := authz.Public
	if authenticated {
		permission = in.Store.Permission()
	}

	d := Decision{Permission: permission}
	// Without a profile holder there is nothing to set up.
	hasProfile := in.Profile == nil
	if authenticated && in.Profile != nil {
		res := in.Profile.Ensure(ctx)
		d.Profile = &res
		hasProfile = res.HasProfile
		if res.Error != "" {
			d.Error = res.Error
		}
	}
	state, err := m.Resolve(authenticated, hasProfile)
	if err != nil {
		d.State, d.View, d.Error = m.State(), ViewLoading, err.Error()
		return d
	}
	d.State = state

	route, ok := g.table.Match(in.Path)
	if !ok || !authz.Allows(permission, route.Required()) {
		def := g.table.Default()
		d.Route = &def
		d.Redirect = def.Path
	} else {
		d.Route = &route
	}

	switch {
	case state == StateNeedsProfileSetup:
		d.View = ViewProfileSetup
	case authenticated:
		d.View = ViewApp
	default:
		d.View = ViewPublic
	}
	return d
}
