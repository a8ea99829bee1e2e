// Package authz derives permission levels from identity-provider roles and compares
// them against the level a route requires.
package authz

import (
	"fmt"
	"strings"
)

// Permission is an authorization level. Levels are ordered:
// super-admin ⊇ admin ⊇ user ⊇ public.
type Permission string

const (
	Public     Permission = "public"
	User       Permission = "user"
	Admin      Permission = "admin"
	SuperAdmin Permission = "super-admin"
)

var rank = map[Permission]int{
	Public:     0,
	User:       1,
	Admin:      2,
	SuperAdmin: 3,
}

// Role names recognized in token claims, mapped to the level they grant.
var roleLevels = map[string]Permission{
	"super-admin": SuperAdmin,
	"superadmin":  SuperAdmin,
	"super_admin": SuperAdmin,
	"admin":       Admin,
	"user":        User,
}

// Parse converts a string into a Permission. An empty string is Public.
func Parse(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return Public, nil
	}
	if _, ok := rank[p]; !ok {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known level.
func (p Permission) Valid() bool {
	_, ok := rank[p]
	return ok
}

// Includes reports whether p grants required.
func (p Permission) Includes(required Permission) bool {
	return Allows(p, required)
}

// Allows reports whether a session holding granted may access a route that requires
// required. Unknown levels never grant anything; an unknown requirement is never met.
func Allows(granted, required Permission) bool {
	if required == "" {
		required = Public
	}
	g, ok := rank[granted]
	if !ok {
		g = rank[Public]
	}
	r, ok := rank[required]
	if !ok {
		return false
	}
	return g >= r
}

// FromRoles derives the highest level granted by roles for an authenticated session.
// Any authenticated session holds at least User; unauthenticated sessions hold Public.
func FromRoles(authenticated bool, roles []string) Permission {
	if !authenticated {
		return Public
	}
	best := User
	for _, role := range roles {
		level, ok := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if !ok {
			continue
		}
		if rank[level] > rank[best] {
			best = level
		}
	}
	return best
}

// Label returns a display label for p.
func (p Permission) Label() string {
	switch p {
	case SuperAdmin:
		return "Super administrator"
	case Admin:
		return "Administrator"
	case User:
		return "Member"
	default:
		return "Guest"
	}
}

// IsRole reports whether name is a role this package recognizes.
func IsRole(name string) bool {
	_, ok := roleLevels[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
