// Package security holds the access rules and filesystem-safety helpers that
// every idea operation goes through: caller authorization, name sanitization,
// path confinement and collision versioning.
package security

import "strings"

// Permissions is the capability set derived from a caller id.
type Permissions struct {
	CallerID      string
	Authenticated bool
	IsAdmin       bool
	CanCreate     bool
	CanRead       bool
	CanUpdate     bool
	CanDelete     bool
	CanRename     bool
	CanSearch     bool
}

// Access answers authorization questions for caller ids asserted by the
// chat transport. Admins are implicitly authorized.
type Access struct {
	authorized map[string]struct{}
	admins     map[string]struct{}
}

// NewAccess builds an Access from the configured id lists. Blank entries are
// ignored.
func NewAccess(authorized, admins []string) *Access {
	a := &Access{
		authorized: make(map[string]struct{}),
		admins:     make(map[string]struct{}),
	}
	for _, id := range authorized {
		if id = strings.TrimSpace(id); id != "" {
			a.authorized[id] = struct{}{}
		}
	}
	for _, id := range admins {
		if id = strings.TrimSpace(id); id != "" {
			a.admins[id] = struct{}{}
			a.authorized[id] = struct{}{}
		}
	}
	return a
}

// Authorize returns the permissions of callerID. Unknown callers get an empty
// set with only CallerID filled in.
func (a *Access) Authorize(callerID string) Permissions {
	p := Permissions{CallerID: callerID}
	if _, ok := a.authorized[callerID]; !ok || callerID == "" {
		return p
	}
	_, admin := a.admins[callerID]

	p.Authenticated = true
	p.IsAdmin = admin
	p.CanCreate = true
	p.CanRead = true
	p.CanUpdate = true
	p.CanSearch = true
	p.CanDelete = admin
	p.CanRename = admin
	return p
}

// IsAuthorized reports whether callerID may use the non-admin operations.
func (a *Access) IsAuthorized(callerID string) bool {
	return a.Authorize(callerID).Authenticated
}

// IsAdmin reports whether callerID may rename and delete ideas.
func (a *Access) IsAdmin(callerID string) bool {
	return a.Authorize(callerID).IsAdmin
}
