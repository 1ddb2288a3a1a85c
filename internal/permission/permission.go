// Package permission maps roles and per-feature permission levels to
// access decisions and subscription scopes.
package permission

import "strings"

type Role uint8

const (
	RoleMaster Role = iota
	RoleAdmin
	RoleInspector
	RoleClient
)

var roleNames = [...]string{"master", "admin", "inspector", "client"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "unknown"
}

func ParseRole(s string) (Role, bool) {
	for i, name := range roleNames {
		if strings.EqualFold(s, name) {
			return Role(i), true
		}
	}
	return 0, false
}

// RoleSet is a set of roles stored as a bit mask.
type RoleSet uint8

func Roles(roles ...Role) RoleSet {
	var set RoleSet
	for _, r := range roles {
		set = set.Add(r)
	}
	return set
}

// ParseRoles ignores unknown tags.
func ParseRoles(tags []string) RoleSet {
	var set RoleSet
	for _, t := range tags {
		if r, ok := ParseRole(t); ok {
			set = set.Add(r)
		}
	}
	return set
}

func (s RoleSet) Add(r Role) RoleSet { return s | 1<<r }
func (s RoleSet) Has(r Role) bool    { return s&(1<<r) != 0 }

func (s RoleSet) Strings() []string {
	out := []string{}
	for i := range roleNames {
		if s.Has(Role(i)) {
			out = append(out, roleNames[i])
		}
	}
	return out
}

// Privileged reports whether the set sees every collection unscoped.
func (s RoleSet) Privileged() bool {
	return s.Has(RoleMaster) || s.Has(RoleAdmin)
}

type Level uint8

const (
	Hidden Level = iota
	View
	Update
	Edit
)

var levelNames = [...]string{"hidden", "view", "update", "edit"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "hidden"
}

// ParseLevel maps unknown values to Hidden.
func ParseLevel(s string) Level {
	for i, name := range levelNames {
		if s == name {
			return Level(i)
		}
	}
	return Hidden
}

type Feature string

const (
	FeatureDashboard    Feature = "dashboard"
	FeatureAppointments Feature = "appointments"
	FeaturePendencies   Feature = "pendencies"
	FeatureNewRequests  Feature = "newRequests"
	FeatureReports      Feature = "reports"
	FeatureUsers        Feature = "users"
	FeatureSettings     Feature = "settings"
	FeatureFinancial    Feature = "financial"
)

var Features = []Feature{
	FeatureDashboard, FeatureAppointments, FeaturePendencies, FeatureNewRequests,
	FeatureReports, FeatureUsers, FeatureSettings, FeatureFinancial,
}

type PermissionMap map[Feature]Level

// Level returns Hidden for features without an entry.
func (m PermissionMap) Level(f Feature) Level {
	return m[f]
}

// Normalize returns a map with an explicit entry for every feature.
func (m PermissionMap) Normalize() PermissionMap {
	out := make(PermissionMap, len(Features))
	for _, f := range Features {
		out[f] = m[f]
	}
	return out
}

// ParsePermissions reads the stored string form.
func ParsePermissions(raw map[string]string) PermissionMap {
	m := make(PermissionMap, len(Features))
	for _, f := range Features {
		m[f] = ParseLevel(raw[string(f)])
	}
	return m
}

func (m PermissionMap) Strings() map[string]string {
	out := make(map[string]string, len(Features))
	for _, f := range Features {
		out[string(f)] = m.Level(f).String()
	}
	return out
}

// DefaultProfilePermissions is granted to a profile synthesized on first sign-in.
func DefaultProfilePermissions() PermissionMap {
	return PermissionMap{
		FeatureDashboard:    View,
		FeatureAppointments: Update,
		FeaturePendencies:   Update,
		FeatureNewRequests:  Hidden,
		FeatureReports:      Hidden,
		FeatureUsers:        Hidden,
		FeatureSettings:     Update,
		FeatureFinancial:    Hidden,
	}
}

// FullPermissions grants Edit on every feature.
func FullPermissions() PermissionMap {
	m := make(PermissionMap, len(Features))
	for _, f := range Features {
		m[f] = Edit
	}
	return m
}
