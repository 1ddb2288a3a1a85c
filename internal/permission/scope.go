package permission

import "github.com/harentsoaR/gestorpro/internal/store"

type Resource uint8

const (
	Appointments Resource = iota
	Pendencies
	Financials
	Accounts
	ThirdParties
	Users
)

var Resources = []Resource{Appointments, Pendencies, Financials, Accounts, ThirdParties, Users}

var collections = [...]string{"appointments", "pendencies", "financials", "accounts", "thirdParties", "users"}

func (r Resource) Collection() string { return collections[r] }
func (r Resource) String() string     { return collections[r] }

func ParseResource(s string) (Resource, bool) {
	for i, c := range collections {
		if c == s {
			return Resource(i), true
		}
	}
	return 0, false
}

// Feature returns the feature gating the resource. Users is gated by role
// alone and reports ok == false.
func (r Resource) Feature() (f Feature, ok bool) {
	switch r {
	case Appointments:
		return FeatureAppointments, true
	case Pendencies:
		return FeaturePendencies, true
	case Financials, Accounts, ThirdParties:
		return FeatureFinancial, true
	default:
		return "", false
	}
}

// Scope is the subscription decision for one resource. A nil Filter with
// Subscribe set means the whole collection. Gap marks a client without a
// linked requester: the mirror stays empty and a warning is due.
type Scope struct {
	Subscribe bool
	Filter    store.Filter
	Gap       bool
}

// Subject is the identity a scope is computed for.
type Subject struct {
	ID          string
	Roles       RoleSet
	Permissions PermissionMap
}

func all() Scope                 { return Scope{Subscribe: true} }
func where(f string, v any) Scope { return Scope{Subscribe: true, Filter: store.Where(f, store.OpEqual, v)} }

// ResolveScope is deterministic and free of side effects.
// linkedRequester is the requester name a client account is bound to, or "".
func ResolveScope(sub Subject, r Resource, linkedRequester string) Scope {
	if f, gated := r.Feature(); gated && sub.Permissions.Level(f) == Hidden {
		return Scope{}
	}

	switch primaryRole(sub.Roles) {
	case roleClassPrivileged:
		return all()
	case roleClassInspector:
		switch r {
		case Appointments:
			return where("inspectorId", sub.ID)
		case Pendencies:
			// a client role also sees every pendency
			if sub.Roles.Has(RoleClient) {
				return all()
			}
			return where("responsibleId", sub.ID)
		case Users:
			return Scope{}
		default:
			return all()
		}
	case roleClassClient:
		switch r {
		case Appointments:
			if linkedRequester == "" {
				return Scope{Gap: true}
			}
			return where("requester", linkedRequester)
		case Users:
			return Scope{Subscribe: true, Filter: store.Where("roles", store.OpArrayContainsAny, []string{RoleAdmin.String(), RoleMaster.String()})}
		default:
			return all()
		}
	default:
		switch r {
		case Financials, Accounts, ThirdParties:
			return all()
		default:
			return Scope{}
		}
	}
}

type roleClass uint8

const (
	roleClassNone roleClass = iota
	roleClassPrivileged
	roleClassInspector
	roleClassClient
)

func primaryRole(roles RoleSet) roleClass {
	switch {
	case roles.Privileged():
		return roleClassPrivileged
	case roles.Has(RoleInspector):
		return roleClassInspector
	case roles.Has(RoleClient):
		return roleClassClient
	default:
		return roleClassNone
	}
}
