package permission

import "strings"

// ProtectedProfileFields can only be written by a user administrator, never
// by the profile's owner.
var ProtectedProfileFields = []string{"roles", "permissions", "requesterId", "email", "forcePasswordChange", "fcmToken"}

// CanRead reports whether the resource's feature is visible to sub.
func CanRead(sub Subject, r Resource) bool {
	f, gated := r.Feature()
	if !gated {
		return sub.Roles.Privileged() || sub.Permissions.Level(FeatureUsers) != Hidden
	}
	return sub.Permissions.Level(f) != Hidden
}

// CanWrite reports whether sub may create, update or delete documents of r.
// Users is reserved to user administrators.
func CanWrite(sub Subject, r Resource) bool {
	f, gated := r.Feature()
	if !gated {
		return sub.Roles.Privileged() || sub.Permissions.Level(FeatureUsers) == Edit
	}
	return sub.Permissions.Level(f) >= Update
}

// CanEditProfile reports whether sub may write fields on the profile
// targetID. Owners may edit their own profile outside the protected fields.
func CanEditProfile(sub Subject, targetID string, fields []string) bool {
	if CanWrite(sub, Users) {
		return true
	}
	if targetID == "" || targetID != sub.ID {
		return false
	}
	for _, f := range fields {
		if isProtected(f) {
			return false
		}
	}
	return true
}

func CanEditSettings(sub Subject) bool {
	return sub.Roles.Privileged() || sub.Permissions.Level(FeatureSettings) == Edit
}

// isProtected also catches dotted paths into a protected field.
func isProtected(field string) bool {
	for _, p := range ProtectedProfileFields {
		if field == p || strings.HasPrefix(field, p+".") {
			return true
		}
	}
	return false
}
