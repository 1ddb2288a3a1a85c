package models

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/permission"
	"github.com/harentsoaR/gestorpro/internal/store"
)

// User is the profile document stored under users/<uid>.
type User struct {
	ID                  string            `bson:"-" json:"id"`
	Name                string            `bson:"name" json:"name"`
	Email               string            `bson:"email" json:"email"`
	Roles               []string          `bson:"roles" json:"roles"`
	Permissions         map[string]string `bson:"permissions" json:"permissions"`
	RequesterID         string            `bson:"requesterId,omitempty" json:"requesterId,omitempty"`
	PhotoURL            string            `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
	ForcePasswordChange bool              `bson:"forcePasswordChange,omitempty" json:"forcePasswordChange,omitempty"`
	FCMToken            string            `bson:"fcmToken,omitempty" json:"-"`
}

// UserFromDocument fills missing roles and permissions so every profile
// resolves to a complete permission map.
func UserFromDocument(d store.Document) (User, error) {
	var u User
	if err := Decode(d, &u); err != nil {
		return User{}, err
	}
	u.ID = d.ID
	if u.Roles == nil {
		u.Roles = []string{}
	}
	u.Permissions = permission.ParsePermissions(u.Permissions).Strings()
	return u, nil
}

// DefaultUser is persisted for an identity that has no profile yet.
func DefaultUser(name, email string) User {
	if name == "" {
		name = email
	}
	if name == "" {
		name = "Novo Usuário"
	}
	return User{
		Name:        name,
		Email:       email,
		Roles:       []string{permission.RoleInspector.String()},
		Permissions: permission.DefaultProfilePermissions().Strings(),
	}
}

func (u User) RoleSet() permission.RoleSet {
	return permission.ParseRoles(u.Roles)
}

func (u User) PermissionMap() permission.PermissionMap {
	return permission.ParsePermissions(u.Permissions)
}

func (u User) Fields() (bson.M, error) {
	return Encode(u)
}
