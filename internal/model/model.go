package model

import (
	"strings"
	"time"

	"github.com/juju/errors"
)

type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleTeacher Role = "Teacher"
	RoleParent  Role = "Parent"
	RoleStudent Role = "Student"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleAdmin, RoleTeacher, RoleParent, RoleStudent}

// ParseRole accepts any casing of a known role name.
func ParseRole(value string) (Role, error) {
	value = strings.TrimSpace(value)
	for _, role := range Roles {
		if strings.EqualFold(value, string(role)) {
			return role, nil
		}
	}
	return "", errors.BadRequestf("invalid role %q", value)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

type Account struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	RoleID       int64      `json:"role_id"`
	Role         Role       `json:"role"`
	Active       bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewAccount is the write-side shape of an account before it has an id.
type NewAccount struct {
	Email        string
	PasswordHash string
	RoleID       int64
	Role         Role
}
