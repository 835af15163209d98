package domain

import (
	"strings"
	"time"
)

// Role distinguishes team leads from regular members.
type Role string

const (
	RoleMember Role = "member"
	RoleLead   Role = "lead"
)

// ParseRole maps stored role values to a Role. The store keeps roles as
// "1" (member) and "2" (lead); anything unrecognised is a member.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2", "lead":
		return RoleLead
	}
	return RoleMember
}

// StoreValue is the role as written to the record store.
func (r Role) StoreValue() string {
	if r == RoleLead {
		return "2"
	}
	return "1"
}

// Member is a person tasks can be assigned to.
type Member struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// NewMember is the payload persisted when a member is added.
type NewMember struct {
	Name  string
	Phone string
	Email string
	Role  Role
}
