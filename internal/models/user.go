package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent     UserRole = "STUDENT"
	RoleInstructor  UserRole = "INSTRUCTOR"
	RoleRegistrar   UserRole = "REGISTRAR"
	RoleProgramHead UserRole = "PROGRAM_HEAD"
)

// IsRegistrar reports whether the role carries registrar authority.
func (r UserRole) IsRegistrar() bool {
	return r == RoleRegistrar
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	OfficialID   string     `db:"official_id" json:"official_id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
