// Package household defines the tenant unit that owns people and lab reports.
package household

import "time"

// Role is a member's authority within a household.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Household is the tenant unit. Exactly one owner per household.
type Household struct {
	ID          string     `json:"id"`
	OwnerUserID string     `json:"owner_user_id"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Member links a login to a household with a role.
type Member struct {
	HouseholdID string     `json:"household_id"`
	UserID      string     `json:"user_id"`
	Role        Role       `json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Person is a tracked individual. It may or may not correspond to a login.
type Person struct {
	ID          string     `json:"id"`
	HouseholdID string     `json:"household_id"`
	UserID      *string    `json:"user_id,omitempty"`
	Name        string     `json:"name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// IsOwner reports whether r grants owner authority.
func (r Role) IsOwner() bool { return r == RoleOwner }

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleOwner || r == RoleMember }
