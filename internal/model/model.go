package model

import "time"

// Role is the closed set of console roles. Anything outside this set is
// treated as insufficient by the authorization gate.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleTeacher    Role = "teacher"
	RoleParent     Role = "parent"
)

func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleSuperadmin, RoleAdmin, RoleAccountant, RoleTeacher, RoleParent:
		return Role(value), true
	}
	return "", false
}

func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

type UserProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      Role   `json:"role"`
	SchoolID  string `json:"schoolId,omitempty"`
	BranchID  string `json:"branchId,omitempty"`
}

// SessionRecord is the stored pairing of a token hash and the profile it
// identifies. The pair is written and deleted as one unit.
type SessionRecord struct {
	TokenHash string      `json:"tokenHash"`
	User      UserProfile `json:"user"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
