package auth

import "time"

type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
	// RoleSystem marks platform-authored actions (audit log entries, automated
	// transitions). It is never stored on a user row and never issued a token.
	RoleSystem Role = "system"
)

// Actor identifies who is performing an operation. The System actor carries
// an empty ID; callers must branch on Role, never on a sentinel identifier.
type Actor struct {
	ID   string
	Role Role
}

// System returns the platform actor used for system-authored audit entries.
func System() Actor {
	return Actor{Role: RoleSystem}
}

func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
