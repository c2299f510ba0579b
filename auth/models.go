package auth

import "time"

// Principal is the authenticated identity, distinct from its profile and role
// data. It mirrors the users table and carries no JSON annotations so it can
// be reused by different presentation layers.
type Principal struct {
	ID            string
	Email         string
	EmailVerified bool
	LastSignIn    *time.Time
	CreatedAt     time.Time
}

// Profile is the mutable user-owned record, one-to-one with a Principal.
type Profile struct {
	ID        string
	FullName  string
	Phone     *string
	Address   *string
	AvatarURL *string
	Email     string
	UpdatedAt time.Time
}

// RegisterRequest contains sign-up data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest contains sign-in credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
