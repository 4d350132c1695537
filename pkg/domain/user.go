package domain

import "time"

// User is an identity record held by the identity store. PasswordHash and the
// verification token fields never leave the server.
type User struct {
	ID                 string
	Email              string
	Name               string
	PasswordHash       string
	EmailVerified      bool
	VerificationToken  string
	VerificationExpiry time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PublicUser is the client-facing projection of a User.
type PublicUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
}

// Public returns the client-facing projection of the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
	}
}

// Clone returns a deep copy so store callers cannot mutate shared state.
func (u *User) Clone() *User {
	c := *u
	return &c
}
