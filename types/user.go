// Package types contains shared domain types used across the Parley gateway
package types

import "time"

// UserStatus is the presence status a user advertises to their groups
type UserStatus string

const (
	StatusOnline    UserStatus = "online"
	StatusIdle      UserStatus = "idle"
	StatusBusy      UserStatus = "busy"
	StatusInvisible UserStatus = "invisible"
	StatusOffline   UserStatus = "offline"
)

// User is the full directory record for an account. Email and
// PasswordHash are credentials: they must never leave the directory
// layer except through the explicit projections below.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	Status       UserStatus `json:"status"`
	Verified     bool       `json:"verified"`
	Children     []Child    `json:"children,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Child is a dependent profile attached to a user account
type Child struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Notes string `json:"notes,omitempty"`
}

// PublicProfile is the projection of a User that is safe to fan out to
// other connected users. It intentionally has no email or password field.
type PublicProfile struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	Status      UserStatus `json:"status"`
	Verified    bool       `json:"verified"`
	Children    []Child    `json:"children,omitempty"`
}

// PrivateProfile extends the public projection with the account email.
// It is sent only to the account's own connection in the READY payload.
type PrivateProfile struct {
	PublicProfile
	Email string `json:"email"`
}

// Public projects the user record to its public subset
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		Status:      u.Status,
		Verified:    u.Verified,
		Children:    u.Children,
	}
}

// Private projects the user record to the owner-visible subset
func (u *User) Private() PrivateProfile {
	return PrivateProfile{
		PublicProfile: u.Public(),
		Email:         u.Email,
	}
}
