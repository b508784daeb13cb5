package models

import "time"

// GoogleToken is the stored OAuth2 credential of a user who connected Google.
type GoogleToken struct {
	UserID       string     `db:"user_id"`
	AccessToken  string     `db:"access_token"`
	RefreshToken string     `db:"refresh_token"`
	TokenType    string     `db:"token_type"`
	Expiry       *time.Time `db:"expiry"`
	Email        string     `db:"email"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// GoogleStatus is the public view of a user's Google connection.
type GoogleStatus struct {
	Enabled     bool       `json:"enabled"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Expiry      *time.Time `json:"expiry,omitempty"`
}
