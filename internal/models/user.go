package models

import "time"

// User is a local identity record resolved from a GitHub profile.
// A github id maps to at most one user; the record is created on first
// login and never mutated afterwards.
type User struct {
	ID        int64     `json:"id"`
	GitHubID  string    `json:"github_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
