package models

import "time"

// UserPermission grants a viewer time-boxed access to a video
type UserPermission struct {
	UserID    string    `json:"user_id" db:"user_id"`
	VideoID   string    `json:"video_id" db:"video_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ActiveAt reports whether the grant is still valid at t
func (p *UserPermission) ActiveAt(t time.Time) bool {
	return t.Before(p.ExpiresAt)
}
