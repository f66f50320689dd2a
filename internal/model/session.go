package model

import "time"

// Session is provisioned by the external identity service; the API only
// validates signatures against it. UserHandle is the provider's stable handle.
type Session struct {
	ID         string     `json:"id"`
	UserHandle string     `json:"user_handle"`
	DeviceName string     `json:"device_name"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}
