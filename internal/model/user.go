package model

import "time"

// User is a chat account synced from the external identity provider.
// Handle is the provider's stable identifier and never changes after creation.
type User struct {
	ID           string     `json:"id"`
	Handle       string     `json:"handle"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	AvatarURL    string     `json:"avatar_url"`
	AvatarBlobID *string    `json:"-"` // set when the avatar was uploaded through the blob store
	Online       bool       `json:"online"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type UserPublic struct {
	ID           string     `json:"id"`
	Handle       string     `json:"handle"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	AvatarURL    string     `json:"avatar_url"`
	Online       bool       `json:"online"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:           u.ID,
		Handle:       u.Handle,
		Name:         u.Name,
		Email:        u.Email,
		AvatarURL:    u.AvatarURL,
		Online:       u.Online,
		LastActiveAt: u.LastActiveAt,
	}
}
