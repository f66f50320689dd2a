package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/repository"
)

// SyncUser upserts the caller's profile from the identity provider's claims.
// First sync creates the row; repeat syncs refresh the provider-owned fields
// and count as activity. An avatar uploaded through the blob store is not
// overwritten by the provider's picture on later syncs.
func (s *Service) SyncUser(ctx context.Context, handle, name, email, avatarURL string) (*model.User, error) {
	if handle == "" {
		return nil, ErrUnauthorized
	}
	existing, err := s.users.GetByHandle(ctx, handle)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	now := s.now()
	if existing != nil {
		if existing.AvatarBlobID != nil {
			avatarURL = existing.AvatarURL
		}
		if err := s.users.UpdateSync(ctx, existing.ID, name, email, avatarURL); err != nil {
			return nil, err
		}
		existing.Name = name
		existing.Email = email
		existing.AvatarURL = avatarURL
		existing.Online = true
		existing.LastActiveAt = &now
		s.inv.Invalidate(ScopeUsers)
		return existing, nil
	}
	u := &model.User{
		ID:           uuid.NewString(),
		Handle:       handle,
		Name:         name,
		Email:        email,
		AvatarURL:    avatarURL,
		Online:       true,
		LastActiveAt: &now,
		CreatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	logger.Infof("service.SyncUser: created profile for %s", handle)
	s.inv.Invalidate(ScopeUsers)
	return u, nil
}

// GetCurrentUser returns the caller's profile, nil if they have not synced yet.
func (s *Service) GetCurrentUser(ctx context.Context, handle string) (*model.User, error) {
	if handle == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s.applyPresence(u)
	return u, nil
}

// GetUsers lists everyone except the caller, presence window applied.
func (s *Service) GetUsers(ctx context.Context, handle string) ([]model.UserPublic, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	all, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserPublic, 0, len(all))
	for i := range all {
		if all[i].ID == me.ID {
			continue
		}
		s.applyPresence(&all[i])
		out = append(out, all[i].ToPublic())
	}
	return out, nil
}

// Heartbeat renews the caller's online window. No-op before the first sync.
func (s *Service) Heartbeat(ctx context.Context, handle string) error {
	me, err := s.presenceUser(ctx, handle)
	if err != nil || me == nil {
		return err
	}
	if err := s.users.SetOnline(ctx, me.ID, true); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeUsers)
	return nil
}

// SetOnlineStatus records an explicit online/offline transition. Going offline
// still stamps activity so "last seen" stays truthful. No-op before the first
// sync.
func (s *Service) SetOnlineStatus(ctx context.Context, handle string, online bool) error {
	me, err := s.presenceUser(ctx, handle)
	if err != nil || me == nil {
		return err
	}
	if err := s.users.SetOnline(ctx, me.ID, online); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeUsers)
	return nil
}

// presenceUser resolves the handle for the presence mutations: authentication
// still hard-fails, an unsynced profile just means nothing to stamp yet.
func (s *Service) presenceUser(ctx context.Context, handle string) (*model.User, error) {
	if handle == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// UpdateProfileImage points the caller's avatar at an uploaded blob.
func (s *Service) UpdateProfileImage(ctx context.Context, handle, blobID string) (*model.User, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	blobID = strings.TrimSpace(blobID)
	if blobID == "" {
		return nil, ErrBadRequest
	}
	url := s.blobURL(blobID)
	if err := s.users.SetAvatarBlob(ctx, me.ID, blobID, url); err != nil {
		return nil, err
	}
	me.AvatarBlobID = &blobID
	me.AvatarURL = url
	s.inv.Invalidate(ScopeUsers)
	return me, nil
}

// applyPresence overwrites the stored online flag with the window-derived one
// and refreshes a blob-backed avatar URL.
func (s *Service) applyPresence(u *model.User) {
	u.Online = presence.IsUserOnline(u.Online, u.LastActiveAt, s.now())
	if u.AvatarBlobID != nil {
		if url := s.blobURL(*u.AvatarBlobID); url != "" {
			u.AvatarURL = url
		}
	}
}
