package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/chatsync/internal/chatkey"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/repository"
)

// GetOrCreateConversation returns the direct conversation between the caller
// and otherUserID, creating it if it does not exist. Lookup order: the indexed
// key, then a legacy scan (rows from before the key existed, repaired in
// place), then an insert guarded by the unique key index. If a concurrent
// caller wins the insert we read their row back, so both sides always end up
// on the same conversation. Soft nil when no counterpart is named.
func (s *Service) GetOrCreateConversation(ctx context.Context, handle, otherUserID string) (*model.Conversation, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(otherUserID) == "" {
		return nil, nil
	}
	key := chatkey.BuildConversationKey(me.ID, otherUserID)

	c, err := s.convs.GetByKey(ctx, key)
	if err == nil {
		if err := s.repairKeyedDirect(ctx, c, me.ID, otherUserID); err != nil {
			return nil, err
		}
		return c, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if c, err := s.findLegacyDirect(ctx, key, me.ID); err != nil {
		return nil, err
	} else if c != nil {
		return c, nil
	}

	now := s.now()
	a, b := chatkey.NormalizeParticipants(me.ID, otherUserID)
	fresh := &model.Conversation{
		ID:              uuid.NewString(),
		ConversationKey: &key,
		ParticipantA:    &a,
		ParticipantB:    &b,
		Participants:    []string{a, b},
		CreatedBy:       me.ID,
		LastSeen:        chatkey.DefaultLastSeen(me.ID, otherUserID, now),
		Typing:          &model.TypingState{UserID: me.ID, IsTyping: false, UpdatedAt: now},
		CreatedAt:       now,
	}
	inserted, err := s.convs.InsertDirect(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost the race; the winner's row is the conversation.
		return s.convs.GetByKey(ctx, key)
	}
	s.inv.Invalidate(ScopeConversations)
	return fresh, nil
}

// repairKeyedDirect backfills whatever an external writer left off a keyed
// direct row: pair columns, a malformed participants list, a missing last-seen
// table. The last-seen default seeds the requester at now, the same as a fresh
// insert, so the repaired row is not unread for the one asking for it.
func (s *Service) repairKeyedDirect(ctx context.Context, c *model.Conversation, requesterID, otherID string) error {
	a, b := chatkey.NormalizeParticipants(requesterID, otherID)
	dirty := false
	if c.ParticipantA == nil {
		pa := a
		c.ParticipantA = &pa
		dirty = true
	}
	if c.ParticipantB == nil {
		pb := b
		c.ParticipantB = &pb
		dirty = true
	}
	if len(c.Participants) != 2 {
		c.Participants = []string{a, b}
		dirty = true
	}
	if c.LastSeen == nil {
		c.LastSeen = chatkey.DefaultLastSeen(requesterID, otherID, s.now())
		dirty = true
	}
	if !dirty {
		return nil
	}
	return s.convs.PatchNormalized(ctx, c)
}

// findLegacyDirect scans for a direct conversation between the pair that was
// written before the indexed key existed, and backfills its derived fields so
// the next lookup hits the index. A row with no last-seen table gets the fresh
// default (requester at now, other side at zero) rather than both at zero.
func (s *Service) findLegacyDirect(ctx context.Context, key, requesterID string) (*model.Conversation, error) {
	all, err := s.convs.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		c := &all[i]
		if c.IsGroup || c.ConversationKey != nil {
			continue
		}
		u1, u2, ok := chatkey.SafeTwoParticipants(c.Participants)
		if !ok {
			continue
		}
		if chatkey.BuildConversationKey(u1, u2) != key {
			continue
		}
		hadLastSeen := c.LastSeen != nil
		if !chatkey.NormalizeLegacy(c) {
			continue
		}
		if !hadLastSeen {
			other := u1
			if other == requesterID {
				other = u2
			}
			c.LastSeen = chatkey.DefaultLastSeen(requesterID, other, s.now())
		}
		if err := s.convs.PatchNormalized(ctx, c); err != nil {
			return nil, err
		}
		logger.Infof("service.GetOrCreateConversation: repaired legacy row %s", c.ID)
		return c, nil
	}
	return nil, nil
}

// GetConversations lists the caller's conversations newest-activity first,
// with the per-caller unread count and the typing window applied.
func (s *Service) GetConversations(ctx context.Context, handle string) ([]model.ConversationView, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	list, err := s.convs.ListByParticipant(ctx, me.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.ConversationView, 0, len(list))
	for i := range list {
		c := &list[i]
		if !c.IsGroup && c.ConversationKey == nil && chatkey.NormalizeLegacy(c) {
			if err := s.convs.PatchNormalized(ctx, c); err != nil {
				return nil, err
			}
		}
		unread, err := s.convs.CountUnread(ctx, c.ID, me.ID, c.LastSeenOf(me.ID))
		if err != nil {
			return nil, err
		}
		c.Typing = presence.EffectiveTyping(c.Typing, now)
		out = append(out, model.ConversationView{Conversation: *c, UnreadCount: unread})
	}
	return out, nil
}

// CreateGroupConversation starts a group thread. The caller is always a
// participant; a group needs a name and at least three distinct members.
// Validation failures return nil, not an error.
func (s *Service) CreateGroupConversation(ctx context.Context, handle, name string, participantIDs []string) (*model.Conversation, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	seen := map[string]bool{me.ID: true}
	members := []string{me.ID}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < 3 {
		return nil, nil
	}
	now := s.now()
	lastSeen := make([]model.LastSeenEntry, 0, len(members))
	for _, id := range members {
		entry := model.LastSeenEntry{UserID: id}
		if id == me.ID {
			entry.Timestamp = now
		}
		lastSeen = append(lastSeen, entry)
	}
	c := &model.Conversation{
		ID:           uuid.NewString(),
		Participants: members,
		IsGroup:      true,
		GroupName:    name,
		CreatedBy:    me.ID,
		LastSeen:     lastSeen,
		Typing:       &model.TypingState{UserID: me.ID, IsTyping: false, UpdatedAt: now},
		CreatedAt:    now,
	}
	if err := s.convs.InsertGroup(ctx, c); err != nil {
		return nil, err
	}
	s.inv.Invalidate(ScopeConversations)
	return c, nil
}

// RenameGroup renames a group thread and reports whether the rename took.
// Creator only; false (not an error) for anyone else, for a gone or non-group
// conversation, and for an empty name.
func (s *Service) RenameGroup(ctx context.Context, handle, conversationID, name string) (bool, error) {
	conv, err := s.groupOwnedBy(ctx, handle, conversationID)
	if err != nil || conv == nil {
		return false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	if err := s.convs.Rename(ctx, conv.ID, name); err != nil {
		return false, err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(conv.ID))
	return true, nil
}

// DeleteGroup removes a group thread and its messages, reporting whether
// anything was deleted. Creator only.
func (s *Service) DeleteGroup(ctx context.Context, handle, conversationID string) (bool, error) {
	conv, err := s.groupOwnedBy(ctx, handle, conversationID)
	if err != nil || conv == nil {
		return false, err
	}
	if err := s.convs.Delete(ctx, conv.ID); err != nil {
		return false, err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(conv.ID))
	return true, nil
}

// groupOwnedBy fetches a group conversation the caller created. Nil (not an
// error) when the row is gone, is a direct conversation, or belongs to
// someone else.
func (s *Service) groupOwnedBy(ctx context.Context, handle, conversationID string) (*model.Conversation, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !conv.IsGroup || conv.CreatedBy != me.ID {
		return nil, nil
	}
	return conv, nil
}

// MarkAsRead advances the caller's last-seen cursor and stamps read receipts
// on the other participants' messages. The cursor is clamped to at least the
// newest message time so a clock skewed backwards cannot leave messages
// permanently unread. No-op if the conversation is gone or the caller is an
// outsider.
func (s *Service) MarkAsRead(ctx context.Context, handle, conversationID string) error {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return err
	}
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !conv.HasParticipant(me.ID) {
		return nil
	}
	ts := s.now()
	if conv.LastMessageTime != nil && conv.LastMessageTime.After(ts) {
		ts = *conv.LastMessageTime
	}
	lastSeen := chatkey.UpsertLastSeen(conv.LastSeen, me.ID, ts)
	if err := s.convs.UpdateLastSeen(ctx, conv.ID, lastSeen); err != nil {
		return err
	}
	if err := s.msgs.AddSeenBy(ctx, conv.ID, me.ID); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(conv.ID))
	return nil
}

// SetTyping writes the caller into the conversation's single typing slot.
// Last writer wins; expiry is applied when the slot is read. Silently ignored
// for outsiders and gone conversations.
func (s *Service) SetTyping(ctx context.Context, handle, conversationID string, isTyping bool) error {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return err
	}
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !conv.HasParticipant(me.ID) {
		return nil
	}
	state := &model.TypingState{UserID: me.ID, IsTyping: isTyping, UpdatedAt: s.now()}
	if err := s.convs.UpdateTyping(ctx, conv.ID, state); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(conv.ID))
	return nil
}

// BackfillConversationIndexes repairs every legacy direct row in one pass.
// Admin only; the lazy per-read repair makes this optional, it just front-loads
// the work. Returns the number of rows patched.
func (s *Service) BackfillConversationIndexes(ctx context.Context, handle string) (int, error) {
	if !s.isAdmin(handle) {
		return 0, ErrAdminOnly
	}
	all, err := s.convs.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	patched := 0
	for i := range all {
		c := &all[i]
		if c.IsGroup || c.ConversationKey != nil {
			continue
		}
		if !chatkey.NormalizeLegacy(c) {
			continue
		}
		if err := s.convs.PatchNormalized(ctx, c); err != nil {
			return patched, err
		}
		patched++
	}
	if patched > 0 {
		logger.Infof("service.BackfillConversationIndexes: patched %d rows", patched)
		s.inv.Invalidate(ScopeConversations)
	}
	return patched, nil
}

// BackfillConversationsForUser repairs the legacy direct rows the caller is
// part of. Safe to call repeatedly.
func (s *Service) BackfillConversationsForUser(ctx context.Context, handle string) (int, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return 0, err
	}
	list, err := s.convs.ListByParticipant(ctx, me.ID)
	if err != nil {
		return 0, err
	}
	patched := 0
	for i := range list {
		c := &list[i]
		if c.IsGroup || c.ConversationKey != nil {
			continue
		}
		if !chatkey.NormalizeLegacy(c) {
			continue
		}
		if err := s.convs.PatchNormalized(ctx, c); err != nil {
			return patched, err
		}
		patched++
	}
	if patched > 0 {
		s.inv.Invalidate(ScopeConversations)
	}
	return patched, nil
}
