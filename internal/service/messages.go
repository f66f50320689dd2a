package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/chatsync/internal/chatkey"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
)

// AllowedReactions is the fixed reaction palette. Anything else is ignored.
var AllowedReactions = map[string]bool{
	"👍": true, "❤️": true, "😂": true, "😮": true, "😢": true, "🙏": true,
}

// SendMessage appends a message and applies the post-send conversation patch
// in the same call: preview and activity time, the sender's last-seen bump
// (your own message is never unread to you) and the typing slot overwritten
// with the sender at rest. Notification delivery happens off the request path.
//
// Soft failures (nil, nil): conversation gone, caller not a participant,
// nothing to send. These race with normal UI actions and are not errors.
func (s *Service) SendMessage(ctx context.Context, handle, conversationID, content string, attachment *model.Attachment, replyTo *string) (*model.Message, error) {
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
	if !conv.HasParticipant(me.ID) {
		return nil, nil
	}
	content = strings.TrimSpace(content)
	if content == "" && attachment == nil {
		return nil, nil
	}
	if replyTo != nil {
		if _, err := s.msgs.GetByID(ctx, *replyTo); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				replyTo = nil
			} else {
				return nil, err
			}
		}
	}
	now := s.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       me.ID,
		Content:        content,
		Attachment:     attachment,
		ReplyTo:        replyTo,
		CreatedAt:      now,
		SeenBy:         []string{me.ID},
		DeletedFor:     []string{},
		PinnedBy:       []string{},
		StarredBy:      []string{},
	}
	if err := s.msgs.Create(ctx, msg); err != nil {
		return nil, err
	}

	lastSeen := chatkey.UpsertLastSeen(conv.LastSeen, me.ID, now)
	// Sending overwrites the typing slot outright: last writer wins, and the
	// sender is by definition done typing.
	typing := &model.TypingState{UserID: me.ID, IsTyping: false, UpdatedAt: now}
	if err := s.convs.UpdateOnSend(ctx, conv.ID, previewFor(msg), now, lastSeen, typing); err != nil {
		return nil, err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(conv.ID))
	if s.notify != nil {
		go s.notify.NotifyNewMessage(conv, msg, me)
	}
	s.resolveAttachment(msg)
	return msg, nil
}

// GetMessages returns the conversation's log oldest first, with the caller's
// per-user deletions filtered out, attachment URLs resolved and reply previews
// attached. A gone conversation or an outsider caller gets an empty log.
func (s *Service) GetMessages(ctx context.Context, handle, conversationID string) ([]model.Message, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return []model.Message{}, nil
		}
		return nil, err
	}
	if !conv.HasParticipant(me.ID) {
		return []model.Message{}, nil
	}
	all, err := s.msgs.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Message, len(all))
	for i := range all {
		byID[all[i].ID] = &all[i]
	}
	out := make([]model.Message, 0, len(all))
	for i := range all {
		m := all[i]
		if m.DeletedForUser(me.ID) {
			continue
		}
		s.resolveAttachment(&m)
		if m.ReplyTo != nil {
			if src, ok := byID[*m.ReplyTo]; ok {
				preview := *src
				preview.ReplyPreview = nil
				s.resolveAttachment(&preview)
				m.ReplyPreview = &preview
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// EditMessage rewrites a message's content and reports whether anything was
// changed. False (not an error) when the message is gone, the caller is not
// the sender, the message is deleted for everyone, or the new content is
// empty. The conversation preview follows if this is the newest message.
func (s *Service) EditMessage(ctx context.Context, handle, messageID, content string) (bool, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return false, err
	}
	msg, ok, err := s.ownMessage(ctx, me, messageID)
	if err != nil || !ok {
		return false, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return false, nil
	}
	if err := s.msgs.UpdateContent(ctx, msg.ID, content); err != nil {
		return false, err
	}
	msg.Content = content
	if err := s.syncPreviewIfLast(ctx, msg); err != nil {
		return false, err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(msg.ConversationID))
	return true, nil
}

// DeleteForMe hides a message from the caller's own view. Anyone in the
// conversation may do this to any message; nobody else notices. Idempotent,
// no-op when the message is gone or the caller is an outsider.
func (s *Service) DeleteForMe(ctx context.Context, handle, messageID string) error {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return err
	}
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if ok, err := s.isParticipant(ctx, msg.ConversationID, me.ID); err != nil || !ok {
		return err
	}
	if err := s.msgs.AddDeletedFor(ctx, msg.ID, me.ID); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeMessages(msg.ConversationID))
	return nil
}

// DeleteForEveryone replaces the message content with the placeholder for all
// participants. Sender only; false for anyone else. The preview follows if
// this is the newest message.
func (s *Service) DeleteForEveryone(ctx context.Context, handle, messageID string) (bool, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return false, err
	}
	msg, ok, err := s.ownMessage(ctx, me, messageID)
	if err != nil || !ok {
		return false, err
	}
	if err := s.msgs.SetDeletedForEveryone(ctx, msg.ID); err != nil {
		return false, err
	}
	msg.Content = model.DeletedPlaceholder
	msg.DeletedForEveryone = true
	if err := s.syncPreviewIfLast(ctx, msg); err != nil {
		return false, err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(msg.ConversationID))
	return true, nil
}

// ToggleReaction adds, switches or removes the caller's reaction. One reaction
// per user per message: the same emoji again removes it, a different emoji
// replaces it. An emoji outside the palette, a gone message or an outsider
// caller are all silent no-ops.
func (s *Service) ToggleReaction(ctx context.Context, handle, messageID, emoji string) error {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return err
	}
	if !AllowedReactions[emoji] {
		return nil
	}
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if ok, err := s.isParticipant(ctx, msg.ConversationID, me.ID); err != nil || !ok {
		return err
	}
	next := make([]model.Reaction, 0, len(msg.Reactions)+1)
	removed := false
	for _, r := range msg.Reactions {
		if r.UserID == me.ID {
			if r.Emoji == emoji {
				removed = true
			}
			continue
		}
		next = append(next, r)
	}
	if !removed {
		next = append(next, model.Reaction{UserID: me.ID, Emoji: emoji})
	}
	if err := s.msgs.UpdateReactions(ctx, msg.ID, next); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeMessages(msg.ConversationID))
	return nil
}

// TogglePin flips the caller's pin on a message.
func (s *Service) TogglePin(ctx context.Context, handle, messageID string) error {
	return s.toggleMark(ctx, handle, messageID, func(m *model.Message) ([]string, func(context.Context, string, []string) error) {
		return m.PinnedBy, s.msgs.UpdatePinnedBy
	})
}

// ToggleStar flips the caller's star on a message.
func (s *Service) ToggleStar(ctx context.Context, handle, messageID string) error {
	return s.toggleMark(ctx, handle, messageID, func(m *model.Message) ([]string, func(context.Context, string, []string) error) {
		return m.StarredBy, s.msgs.UpdateStarredBy
	})
}

func (s *Service) toggleMark(ctx context.Context, handle, messageID string, pick func(*model.Message) ([]string, func(context.Context, string, []string) error)) error {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return err
	}
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if ok, err := s.isParticipant(ctx, msg.ConversationID, me.ID); err != nil || !ok {
		return err
	}
	current, update := pick(msg)
	next := make([]string, 0, len(current)+1)
	removed := false
	for _, id := range current {
		if id == me.ID {
			removed = true
			continue
		}
		next = append(next, id)
	}
	if !removed {
		next = append(next, me.ID)
	}
	if err := update(ctx, msg.ID, next); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeMessages(msg.ConversationID))
	return nil
}

// ForwardMessage copies a message into another of the caller's conversations,
// flagged as forwarded. Reply context does not travel with it. Soft nil when
// either side of the forward is gone, tombstoned or not the caller's to use.
func (s *Service) ForwardMessage(ctx context.Context, handle, messageID, targetConversationID string) (*model.Message, error) {
	me, err := s.requireAuthUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	src, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if ok, err := s.isParticipant(ctx, src.ConversationID, me.ID); err != nil || !ok {
		return nil, err
	}
	if src.DeletedForEveryone {
		return nil, nil
	}
	target, err := s.convs.GetByID(ctx, targetConversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !target.HasParticipant(me.ID) {
		return nil, nil
	}
	now := s.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: target.ID,
		SenderID:       me.ID,
		Content:        src.Content,
		Attachment:     src.Attachment,
		Forwarded:      true,
		CreatedAt:      now,
		SeenBy:         []string{me.ID},
		DeletedFor:     []string{},
		PinnedBy:       []string{},
		StarredBy:      []string{},
	}
	if err := s.msgs.Create(ctx, msg); err != nil {
		return nil, err
	}
	lastSeen := chatkey.UpsertLastSeen(target.LastSeen, me.ID, now)
	typing := &model.TypingState{UserID: me.ID, IsTyping: false, UpdatedAt: now}
	if err := s.convs.UpdateOnSend(ctx, target.ID, previewFor(msg), now, lastSeen, typing); err != nil {
		return nil, err
	}
	s.inv.Invalidate(ScopeConversations, ScopeMessages(target.ID))
	if s.notify != nil {
		go s.notify.NotifyNewMessage(target, msg, me)
	}
	s.resolveAttachment(msg)
	return msg, nil
}

// MarkSeen stamps the caller on the seen-by set of every other participant's
// message in the conversation. The last-seen cursor is MarkAsRead's job.
func (s *Service) MarkSeen(ctx context.Context, handle, conversationID string) error {
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
	if err := s.msgs.AddSeenBy(ctx, conv.ID, me.ID); err != nil {
		return err
	}
	s.inv.Invalidate(ScopeMessages(conv.ID))
	return nil
}

// ownMessage fetches a message the caller may rewrite: existing, sent by the
// caller and not already deleted for everyone. ok=false (not an error)
// otherwise.
func (s *Service) ownMessage(ctx context.Context, me *model.User, messageID string) (*model.Message, bool, error) {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if msg.SenderID != me.ID || msg.DeletedForEveryone {
		return nil, false, nil
	}
	return msg, true, nil
}

func (s *Service) isParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return conv.HasParticipant(userID), nil
}

// syncPreviewIfLast refreshes the conversation's cached preview when the
// edited or deleted message is still the newest one.
func (s *Service) syncPreviewIfLast(ctx context.Context, msg *model.Message) error {
	last, err := s.msgs.GetLast(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if last == nil || last.ID != msg.ID {
		return nil
	}
	return s.convs.UpdateLastMessagePreview(ctx, msg.ConversationID, previewFor(msg))
}

// previewFor derives the conversation-list preview line for a message.
func previewFor(m *model.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if m.Attachment != nil {
		return "📎 " + m.Attachment.FileName
	}
	return ""
}

func (s *Service) resolveAttachment(m *model.Message) {
	if m.Attachment != nil && m.Attachment.BlobID != "" {
		m.Attachment.URL = s.blobURL(m.Attachment.BlobID)
	}
}
