package service

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/chatsync/internal/model"
)

func directConv(t *testing.T, s *Service, a, b *model.User) *model.Conversation {
	t.Helper()
	c, err := s.GetOrCreateConversation(context.Background(), a.Handle, b.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	return c
}

func TestSendMessageUpdatesConversation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, alice.Handle, conv.ID, "first", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.SenderID != alice.ID {
		t.Fatalf("sender = %s, want %s", msg.SenderID, alice.ID)
	}
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].LastMessage != "first" {
		t.Fatalf("preview = %q, want %q", views[0].LastMessage, "first")
	}
	if views[0].LastMessageTime == nil {
		t.Fatal("last message time not set")
	}
}

func TestSendMessageAttachmentPreview(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	att := &model.Attachment{BlobID: uuid.NewString(), FileName: "report.pdf", MimeType: "application/pdf", Size: 1024}
	if _, err := s.SendMessage(ctx, alice.Handle, conv.ID, "", att, nil); err != nil {
		t.Fatalf("send attachment: %v", err)
	}
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].LastMessage != "📎 report.pdf" {
		t.Fatalf("preview = %q, want attachment placeholder", views[0].LastMessage)
	}
}

func TestSendMessageEmptyIsDropped(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, alice.Handle, conv.ID, "   ", nil, nil)
	if err != nil {
		t.Fatalf("empty send: %v", err)
	}
	if msg != nil {
		t.Fatalf("empty send should return nil, got %+v", msg)
	}
	msgs, err := s.GetMessages(ctx, bob.Handle, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("empty send persisted %d messages", len(msgs))
	}
}

func TestSendMessageOutsiderIsDropped(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	mallory := mustSync(t, s, "mallory")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, mallory.Handle, conv.ID, "let me in", nil, nil)
	if err != nil {
		t.Fatalf("outsider send: %v", err)
	}
	if msg != nil {
		t.Fatalf("outsider send should return nil, got %+v", msg)
	}
	msgs, err := s.GetMessages(ctx, alice.Handle, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("outsider send persisted %d messages", len(msgs))
	}
}

func TestEditMessage(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, alice.Handle, conv.ID, "typo", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ok, err := s.EditMessage(ctx, bob.Handle, msg.ID, "hacked"); err != nil || ok {
		t.Fatalf("edit by non-sender: got ok=%v err=%v, want quiet false", ok, err)
	}
	if ok, err := s.EditMessage(ctx, alice.Handle, msg.ID, "fixed"); err != nil || !ok {
		t.Fatalf("edit: ok=%v err=%v", ok, err)
	}

	msgs, err := s.GetMessages(ctx, bob.Handle, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[0].Content != "fixed" {
		t.Fatalf("content = %q, want %q", msgs[0].Content, "fixed")
	}
	// Preview follows the edit of the newest message.
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].LastMessage != "fixed" {
		t.Fatalf("preview = %q, want %q", views[0].LastMessage, "fixed")
	}
}

func TestEditDoesNotTouchPreviewOfOlderMessage(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	first, err := s.SendMessage(ctx, alice.Handle, conv.ID, "first", nil, nil)
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	if _, err := s.SendMessage(ctx, alice.Handle, conv.ID, "second", nil, nil); err != nil {
		t.Fatalf("send second: %v", err)
	}
	if ok, err := s.EditMessage(ctx, alice.Handle, first.ID, "first edited"); err != nil || !ok {
		t.Fatalf("edit: ok=%v err=%v", ok, err)
	}
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].LastMessage != "second" {
		t.Fatalf("preview = %q, want %q", views[0].LastMessage, "second")
	}
}

func TestDeleteForMe(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, alice.Handle, conv.ID, "secret", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.DeleteForMe(ctx, bob.Handle, msg.ID); err != nil {
		t.Fatalf("DeleteForMe: %v", err)
	}

	bobMsgs, err := s.GetMessages(ctx, bob.Handle, conv.ID)
	if err != nil {
		t.Fatalf("bob GetMessages: %v", err)
	}
	if len(bobMsgs) != 0 {
		t.Fatalf("bob still sees %d messages", len(bobMsgs))
	}
	aliceMsgs, err := s.GetMessages(ctx, alice.Handle, conv.ID)
	if err != nil {
		t.Fatalf("alice GetMessages: %v", err)
	}
	if len(aliceMsgs) != 1 || aliceMsgs[0].Content != "secret" {
		t.Fatal("alice's view should be untouched")
	}
}

func TestDeleteForEveryone(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, alice.Handle, conv.ID, "regret", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ok, err := s.DeleteForEveryone(ctx, bob.Handle, msg.ID); err != nil || ok {
		t.Fatalf("delete by non-sender: got ok=%v err=%v, want quiet false", ok, err)
	}
	if ok, err := s.DeleteForEveryone(ctx, alice.Handle, msg.ID); err != nil || !ok {
		t.Fatalf("DeleteForEveryone: ok=%v err=%v", ok, err)
	}

	msgs, err := s.GetMessages(ctx, bob.Handle, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[0].Content != model.DeletedPlaceholder || !msgs[0].DeletedForEveryone {
		t.Fatalf("message not tombstoned: %+v", msgs[0])
	}
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].LastMessage != model.DeletedPlaceholder {
		t.Fatalf("preview = %q, want placeholder", views[0].LastMessage)
	}
	// A tombstoned message cannot be edited back.
	if ok, err := s.EditMessage(ctx, alice.Handle, msg.ID, "undo"); err != nil || ok {
		t.Fatalf("edit tombstone: got ok=%v err=%v, want quiet false", ok, err)
	}
}

func TestToggleReaction(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, alice.Handle, conv.ID, "react to me", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	reactions := func() []model.Reaction {
		msgs, err := s.GetMessages(ctx, alice.Handle, conv.ID)
		if err != nil {
			t.Fatalf("GetMessages: %v", err)
		}
		return msgs[0].Reactions
	}

	// An emoji outside the palette is ignored without complaint.
	if err := s.ToggleReaction(ctx, bob.Handle, msg.ID, "🚀"); err != nil {
		t.Fatalf("unknown emoji: %v", err)
	}
	if r := reactions(); len(r) != 0 {
		t.Fatalf("unknown emoji stored a reaction: %+v", r)
	}

	if err := s.ToggleReaction(ctx, bob.Handle, msg.ID, "👍"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if r := reactions(); len(r) != 1 || r[0].Emoji != "👍" {
		t.Fatalf("after add: %+v", r)
	}

	// A different emoji replaces, never stacks.
	if err := s.ToggleReaction(ctx, bob.Handle, msg.ID, "❤️"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if r := reactions(); len(r) != 1 || r[0].Emoji != "❤️" {
		t.Fatalf("after switch: %+v", r)
	}

	// Two users can react independently.
	if err := s.ToggleReaction(ctx, alice.Handle, msg.ID, "😂"); err != nil {
		t.Fatalf("second user: %v", err)
	}
	if r := reactions(); len(r) != 2 {
		t.Fatalf("after second user: %+v", r)
	}

	// Same emoji again removes.
	if err := s.ToggleReaction(ctx, bob.Handle, msg.ID, "❤️"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r := reactions(); len(r) != 1 || r[0].UserID != alice.ID {
		t.Fatalf("after remove: %+v", r)
	}
}

func TestTogglePinAndStar(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	msg, err := s.SendMessage(ctx, alice.Handle, conv.ID, "important", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.TogglePin(ctx, bob.Handle, msg.ID); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := s.ToggleStar(ctx, bob.Handle, msg.ID); err != nil {
		t.Fatalf("star: %v", err)
	}
	msgs, _ := s.GetMessages(ctx, bob.Handle, conv.ID)
	if len(msgs[0].PinnedBy) != 1 || len(msgs[0].StarredBy) != 1 {
		t.Fatalf("marks not applied: %+v", msgs[0])
	}
	if err := s.TogglePin(ctx, bob.Handle, msg.ID); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	msgs, _ = s.GetMessages(ctx, bob.Handle, conv.ID)
	if len(msgs[0].PinnedBy) != 0 {
		t.Fatalf("pin not removed: %+v", msgs[0].PinnedBy)
	}
}

func TestReplyPreview(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	conv := directConv(t, s, alice, bob)

	first, err := s.SendMessage(ctx, alice.Handle, conv.ID, "original", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.SendMessage(ctx, bob.Handle, conv.ID, "replying", nil, &first.ID); err != nil {
		t.Fatalf("reply: %v", err)
	}
	msgs, err := s.GetMessages(ctx, alice.Handle, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	reply := msgs[1]
	if reply.ReplyPreview == nil || reply.ReplyPreview.Content != "original" {
		t.Fatalf("reply preview missing: %+v", reply)
	}

	// A reply to a vanished message is sent without the link.
	ghost := uuid.NewString()
	m, err := s.SendMessage(ctx, bob.Handle, conv.ID, "dangling", nil, &ghost)
	if err != nil {
		t.Fatalf("dangling reply: %v", err)
	}
	if m.ReplyTo != nil {
		t.Fatal("reply link to missing message should be dropped")
	}
}

func TestForwardMessage(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	carol := mustSync(t, s, "carol")
	src := directConv(t, s, alice, bob)
	dst := directConv(t, s, alice, carol)

	msg, err := s.SendMessage(ctx, bob.Handle, src.ID, "pass it on", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	fwd, err := s.ForwardMessage(ctx, alice.Handle, msg.ID, dst.ID)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !fwd.Forwarded || fwd.Content != "pass it on" || fwd.ConversationID != dst.ID {
		t.Fatalf("bad forward: %+v", fwd)
	}
	if fwd.SenderID != alice.ID {
		t.Fatalf("forward sender = %s, want the forwarder", fwd.SenderID)
	}

	// Carol cannot forward out of a conversation she is not in.
	if out, err := s.ForwardMessage(ctx, carol.Handle, msg.ID, dst.ID); err != nil || out != nil {
		t.Fatalf("outsider forward: got %+v err=%v, want quiet nil", out, err)
	}
}

func TestGetMessagesMissingConversationIsEmpty(t *testing.T) {
	s := newTestService(t)
	alice := mustSync(t, s, "alice")
	msgs, err := s.GetMessages(context.Background(), alice.Handle, uuid.NewString())
	if err != nil {
		t.Fatalf("expected soft failure, got %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty log, got %d", len(msgs))
	}
}
