package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/chatkey"
)

func TestGetOrCreateConversationIsSymmetric(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	c1, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("alice->bob: %v", err)
	}
	c2, err := s.GetOrCreateConversation(ctx, bob.Handle, alice.ID)
	if err != nil {
		t.Fatalf("bob->alice: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("expected one conversation, got %s and %s", c1.ID, c2.ID)
	}
	if c1.ConversationKey == nil {
		t.Fatal("conversation key not set")
	}
	if *c1.ParticipantA >= *c1.ParticipantB {
		t.Fatalf("pair not ordered: %s >= %s", *c1.ParticipantA, *c1.ParticipantB)
	}
	// c2 is the persisted row: a fresh conversation carries a non-typing slot.
	if c2.Typing == nil || c2.Typing.IsTyping {
		t.Fatalf("fresh conversation typing slot = %+v, want non-typing", c2.Typing)
	}
}

func TestGetOrCreateConversationConcurrent(t *testing.T) {
	s := newTestService(t)
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, other := alice.Handle, bob.ID
			if i%2 == 1 {
				handle, other = bob.Handle, alice.ID
			}
			c, err := s.GetOrCreateConversation(context.Background(), handle, other)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
}

func TestGetOrCreateConversationRepairsLegacyRow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	legacyID := uuid.NewString()
	insertLegacyDirect(t, legacyID, []string{bob.ID, alice.ID})

	c, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	if c.ID != legacyID {
		t.Fatalf("expected legacy row %s, got new row %s", legacyID, c.ID)
	}
	if c.ConversationKey == nil || c.ParticipantA == nil || c.ParticipantB == nil {
		t.Fatal("legacy row not repaired")
	}

	// The repaired row must now be found through the index, not the scan.
	again, err := s.GetOrCreateConversation(ctx, bob.Handle, alice.ID)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if again.ID != legacyID {
		t.Fatalf("repaired row lost: got %s", again.ID)
	}
}

func TestLegacyRepairSeedsRequesterLastSeen(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	legacyID := uuid.NewString()
	insertLegacyDirect(t, legacyID, []string{bob.ID, alice.ID})
	insertSeedMessage(t, legacyID, bob.ID, "old news", time.Now().UTC().Add(-time.Hour))

	c, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	if c.ID != legacyID {
		t.Fatalf("expected legacy row %s, got %s", legacyID, c.ID)
	}
	// The repair seeds the requester at now and the other side at zero, like a
	// fresh insert, so opening the thread does not read as unread history.
	if c.LastSeenOf(alice.ID).IsZero() {
		t.Fatal("requester last-seen not seeded on repair")
	}
	if !c.LastSeenOf(bob.ID).IsZero() {
		t.Fatal("other side's last-seen should stay at zero")
	}
	views, err := s.GetConversations(ctx, alice.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].UnreadCount != 0 {
		t.Fatalf("unread right after repair = %d, want 0", views[0].UnreadCount)
	}
}

func TestGetOrCreateRepairsExternallyWrittenKeyedRow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	// A keyed row some other writer inserted without the derived fields.
	id := uuid.NewString()
	key := chatkey.BuildConversationKey(alice.ID, bob.ID)
	if _, err := testPool.Exec(ctx,
		`INSERT INTO conversations (id, conversation_key, participants, is_group, created_at)
		 VALUES ($1, $2, $3, FALSE, NOW())`, id, key, []string{alice.ID, bob.ID}); err != nil {
		t.Fatalf("insert keyed row: %v", err)
	}
	insertSeedMessage(t, id, bob.ID, "already here", time.Now().UTC().Add(-time.Hour))

	c, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	if c.ID != id {
		t.Fatalf("expected keyed row %s, got %s", id, c.ID)
	}
	if c.ParticipantA == nil || c.ParticipantB == nil {
		t.Fatal("pair columns not backfilled")
	}
	if c.LastSeenOf(alice.ID).IsZero() {
		t.Fatal("requester last-seen not seeded on keyed repair")
	}
	views, err := s.GetConversations(ctx, alice.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].UnreadCount != 0 {
		t.Fatalf("unread after keyed repair = %d, want 0", views[0].UnreadCount)
	}
}

func TestNewConversationNotUnreadForCreator(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	if _, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID); err != nil {
		t.Fatalf("create: %v", err)
	}
	views, err := s.GetConversations(ctx, alice.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(views))
	}
	if views[0].UnreadCount != 0 {
		t.Fatalf("fresh conversation unread for creator: %d", views[0].UnreadCount)
	}
}

func TestUnreadCountAndMarkAsRead(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	conv, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.SendMessage(ctx, alice.Handle, conv.ID, "hello", nil, nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	bobViews, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("bob GetConversations: %v", err)
	}
	if bobViews[0].UnreadCount != 3 {
		t.Fatalf("bob unread = %d, want 3", bobViews[0].UnreadCount)
	}

	// The sender's own messages are never unread.
	aliceViews, err := s.GetConversations(ctx, alice.Handle)
	if err != nil {
		t.Fatalf("alice GetConversations: %v", err)
	}
	if aliceViews[0].UnreadCount != 0 {
		t.Fatalf("alice unread = %d, want 0", aliceViews[0].UnreadCount)
	}

	if err := s.MarkAsRead(ctx, bob.Handle, conv.ID); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	bobViews, err = s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("bob after read: %v", err)
	}
	if bobViews[0].UnreadCount != 0 {
		t.Fatalf("bob unread after read = %d, want 0", bobViews[0].UnreadCount)
	}

	// Read receipts landed on alice's messages.
	msgs, err := s.GetMessages(ctx, alice.Handle, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	for _, m := range msgs {
		if !m.SeenByUser(bob.ID) {
			t.Fatalf("message %s not marked seen by bob", m.ID)
		}
	}
}

func TestMarkAsReadClampsToLastMessageTime(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	conv, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Send "in the future", then read with a clock behind the message. The
	// cursor must still clear the message.
	future := time.Now().UTC().Add(time.Minute)
	s.now = func() time.Time { return future }
	if _, err := s.SendMessage(ctx, alice.Handle, conv.ID, "from the future", nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	s.now = func() time.Time { return time.Now().UTC() }

	if err := s.MarkAsRead(ctx, bob.Handle, conv.ID); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].UnreadCount != 0 {
		t.Fatalf("unread after clamped read = %d, want 0", views[0].UnreadCount)
	}
}

func TestMarkAsReadMissingConversationIsNoop(t *testing.T) {
	s := newTestService(t)
	alice := mustSync(t, s, "alice")
	if err := s.MarkAsRead(context.Background(), alice.Handle, uuid.NewString()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestTypingWindow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	conv, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	if err := s.SetTyping(ctx, alice.Handle, conv.ID, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Second) }
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].Typing == nil || !views[0].Typing.IsTyping {
		t.Fatal("typing should still be visible inside the window")
	}

	s.now = func() time.Time { return base.Add(3 * time.Second) }
	views, err = s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations after expiry: %v", err)
	}
	if views[0].Typing != nil && views[0].Typing.IsTyping {
		t.Fatal("typing should have expired")
	}
}

func TestSendMessageClearsOwnTypingSlot(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	conv, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetTyping(ctx, alice.Handle, conv.ID, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if _, err := s.SendMessage(ctx, alice.Handle, conv.ID, "done typing", nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].Typing != nil && views[0].Typing.IsTyping {
		t.Fatal("sending should clear the sender's typing slot")
	}
}

func TestSendMessageOverwritesPeerTypingSlot(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	conv, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetTyping(ctx, bob.Handle, conv.ID, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if _, err := s.SendMessage(ctx, alice.Handle, conv.ID, "beat you to it", nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Last writer wins: the slot now holds the sender at rest, even though the
	// peer was mid-typing.
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	typing := views[0].Typing
	if typing == nil || typing.UserID != alice.ID || typing.IsTyping {
		t.Fatalf("typing slot after send = %+v, want the sender at rest", typing)
	}
}

func TestGroupLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	carol := mustSync(t, s, "carol")

	// Two members is not a group; the attempt returns nothing.
	if g, err := s.CreateGroupConversation(ctx, alice.Handle, "pair", []string{bob.ID}); err != nil || g != nil {
		t.Fatalf("two-member group: got %+v err=%v, want quiet nil", g, err)
	}
	if g, err := s.CreateGroupConversation(ctx, alice.Handle, "  ", []string{bob.ID, carol.ID}); err != nil || g != nil {
		t.Fatalf("unnamed group: got %+v err=%v, want quiet nil", g, err)
	}

	g, err := s.CreateGroupConversation(ctx, alice.Handle, "  team  ", []string{bob.ID, carol.ID, bob.ID})
	if err != nil {
		t.Fatalf("CreateGroupConversation: %v", err)
	}
	if g.GroupName != "team" {
		t.Fatalf("group name = %q, want trimmed", g.GroupName)
	}
	if len(g.Participants) != 3 {
		t.Fatalf("participants = %d, want 3 (deduped)", len(g.Participants))
	}
	if g.Typing == nil || g.Typing.IsTyping {
		t.Fatalf("fresh group typing slot = %+v, want non-typing", g.Typing)
	}

	if ok, err := s.RenameGroup(ctx, bob.Handle, g.ID, "hijacked"); err != nil || ok {
		t.Fatalf("rename by non-creator: got ok=%v err=%v, want quiet false", ok, err)
	}
	if ok, err := s.RenameGroup(ctx, alice.Handle, g.ID, "team two"); err != nil || !ok {
		t.Fatalf("rename by creator: ok=%v err=%v", ok, err)
	}

	if _, err := s.SendMessage(ctx, carol.Handle, g.ID, "hi all", nil, nil); err != nil {
		t.Fatalf("group send: %v", err)
	}

	if ok, err := s.DeleteGroup(ctx, bob.Handle, g.ID); err != nil || ok {
		t.Fatalf("delete by non-creator: got ok=%v err=%v, want quiet false", ok, err)
	}
	if ok, err := s.DeleteGroup(ctx, alice.Handle, g.ID); err != nil || !ok {
		t.Fatalf("delete by creator: ok=%v err=%v", ok, err)
	}
	views, err := s.GetConversations(ctx, carol.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("group still listed after delete: %d", len(views))
	}
}

func TestNonParticipantSeesNothing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	mallory := mustSync(t, s, "mallory")

	conv, err := s.GetOrCreateConversation(ctx, alice.Handle, bob.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.SendMessage(ctx, alice.Handle, conv.ID, "between us", nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Outsider mutations land nowhere and outsider reads come back empty,
	// all without errors.
	if msg, err := s.SendMessage(ctx, mallory.Handle, conv.ID, "hi", nil, nil); err != nil || msg != nil {
		t.Fatalf("outsider send: got %+v err=%v, want quiet nil", msg, err)
	}
	msgs, err := s.GetMessages(ctx, mallory.Handle, conv.ID)
	if err != nil {
		t.Fatalf("outsider read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("outsider sees %d messages", len(msgs))
	}
	if err := s.MarkAsRead(ctx, mallory.Handle, conv.ID); err != nil {
		t.Fatalf("outsider mark-as-read: %v", err)
	}
	if err := s.SetTyping(ctx, mallory.Handle, conv.ID, true); err != nil {
		t.Fatalf("outsider typing: %v", err)
	}

	// Nothing leaked into the participants' view.
	views, err := s.GetConversations(ctx, bob.Handle)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if views[0].Typing != nil && views[0].Typing.UserID == mallory.ID {
		t.Fatal("outsider typing slot was stored")
	}
	inside, err := s.GetMessages(ctx, alice.Handle, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(inside) != 1 {
		t.Fatalf("conversation has %d messages, want 1", len(inside))
	}
	for _, m := range inside {
		if m.SeenByUser(mallory.ID) {
			t.Fatal("outsider mark-as-read stamped a receipt")
		}
	}
}

func TestBackfillConversationIndexes(t *testing.T) {
	s := newTestService(t)
	s.SetAdminPolicy(func(handle string) bool { return handle == "root" })
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")
	mustSync(t, s, "root")

	insertLegacyDirect(t, uuid.NewString(), []string{alice.ID, bob.ID})
	insertLegacyDirect(t, uuid.NewString(), []string{bob.ID, "charlie"})

	if _, err := s.BackfillConversationIndexes(ctx, alice.Handle); err != ErrAdminOnly {
		t.Fatalf("non-admin backfill: got %v, want ErrAdminOnly", err)
	}
	patched, err := s.BackfillConversationIndexes(ctx, "root")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if patched != 2 {
		t.Fatalf("patched = %d, want 2", patched)
	}
	// Second run finds nothing left to repair.
	patched, err = s.BackfillConversationIndexes(ctx, "root")
	if err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	if patched != 0 {
		t.Fatalf("second run patched = %d, want 0", patched)
	}
}

func TestBackfillConversationsForUser(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	alice := mustSync(t, s, "alice")
	bob := mustSync(t, s, "bob")

	insertLegacyDirect(t, uuid.NewString(), []string{alice.ID, bob.ID})
	insertLegacyDirect(t, uuid.NewString(), []string{"carol", "dave"})

	patched, err := s.BackfillConversationsForUser(ctx, alice.Handle)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if patched != 1 {
		t.Fatalf("patched = %d, want 1 (only alice's rows)", patched)
	}
}
