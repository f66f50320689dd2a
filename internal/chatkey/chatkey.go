// Package chatkey derives the canonical identity of a direct conversation from
// its two participants. Pure functions, no I/O.
package chatkey

import (
	"time"

	"github.com/chatsync/internal/model"
)

// NormalizeParticipants orders the pair so the first return string-sorts before
// the second. Deterministic in the pair alone, so both sides of a conversation
// compute the same ordering regardless of argument order.
func NormalizeParticipants(user1, user2 string) (string, string) {
	if user1 < user2 {
		return user1, user2
	}
	return user2, user1
}

// BuildConversationKey returns "{A}:{B}" over the normalized pair. The key is
// the uniqueness anchor for direct conversations: at most one row per unordered
// pair of participants.
func BuildConversationKey(user1, user2 string) string {
	a, b := NormalizeParticipants(user1, user2)
	return a + ":" + b
}

// SafeTwoParticipants extracts a direct-conversation pair from a raw
// participants list, rejecting anything that is not exactly two non-empty ids.
func SafeTwoParticipants(participants []string) (string, string, bool) {
	if len(participants) != 2 {
		return "", "", false
	}
	if participants[0] == "" || participants[1] == "" {
		return "", "", false
	}
	return participants[0], participants[1], true
}

// DefaultLastSeen seeds the last-seen table for a fresh direct conversation:
// the requester at firstTimestamp, the other side at zero. Seeding the
// requester at "now" keeps a just-created conversation from counting as unread
// for its own creator.
func DefaultLastSeen(requester, other string, firstTimestamp time.Time) []model.LastSeenEntry {
	return []model.LastSeenEntry{
		{UserID: requester, Timestamp: firstTimestamp},
		{UserID: other, Timestamp: time.Time{}},
	}
}

// UpsertLastSeen returns entries with the user's timestamp set, appending a new
// entry if the user has none yet. The input slice is not modified.
func UpsertLastSeen(entries []model.LastSeenEntry, userID string, ts time.Time) []model.LastSeenEntry {
	out := make([]model.LastSeenEntry, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if e.UserID == userID {
			e.Timestamp = ts
			found = true
		}
		out = append(out, e)
	}
	if !found {
		out = append(out, model.LastSeenEntry{UserID: userID, Timestamp: ts})
	}
	return out
}

// NormalizeLegacy fills the derived fields of a direct conversation written
// before the indexed key existed: conversation key, ordered pair columns, the
// normalized participants list and a zeroed last-seen table. Returns false if
// the row does not hold exactly two participants. Idempotent: already-populated
// fields are left alone.
func NormalizeLegacy(c *model.Conversation) bool {
	u1, u2, ok := SafeTwoParticipants(c.Participants)
	if !ok {
		return false
	}
	a, b := NormalizeParticipants(u1, u2)
	if c.ConversationKey == nil {
		key := BuildConversationKey(a, b)
		c.ConversationKey = &key
	}
	if c.ParticipantA == nil {
		pa := a
		c.ParticipantA = &pa
	}
	if c.ParticipantB == nil {
		pb := b
		c.ParticipantB = &pb
	}
	c.Participants = []string{a, b}
	if c.LastSeen == nil {
		c.LastSeen = []model.LastSeenEntry{
			{UserID: a, Timestamp: time.Time{}},
			{UserID: b, Timestamp: time.Time{}},
		}
	}
	return true
}
