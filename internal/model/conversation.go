package model

import "time"

// LastSeenEntry marks the newest conversation state a participant has acknowledged.
// A zero Timestamp means the participant has never read the conversation.
type LastSeenEntry struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingState is the single-slot typing indicator: only the most recent typer is
// remembered, last writer wins. Expiry is computed at read time, never stored.
type TypingState struct {
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation is a direct (2 participants) or group (>=3) thread.
// ConversationKey, ParticipantA and ParticipantB are nil on legacy direct rows
// written before the indexed key existed; they are repaired lazily on read/write.
type Conversation struct {
	ID              string          `json:"id"`
	ConversationKey *string         `json:"conversation_key,omitempty"`
	ParticipantA    *string         `json:"participant_a,omitempty"`
	ParticipantB    *string         `json:"participant_b,omitempty"`
	Participants    []string        `json:"participants"`
	IsGroup         bool            `json:"is_group"`
	GroupName       string          `json:"group_name,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
	LastMessage     string          `json:"last_message"`
	LastMessageTime *time.Time      `json:"last_message_time,omitempty"`
	LastSeen        []LastSeenEntry `json:"last_seen"`
	Typing          *TypingState    `json:"typing,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HasParticipant reports whether userID is in the participants list.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// LastSeenOf returns the user's last-seen timestamp, zero if absent.
func (c *Conversation) LastSeenOf(userID string) time.Time {
	for _, e := range c.LastSeen {
		if e.UserID == userID {
			return e.Timestamp
		}
	}
	return time.Time{}
}

// ConversationView is a conversation augmented for list rendering: unread count
// for the requesting user and typing state with expiry already applied.
type ConversationView struct {
	Conversation
	UnreadCount int `json:"unread_count"`
}
