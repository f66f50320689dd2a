package model

import "time"

// DeletedPlaceholder replaces the content of a message deleted for everyone.
const DeletedPlaceholder = "This message was deleted"

// Attachment is blob-store metadata persisted with a message. URL is resolved
// from BlobID at read time and never stored.
type Attachment struct {
	BlobID   string `json:"blob_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
}

// Reaction is a single user's emoji reaction. At most one per (message, user).
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	ID                 string      `json:"id"`
	ConversationID     string      `json:"conversation_id"`
	SenderID           string      `json:"sender_id"`
	Content            string      `json:"content"`
	Attachment         *Attachment `json:"attachment,omitempty"`
	ReplyTo            *string     `json:"reply_to,omitempty"`
	Forwarded          bool        `json:"forwarded"`
	CreatedAt          time.Time   `json:"created_at"`
	SeenBy             []string    `json:"seen_by"`
	DeletedFor         []string    `json:"deleted_for"`
	DeletedForEveryone bool        `json:"deleted_for_everyone"`
	PinnedBy           []string    `json:"pinned_by"`
	StarredBy          []string    `json:"starred_by"`
	Reactions          []Reaction  `json:"reactions,omitempty"`

	// ReplyPreview is populated at read time when ReplyTo is set.
	ReplyPreview *Message `json:"reply_preview,omitempty"`
}

// DeletedForUser reports whether userID removed this message from their own view.
func (m *Message) DeletedForUser(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// SeenByUser reports whether userID is in the seen-by set.
func (m *Message) SeenByUser(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}
