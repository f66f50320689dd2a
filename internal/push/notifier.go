package push

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/chatsync/internal/model"
)

// previewRuneLimit caps the notification body. Counted in runes so multibyte
// content (emoji previews are common here) never splits mid-character.
const previewRuneLimit = 120

// SocketTracker reports whether a user currently holds an open reactive
// socket. Implemented by the ws hub.
type SocketTracker interface {
	IsConnected(handle string) bool
}

// RecipientResolver maps a participant id to its profile. Implemented by the
// user repository.
type RecipientResolver interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// MessageNotifier turns a new message into per-recipient push notifications.
// It satisfies the service layer's Notifier interface.
type MessageNotifier struct {
	client  *Client
	sockets SocketTracker
	users   RecipientResolver
}

func NewMessageNotifier(client *Client) *MessageNotifier {
	return &MessageNotifier{client: client}
}

// SetSocketTracker narrows delivery to participants with no open socket: a
// recipient already looking at the app gets the message through the hub, not
// a push. Without a tracker every non-sender participant is pushed.
func (n *MessageNotifier) SetSocketTracker(sockets SocketTracker, users RecipientResolver) {
	n.sockets = sockets
	n.users = users
}

// NotifyNewMessage pushes to every participant except the sender and anyone
// with an open socket. Runs off the request path; errors are handled inside
// the client.
func (n *MessageNotifier) NotifyNewMessage(conv *model.Conversation, msg *model.Message, sender *model.User) {
	if n.client == nil {
		return
	}
	title := sender.Name
	if title == "" {
		title = sender.Handle
	}
	if conv.IsGroup && conv.GroupName != "" {
		title = conv.GroupName + ": " + title
	}
	body := msg.Content
	if body == "" && msg.Attachment != nil {
		body = "📎 " + msg.Attachment.FileName
	}
	body = truncatePreview(body, previewRuneLimit)
	data := map[string]string{"conversation_id": conv.ID, "message_id": msg.ID}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, uid := range conv.Participants {
		if uid == sender.ID {
			continue
		}
		if n.hasOpenSocket(ctx, uid) {
			continue
		}
		n.client.Notify(ctx, uid, title, body, data)
	}
}

func (n *MessageNotifier) hasOpenSocket(ctx context.Context, userID string) bool {
	if n.sockets == nil || n.users == nil {
		return false
	}
	u, err := n.users.GetByID(ctx, userID)
	if err != nil {
		return false
	}
	return n.sockets.IsConnected(u.Handle)
}

// truncatePreview shortens s to at most max runes, marking the cut with an
// ellipsis. Safe on any UTF-8 input.
func truncatePreview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
