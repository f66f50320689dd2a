// Package service implements the chat domain on top of the repositories:
// profile sync and presence, direct/group conversations with the canonical
// pair key, the message log with reactions and receipts, and the admin
// maintenance mutations. Handlers stay thin; every rule lives here.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
)

// Hard failures: identity and privilege problems, surfaced as errors and
// mapped to 401/403/404 by the handlers. Everything a well-formed session can
// trip over in normal use (gone rows, outsider callers, validation misses)
// comes back as a nil/false result instead of an error.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrProfileNotFound = errors.New("profile not found")
	// ErrForbidden covers a caller acting under an identity that is not
	// theirs. Identity flows from the session middleware only, so nothing in
	// this package returns it today; it stays part of the error surface.
	ErrForbidden  = errors.New("forbidden")
	ErrAdminOnly  = errors.New("admin only")
	ErrBadRequest = errors.New("bad request")
)

// Query scopes for the reactive layer. A mutation invalidates the scopes it
// touched; subscriptions are keyed by the same names.
const (
	ScopeUsers         = "users"
	ScopeConversations = "conversations"
)

// ScopeMessages names the per-conversation message scope.
func ScopeMessages(conversationID string) string {
	return "messages:" + conversationID
}

// Invalidator is the reactive layer: after a mutation the service names the
// query scopes whose results may have changed and the hub re-runs the
// subscriptions under them. A no-op implementation is fine for tests.
type Invalidator interface {
	Invalidate(scopes ...string)
}

// BlobResolver turns a stored blob handle into a servable URL. Attachment and
// avatar URLs are resolved on every read and never persisted.
type BlobResolver interface {
	URL(blobID string) string
}

// Notifier delivers out-of-band notifications for new messages. Called
// asynchronously; failures are logged, never surfaced to the sender.
type Notifier interface {
	NotifyNewMessage(conv *model.Conversation, msg *model.Message, sender *model.User)
}

// AdminPolicy decides whether a handle may run the maintenance mutations.
type AdminPolicy func(handle string) bool

type Service struct {
	users *repository.UserRepository
	convs *repository.ConversationRepository
	msgs  *repository.MessageRepository

	blobs   BlobResolver
	inv     Invalidator
	notify  Notifier
	isAdmin AdminPolicy

	// now is swappable for window tests.
	now func() time.Time
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(...string) {}

func New(users *repository.UserRepository, convs *repository.ConversationRepository, msgs *repository.MessageRepository) *Service {
	return &Service{
		users:   users,
		convs:   convs,
		msgs:    msgs,
		inv:     noopInvalidator{},
		isAdmin: func(string) bool { return false },
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetInvalidator(inv Invalidator) {
	if inv != nil {
		s.inv = inv
	}
}

func (s *Service) SetBlobResolver(blobs BlobResolver) { s.blobs = blobs }

func (s *Service) SetNotifier(n Notifier) { s.notify = n }

func (s *Service) SetAdminPolicy(p AdminPolicy) {
	if p != nil {
		s.isAdmin = p
	}
}

// requireAuthUser resolves the authenticated handle to its profile row.
// An empty handle means the session middleware let nothing through.
func (s *Service) requireAuthUser(ctx context.Context, handle string) (*model.User, error) {
	if handle == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) blobURL(blobID string) string {
	if s.blobs == nil || blobID == "" {
		return ""
	}
	return s.blobs.URL(blobID)
}
