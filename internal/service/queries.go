package service

import (
	"context"
	"strings"
)

// RunQuery executes a named query scope for the reactive layer. The scope
// names line up with what mutations invalidate.
func (s *Service) RunQuery(ctx context.Context, handle, scope string) (any, error) {
	switch {
	case scope == ScopeUsers:
		return s.GetUsers(ctx, handle)
	case scope == ScopeConversations:
		return s.GetConversations(ctx, handle)
	case strings.HasPrefix(scope, "messages:"):
		return s.GetMessages(ctx, handle, strings.TrimPrefix(scope, "messages:"))
	default:
		return nil, ErrBadRequest
	}
}
