package service

import (
	"context"

	"github.com/chatsync/internal/logger"
)

// CleanupReport summarizes an admin maintenance run.
type CleanupReport struct {
	Users         int64 `json:"users"`
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
}

// CleanupCoreTables rewrites every row through the current repository shape,
// filling columns added since the row was written. Admin only.
func (s *Service) CleanupCoreTables(ctx context.Context, handle string) (*CleanupReport, error) {
	if !s.isAdmin(handle) {
		return nil, ErrAdminOnly
	}
	report := &CleanupReport{}

	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if err := s.users.Replace(ctx, &users[i]); err != nil {
			return nil, err
		}
		report.Users++
	}

	convs, err := s.convs.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if err := s.convs.Replace(ctx, &convs[i]); err != nil {
			return nil, err
		}
		report.Conversations++
	}

	msgs, err := s.msgs.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if err := s.msgs.Replace(ctx, &msgs[i]); err != nil {
			return nil, err
		}
		report.Messages++
	}

	logger.Infof("service.CleanupCoreTables: rewrote %d users, %d conversations, %d messages",
		report.Users, report.Conversations, report.Messages)
	s.inv.Invalidate(ScopeUsers, ScopeConversations)
	return report, nil
}

// ClearTables wipes conversations and messages. Profiles survive. Admin only.
func (s *Service) ClearTables(ctx context.Context, handle string) (*CleanupReport, error) {
	if !s.isAdmin(handle) {
		return nil, ErrAdminOnly
	}
	// Messages first: the cascade would get them anyway, but counting them
	// needs the rows still present.
	msgCount, err := s.msgs.Truncate(ctx)
	if err != nil {
		return nil, err
	}
	convCount, err := s.convs.Truncate(ctx)
	if err != nil {
		return nil, err
	}
	logger.Infof("service.ClearTables: removed %d conversations, %d messages", convCount, msgCount)
	s.inv.Invalidate(ScopeConversations)
	return &CleanupReport{Conversations: convCount, Messages: msgCount}, nil
}
