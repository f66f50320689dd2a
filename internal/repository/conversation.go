package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const convCols = `id, conversation_key, participant_a, participant_b, participants, is_group,
	group_name, created_by, last_message, last_message_time, last_seen, typing, created_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// scanConversation scans a row into model.Conversation (order matches convCols).
// last_seen and typing are JSONB and may be NULL on legacy rows.
func scanConversation(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	var lastSeenRaw, typingRaw []byte
	err := s.Scan(&c.ID, &c.ConversationKey, &c.ParticipantA, &c.ParticipantB, &c.Participants,
		&c.IsGroup, &c.GroupName, &c.CreatedBy, &c.LastMessage, &c.LastMessageTime,
		&lastSeenRaw, &typingRaw, &c.CreatedAt)
	if err != nil {
		return err
	}
	if len(lastSeenRaw) > 0 {
		if err := json.Unmarshal(lastSeenRaw, &c.LastSeen); err != nil {
			return fmt.Errorf("decode last_seen: %w", err)
		}
	}
	if len(typingRaw) > 0 {
		if err := json.Unmarshal(typingRaw, &c.Typing); err != nil {
			return fmt.Errorf("decode typing: %w", err)
		}
	}
	return nil
}

func marshalJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations WHERE id = $1`, id)
	if err := scanConversation(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// GetByKey looks a direct conversation up by its canonical key.
func (r *ConversationRepository) GetByKey(ctx context.Context, key string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByKey", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations WHERE conversation_key = $1`, key)
	if err := scanConversation(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.GetByKey: %w", err)
	}
	return c, nil
}

// InsertDirect inserts a fully-normalized direct conversation. The partial
// unique index on conversation_key makes concurrent check-then-insert safe:
// the loser of the race inserts nothing and reports inserted=false, and the
// caller re-reads the winner's row.
func (r *ConversationRepository) InsertDirect(ctx context.Context, c *model.Conversation) (inserted bool, err error) {
	defer logger.DeferLogDuration("conv.InsertDirect", time.Now())()
	lastSeen, err := marshalJSONB(c.LastSeen)
	if err != nil {
		return false, fmt.Errorf("convRepo.InsertDirect last_seen: %w", err)
	}
	typing, err := marshalJSONB(c.Typing)
	if err != nil {
		return false, fmt.Errorf("convRepo.InsertDirect typing: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, conversation_key, participant_a, participant_b, participants,
		        is_group, group_name, created_by, last_message, last_message_time, last_seen, typing, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, '', $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (conversation_key) WHERE conversation_key IS NOT NULL DO NOTHING`,
		c.ID, c.ConversationKey, c.ParticipantA, c.ParticipantB, c.Participants,
		c.CreatedBy, c.LastMessage, c.LastMessageTime, lastSeen, typing, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.InsertDirect: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepository) InsertGroup(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.InsertGroup", time.Now())()
	lastSeen, err := marshalJSONB(c.LastSeen)
	if err != nil {
		return fmt.Errorf("convRepo.InsertGroup last_seen: %w", err)
	}
	typing, err := marshalJSONB(c.Typing)
	if err != nil {
		return fmt.Errorf("convRepo.InsertGroup typing: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversations (id, participants, is_group, group_name, created_by,
		        last_message, last_message_time, last_seen, typing, created_at)
		 VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Participants, c.GroupName, c.CreatedBy,
		c.LastMessage, c.LastMessageTime, lastSeen, typing, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.InsertGroup: %w", err)
	}
	return nil
}

// ListByParticipant returns every conversation the user is part of: indexed
// pair columns for normalized direct rows, containment on the raw participants
// array for groups and legacy rows.
func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListByParticipant", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+convCols+` FROM conversations
		 WHERE participant_a = $1 OR participant_b = $1 OR participants @> ARRAY[$1]::text[]
		 ORDER BY last_message_time DESC NULLS LAST`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListByParticipant query: %w", err)
	}
	defer rows.Close()
	out := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.ListByParticipant scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListByParticipant rows: %w", err)
	}
	return out, nil
}

// ListAll is used by the legacy-row fallback scan and the backfill mutations.
func (r *ConversationRepository) ListAll(ctx context.Context) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT `+convCols+` FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListAll query: %w", err)
	}
	defer rows.Close()
	out := make([]model.Conversation, 0, 32)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.ListAll scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListAll rows: %w", err)
	}
	return out, nil
}

// PatchNormalized writes the derived direct-conversation fields produced by
// lazy read-repair or a backfill pass. Idempotent.
func (r *ConversationRepository) PatchNormalized(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.PatchNormalized", time.Now())()
	lastSeen, err := marshalJSONB(c.LastSeen)
	if err != nil {
		return fmt.Errorf("convRepo.PatchNormalized last_seen: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE conversations SET conversation_key = $1, participant_a = $2, participant_b = $3,
		        participants = $4, last_seen = $5 WHERE id = $6`,
		c.ConversationKey, c.ParticipantA, c.ParticipantB, c.Participants, lastSeen, c.ID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.PatchNormalized: %w", err)
	}
	return nil
}

func (r *ConversationRepository) UpdateLastSeen(ctx context.Context, id string, lastSeen []model.LastSeenEntry) error {
	defer logger.DeferLogDuration("conv.UpdateLastSeen", time.Now())()
	raw, err := marshalJSONB(lastSeen)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateLastSeen encode: %w", err)
	}
	_, err = r.pool.Exec(ctx, `UPDATE conversations SET last_seen = $1 WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateLastSeen: %w", err)
	}
	return nil
}

func (r *ConversationRepository) UpdateTyping(ctx context.Context, id string, typing *model.TypingState) error {
	defer logger.DeferLogDuration("conv.UpdateTyping", time.Now())()
	raw, err := marshalJSONB(typing)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateTyping encode: %w", err)
	}
	_, err = r.pool.Exec(ctx, `UPDATE conversations SET typing = $1 WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateTyping: %w", err)
	}
	return nil
}

// UpdateOnSend applies the full post-send patch in one statement: preview,
// last message time, sender's last-seen bump and the cleared typing slot.
func (r *ConversationRepository) UpdateOnSend(ctx context.Context, id, preview string, at time.Time, lastSeen []model.LastSeenEntry, typing *model.TypingState) error {
	defer logger.DeferLogDuration("conv.UpdateOnSend", time.Now())()
	lastSeenRaw, err := marshalJSONB(lastSeen)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateOnSend last_seen: %w", err)
	}
	typingRaw, err := marshalJSONB(typing)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateOnSend typing: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE conversations SET last_message = $1, last_message_time = $2, last_seen = $3, typing = $4 WHERE id = $5`,
		preview, at, lastSeenRaw, typingRaw, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateOnSend: %w", err)
	}
	return nil
}

func (r *ConversationRepository) UpdateLastMessagePreview(ctx context.Context, id, preview string) error {
	defer logger.DeferLogDuration("conv.UpdateLastMessagePreview", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET last_message = $1 WHERE id = $2`, preview, id)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateLastMessagePreview: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Rename(ctx context.Context, id, name string) error {
	defer logger.DeferLogDuration("conv.Rename", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET group_name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("convRepo.Rename: %w", err)
	}
	return nil
}

// Delete removes the conversation; messages go with it (ON DELETE CASCADE).
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("conv.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("convRepo.Delete: %w", err)
	}
	return nil
}

// CountUnread counts messages newer than the user's last-seen timestamp that
// were not sent by the user.
func (r *ConversationRepository) CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error) {
	defer logger.DeferLogDuration("conv.CountUnread", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = $1 AND sender_id != $2 AND created_at > $3`,
		conversationID, userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("convRepo.CountUnread: %w", err)
	}
	return count, nil
}

// Replace rewrites every mutable column to the current shape (admin cleanup).
func (r *ConversationRepository) Replace(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Replace", time.Now())()
	lastSeen, err := marshalJSONB(c.LastSeen)
	if err != nil {
		return fmt.Errorf("convRepo.Replace last_seen: %w", err)
	}
	typing, err := marshalJSONB(c.Typing)
	if err != nil {
		return fmt.Errorf("convRepo.Replace typing: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE conversations SET conversation_key = $1, participant_a = $2, participant_b = $3,
		        participants = $4, is_group = $5, group_name = $6, created_by = $7,
		        last_message = $8, last_message_time = $9, last_seen = $10, typing = $11
		 WHERE id = $12`,
		c.ConversationKey, c.ParticipantA, c.ParticipantB, c.Participants, c.IsGroup,
		c.GroupName, c.CreatedBy, c.LastMessage, c.LastMessageTime, lastSeen, typing, c.ID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Replace: %w", err)
	}
	return nil
}

// Truncate deletes all rows (admin clear).
func (r *ConversationRepository) Truncate(ctx context.Context) (int64, error) {
	defer logger.DeferLogDuration("conv.Truncate", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversations`)
	if err != nil {
		return 0, fmt.Errorf("convRepo.Truncate: %w", err)
	}
	return tag.RowsAffected(), nil
}
