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

const msgCols = `id, conversation_id, sender_id, content, attachment, reply_to, forwarded,
	created_at, seen_by, deleted_for, deleted_for_everyone, pinned_by, starred_by, reactions`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var attachmentRaw, reactionsRaw []byte
	err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &attachmentRaw, &m.ReplyTo,
		&m.Forwarded, &m.CreatedAt, &m.SeenBy, &m.DeletedFor, &m.DeletedForEveryone,
		&m.PinnedBy, &m.StarredBy, &reactionsRaw)
	if err != nil {
		return err
	}
	if len(attachmentRaw) > 0 {
		if err := json.Unmarshal(attachmentRaw, &m.Attachment); err != nil {
			return fmt.Errorf("decode attachment: %w", err)
		}
	}
	if len(reactionsRaw) > 0 {
		if err := json.Unmarshal(reactionsRaw, &m.Reactions); err != nil {
			return fmt.Errorf("decode reactions: %w", err)
		}
	}
	return nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	attachment, err := marshalJSONB(m.Attachment)
	if err != nil {
		return fmt.Errorf("msgRepo.Create attachment: %w", err)
	}
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return fmt.Errorf("msgRepo.Create reactions: %w", err)
	}
	if m.Reactions == nil {
		reactions = []byte("[]")
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, attachment, reply_to, forwarded,
		        created_at, seen_by, deleted_for, deleted_for_everyone, pinned_by, starred_by, reactions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, attachment, m.ReplyTo, m.Forwarded,
		m.CreatedAt, m.SeenBy, m.DeletedFor, m.DeletedForEveryone, m.PinnedBy, m.StarredBy, reactions,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByConversation returns the full message log, creation time ascending.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages WHERE conversation_id = $1 ORDER BY created_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation query: %w", err)
	}
	defer rows.Close()
	out := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByConversation scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation rows: %w", err)
	}
	return out, nil
}

// GetLast returns the newest message of a conversation, nil if there is none.
func (r *MessageRepository) GetLast(ctx context.Context, conversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLast", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("msgRepo.GetLast: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE messages SET content = $1 WHERE id = $2`, content, id)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	return nil
}

// AddDeletedFor idempotently adds the user to the message's deleted-for set.
func (r *MessageRepository) AddDeletedFor(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("msg.AddDeletedFor", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_for = array_append(deleted_for, $1)
		 WHERE id = $2 AND NOT ($1 = ANY(deleted_for))`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.AddDeletedFor: %w", err)
	}
	return nil
}

// SetDeletedForEveryone swaps the content for the placeholder and raises the flag.
func (r *MessageRepository) SetDeletedForEveryone(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.SetDeletedForEveryone", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, deleted_for_everyone = TRUE WHERE id = $2`,
		model.DeletedPlaceholder, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SetDeletedForEveryone: %w", err)
	}
	return nil
}

func (r *MessageRepository) UpdateReactions(ctx context.Context, id string, reactions []model.Reaction) error {
	defer logger.DeferLogDuration("msg.UpdateReactions", time.Now())()
	if reactions == nil {
		reactions = []model.Reaction{}
	}
	raw, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateReactions encode: %w", err)
	}
	_, err = r.pool.Exec(ctx, `UPDATE messages SET reactions = $1 WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateReactions: %w", err)
	}
	return nil
}

func (r *MessageRepository) UpdatePinnedBy(ctx context.Context, id string, pinnedBy []string) error {
	defer logger.DeferLogDuration("msg.UpdatePinnedBy", time.Now())()
	if pinnedBy == nil {
		pinnedBy = []string{}
	}
	_, err := r.pool.Exec(ctx, `UPDATE messages SET pinned_by = $1 WHERE id = $2`, pinnedBy, id)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdatePinnedBy: %w", err)
	}
	return nil
}

func (r *MessageRepository) UpdateStarredBy(ctx context.Context, id string, starredBy []string) error {
	defer logger.DeferLogDuration("msg.UpdateStarredBy", time.Now())()
	if starredBy == nil {
		starredBy = []string{}
	}
	_, err := r.pool.Exec(ctx, `UPDATE messages SET starred_by = $1 WHERE id = $2`, starredBy, id)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateStarredBy: %w", err)
	}
	return nil
}

// AddSeenBy marks every other participant's message in the conversation as
// seen by the user. The set only ever grows.
func (r *MessageRepository) AddSeenBy(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("msg.AddSeenBy", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET seen_by = array_append(seen_by, $1)
		 WHERE conversation_id = $2 AND sender_id != $1 AND NOT ($1 = ANY(seen_by))`,
		userID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.AddSeenBy: %w", err)
	}
	return nil
}

// Replace rewrites a message row to the current shape (admin cleanup).
func (r *MessageRepository) Replace(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Replace", time.Now())()
	attachment, err := marshalJSONB(m.Attachment)
	if err != nil {
		return fmt.Errorf("msgRepo.Replace attachment: %w", err)
	}
	reactions := m.Reactions
	if reactions == nil {
		reactions = []model.Reaction{}
	}
	reactionsRaw, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("msgRepo.Replace reactions: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, attachment = $2, reply_to = $3, forwarded = $4,
		        seen_by = $5, deleted_for = $6, deleted_for_everyone = $7,
		        pinned_by = $8, starred_by = $9, reactions = $10
		 WHERE id = $11`,
		m.Content, attachment, m.ReplyTo, m.Forwarded,
		m.SeenBy, m.DeletedFor, m.DeletedForEveryone,
		m.PinnedBy, m.StarredBy, reactionsRaw, m.ID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Replace: %w", err)
	}
	return nil
}

// ListAll is used by the admin cleanup pass.
func (r *MessageRepository) ListAll(ctx context.Context) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT ` + msgCols + ` FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListAll query: %w", err)
	}
	defer rows.Close()
	out := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListAll scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListAll rows: %w", err)
	}
	return out, nil
}

// Truncate deletes all rows (admin clear).
func (r *MessageRepository) Truncate(ctx context.Context) (int64, error) {
	defer logger.DeferLogDuration("msg.Truncate", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.Truncate: %w", err)
	}
	return tag.RowsAffected(), nil
}
