package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

var ErrNotFound = errors.New("not found")

const userCols = `id, handle, name, email, avatar_url, avatar_blob_id, online, last_active_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans a row into model.User (order matches userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Handle, &u.Name, &u.Email, &u.AvatarURL, &u.AvatarBlobID, &u.Online, &u.LastActiveAt, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, handle, name, email, avatar_url, avatar_blob_id, online, last_active_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Handle, u.Name, u.Email, u.AvatarURL, u.AvatarBlobID, u.Online, u.LastActiveAt, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetByHandle resolves the external identity handle to the user record.
func (r *UserRepository) GetByHandle(ctx context.Context, handle string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByHandle", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE handle = $1`, handle)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByHandle: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY name, handle`)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListAll: %w", err)
	}
	defer rows.Close()
	users := make([]model.User, 0, 32)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListAll scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListAll rows: %w", err)
	}
	return users, nil
}

// UpdateSync refreshes provider-owned profile fields on a repeat sync.
func (r *UserRepository) UpdateSync(ctx context.Context, id, name, email, avatarURL string) error {
	defer logger.DeferLogDuration("user.UpdateSync", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET name = $1, email = $2, avatar_url = $3, online = TRUE, last_active_at = $4 WHERE id = $5`,
		name, email, avatarURL, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateSync: %w", err)
	}
	return nil
}

// SetOnline stores the online flag and stamps last_active_at for both
// directions: an explicit offline transition is still activity.
func (r *UserRepository) SetOnline(ctx context.Context, id string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET online = $1, last_active_at = $2 WHERE id = $3`,
		online, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// SetAvatarBlob records an uploaded avatar: the blob handle plus the resolved URL.
func (r *UserRepository) SetAvatarBlob(ctx context.Context, id, blobID, url string) error {
	defer logger.DeferLogDuration("user.SetAvatarBlob", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET avatar_blob_id = $1, avatar_url = $2 WHERE id = $3`,
		blobID, url, id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetAvatarBlob: %w", err)
	}
	return nil
}

// Replace rewrites every column of a user row to the current shape (admin cleanup).
func (r *UserRepository) Replace(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Replace", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET handle = $1, name = $2, email = $3, avatar_url = $4, avatar_blob_id = $5,
		        online = $6, last_active_at = $7 WHERE id = $8`,
		u.Handle, u.Name, u.Email, u.AvatarURL, u.AvatarBlobID, u.Online, u.LastActiveAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Replace: %w", err)
	}
	return nil
}
