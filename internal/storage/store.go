package storage

import "context"

// SecretStore holds the per-session HMAC secrets issued by the identity
// service. Implementations: redis.Client, memory.Client (for -dev without
// Redis).
type SecretStore interface {
	SetSessionSecret(ctx context.Context, sessionID, secret string) error
	GetSessionSecret(ctx context.Context, sessionID string) (string, error)
	DeleteSessionSecret(ctx context.Context, sessionID string) error
	Close() error
}
