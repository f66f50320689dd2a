package middleware

import "context"

type contextKey string

const (
	// UserHandleKey carries the authenticated identity handle set by SessionAuth.
	UserHandleKey contextKey = "user_handle"
	SessionIDKey  contextKey = "session_id"
)

func GetUserHandle(ctx context.Context) string {
	v, _ := ctx.Value(UserHandleKey).(string)
	return v
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}
