package types

import "context"

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	requestIDKey contextKey = "request_id"
)

// WithUserID stores the authenticated user's ID in the context.
// The ID is the subject claim of the bearer token issued by the auth provider.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the authenticated user's ID from the context.
// The boolean is false when no user is attached or the ID is empty.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Identity is the authenticated caller as asserted by a verified bearer token.
type Identity struct {
	UserID string
	Email  string
}

const userEmailKey contextKey = "user_email"

// WithIdentity stores the user ID and email of a verified caller.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = WithUserID(ctx, id.UserID)
	return context.WithValue(ctx, userEmailKey, id.Email)
}

// GetUserEmail retrieves the caller's email. It is empty when the token did
// not carry one.
func GetUserEmail(ctx context.Context) string {
	email, _ := ctx.Value(userEmailKey).(string)
	return email
}
