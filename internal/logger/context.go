package logger

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for fields that recur across the connection/dispatch
// lifecycle (spec §4.7/§4.5): a connection carries a user and experience
// for its whole life, and a dispatched command carries an action name.
const (
	ContextKeyConnectionID contextKey = "connection_id"
	ContextKeyExperience   contextKey = "experience"
	ContextKeyUserID       contextKey = "user_id"
	ContextKeyAction       contextKey = "action"
)

var allContextKeys = []contextKey{
	ContextKeyConnectionID,
	ContextKeyExperience,
	ContextKeyUserID,
	ContextKeyAction,
}

// WithConnectionID returns a new context with the connection ID set.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ContextKeyConnectionID, connectionID)
}

// WithExperience returns a new context with the experience id set.
func WithExperience(ctx context.Context, experience string) context.Context {
	return context.WithValue(ctx, ContextKeyExperience, experience)
}

// WithUserID returns a new context with the user id set.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// WithAction returns a new context with the dispatched action name set.
func WithAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, ContextKeyAction, action)
}

// Fields holds the standard logging fields bundled together, for callers
// that already have all of them (e.g. the connection manager on accept).
type Fields struct {
	ConnectionID string
	Experience   string
	UserID       string
	Action       string
}

// WithFields sets any non-empty fields on ctx in one call.
func WithFields(ctx context.Context, f Fields) context.Context {
	if f.ConnectionID != "" {
		ctx = WithConnectionID(ctx, f.ConnectionID)
	}
	if f.Experience != "" {
		ctx = WithExperience(ctx, f.Experience)
	}
	if f.UserID != "" {
		ctx = WithUserID(ctx, f.UserID)
	}
	if f.Action != "" {
		ctx = WithAction(ctx, f.Action)
	}
	return ctx
}
