package billing

import (
	"context"

	"github.com/google/uuid"
)

type userIDContextKey struct{}

// SetUserIDToContext stores the authenticated user ID for handler access.
// The authentication middleware in front of the billing routes is expected to
// call this after validating the session.
func SetUserIDToContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// GetUserIDFromContext retrieves the authenticated user ID. The boolean is
// false when no user was stored.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(uuid.UUID)
	return id, ok
}
