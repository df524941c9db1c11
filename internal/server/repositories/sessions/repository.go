// Package sessions declares the server-side repository contract for issued
// access-token sessions.
package sessions

import (
	"context"

	"github.com/holamess/holamess/internal/server/models"
)

// Repository defines operations for tracking access-token/device pairings.
// A session row existing is what keeps a structurally valid access token
// usable; deleting the row revokes the token ahead of its JWT expiry.
type Repository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *models.Session) (*models.Session, error)

	// FindByToken returns the session for an access token, or
	// common.ErrorNotFound when it was deleted (logout, eviction, revoke).
	FindByToken(ctx context.Context, token string) (*models.Session, error)

	// Touch refreshes last_active for the session bound to token.
	Touch(ctx context.Context, token string) error

	// DeleteByToken removes the session for token. Deleting a non-existent
	// session is not an error; the bool reports whether a row was removed.
	DeleteByToken(ctx context.Context, token string) (bool, error)

	// DeleteByUser removes every session of the user, returning the count.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// EvictOldest deletes all but the keep most-recently-active sessions of
	// the user, returning the number evicted.
	EvictOldest(ctx context.Context, userID string, keep int) (int64, error)

	// ListByUser returns the user's sessions, most recently active first.
	ListByUser(ctx context.Context, userID string) ([]*models.Session, error)
}
