// Package refreshtokens declares the server-side repository contract for
// managing refresh tokens in persistent storage.
package refreshtokens

import (
	"context"

	"github.com/holamess/holamess/internal/server/models"
)

// Repository defines operations for issuing, retrieving, and revoking
// refresh tokens. A revoked or expired token must never verify.
type Repository interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, token *models.RefreshToken) error

	// Find looks a refresh token up by its opaque token string, returning
	// common.ErrorNotFound when absent. Revoked rows are returned with the
	// flag set; callers decide how to report them.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Revoke marks the token revoked. The bool reports whether an
	// unrevoked row was flipped.
	Revoke(ctx context.Context, token string) (bool, error)

	// RevokeAllForUser marks all of the user's unrevoked tokens revoked,
	// returning the count.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes rows past their expiry (time-to-live policy),
	// returning the count.
	DeleteExpired(ctx context.Context) (int64, error)
}
