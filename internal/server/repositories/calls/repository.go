// Package calls declares the server-side repository contract for voice-call
// records.
package calls

import (
	"context"
	"time"

	"github.com/holamess/holamess/internal/server/models"
)

// Repository defines operations over call rows. Status transitions are
// guarded at the SQL level so concurrent terminations settle on exactly one
// winner; the bool results report whether this caller won the transition.
type Repository interface {
	// Create stores a new call row, writing the assigned start_time and
	// created_at back into call. Returns common.ErrorAlreadyExists when the
	// client-generated ID collides.
	Create(ctx context.Context, call *models.Call) error

	// Find returns the call, or common.ErrorNotFound.
	Find(ctx context.Context, id string) (*models.Call, error)

	// UpdateStatus moves the call from one non-terminal status to another.
	// The bool reports whether the row was in from and got moved.
	UpdateStatus(ctx context.Context, id, from, to string) (bool, error)

	// Terminate moves the call into a terminal status, recording end time
	// and duration, but only when its current status is one of
	// fromStatuses. The bool reports whether this call won the transition.
	Terminate(ctx context.Context, id, to string, endTime time.Time, duration int64, fromStatuses ...string) (bool, error)

	// StaleRinging lists calls still in calling or ringing whose start_time
	// is older than cutoff. Used by the ring-timeout sweep.
	StaleRinging(ctx context.Context, cutoff time.Time) ([]*models.Call, error)
}
