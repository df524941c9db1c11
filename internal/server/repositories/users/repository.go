// Package users declares the server-side repository contract for user
// accounts.
package users

import (
	"context"

	"github.com/holamess/holamess/internal/server/models"
)

// Repository defines operations for creating and looking up users.
type Repository interface {
	// Create stores a new user. Returns common.ErrorAlreadyExists when the
	// phone number is taken.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByPhone looks a user up by phone number; common.ErrorNotFound when
	// absent.
	GetByPhone(ctx context.Context, phone string) (*models.User, error)

	// GetByID looks a user up by id; common.ErrorNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// List returns all users except excludeID (pass "" to list everyone),
	// ordered by name.
	List(ctx context.Context, excludeID string) ([]*models.User, error)
}
