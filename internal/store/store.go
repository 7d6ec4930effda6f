// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
)

// Repository defines the interface for persisting users and download history.
type Repository interface {
	// GetUser retrieves a user by their numeric user ID.
	// Returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// GetUserByHandle retrieves a user by lowercased handle.
	// Returns nil, nil when the user does not exist.
	GetUserByHandle(ctx context.Context, handle string) (*domain.User, error)

	// RegisterUser records a user contacting the bot. New users get the
	// restricted role; existing users only have their handle refreshed.
	// A user provisioned earlier by handle is claimed by the numeric ID.
	RegisterUser(ctx context.Context, userID int64, handle string) (*domain.User, error)

	// EnsureAdmin grants the admin role to a user ID, creating the row if needed.
	EnsureAdmin(ctx context.Context, userID int64) error

	// ChangeRole updates the role of the identified user. Admins are never
	// modified. When provision is true an unknown identity is created with the
	// requested role; otherwise RoleUnknownUser is returned.
	ChangeRole(ctx context.Context, id domain.Identity, role domain.Role, provision bool) (domain.RoleChangeOutcome, *domain.User, error)

	// ListUsers returns all users ordered by creation.
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// RecordHistory appends a download history entry.
	RecordHistory(ctx context.Context, entry *domain.HistoryEntry) error

	// ListHistory returns the newest history entries first, at most limit rows.
	ListHistory(ctx context.Context, limit int) ([]*domain.HistoryEntry, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
