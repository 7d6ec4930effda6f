// Package access implements the admin-only meta-commands: user and history
// exports, role changes and engine reloads.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/etofiasko/tg-bot-v2/internal/backend"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
)

var (
	// ErrPermissionDenied is returned when the requester is not an admin.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrHistoryEmpty is returned by ExportHistory when there is nothing to export.
	ErrHistoryEmpty = errors.New("download history is empty")
	// ErrMalformedRequest is returned when access data is not "identity role".
	ErrMalformedRequest = errors.New("malformed access data")
	// ErrUnknownRole is returned for role names outside admin/advanced/restricted.
	ErrUnknownRole = errors.New("unknown role")
)

// Repository is the persistence the controller needs.
type Repository interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	ChangeRole(ctx context.Context, id domain.Identity, role domain.Role, provision bool) (domain.RoleChangeOutcome, *domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	ListHistory(ctx context.Context, limit int) ([]*domain.HistoryEntry, error)
}

// EngineReloader invalidates a backend's loaded engine.
type EngineReloader interface {
	Invalidate(id backend.ID) error
}

// Policy selects how a role change addresses its target.
type Policy struct {
	// ByHandle addresses users by handle instead of numeric id.
	ByHandle bool
	// Provision creates unknown identities instead of failing.
	Provision bool
}

// RoleChange describes the result of a role change request.
type RoleChange struct {
	Outcome  domain.RoleChangeOutcome
	Identity domain.Identity
	Role     domain.Role
	User     *domain.User
}

// Controller gates the meta-commands on the admin role.
type Controller struct {
	repo     Repository
	reloader EngineReloader
	logger   *slog.Logger
}

// New creates an access controller. reloader may be nil.
func New(repo Repository, reloader EngineReloader, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{repo: repo, reloader: reloader, logger: logger}
}

// Authorize returns the requester if they hold the admin role.
func (c *Controller) Authorize(ctx context.Context, requester int64) (*domain.User, error) {
	user, err := c.repo.GetUser(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("get requester: %w", err)
	}
	if !user.IsAdmin() {
		c.logger.Warn("Admin command refused", "user_id", requester)
		return nil, ErrPermissionDenied
	}
	return user, nil
}

// ParseAccessData parses "identity role" as typed by an admin.
func ParseAccessData(raw string, policy Policy) (domain.Identity, domain.Role, error) {
	args := strings.Fields(raw)
	if len(args) != 2 {
		return domain.Identity{}, "", ErrMalformedRequest
	}

	role, err := domain.ParseRole(args[1])
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("%w: %s", ErrUnknownRole, args[1])
	}

	if policy.ByHandle {
		handle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "@"))
		if handle == "" {
			return domain.Identity{}, "", ErrMalformedRequest
		}
		return domain.Identity{Handle: handle}, role, nil
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "@"), 10, 64)
	if err != nil || id <= 0 {
		return domain.Identity{}, "", fmt.Errorf("%w: %q is not a user id", ErrMalformedRequest, args[0])
	}
	return domain.Identity{UserID: id}, role, nil
}

// ChangeRole applies an admin's "identity role" request.
func (c *Controller) ChangeRole(ctx context.Context, requester int64, raw string, policy Policy) (*RoleChange, error) {
	if _, err := c.Authorize(ctx, requester); err != nil {
		return nil, err
	}

	id, role, err := ParseAccessData(raw, policy)
	if err != nil {
		return nil, err
	}

	outcome, user, err := c.repo.ChangeRole(ctx, id, role, policy.Provision)
	if err != nil {
		return nil, fmt.Errorf("change role of %s: %w", id, err)
	}

	c.logger.Info("Role change processed",
		"requester", requester,
		"target", id.String(),
		"role", role,
		"outcome", outcome)
	return &RoleChange{Outcome: outcome, Identity: id, Role: role, User: user}, nil
}

// ReloadEngine invalidates the engine of a backend so the next report reloads it.
func (c *Controller) ReloadEngine(ctx context.Context, requester int64, raw string) (backend.ID, error) {
	if _, err := c.Authorize(ctx, requester); err != nil {
		return "", err
	}
	if c.reloader == nil {
		return "", fmt.Errorf("reload engine: %w", backend.ErrUnknownBackend)
	}

	id, err := backend.ParseID(raw)
	if err != nil {
		return "", err
	}
	if err := c.reloader.Invalidate(id); err != nil {
		return "", fmt.Errorf("reload engine %s: %w", id, err)
	}
	c.logger.Info("Engine reload requested", "requester", requester, "backend", id)
	return id, nil
}
