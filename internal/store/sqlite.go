package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	roleMu sync.Mutex // serializes read-check-write role changes
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// Open opens a SQLite database in WAL mode, creating its directory if needed.
func Open(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER UNIQUE,
		handle TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'restricted' CHECK (role IN ('admin', 'advanced', 'restricted')),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_handle ON users(handle);

	CREATE TABLE IF NOT EXISTS download_history (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		handle TEXT NOT NULL DEFAULT '',
		variant TEXT NOT NULL,
		backend TEXT NOT NULL,
		region TEXT NOT NULL,
		partner TEXT NOT NULL,
		year INTEGER NOT NULL,
		summary TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_created ON download_history(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `user_id, handle, role, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var userID sql.NullInt64
	var role string
	var createdAt, updatedAt int64

	if err := row.Scan(&userID, &user.Handle, &role, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.UserID = userID.Int64
	user.Role = domain.Role(role)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user by their numeric user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByHandle retrieves a user by lowercased handle. When several rows
// share a handle the one that has contacted the bot wins.
func (s *SQLiteStore) GetUserByHandle(ctx context.Context, handle string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE handle = ?
		ORDER BY user_id IS NULL, id
		LIMIT 1`, handle)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// RegisterUser records a user contacting the bot.
func (s *SQLiteStore) RegisterUser(ctx context.Context, userID int64, handle string) (*domain.User, error) {
	s.roleMu.Lock()
	defer s.roleMu.Unlock()

	now := time.Now().Unix()

	existing, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil && handle != "" {
		// Claim a row an admin provisioned by handle before the user showed up.
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET user_id = ?, updated_at = ?
			WHERE id = (SELECT id FROM users WHERE handle = ? AND user_id IS NULL ORDER BY id LIMIT 1)`,
			userID, now, handle)
		if err != nil {
			return nil, fmt.Errorf("claim provisioned user: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			slog.Info("Provisioned user claimed", "user_id", userID, "handle", handle)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, handle, role, created_at, updated_at)
		VALUES (?, ?, 'restricted', ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			handle = excluded.handle,
			updated_at = excluded.updated_at`,
		userID, handle, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return s.GetUser(ctx, userID)
}

// EnsureAdmin grants the admin role to a user ID, creating the row if needed.
func (s *SQLiteStore) EnsureAdmin(ctx context.Context, userID int64) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, handle, role, created_at, updated_at)
		VALUES (?, '', 'admin', ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			role = 'admin',
			updated_at = excluded.updated_at`,
		userID, now, now)
	if err != nil {
		return fmt.Errorf("ensure admin %d: %w", userID, err)
	}
	return nil
}

// ChangeRole updates the role of the identified user.
func (s *SQLiteStore) ChangeRole(ctx context.Context, id domain.Identity, role domain.Role, provision bool) (domain.RoleChangeOutcome, *domain.User, error) {
	s.roleMu.Lock()
	defer s.roleMu.Unlock()

	var (
		user *domain.User
		err  error
	)
	if id.Handle != "" {
		user, err = s.GetUserByHandle(ctx, id.Handle)
	} else {
		user, err = s.GetUser(ctx, id.UserID)
	}
	if err != nil {
		return 0, nil, err
	}

	now := time.Now()
	if user == nil {
		if !provision {
			return domain.RoleUnknownUser, nil, nil
		}
		var userID any
		if id.UserID != 0 {
			userID = id.UserID
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO users (user_id, handle, role, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			userID, id.Handle, string(role), now.Unix(), now.Unix()); err != nil {
			return 0, nil, fmt.Errorf("provision user %s: %w", id, err)
		}
		return domain.RoleProvisioned, &domain.User{
			UserID:    id.UserID,
			Handle:    id.Handle,
			Role:      role,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}

	if user.IsAdmin() {
		return domain.RoleSuperAdmin, user, nil
	}

	query := `UPDATE users SET role = ?, updated_at = ? WHERE role != 'admin' AND `
	args := []any{string(role), now.Unix()}
	if user.UserID != 0 {
		query += `user_id = ?`
		args = append(args, user.UserID)
	} else {
		query += `handle = ? AND user_id IS NULL`
		args = append(args, user.Handle)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, nil, fmt.Errorf("update role: %w", err)
	}

	user.Role = role
	user.UpdatedAt = now
	return domain.RoleChanged, user, nil
}

// ListUsers returns all users ordered by creation.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user rows", "error", closeErr)
		}
	}()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// RecordHistory appends a download history entry.
func (s *SQLiteStore) RecordHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_history (
			id, user_id, handle, variant, backend, region, partner, year, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Handle, entry.Variant, entry.Backend,
		entry.Region, entry.Partner, entry.Year, entry.Summary, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// ListHistory returns the newest history entries first.
func (s *SQLiteStore) ListHistory(ctx context.Context, limit int) ([]*domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, handle, variant, backend, region, partner, year, summary, created_at
		FROM download_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var createdAt int64
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Handle, &e.Variant, &e.Backend,
			&e.Region, &e.Partner, &e.Year, &e.Summary, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

var _ Repository = (*SQLiteStore)(nil)
