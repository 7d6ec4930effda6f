package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/etofiasko/tg-bot-v2/internal/store"
)

// Schema is the catalog layout a backend database must provide.
const Schema = `
CREATE TABLE IF NOT EXISTS country_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	parent_id INTEGER REFERENCES country_groups(id)
);
CREATE TABLE IF NOT EXISTS countries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name_ru TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_years (
	year INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS tn_ved_categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	parent_id INTEGER REFERENCES tn_ved_categories(id)
);
CREATE TABLE IF NOT EXISTS tn_veds (
	code TEXT NOT NULL,
	digit INTEGER NOT NULL,
	PRIMARY KEY (code)
);
`

// SQLite is a Catalog backed by one SQLite database.
type SQLite struct {
	db   *sql.DB
	name string
}

// NewSQLite opens the catalog database at dbPath and ensures its schema.
func NewSQLite(name, dbPath string) (*SQLite, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", name, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema %s: %w", name, err)
	}
	return &SQLite{db: db, name: name}, nil
}

// DB exposes the underlying handle for seeding and maintenance.
func (c *SQLite) DB() *sql.DB {
	return c.db
}

// Close closes the database connection.
func (c *SQLite) Close() error {
	return c.db.Close()
}

// Ping verifies database connectivity.
func (c *SQLite) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// ListPartners returns the world aggregate, then country groups, then countries.
func (c *SQLite) ListPartners(ctx context.Context) ([]string, error) {
	partners := []string{WorldPartner}

	groups, err := c.strings(ctx, `
		SELECT name FROM country_groups
		WHERE parent_id IS NOT NULL AND name <> ?
		ORDER BY name`, WorldPartner)
	if err != nil {
		return nil, fmt.Errorf("list country groups: %w", err)
	}
	partners = append(partners, groups...)

	countries, err := c.strings(ctx, `SELECT DISTINCT name_ru FROM countries ORDER BY name_ru`)
	if err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	return append(partners, countries...), nil
}

// ListYears returns the years with data, skipping the earliest year, which
// only serves as the comparison base for the next one.
func (c *SQLite) ListYears(ctx context.Context) ([]string, error) {
	years, err := c.strings(ctx, `
		SELECT CAST(year AS TEXT) FROM trade_years
		WHERE year > (SELECT MIN(year) FROM trade_years)
		ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("list years: %w", err)
	}
	return years, nil
}

// ListCategories returns top-level goods categories.
func (c *SQLite) ListCategories(ctx context.Context) ([]string, error) {
	categories, err := c.strings(ctx, `SELECT name FROM tn_ved_categories WHERE parent_id IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// ListSubcategories returns the subcategories of a top-level category.
func (c *SQLite) ListSubcategories(ctx context.Context, parent string) ([]string, error) {
	subcategories, err := c.strings(ctx, `
		SELECT sc.name
		FROM tn_ved_categories p
		JOIN tn_ved_categories sc ON sc.parent_id = p.id
		WHERE p.name = ?
		ORDER BY sc.name`, parent)
	if err != nil {
		return nil, fmt.Errorf("list subcategories of %q: %w", parent, err)
	}
	return subcategories, nil
}

// CodeExists reports whether a goods code is a known 4, 6 or 10 digit entry.
func (c *SQLite) CodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1 FROM tn_veds
		WHERE code = ? AND digit IN (4, 6, 10)
		LIMIT 1`, code).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup goods code %s: %w", code, err)
	}
	return true, nil
}

func (c *SQLite) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close catalog rows", "catalog", c.name, "error", closeErr)
		}
	}()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ Catalog = (*SQLite)(nil)
