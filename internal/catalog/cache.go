package catalog

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheSize bounds the number of cached lists: the top-level lists plus one
// subcategory list per category.
const cacheSize = 512

// Cached memoizes list lookups of another Catalog for a fixed TTL.
// Code lookups are passed through.
type Cached struct {
	next    Catalog
	entries *expirable.LRU[string, []string]
}

// NewCached wraps next. A non-positive ttl disables caching.
func NewCached(next Catalog, ttl time.Duration) *Cached {
	c := &Cached{next: next}
	if ttl > 0 {
		c.entries = expirable.NewLRU[string, []string](cacheSize, nil, ttl)
	}
	return c
}

func (c *Cached) list(ctx context.Context, key string, load func(context.Context) ([]string, error)) ([]string, error) {
	if c.entries == nil {
		return load(ctx)
	}
	if values, ok := c.entries.Get(key); ok {
		return values, nil
	}

	values, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, values)
	return values, nil
}

// ListPartners returns the cached partner list.
func (c *Cached) ListPartners(ctx context.Context) ([]string, error) {
	return c.list(ctx, "partners", c.next.ListPartners)
}

// ListYears returns the cached year list.
func (c *Cached) ListYears(ctx context.Context) ([]string, error) {
	return c.list(ctx, "years", c.next.ListYears)
}

// ListCategories returns the cached category list.
func (c *Cached) ListCategories(ctx context.Context) ([]string, error) {
	return c.list(ctx, "categories", c.next.ListCategories)
}

// ListSubcategories returns the cached subcategory list of parent.
func (c *Cached) ListSubcategories(ctx context.Context, parent string) ([]string, error) {
	return c.list(ctx, "sub:"+parent, func(ctx context.Context) ([]string, error) {
		return c.next.ListSubcategories(ctx, parent)
	})
}

// CodeExists is not cached.
func (c *Cached) CodeExists(ctx context.Context, code string) (bool, error) {
	return c.next.CodeExists(ctx, code)
}

// Flush drops every cached list.
func (c *Cached) Flush() {
	if c.entries != nil {
		c.entries.Purge()
	}
}

var _ Catalog = (*Cached)(nil)
