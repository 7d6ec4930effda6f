// Package catalog provides the ordered value lists the report wizard offers:
// partners, years, goods categories and goods codes.
package catalog

import "context"

// WorldPartner is always offered first in the partner list.
const WorldPartner = "весь мир"

// Catalog is a read-only source of wizard choices for one backend profile.
type Catalog interface {
	// ListPartners returns the world aggregate, then country groups, then countries.
	ListPartners(ctx context.Context) ([]string, error)

	// ListYears returns the years with data, oldest first.
	ListYears(ctx context.Context) ([]string, error)

	// ListCategories returns top-level goods categories.
	ListCategories(ctx context.Context) ([]string, error)

	// ListSubcategories returns the subcategories of a top-level category.
	ListSubcategories(ctx context.Context, parent string) ([]string, error)

	// CodeExists reports whether a goods code is a known 4, 6 or 10 digit entry.
	CodeExists(ctx context.Context, code string) (bool, error)
}
