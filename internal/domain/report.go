package domain

import (
	"fmt"
	"strings"
	"time"
)

// Report limits and defaults.
const (
	DefaultDigits           = 4
	DefaultTableSize        = 25
	DefaultCountryTableSize = 15
	DefaultTextSize         = 7

	MinTableSize        = 1
	MaxTableSize        = 500
	MinCountryTableSize = 1
	MaxCountryTableSize = 250
	MinTextSize         = 1
	MaxTextSize         = 20
)

// MonthRange restricts a report to part of a year. The zero value covers the
// whole year; a single month has From == To.
type MonthRange struct {
	From int `json:"from,omitempty"`
	To   int `json:"to,omitempty"`
}

// IsZero reports whether the range covers the whole year.
func (m MonthRange) IsZero() bool {
	return m.From == 0 && m.To == 0
}

// String renders the range in the engine's raw format: "", "3" or "3,7".
func (m MonthRange) String() string {
	switch {
	case m.IsZero():
		return ""
	case m.From == m.To:
		return fmt.Sprintf("%d", m.From)
	default:
		return fmt.Sprintf("%d,%d", m.From, m.To)
	}
}

// ReportRequest is the finished, validated request handed to the document engine.
type ReportRequest struct {
	Region           string     `json:"region"`
	Partner          string     `json:"partner"`
	Year             int        `json:"year"`
	Category         string     `json:"category,omitempty"`
	Subcategory      string     `json:"subcategory,omitempty"`
	GoodsCode        string     `json:"goods_code,omitempty"`
	ExcludedCodes    []string   `json:"excluded_codes,omitempty"`
	MonthRange       MonthRange `json:"month_range"`
	Digits           int        `json:"digits"`
	TableSize        int        `json:"table_size"`
	CountryTableSize int        `json:"country_table_size"`
	TextSize         int        `json:"text_size"`
	Plain            bool       `json:"plain"`
	Long             bool       `json:"long"`
}

// Validate checks required fields, bounds and the goods-code/category exclusivity.
func (r ReportRequest) Validate() error {
	if r.Region == "" || r.Partner == "" || r.Year == 0 {
		return fmt.Errorf("region, partner and year are required")
	}
	if r.GoodsCode != "" && (r.Category != "" || r.Subcategory != "") {
		return fmt.Errorf("goods code %s excludes category filters", r.GoodsCode)
	}
	if r.TableSize < MinTableSize || r.TableSize > MaxTableSize {
		return fmt.Errorf("table size %d out of range [%d,%d]", r.TableSize, MinTableSize, MaxTableSize)
	}
	if r.CountryTableSize < MinCountryTableSize || r.CountryTableSize > MaxCountryTableSize {
		return fmt.Errorf("country table size %d out of range [%d,%d]", r.CountryTableSize, MinCountryTableSize, MaxCountryTableSize)
	}
	if r.TextSize < MinTextSize || r.TextSize > MaxTextSize {
		return fmt.Errorf("text size %d out of range [%d,%d]", r.TextSize, MinTextSize, MaxTextSize)
	}
	switch r.Digits {
	case 4, 6, 10:
	default:
		return fmt.Errorf("digits must be 4, 6 or 10, got %d", r.Digits)
	}
	return nil
}

// Summary is the short human-readable description stored in download history.
func (r ReportRequest) Summary() string {
	parts := []string{r.Region, r.Partner, fmt.Sprintf("%d", r.Year)}
	if r.GoodsCode != "" {
		parts = append(parts, "code "+r.GoodsCode)
	}
	if r.Subcategory != "" {
		parts = append(parts, r.Subcategory)
	} else if r.Category != "" {
		parts = append(parts, r.Category)
	}
	if !r.MonthRange.IsZero() {
		parts = append(parts, "months "+r.MonthRange.String())
	}
	if r.Plain {
		parts = append(parts, "plain")
	}
	return strings.Join(parts, " / ")
}

// GenerationStatus is the outcome reported by the document engine.
type GenerationStatus string

const (
	// GenerationOK means a document was produced.
	GenerationOK GenerationStatus = "ok"
	// GenerationNoData means no data matched the request filters.
	GenerationNoData GenerationStatus = "no_data"
)

// GenerationResult is the document engine's reply.
type GenerationResult struct {
	Status        GenerationStatus
	Document      []byte
	Filename      string
	ShortFilename string
}

// HistoryEntry is an append-only record of a delivered report.
type HistoryEntry struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Handle    string    `json:"handle"`
	Variant   string    `json:"variant"`
	Backend   string    `json:"backend"`
	Region    string    `json:"region"`
	Partner   string    `json:"partner"`
	Year      int       `json:"year"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}
