package access

import (
	"context"
	"fmt"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	usersFilename   = "users.xlsx"
	historyFilename = "download_history.xlsx"

	historyExportLimit = 100000

	exportTimeLayout = "2006-01-02 15:04:05"
)

// ExportUsers returns every user as a spreadsheet document.
func (c *Controller) ExportUsers(ctx context.Context, requester int64) (*domain.Document, error) {
	if _, err := c.Authorize(ctx, requester); err != nil {
		return nil, err
	}

	users, err := c.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	rows := make([][]any, 0, len(users))
	for _, u := range users {
		var userID any
		if u.UserID != 0 {
			userID = u.UserID
		}
		rows = append(rows, []any{
			userID,
			u.Handle,
			string(u.Role),
			u.CreatedAt.UTC().Format(exportTimeLayout),
			u.UpdatedAt.UTC().Format(exportTimeLayout),
		})
	}
	return writeSheet(usersFilename, "users",
		[]any{"user_id", "handle", "role", "created_at", "updated_at"}, rows)
}

// ExportHistory returns the download history, newest first, as a spreadsheet document.
func (c *Controller) ExportHistory(ctx context.Context, requester int64) (*domain.Document, error) {
	if _, err := c.Authorize(ctx, requester); err != nil {
		return nil, err
	}

	entries, err := c.repo.ListHistory(ctx, historyExportLimit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrHistoryEmpty
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{
			e.ID,
			e.UserID,
			e.Handle,
			e.Variant,
			e.Backend,
			e.Region,
			e.Partner,
			e.Year,
			e.Summary,
			e.CreatedAt.UTC().Format(exportTimeLayout),
		})
	}
	return writeSheet(historyFilename, "history",
		[]any{"id", "user_id", "handle", "variant", "backend", "region", "partner", "year", "summary", "downloaded_at"}, rows)
}

// writeSheet renders a single-sheet workbook with a bold header row.
func writeSheet(name, sheet string, header []any, rows [][]any) (*domain.Document, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}

	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write %s header: %w", name, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return nil, fmt.Errorf("write %s row %d: %w", name, i+1, err)
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 20); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	return &domain.Document{Name: name, MIME: domain.MIMEXLSX, Data: buf.Bytes()}, nil
}
