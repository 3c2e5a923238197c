package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository"
)

const (
	sheet    = "Drafts"
	pageSize = 500
)

// Service produces XLSX workbooks of drafts for offline review.
type Service struct {
	drafts repository.DraftRepository
	logger *slog.Logger
}

func NewService(drafts repository.DraftRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{drafts: drafts, logger: logger}
}

// Filter narrows an export. Empty Statuses exports every status. From and To
// bound created_at by calendar day (UTC, inclusive).
type Filter struct {
	Statuses []constants.DraftStatus
	From     *time.Time
	To       *time.Time
}

var headers = []string{
	"Draft ID", "Status", "Name", "Type", "Brand", "Article", "Specs",
	"GAU", "Duplicates", "ERP Ref", "Source Type", "Source", "Error", "Created", "Updated",
}

// DraftsXLSX returns the workbook bytes and the number of exported rows.
func (s *Service) DraftsXLSX(ctx context.Context, f Filter) ([]byte, int, error) {
	start := time.Now()
	from, to := dayBounds(f.From, f.To)

	f2 := excelize.NewFile()
	defer f2.Close()
	if _, err := f2.NewSheet(sheet); err != nil {
		return nil, 0, err
	}
	if idx, _ := f2.GetSheetIndex(sheet); idx >= 0 {
		f2.SetActiveSheet(idx)
	}
	_ = f2.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f2.SetCellValue(sheet, cell, h)
	}
	if style, err := f2.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f2.SetRowStyle(sheet, 1, 1, style)
	}

	row := 2
	for offset := 0; ; offset += pageSize {
		page, err := s.drafts.List(ctx, repository.ListFilter{Statuses: f.Statuses, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, 0, fmt.Errorf("query drafts: %w", err)
		}
		for _, d := range page {
			if (from != nil && d.CreatedAt.Before(*from)) || (to != nil && !d.CreatedAt.Before(*to)) {
				continue
			}
			writeRow(f2, row, d)
			row++
		}
		if len(page) < pageSize {
			break
		}
	}

	_ = f2.SetColWidth(sheet, "A", "A", 38)
	_ = f2.SetColWidth(sheet, "B", "B", 18)
	_ = f2.SetColWidth(sheet, "C", "C", 40)
	_ = f2.SetColWidth(sheet, "D", "F", 18)
	_ = f2.SetColWidth(sheet, "G", "G", 48)
	_ = f2.SetColWidth(sheet, "L", "M", 48)
	_ = f2.SetColWidth(sheet, "N", "O", 20)

	buf, err := f2.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}
	rows := row - 2
	s.logger.Info("export.xlsx.ok", "rows", rows, "statuses", len(f.Statuses),
		"elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), rows, nil
}

func writeRow(f *excelize.File, row int, d *entity.Draft) {
	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
	fd := d.FinalData
	write(1, d.ID.String())
	write(2, string(d.Status))
	write(3, d.DisplayName())
	write(4, deref(fd.Type))
	write(5, deref(fd.Brand))
	write(6, deref(fd.Article))
	write(7, truncate(specsText(fd.Specs), 500))
	if g := d.Predictions.Gau; g != nil {
		write(8, g.Code)
	}
	if dup := d.Predictions.Duplicates; dup != nil {
		write(9, dup.Count)
	}
	write(10, deref(d.ERPRefKey))
	write(11, string(d.SourceType))
	write(12, truncate(sourceText(d), 200))
	write(13, truncate(deref(d.ErrorMessage), 200))
	write(14, d.CreatedAt.UTC().Format(time.RFC3339))
	write(15, d.UpdatedAt.UTC().Format(time.RFC3339))
}

func sourceText(d *entity.Draft) string {
	if d.SourceType == constants.SourceTypeText {
		line, _, _ := strings.Cut(strings.TrimSpace(d.SourcePayload), "\n")
		return line
	}
	return d.SourcePayload
}

// specsText renders specs as "key: value" lines in key order.
func specsText(specs map[string]any) string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, specs[k]))
	}
	return strings.Join(lines, "\n")
}

// dayBounds turns optional dates into [from, to) instants. Only from means
// from..today.
func dayBounds(from, to *time.Time) (*time.Time, *time.Time) {
	day := func(t time.Time) time.Time {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	var lo, hi *time.Time
	if from != nil {
		v := day(*from)
		lo = &v
	}
	if to != nil {
		v := day(*to).AddDate(0, 0, 1)
		hi = &v
	} else if from != nil {
		v := day(time.Now()).AddDate(0, 0, 1)
		hi = &v
	}
	return lo, hi
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
