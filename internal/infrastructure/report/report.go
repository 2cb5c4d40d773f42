// Package report exports a tenant's download and reconciliation history as a spreadsheet.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	sheetSummary   = "Summary"
	sheetDownloads = "Downloads"
	sheetLinks     = "Links"

	// DefaultRowLimit caps rows per sheet
	DefaultRowLimit = 10000
)

var (
	downloadHeader = []interface{}{"Record ID", "Instance", "Message ID", "Generation", "Kind", "Status", "Retryable", "Retries", "Bytes", "Path", "Last Error", "Updated At"}
	linkHeader     = []interface{}{"Link ID", "Stored Path", "Message Record", "Strategy", "Confidence", "Verified", "Created At"}
)

// Generator builds tenant reports from the record store
type Generator struct {
	records  port.DownloadRepository
	links    port.LinkRepository
	rowLimit int
	logger   *zap.Logger
}

// NewGenerator creates a new report generator
func NewGenerator(records port.DownloadRepository, links port.LinkRepository, rowLimit int, logger *zap.Logger) *Generator {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &Generator{
		records:  records,
		links:    links,
		rowLimit: rowLimit,
		logger:   logger,
	}
}

// Write renders the tenant report as xlsx into w
func (g *Generator) Write(ctx context.Context, tenantID string, w io.Writer) error {
	records, err := g.records.ListByTenant(ctx, tenantID, g.rowLimit)
	if err != nil {
		return fmt.Errorf("failed to list downloads: %w", err)
	}
	links, err := g.links.ListByTenant(ctx, tenantID, g.rowLimit)
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			g.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{sheetDownloads, sheetLinks} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	if err := writeSummary(f, tenantID, records, links, headerStyle); err != nil {
		return err
	}

	rows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		rows = append(rows, []interface{}{
			r.ID, r.InstanceID, r.SourceMessageID, r.Generation, string(r.Kind), r.Status,
			r.Retryable, r.RetryCount, r.BytesWritten, r.LocalPath, r.LastError,
			r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := writeTable(f, sheetDownloads, downloadHeader, rows, headerStyle); err != nil {
		return err
	}

	rows = rows[:0]
	for _, l := range links {
		rows = append(rows, []interface{}{
			l.ID, l.StoredPath, l.MessageRecordID, string(l.Strategy), l.Confidence,
			l.IsVerified(), l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := writeTable(f, sheetLinks, linkHeader, rows, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	g.logger.Info("Tenant report generated",
		zap.String("tenant_id", tenantID),
		zap.Int("downloads", len(records)),
		zap.Int("links", len(links)))
	return nil
}

func writeSummary(f *excelize.File, tenantID string, records []*entity.DownloadRecord, links []*entity.ReconciliationLink, style int) error {
	byStatus := make(map[string]int)
	for _, r := range records {
		byStatus[r.Status]++
	}
	byStrategy := make(map[string]int)
	for _, l := range links {
		byStrategy[string(l.Strategy)]++
	}

	rows := [][]interface{}{
		{"Tenant", tenantID},
		{"Generated At", time.Now().UTC().Format(time.RFC3339)},
		{"Downloads", len(records)},
		{"Links", len(links)},
	}
	for _, k := range sortedKeys(byStatus) {
		rows = append(rows, []interface{}{"Status " + k, byStatus[k]})
	}
	for _, k := range sortedKeys(byStrategy) {
		rows = append(rows, []interface{}{"Strategy " + k, byStrategy[k]})
	}

	return writeTable(f, sheetSummary, []interface{}{"Metric", "Value"}, rows, style)
}

func writeTable(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}

	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
