package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notionsync/internal/database"

	"github.com/xuri/excelize/v2"
)

const (
	logSheet    = "Sync Log"
	statusSheet = "Status"

	// newest log rows included in a report
	logLimit = 1000
)

// WriteReport saves an operator-facing xlsx snapshot of the sync state:
// one sheet with the recent audit log, one with the per-record status
// table. Returns the path of the written file.
func WriteReport(ctx context.Context, db *database.DB, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	entries, err := db.RecentLog(ctx, logLimit)
	if err != nil {
		return "", fmt.Errorf("load sync log: %w", err)
	}
	statuses, err := db.ListSyncStatuses(ctx)
	if err != nil {
		return "", fmt.Errorf("load sync statuses: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(logSheet)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(statusSheet); err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})

	writeHeader(f, logSheet, headerStyle, []string{"Time", "Table", "Record", "Operation", "Outcome", "Details"})
	for i, e := range entries {
		row := i + 2
		_ = f.SetCellValue(logSheet, fmt.Sprintf("A%d", row), e.SyncedAt.Format("2006-01-02 15:04:05"))
		_ = f.SetCellValue(logSheet, fmt.Sprintf("B%d", row), e.TableName)
		_ = f.SetCellValue(logSheet, fmt.Sprintf("C%d", row), e.RecordID)
		_ = f.SetCellValue(logSheet, fmt.Sprintf("D%d", row), e.Operation)
		_ = f.SetCellValue(logSheet, fmt.Sprintf("E%d", row), e.Status)
		_ = f.SetCellValue(logSheet, fmt.Sprintf("F%d", row), e.Details)
	}

	writeHeader(f, statusSheet, headerStyle, []string{"Table", "Record", "Notion Page", "State", "Last Synced"})
	for i, s := range statuses {
		row := i + 2
		_ = f.SetCellValue(statusSheet, fmt.Sprintf("A%d", row), s.TableName)
		_ = f.SetCellValue(statusSheet, fmt.Sprintf("B%d", row), s.RecordID)
		_ = f.SetCellValue(statusSheet, fmt.Sprintf("C%d", row), s.NotionPageID)
		_ = f.SetCellValue(statusSheet, fmt.Sprintf("D%d", row), s.SyncStatus)
		_ = f.SetCellValue(statusSheet, fmt.Sprintf("E%d", row), s.LastSyncedAt.Format("2006-01-02 15:04:05"))
	}

	_ = f.SetColWidth(logSheet, "A", "A", 20)
	_ = f.SetColWidth(logSheet, "B", "E", 14)
	_ = f.SetColWidth(logSheet, "F", "F", 50)
	_ = f.SetColWidth(statusSheet, "A", "B", 14)
	_ = f.SetColWidth(statusSheet, "C", "C", 38)
	_ = f.SetColWidth(statusSheet, "D", "E", 16)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("sync_report_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return filePath, nil
}

func writeHeader(f *excelize.File, sheet string, style int, headers []string) {
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}
