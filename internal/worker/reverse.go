package worker

import (
	"context"
	"time"

	"notionsync/internal/metrics"
	"notionsync/internal/models"
	"notionsync/internal/notion"
)

// ReverseSyncResult summarizes one table's reconciliation pass.
type ReverseSyncResult struct {
	Table   string
	Created int
	Updated int
	Skipped int
	Errors  int
}

// SyncFromNotion walks every page of the table's Notion database and
// upserts into the table store. One bad page is counted and skipped, never
// aborting the pass. Pages not edited since the last successful sync are
// left alone, so a local edit waiting in the queue is not overwritten by
// stale remote state.
func (m *Manager) SyncFromNotion(ctx context.Context, table string) (*ReverseSyncResult, error) {
	mp, err := m.registry.Lookup(table)
	if err != nil {
		return nil, err
	}

	pages, err := m.notion.GetAllPages(ctx, mp.DatabaseID)
	if err != nil {
		return nil, err
	}

	result := &ReverseSyncResult{Table: table}
	for i := range pages {
		outcome := m.applyPage(ctx, table, mp.Properties, &pages[i])
		switch outcome {
		case "created":
			result.Created++
		case "updated":
			result.Updated++
		case "error":
			result.Errors++
		default:
			result.Skipped++
		}
		metrics.IncReverseSyncPage(table, outcome)
	}

	m.logger.Info().
		Str("table", table).
		Int("pages", len(pages)).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("reverse sync finished")
	return result, nil
}

func (m *Manager) applyPage(ctx context.Context, table string, fields []notion.FieldMapping, page *notion.Page) string {
	if page.Archived {
		return "skipped"
	}

	record := notion.PageToRecord(*page, fields)

	// Local existence is decided by the stored page reference, never by
	// matching the record's own columns: editing or clearing the ID
	// property in Notion must not fork a second local row.
	status, err := m.db.GetSyncStatusByPageID(ctx, table, page.ID)
	if err != nil {
		return m.pageOutcome(ctx, table, page.ID, "error", err)
	}

	recordID, _ := record["id"].(string)
	if status != nil {
		recordID = status.RecordID
		if !pageEditedAfter(page.LastEditedTime, status.LastSyncedAt) {
			return m.pageOutcome(ctx, table, recordID, "unchanged", nil)
		}
	} else if recordID == "" {
		// a page authored directly in Notion carries no record id yet;
		// adopt the page id so later passes find the same row
		recordID = page.ID
	}

	local, err := m.db.GetRecordByID(ctx, table, recordID)
	if err != nil {
		return m.pageOutcome(ctx, table, recordID, "error", err)
	}

	changes := localColumns(record)
	outcome := "updated"
	if local == nil {
		outcome = "created"
		changes["id"] = recordID
		err = m.db.InsertRecord(ctx, table, changes)
	} else {
		delete(changes, "id")
		err = m.db.UpdateRecord(ctx, table, recordID, changes)
	}
	if err != nil {
		return m.pageOutcome(ctx, table, recordID, "error", err)
	}

	if err := m.db.UpsertSyncStatus(ctx, table, recordID, page.ID, models.SyncSynced, nil); err != nil {
		m.logger.Error().Err(err).Str("table", table).Str("record_id", recordID).Msg("status upsert failed")
	}
	return m.pageOutcome(ctx, table, recordID, outcome, nil)
}

// pageOutcome writes the page's individual result to the audit log and
// returns the outcome for the pass counters.
func (m *Manager) pageOutcome(ctx context.Context, table, recordID, outcome string, cause error) string {
	status, details := models.LogSuccess, outcome
	if cause != nil {
		status, details = models.LogFailure, cause.Error()
		m.logger.Error().Err(cause).Str("table", table).Str("record_id", recordID).Msg("apply page failed")
	}
	if err := m.db.LogSync(ctx, table, recordID, models.OpSyncFromNotion, status, details); err != nil {
		m.logger.Error().Err(err).Str("table", table).Str("record_id", recordID).Msg("audit log write failed")
	}
	return outcome
}

// FullSync runs the reverse pass over every configured table. Table-level
// failures are logged and the remaining tables still run.
func (m *Manager) FullSync(ctx context.Context) {
	tables := m.fullSyncTables
	if len(tables) == 0 {
		tables = m.registry.Tables()
	}

	m.logger.Info().Strs("tables", tables).Msg("full reconciliation started")
	for _, table := range tables {
		if _, err := m.SyncFromNotion(ctx, table); err != nil {
			m.logger.Error().Err(err).Str("table", table).Msg("reverse sync failed")
		}
	}

	if m.exportPath != "" {
		if err := m.writeReport(ctx); err != nil {
			m.logger.Error().Err(err).Msg("sync report failed")
		}
	}
}

// localColumns strips the reconciliation metadata the converter stamps
// onto inbound records; app tables only carry their own columns. The
// record <-> page reference lives in notion_sync_status instead.
func localColumns(record map[string]any) map[string]any {
	changes := make(map[string]any, len(record))
	for col, val := range record {
		if col == "notion_page_id" || col == "notion_last_edited" {
			continue
		}
		changes[col] = val
	}
	return changes
}

// pageEditedAfter reports whether the page changed since the last sync.
// An unparseable edit time counts as changed: syncing twice is safe,
// silently dropping an edit is not.
func pageEditedAfter(lastEdited string, lastSynced time.Time) bool {
	edited, err := time.Parse(time.RFC3339, lastEdited)
	if err != nil {
		return true
	}
	return edited.After(lastSynced)
}
