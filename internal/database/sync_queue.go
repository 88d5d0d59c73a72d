package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"notionsync/internal/models"

	"github.com/google/uuid"
)

// AddJob enqueues one unit of sync work and returns its id. Data is an
// optional snapshot of the record at enqueue time; when absent the worker
// re-reads the record at processing time.
func (db *DB) AddJob(ctx context.Context, table, recordID, operation string, data *string) (string, error) {
	switch operation {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
	default:
		return "", fmt.Errorf("invalid sync operation %q", operation)
	}

	jobID := uuid.NewString()
	query := `INSERT INTO notion_sync_queue (id, table_name, record_id, operation, data, status, attempts, created_at)
              VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	_, err := db.ExecContext(ctx, query, jobID, table, recordID, operation, data, models.JobPending, time.Now())
	if err != nil {
		return "", fmt.Errorf("add sync job: %w", err)
	}
	return jobID, nil
}

// GetPendingJobs returns retry-eligible pending jobs, oldest first.
func (db *DB) GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	query := `SELECT id, table_name, record_id, operation, data, status, attempts, error, created_at, claimed_at, processed_at
              FROM notion_sync_queue
              WHERE status = ? AND attempts < ?
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.JobPending, models.MaxJobAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// GetJob loads one job by id, nil when absent.
func (db *DB) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `SELECT id, table_name, record_id, operation, data, status, attempts, error, created_at, claimed_at, processed_at
              FROM notion_sync_queue WHERE id = ?`
	rows, err := db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

// ClaimJob atomically moves a pending, retry-eligible job to 'processing'
// and charges one attempt. Returns false when another drain already took
// it, which closes the double-claim race between overlapping drains.
func (db *DB) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	query := `UPDATE notion_sync_queue
              SET status = ?, attempts = attempts + 1, claimed_at = ?
              WHERE id = ? AND status = ? AND attempts < ?`
	result, err := db.ExecContext(ctx, query, models.JobProcessing, time.Now(), jobID, models.JobPending, models.MaxJobAttempts)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkJobDone moves a claimed job to a terminal state. Attempts are
// charged at claim time, not here; processed_at is set only on terminal
// transitions.
func (db *DB) MarkJobDone(ctx context.Context, jobID, status string, errMsg string) error {
	switch status {
	case models.JobCompleted, models.JobFailed:
	default:
		return fmt.Errorf("non-terminal job status %q", status)
	}

	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	query := `UPDATE notion_sync_queue SET status = ?, error = ?, processed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, status, errVal, time.Now(), jobID); err != nil {
		return fmt.Errorf("mark job %s %s: %w", jobID, status, err)
	}
	return nil
}

// RequeueJob returns a claimed job to the pending pool after a retryable
// failure, recording the error verbatim. The attempt charged at claim
// time stays charged, so the retry budget still shrinks by one.
func (db *DB) RequeueJob(ctx context.Context, jobID, errMsg string) error {
	query := `UPDATE notion_sync_queue SET status = ?, error = ?, claimed_at = NULL
              WHERE id = ? AND status = ?`
	if _, err := db.ExecContext(ctx, query, models.JobPending, errMsg, jobID, models.JobProcessing); err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return nil
}

// FailJobPermanently marks a job failed and pins attempts at the cap so a
// configuration error never burns the retry budget of future scans.
func (db *DB) FailJobPermanently(ctx context.Context, jobID, errMsg string) error {
	query := `UPDATE notion_sync_queue SET status = ?, error = ?, attempts = ?, processed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.JobFailed, errMsg, models.MaxJobAttempts, time.Now(), jobID); err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// RequeueStaleJobs returns jobs stuck in 'processing' beyond the timeout
// (a crash mid-flight) to the pending pool. Their attempts stay charged.
func (db *DB) RequeueStaleJobs(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	query := `UPDATE notion_sync_queue SET status = ?, claimed_at = NULL
              WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?`
	result, err := db.ExecContext(ctx, query, models.JobPending, models.JobProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return result.RowsAffected()
}

// GetFailedJobs lists terminally failed jobs, newest first.
func (db *DB) GetFailedJobs(ctx context.Context) ([]models.SyncJob, error) {
	query := `SELECT id, table_name, record_id, operation, data, status, attempts, error, created_at, claimed_at, processed_at
              FROM notion_sync_queue WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, models.JobFailed)
	if err != nil {
		return nil, fmt.Errorf("get failed jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CleanupOldJobs purges terminal jobs whose processed_at is older than the
// retention window. Pending and processing rows survive regardless of age.
func (db *DB) CleanupOldJobs(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	query := `DELETE FROM notion_sync_queue
              WHERE status IN (?, ?) AND processed_at IS NOT NULL AND processed_at < ?`
	result, err := db.ExecContext(ctx, query, models.JobCompleted, models.JobFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	return result.RowsAffected()
}

// CleanupOldLogs prunes audit log rows past the retention window. The log
// grows independently of the queue, so its cleanup is separate.
func (db *DB) CleanupOldLogs(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result, err := db.ExecContext(ctx, `DELETE FROM notion_sync_log WHERE synced_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old logs: %w", err)
	}
	return result.RowsAffected()
}

// UpsertSyncStatus records the outcome of a propagation, last write wins.
// An empty pageID marks the remote page as deleted/never created.
func (db *DB) UpsertSyncStatus(ctx context.Context, table, recordID, pageID, status string, d1UpdatedAt *time.Time) error {
	query := `INSERT INTO notion_sync_status (table_name, record_id, d1_updated_at, notion_page_id, last_synced_at, sync_status)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(table_name, record_id) DO UPDATE SET
                  d1_updated_at = excluded.d1_updated_at,
                  notion_page_id = excluded.notion_page_id,
                  last_synced_at = excluded.last_synced_at,
                  sync_status = excluded.sync_status`
	_, err := db.ExecContext(ctx, query, table, recordID, d1UpdatedAt, pageID, time.Now(), status)
	if err != nil {
		return fmt.Errorf("upsert sync status: %w", err)
	}
	return nil
}

// GetSyncStatus returns the cached reconciliation state, nil when the
// record was never synced.
func (db *DB) GetSyncStatus(ctx context.Context, table, recordID string) (*models.SyncStatus, error) {
	query := `SELECT table_name, record_id, d1_updated_at, notion_page_id, last_synced_at, sync_status
              FROM notion_sync_status WHERE table_name = ? AND record_id = ?`
	return db.querySyncStatus(ctx, query, table, recordID)
}

// GetSyncStatusByPageID resolves the status row holding the given Notion
// page reference, nil when no local record points at the page. This is
// how the reverse pass decides whether a page already has a local row.
func (db *DB) GetSyncStatusByPageID(ctx context.Context, table, pageID string) (*models.SyncStatus, error) {
	query := `SELECT table_name, record_id, d1_updated_at, notion_page_id, last_synced_at, sync_status
              FROM notion_sync_status WHERE table_name = ? AND notion_page_id = ?`
	return db.querySyncStatus(ctx, query, table, pageID)
}

func (db *DB) querySyncStatus(ctx context.Context, query string, args ...any) (*models.SyncStatus, error) {
	var (
		st         models.SyncStatus
		d1Updated  sql.NullTime
		pageID     sql.NullString
		lastSynced sql.NullTime
		syncStatus sql.NullString
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(
		&st.TableName, &st.RecordID, &d1Updated, &pageID, &lastSynced, &syncStatus,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}

	if d1Updated.Valid {
		st.D1UpdatedAt = &d1Updated.Time
	}
	st.NotionPageID = pageID.String
	st.LastSyncedAt = lastSynced.Time
	st.SyncStatus = syncStatus.String
	return &st, nil
}

// ListSyncStatuses returns every cached per-record state.
func (db *DB) ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	query := `SELECT table_name, record_id, d1_updated_at, notion_page_id, last_synced_at, sync_status
              FROM notion_sync_status ORDER BY table_name, record_id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sync statuses: %w", err)
	}
	defer rows.Close()

	var out []models.SyncStatus
	for rows.Next() {
		var (
			st         models.SyncStatus
			d1Updated  sql.NullTime
			pageID     sql.NullString
			lastSynced sql.NullTime
			syncStatus sql.NullString
		)
		if err := rows.Scan(&st.TableName, &st.RecordID, &d1Updated, &pageID, &lastSynced, &syncStatus); err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		if d1Updated.Valid {
			st.D1UpdatedAt = &d1Updated.Time
		}
		st.NotionPageID = pageID.String
		st.LastSyncedAt = lastSynced.Time
		st.SyncStatus = syncStatus.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// LogSync appends one audit record. The log is never mutated afterwards.
func (db *DB) LogSync(ctx context.Context, table, recordID, operation, status, details string) error {
	query := `INSERT INTO notion_sync_log (table_name, record_id, operation, status, details, synced_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	var detailsVal any
	if details != "" {
		detailsVal = details
	}
	if _, err := db.ExecContext(ctx, query, table, recordID, operation, status, detailsVal, time.Now()); err != nil {
		return fmt.Errorf("log sync: %w", err)
	}
	return nil
}

// RecentLog returns the newest audit entries, most recent first.
func (db *DB) RecentLog(ctx context.Context, limit int) ([]models.SyncLogEntry, error) {
	query := `SELECT id, table_name, record_id, operation, status, details, synced_at
              FROM notion_sync_log ORDER BY synced_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent log: %w", err)
	}
	defer rows.Close()

	var out []models.SyncLogEntry
	for rows.Next() {
		var (
			entry   models.SyncLogEntry
			details sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.TableName, &entry.RecordID, &entry.Operation, &entry.Status, &details, &entry.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Details = details.String
		out = append(out, entry)
	}
	return out, rows.Err()
}

// SyncStats aggregates queue counts by status and last-24h log outcomes.
func (db *DB) SyncStats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{ByStatus: make(map[string]int64)}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notion_sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	since := time.Now().Add(-24 * time.Hour)
	err = db.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COUNT(CASE WHEN status = ? THEN 1 END),
               COUNT(CASE WHEN status = ? THEN 1 END)
        FROM notion_sync_log WHERE synced_at > ?`,
		models.LogSuccess, models.LogFailure, since,
	).Scan(&stats.LoggedLastDay, &stats.Successful, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("log stats: %w", err)
	}

	return stats, nil
}

func scanJobs(rows *sql.Rows) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	for rows.Next() {
		var (
			j         models.SyncJob
			data      sql.NullString
			errMsg    sql.NullString
			claimed   sql.NullTime
			processed sql.NullTime
		)
		err := rows.Scan(&j.ID, &j.TableName, &j.RecordID, &j.Operation, &data, &j.Status, &j.Attempts, &errMsg, &j.CreatedAt, &claimed, &processed)
		if err != nil {
			return nil, fmt.Errorf("scan sync job: %w", err)
		}
		if data.Valid {
			j.Data = &data.String
		}
		if errMsg.Valid {
			j.Error = &errMsg.String
		}
		if claimed.Valid {
			j.ClaimedAt = &claimed.Time
		}
		if processed.Valid {
			j.ProcessedAt = &processed.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
