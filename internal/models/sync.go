package models

import "time"

// SyncJob is one queued unit of synchronization work for a single record.
type SyncJob struct {
	ID          string     `json:"id"`
	TableName   string     `json:"table_name"`
	RecordID    string     `json:"record_id"`
	Operation   string     `json:"operation"` // create, update, delete
	Data        *string    `json:"data,omitempty"`
	Status      string     `json:"status"` // pending, processing, completed, failed
	Attempts    int        `json:"attempts"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// SyncStatus is the last-known reconciliation state for one
// (table, record) pair. NotionPageID is empty when the remote page was
// archived or never created.
type SyncStatus struct {
	TableName    string     `json:"table_name"`
	RecordID     string     `json:"record_id"`
	D1UpdatedAt  *time.Time `json:"d1_updated_at,omitempty"`
	NotionPageID string     `json:"notion_page_id"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
	SyncStatus   string     `json:"sync_status"` // synced, pending, error
}

// SyncLogEntry is an append-only audit record of one sync attempt.
type SyncLogEntry struct {
	ID        int64     `json:"id"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"` // success, failure
	Details   string    `json:"details,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// QueueStats aggregates queue and log counters for operators.
type QueueStats struct {
	ByStatus      map[string]int64 `json:"by_status"`
	LoggedLastDay int64            `json:"logged_last_day"`
	Successful    int64            `json:"successful"`
	Failed        int64            `json:"failed"`
}
