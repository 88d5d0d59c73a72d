package models

// Sync job operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// OpSyncFromNotion marks audit log entries written by the inbound
// reconciliation pass. It is not a queueable job operation.
const OpSyncFromNotion = "sync_from_notion"

// Sync job lifecycle states.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Per-record reconciliation states.
const (
	SyncSynced  = "synced"
	SyncPending = "pending"
	SyncError   = "error"
)

// Audit log outcomes.
const (
	LogSuccess = "success"
	LogFailure = "failure"
)

const (
	// MaxJobAttempts caps processing attempts; a job at the cap is
	// permanently excluded from pending scans.
	MaxJobAttempts = 3

	// DefaultBatchSize jobs drained per scheduler tick.
	DefaultBatchSize = 20

	// DefaultRetentionDays before terminal jobs and log rows are purged.
	DefaultRetentionDays = 7

	// DefaultProcessingTimeout seconds before a stuck 'processing' row is
	// returned to the pending pool.
	DefaultProcessingTimeout = 10 * 60

	// WebhookSkewSeconds maximum accepted age of a webhook timestamp,
	// inclusive.
	WebhookSkewSeconds = 300

	// RecordIDProperty is the Notion rich_text property holding the local
	// record id on every synced page.
	RecordIDProperty = "ID"
)
