package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notionsync/internal/database"
	"notionsync/internal/events"
	"notionsync/internal/mapping"
	"notionsync/internal/metrics"
	"notionsync/internal/models"
	"notionsync/internal/notion"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NotionAPI is the slice of the Notion client the sync manager needs.
type NotionAPI interface {
	CreatePage(ctx context.Context, databaseID string, properties map[string]any) (*notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]any) (*notion.Page, error)
	ArchivePage(ctx context.Context, pageID string) error
	FindPageByRecordID(ctx context.Context, databaseID, recordID string) (*notion.Page, error)
	GetAllPages(ctx context.Context, databaseID string) ([]notion.Page, error)
}

// Manager owns the bidirectional sync pipeline: it enqueues work, drains
// the queue, talks to Notion, and keeps the status/log tables current.
type Manager struct {
	db       *database.DB
	notion   NotionAPI
	registry *mapping.Registry
	redis    *redis.Client
	logger   *zerolog.Logger

	batchSize         int
	pollInterval      time.Duration
	retentionDays     int
	processingTimeout time.Duration
	fullSyncHour      int
	fullSyncTables    []string
	exportPath        string

	redisQueueKey string
	deadLetterKey string
	lastFullSync  string // YYYY-MM-DD of the last reconciliation pass
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	DB       *database.DB
	Notion   NotionAPI
	Registry *mapping.Registry
	Redis    *redis.Client
	Logger   *zerolog.Logger

	BatchSize         int
	PollInterval      time.Duration
	RetentionDays     int
	ProcessingTimeout time.Duration
	// Nil means the default 2 AM; a pointer to 0 schedules midnight.
	FullSyncHour   *int
	FullSyncTables []string
	ExportPath     string
}

func NewManager(opts Options) *Manager {
	if opts.BatchSize == 0 {
		opts.BatchSize = models.DefaultBatchSize
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = models.DefaultRetentionDays
	}
	if opts.ProcessingTimeout == 0 {
		opts.ProcessingTimeout = models.DefaultProcessingTimeout * time.Second
	}
	fullSyncHour := 2
	if opts.FullSyncHour != nil {
		fullSyncHour = *opts.FullSyncHour
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	return &Manager{
		db:                opts.DB,
		notion:            opts.Notion,
		registry:          opts.Registry,
		redis:             opts.Redis,
		logger:            opts.Logger,
		batchSize:         opts.BatchSize,
		pollInterval:      opts.PollInterval,
		retentionDays:     opts.RetentionDays,
		processingTimeout: opts.ProcessingTimeout,
		fullSyncHour:      fullSyncHour,
		fullSyncTables:    opts.FullSyncTables,
		exportPath:        opts.ExportPath,
		redisQueueKey:     "notion:sync:queue",
		deadLetterKey:     "notion:sync:deadletter",
	}
}

// QueueSync enqueues one sync job. Data is an optional record snapshot;
// nil means the worker reads the record at processing time. The job id is
// additionally pushed to redis so an idle worker picks it up immediately
// instead of waiting for the next poll.
func (m *Manager) QueueSync(ctx context.Context, table, recordID, operation string, data map[string]any) (string, error) {
	var snapshot *string
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("encode record snapshot: %w", err)
		}
		s := string(encoded)
		snapshot = &s
	}

	jobID, err := m.db.AddJob(ctx, table, recordID, operation, snapshot)
	if err != nil {
		return "", err
	}

	if m.redis != nil {
		if err := m.redis.LPush(ctx, m.redisQueueKey, jobID).Err(); err != nil {
			// the poll loop still finds the job in sqlite
			m.logger.Warn().Err(err).Str("job_id", jobID).Msg("redis push failed, job waits for poll")
		}
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Str("table", table).
		Str("record_id", recordID).
		Str("operation", operation).
		Msg("sync job queued")
	return jobID, nil
}

// SubscribeBus wires record-change events into the queue, so table-store
// writers only publish and never block on sync bookkeeping.
func (m *Manager) SubscribeBus(bus *events.Bus) {
	handler := func(event *events.Event) error {
		payload, err := events.DecodeRecordChange(event)
		if err != nil {
			return err
		}
		_, err = m.QueueSync(context.Background(), payload.TableName, payload.RecordID, payload.Operation, payload.Data)
		return err
	}
	for _, eventType := range []string{events.EventRecordCreated, events.EventRecordUpdated, events.EventRecordDeleted} {
		bus.Subscribe(eventType, handler)
	}
}

// ProcessPendingJobs drains one batch. A failing job never aborts the
// batch; each is claimed, processed, and marked independently. Returns the
// number of jobs this call claimed.
func (m *Manager) ProcessPendingJobs(ctx context.Context) (int, error) {
	jobs, err := m.db.GetPendingJobs(ctx, m.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range jobs {
		claimed, err := m.db.ClaimJob(ctx, jobs[i].ID)
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", jobs[i].ID).Msg("claim failed")
			continue
		}
		if !claimed {
			// another drain got there first
			continue
		}
		processed++

		job, err := m.db.GetJob(ctx, jobs[i].ID)
		if err != nil || job == nil {
			m.logger.Error().Err(err).Str("job_id", jobs[i].ID).Msg("reload claimed job failed")
			continue
		}
		m.runJob(ctx, job)
	}
	return processed, nil
}

// ProcessJobID claims and runs a single job, used by the redis fast path.
func (m *Manager) ProcessJobID(ctx context.Context, jobID string) {
	claimed, err := m.db.ClaimJob(ctx, jobID)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("claim failed")
		return
	}
	if !claimed {
		return
	}
	job, err := m.db.GetJob(ctx, jobID)
	if err != nil || job == nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("reload claimed job failed")
		return
	}
	m.runJob(ctx, job)
}

// runJob executes one claimed job and records its outcome. Mapping errors
// fail permanently: retrying a missing configuration cannot succeed.
func (m *Manager) runJob(ctx context.Context, job *models.SyncJob) {
	err := m.dispatch(ctx, job)

	switch {
	case err == nil:
		if err := m.db.MarkJobDone(ctx, job.ID, models.JobCompleted, ""); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark completed failed")
		}
		m.logOutcome(ctx, job, models.LogSuccess, "")
		metrics.IncJob("completed")
		m.logger.Info().
			Str("job_id", job.ID).
			Str("table", job.TableName).
			Str("record_id", job.RecordID).
			Str("operation", job.Operation).
			Msg("sync job completed")

	case errors.Is(err, mapping.ErrMappingNotFound):
		if ferr := m.db.FailJobPermanently(ctx, job.ID, err.Error()); ferr != nil {
			m.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("mark permanently failed failed")
		}
		m.logOutcome(ctx, job, models.LogFailure, err.Error())
		m.pushDeadLetter(ctx, job, err)
		metrics.IncJob("failed")
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("sync job failed permanently")

	case job.Attempts >= models.MaxJobAttempts:
		if ferr := m.db.MarkJobDone(ctx, job.ID, models.JobFailed, err.Error()); ferr != nil {
			m.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("mark failed failed")
		}
		m.logOutcome(ctx, job, models.LogFailure, err.Error())
		m.pushDeadLetter(ctx, job, err)
		metrics.IncJob("failed")
		m.logger.Error().Err(err).
			Str("job_id", job.ID).
			Int("attempts", job.Attempts).
			Msg("sync job abandoned after final attempt")

	default:
		if rerr := m.db.RequeueJob(ctx, job.ID, err.Error()); rerr != nil {
			m.logger.Error().Err(rerr).Str("job_id", job.ID).Msg("requeue failed")
		}
		m.logOutcome(ctx, job, models.LogFailure, err.Error())
		metrics.IncJob("retried")
		m.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Int("attempts", job.Attempts).
			Msg("sync job failed, will retry")
	}
}

func (m *Manager) dispatch(ctx context.Context, job *models.SyncJob) error {
	switch job.Operation {
	case models.OpCreate:
		return m.syncCreate(ctx, job)
	case models.OpUpdate:
		return m.syncUpdate(ctx, job)
	case models.OpDelete:
		return m.syncDelete(ctx, job)
	default:
		return fmt.Errorf("unknown sync operation %q", job.Operation)
	}
}

// syncCreate pushes a new record to Notion. When a page with this record
// id already exists the create degrades to an update, so a replayed job
// never produces duplicate pages.
func (m *Manager) syncCreate(ctx context.Context, job *models.SyncJob) error {
	mp, err := m.registry.Lookup(job.TableName)
	if err != nil {
		return err
	}

	record, err := m.loadRecord(ctx, job)
	if err != nil {
		return err
	}

	properties, err := m.buildProperties(ctx, mp, record)
	if err != nil {
		return err
	}

	existing, err := m.notion.FindPageByRecordID(ctx, mp.DatabaseID, job.RecordID)
	if err != nil {
		return err
	}
	var pageID string
	if existing != nil {
		if _, err := m.notion.UpdatePage(ctx, existing.ID, properties); err != nil {
			return err
		}
		pageID = existing.ID
	} else {
		page, err := m.notion.CreatePage(ctx, mp.DatabaseID, properties)
		if err != nil {
			return err
		}
		pageID = page.ID
	}

	return m.db.UpsertSyncStatus(ctx, job.TableName, job.RecordID, pageID, models.SyncSynced, recordUpdatedAt(record))
}

// syncUpdate pushes changed values to the existing page; when the page is
// gone (or was never created) it falls back to a create.
func (m *Manager) syncUpdate(ctx context.Context, job *models.SyncJob) error {
	mp, err := m.registry.Lookup(job.TableName)
	if err != nil {
		return err
	}

	record, err := m.loadRecord(ctx, job)
	if err != nil {
		return err
	}

	pageID, err := m.findPageID(ctx, mp.DatabaseID, job.TableName, job.RecordID)
	if err != nil {
		return err
	}
	if pageID == "" {
		return m.syncCreate(ctx, job)
	}

	properties, err := m.buildProperties(ctx, mp, record)
	if err != nil {
		return err
	}
	if _, err := m.notion.UpdatePage(ctx, pageID, properties); err != nil {
		return err
	}

	return m.db.UpsertSyncStatus(ctx, job.TableName, job.RecordID, pageID, models.SyncSynced, recordUpdatedAt(record))
}

// syncDelete archives the remote page. A page that is already gone makes
// the delete a no-op success, so deletes are idempotent.
func (m *Manager) syncDelete(ctx context.Context, job *models.SyncJob) error {
	mp, err := m.registry.Lookup(job.TableName)
	if err != nil {
		return err
	}

	pageID, err := m.findPageID(ctx, mp.DatabaseID, job.TableName, job.RecordID)
	if err != nil {
		return err
	}
	if pageID != "" {
		if err := m.notion.ArchivePage(ctx, pageID); err != nil {
			return err
		}
	}

	return m.db.UpsertSyncStatus(ctx, job.TableName, job.RecordID, "", models.SyncSynced, nil)
}

// loadRecord resolves the record to sync: the snapshot captured at enqueue
// time when present, the current row otherwise.
func (m *Manager) loadRecord(ctx context.Context, job *models.SyncJob) (map[string]any, error) {
	if job.Data != nil && *job.Data != "" {
		var record map[string]any
		if err := json.Unmarshal([]byte(*job.Data), &record); err != nil {
			return nil, fmt.Errorf("decode record snapshot: %w", err)
		}
		return record, nil
	}

	record, err := m.db.GetRecordByID(ctx, job.TableName, job.RecordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("record %s/%s not found", job.TableName, job.RecordID)
	}
	return record, nil
}

// findPageID resolves the Notion page for a record: the cached status row
// first, a remote lookup by record id when the cache is cold.
func (m *Manager) findPageID(ctx context.Context, databaseID, table, recordID string) (string, error) {
	status, err := m.db.GetSyncStatus(ctx, table, recordID)
	if err != nil {
		return "", err
	}
	if status != nil && status.NotionPageID != "" {
		return status.NotionPageID, nil
	}

	page, err := m.notion.FindPageByRecordID(ctx, databaseID, recordID)
	if err != nil {
		return "", err
	}
	if page == nil {
		return "", nil
	}
	return page.ID, nil
}

// buildProperties converts the record and layers resolved relations on
// top. A foreign key whose related page does not exist yet produces no
// link at all rather than a failed job; the nightly reconciliation pass
// repairs the edge once both sides exist.
func (m *Manager) buildProperties(ctx context.Context, mp mapping.Mapping, record map[string]any) (map[string]any, error) {
	properties := notion.RecordToProperties(record, mp.Properties)

	for _, rel := range mp.Relations {
		if rel.RelatedDatabaseID == "" {
			continue
		}
		fk, ok := record[rel.Column]
		if !ok || fk == nil || fmt.Sprint(fk) == "" {
			properties[rel.Property] = map[string]any{"relation": []any{}}
			continue
		}
		page, err := m.notion.FindPageByRecordID(ctx, rel.RelatedDatabaseID, fmt.Sprint(fk))
		if err != nil {
			return nil, err
		}
		if page == nil {
			m.logger.Debug().
				Str("column", rel.Column).
				Str("value", fmt.Sprint(fk)).
				Msg("related page not found, link omitted")
			properties[rel.Property] = map[string]any{"relation": []any{}}
			continue
		}
		properties[rel.Property] = map[string]any{"relation": []any{map[string]any{"id": page.ID}}}
	}

	return properties, nil
}

func (m *Manager) logOutcome(ctx context.Context, job *models.SyncJob, status, details string) {
	if err := m.db.LogSync(ctx, job.TableName, job.RecordID, job.Operation, status, details); err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("audit log write failed")
	}
}

// pushDeadLetter mirrors a permanently failed job into a redis list for
// operator inspection. Best effort: sqlite already holds the row.
func (m *Manager) pushDeadLetter(ctx context.Context, job *models.SyncJob, cause error) {
	if m.redis == nil {
		return
	}
	entry := struct {
		models.SyncJob
		Cause string `json:"cause"`
	}{SyncJob: *job, Cause: cause.Error()}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := m.redis.LPush(ctx, m.deadLetterKey, data).Err(); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dead letter push failed")
	}
}

// recordUpdatedAt extracts the local modification time when the record
// carries one.
func recordUpdatedAt(record map[string]any) *time.Time {
	raw, ok := record["updated_at"].(string)
	if !ok || raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
