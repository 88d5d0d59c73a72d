package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"notionsync/internal/database"
	"notionsync/internal/events"
	"notionsync/internal/mapping"
	"notionsync/internal/models"
	"notionsync/internal/notion"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDatabaseIDs = map[string]string{
	"projects": "db-projects",
	"meetings": "db-meetings",
	"clients":  "db-clients",
	"tasks":    "db-tasks",
}

// fakeNotion is an in-memory stand-in for the Notion API.
type fakeNotion struct {
	mu      sync.Mutex
	nextID  int
	pages   map[string]*fakePage // page id -> page
	listing map[string][]notion.Page

	failNext error

	creates   int
	updates   int
	archives  int
	listCalls int
}

type fakePage struct {
	id         string
	databaseID string
	recordID   string
	properties map[string]any
	archived   bool
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{
		pages:   make(map[string]*fakePage),
		listing: make(map[string][]notion.Page),
	}
}

func (f *fakeNotion) takeError() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeNotion) CreatePage(_ context.Context, databaseID string, properties map[string]any) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError(); err != nil {
		return nil, err
	}
	f.creates++
	f.nextID++
	page := &fakePage{
		id:         fmt.Sprintf("page-%d", f.nextID),
		databaseID: databaseID,
		recordID:   recordIDFrom(properties),
		properties: properties,
	}
	f.pages[page.id] = page
	return &notion.Page{ID: page.id}, nil
}

func (f *fakeNotion) UpdatePage(_ context.Context, pageID string, properties map[string]any) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError(); err != nil {
		return nil, err
	}
	page, ok := f.pages[pageID]
	if !ok {
		return nil, &notion.APIError{Status: 404, Code: "object_not_found"}
	}
	f.updates++
	page.properties = properties
	return &notion.Page{ID: pageID}, nil
}

func (f *fakeNotion) ArchivePage(_ context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError(); err != nil {
		return err
	}
	page, ok := f.pages[pageID]
	if !ok {
		return &notion.APIError{Status: 404, Code: "object_not_found"}
	}
	f.archives++
	page.archived = true
	return nil
}

func (f *fakeNotion) FindPageByRecordID(_ context.Context, databaseID, recordID string) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError(); err != nil {
		return nil, err
	}
	for _, page := range f.pages {
		if page.databaseID == databaseID && page.recordID == recordID && !page.archived {
			return &notion.Page{ID: page.id}, nil
		}
	}
	return nil, nil
}

func (f *fakeNotion) GetAllPages(_ context.Context, databaseID string) ([]notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError(); err != nil {
		return nil, err
	}
	f.listCalls++
	return f.listing[databaseID], nil
}

// recordIDFrom digs the record id out of the outbound "ID" property.
func recordIDFrom(properties map[string]any) string {
	prop, ok := properties[models.RecordIDProperty].(map[string]any)
	if !ok {
		return ""
	}
	runs, ok := prop["rich_text"].([]map[string]any)
	if !ok || len(runs) == 0 {
		return ""
	}
	text, ok := runs[0]["text"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := text["content"].(string)
	return content
}

func (f *fakeNotion) pageFor(databaseID, recordID string) *fakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, page := range f.pages {
		if page.databaseID == databaseID && page.recordID == recordID {
			return page
		}
	}
	return nil
}

func setupManager(t *testing.T) (*Manager, *fakeNotion, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE projects (
        id TEXT PRIMARY KEY,
        name TEXT,
        description TEXT,
        status TEXT,
        start_date TEXT,
        end_date TEXT,
        budget REAL,
        actual_cost REAL,
        client_id TEXT,
        updated_at TEXT
    )`)
	require.NoError(t, err)

	registry, err := mapping.NewRegistry(mapping.Defaults(testDatabaseIDs))
	require.NoError(t, err)

	fake := newFakeNotion()
	m := NewManager(Options{
		DB:       db,
		Notion:   fake,
		Registry: registry,
		Logger:   &logger,
	})
	return m, fake, db
}

func titleOf(properties map[string]any) string {
	prop, ok := properties["Name"].(map[string]any)
	if !ok {
		return ""
	}
	runs, ok := prop["title"].([]map[string]any)
	if !ok || len(runs) == 0 {
		return ""
	}
	text, _ := runs[0]["text"].(map[string]any)
	content, _ := text["content"].(string)
	return content
}

func TestCreatePropagatesRecordToNotion(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{
		"id":     "p1",
		"name":   "Atrium",
		"status": "active",
		"budget": 12000.0,
	}))

	jobID, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
	require.NoError(t, err)

	n, err := m.ProcessPendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := db.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)

	page := fake.pageFor("db-projects", "p1")
	require.NotNil(t, page)
	assert.Equal(t, "Atrium", titleOf(page.properties))
	statusProp := page.properties["Status"].(map[string]any)
	assert.Equal(t, "active", statusProp["select"].(map[string]any)["name"])

	st, err := db.GetSyncStatus(ctx, "projects", "p1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, page.id, st.NotionPageID)
	assert.Equal(t, models.SyncSynced, st.SyncStatus)

	entries, err := db.RecentLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LogSuccess, entries[0].Status)
}

func TestCreateIsIdempotent(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{"id": "p1", "name": "Atrium"}))

	for i := 0; i < 2; i++ {
		_, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
		require.NoError(t, err)
		_, err = m.ProcessPendingJobs(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fake.creates, "replayed create must not duplicate the page")
	assert.Equal(t, 1, fake.updates)
}

func TestUpdateFallsBackToCreate(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{"id": "p1", "name": "Atrium"}))

	_, err := m.QueueSync(ctx, "projects", "p1", models.OpUpdate, nil)
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.creates, "update of a never-synced record creates the page")
	require.NotNil(t, fake.pageFor("db-projects", "p1"))
}

func TestUpdateUsesCachedPageID(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{"id": "p1", "name": "Atrium"}))
	_, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	require.NoError(t, db.UpdateRecord(ctx, "projects", "p1", map[string]any{"name": "Atrium II"}))
	_, err = m.QueueSync(ctx, "projects", "p1", models.OpUpdate, nil)
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	page := fake.pageFor("db-projects", "p1")
	require.NotNil(t, page)
	assert.Equal(t, "Atrium II", titleOf(page.properties))
	assert.Equal(t, 1, fake.updates)
}

func TestDeleteArchivesAndIsIdempotent(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{"id": "p1", "name": "Atrium"}))
	_, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		jobID, err := m.QueueSync(ctx, "projects", "p1", models.OpDelete, nil)
		require.NoError(t, err)
		_, err = m.ProcessPendingJobs(ctx)
		require.NoError(t, err)

		job, err := db.GetJob(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, job.Status, "repeated delete stays a success")
	}

	assert.Equal(t, 1, fake.archives)
	st, err := db.GetSyncStatus(ctx, "projects", "p1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Empty(t, st.NotionPageID)
}

func TestRelationResolvedWhenRelatedPageExists(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	fake.pages["page-client"] = &fakePage{
		id:         "page-client",
		databaseID: "db-clients",
		recordID:   "c1",
	}

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{
		"id": "p1", "name": "Atrium", "client_id": "c1",
	}))
	_, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	page := fake.pageFor("db-projects", "p1")
	require.NotNil(t, page)
	rel := page.properties["Client"].(map[string]any)["relation"].([]any)
	require.Len(t, rel, 1)
	assert.Equal(t, "page-client", rel[0].(map[string]any)["id"])
}

func TestRelationOmittedWhenRelatedPageMissing(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{
		"id": "p1", "name": "Atrium", "client_id": "c-ghost",
	}))
	jobID, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	job, err := db.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status, "dangling foreign key is not a failure")

	page := fake.pageFor("db-projects", "p1")
	require.NotNil(t, page)
	rel := page.properties["Client"].(map[string]any)["relation"].([]any)
	assert.Empty(t, rel)
}

func TestSnapshotUsedOverCurrentRow(t *testing.T) {
	m, fake, _ := setupManager(t)
	ctx := context.Background()

	// no row inserted: the snapshot is all the worker has
	_, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, map[string]any{
		"id": "p1", "name": "Snapshot Name",
	})
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	page := fake.pageFor("db-projects", "p1")
	require.NotNil(t, page)
	assert.Equal(t, "Snapshot Name", titleOf(page.properties))
}

func TestUnmappedTableFailsPermanently(t *testing.T) {
	m, _, db := setupManager(t)
	ctx := context.Background()

	jobID, err := m.QueueSync(ctx, "ghost_table", "g1", models.OpCreate, map[string]any{"id": "g1"})
	require.NoError(t, err)
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	job, err := db.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, models.MaxJobAttempts, job.Attempts, "no retries for configuration errors")
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "no notion mapping")
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{"id": "p1", "name": "Atrium"}))
	jobID, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
	require.NoError(t, err)

	fake.failNext = &notion.APIError{Status: 503, Code: "service_unavailable"}
	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	job, err := db.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 1, job.Attempts)

	_, err = m.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	job, err = db.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestBatchContinuesPastFailingJob(t *testing.T) {
	m, fake, db := setupManager(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{"id": "p1", "name": "First"}))
	require.NoError(t, db.InsertRecord(ctx, "projects", map[string]any{"id": "p2", "name": "Second"}))

	first, err := m.QueueSync(ctx, "projects", "p1", models.OpCreate, nil)
	require.NoError(t, err)
	second, err := m.QueueSync(ctx, "projects", "p2", models.OpCreate, nil)
	require.NoError(t, err)

	fake.failNext = errors.New("network down")
	n, err := m.ProcessPendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	job, err := db.GetJob(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status, "failed job is queued for retry")

	job, err = db.GetJob(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status, "one failure does not abort the batch")
}

func TestBusEventsEnqueueJobs(t *testing.T) {
	m, fake, _ := setupManager(t)
	ctx := context.Background()

	bus := events.NewBus()
	m.SubscribeBus(bus)

	require.NoError(t, bus.PublishRecordChange(events.RecordChangePayload{
		TableName: "projects",
		RecordID:  "p1",
		Operation: models.OpCreate,
		Data:      map[string]any{"id": "p1", "name": "Atrium"},
	}))

	n, err := m.ProcessPendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotNil(t, fake.pageFor("db-projects", "p1"))
}
