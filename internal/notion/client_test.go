package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(ClientOptions{
		BaseURL:           server.URL,
		Token:             "test-token",
		RequestsPerSecond: 1000, // don't throttle tests
	})
}

func TestQueryDatabaseSendsHeadersAndPageSize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/databases/db-1/query", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(100), body["page_size"])
		assert.NotContains(t, body, "start_cursor")

		json.NewEncoder(w).Encode(map[string]any{
			"results":  []map[string]any{{"id": "page-1"}},
			"has_more": false,
		})
	})

	result, err := client.QueryDatabase(context.Background(), "db-1", nil, nil, "")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "page-1", result.Results[0].ID)
	assert.False(t, result.HasMore)
}

func TestGetAllPagesFollowsCursor(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch calls {
		case 1:
			assert.NotContains(t, body, "start_cursor")
			json.NewEncoder(w).Encode(map[string]any{
				"results":     []map[string]any{{"id": "page-1"}, {"id": "page-2"}},
				"has_more":    true,
				"next_cursor": "cursor-2",
			})
		case 2:
			assert.Equal(t, "cursor-2", body["start_cursor"])
			json.NewEncoder(w).Encode(map[string]any{
				"results":  []map[string]any{{"id": "page-3"}},
				"has_more": false,
			})
		default:
			t.Fatalf("unexpected call %d", calls)
		}
	})

	pages, err := client.GetAllPages(context.Background(), "db-1")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "page-3", pages[2].ID)
}

func TestCreatePage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/pages", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		parent := body["parent"].(map[string]any)
		assert.Equal(t, "db-1", parent["database_id"])

		json.NewEncoder(w).Encode(map[string]any{"id": "new-page"})
	})

	page, err := client.CreatePage(context.Background(), "db-1", map[string]any{
		"Name": map[string]any{"title": []any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-page", page.ID)
}

func TestArchivePage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/pages/page-9", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["archived"])

		json.NewEncoder(w).Encode(map[string]any{"id": "page-9", "archived": true})
	})

	require.NoError(t, client.ArchivePage(context.Background(), "page-9"))
}

func TestFindPageByRecordID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		filter := body["filter"].(map[string]any)
		assert.Equal(t, "ID", filter["property"])
		assert.Equal(t, "rec-42", filter["rich_text"].(map[string]any)["equals"])

		json.NewEncoder(w).Encode(map[string]any{
			"results":  []map[string]any{{"id": "page-42"}},
			"has_more": false,
		})
	})

	page, err := client.FindPageByRecordID(context.Background(), "db-1", "rec-42")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, "page-42", page.ID)
}

func TestFindPageByRecordIDAbsentIsNotError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}, "has_more": false})
	})

	page, err := client.FindPageByRecordID(context.Background(), "db-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":"rate_limited","message":"slow down"}`)
	})

	_, err := client.QueryDatabase(context.Background(), "db-1", nil, nil, "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "rate_limited", apiErr.Code)
	assert.Equal(t, "slow down", apiErr.Message)
}
