package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notionsync/internal/models"

	"golang.org/x/time/rate"
)

const pageSize = 100

// APIError is a non-2xx response from the Notion API, decoded from its
// {code, message} error body when present.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api: status=%d message=%s", e.Status, e.Message)
}

// ClientOptions configures the API client. Zero values fall back to
// production defaults; only Token is required.
type ClientOptions struct {
	BaseURL           string
	Token             string
	APIVersion        string
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// Client is a thin typed wrapper over the Notion HTTP API. It throttles to
// the published rate limit but deliberately does not retry: retrying a
// failed sync is the queue's responsibility, not the transport's.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		apiVersion: apiVersion,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// QueryResult is one page of database query results.
type QueryResult struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// QueryDatabase runs one paginated query; the caller threads the cursor.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter map[string]any, sorts []map[string]any, cursor string) (*QueryResult, error) {
	body := map[string]any{"page_size": pageSize}
	if filter != nil {
		body["filter"] = filter
	}
	if len(sorts) > 0 {
		body["sorts"] = sorts
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var result QueryResult
	err := c.do(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", body, &result)
	if err != nil {
		return nil, fmt.Errorf("query database %s: %w", databaseID, err)
	}
	return &result, nil
}

// GetAllPages walks every page of the database, one API page of 100 in
// flight at a time.
func (c *Client) GetAllPages(ctx context.Context, databaseID string) ([]Page, error) {
	var pages []Page
	cursor := ""
	for {
		result, err := c.QueryDatabase(ctx, databaseID, nil, nil, cursor)
		if err != nil {
			return nil, err
		}
		pages = append(pages, result.Results...)
		if !result.HasMore {
			return pages, nil
		}
		cursor = result.NextCursor
	}
}

// CreatePage creates a page in the database.
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]any) (*Page, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &page); err != nil {
		return nil, fmt.Errorf("create page in %s: %w", databaseID, err)
	}
	return &page, nil
}

// UpdatePage overwrites the given properties in place.
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any) (*Page, error) {
	body := map[string]any{"properties": properties}
	var page Page
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, body, &page); err != nil {
		return nil, fmt.Errorf("update page %s: %w", pageID, err)
	}
	return &page, nil
}

// ArchivePage archives the page; Notion has no hard delete.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	body := map[string]any{"archived": true}
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, body, nil); err != nil {
		return fmt.Errorf("archive page %s: %w", pageID, err)
	}
	return nil
}

// FindPageByRecordID locates the page whose "ID" rich_text property equals
// the local record id. A missing page is (nil, nil): absence distinguishes
// create from update and is not an error.
func (c *Client) FindPageByRecordID(ctx context.Context, databaseID, recordID string) (*Page, error) {
	filter := map[string]any{
		"property":  models.RecordIDProperty,
		"rich_text": map[string]any{"equals": recordID},
	}
	result, err := c.QueryDatabase(ctx, databaseID, filter, nil, "")
	if err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	return &result.Results[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			if parsed.Code != "" {
				apiErr.Code = parsed.Code
			}
			if strings.TrimSpace(parsed.Message) != "" {
				apiErr.Message = parsed.Message
			}
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
