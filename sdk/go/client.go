package floorlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Floorline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model.
type Job struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Item represents one line of assigned work.
type Item struct {
	ID             string `json:"id"`
	JobID          string `json:"job_id"`
	Name           string `json:"name"`
	OrderQty       int    `json:"order_qty"`
	StockQty       int    `json:"stock_qty"`
	OrderCompleted int    `json:"order_completed"`
	StockCompleted int    `json:"stock_completed"`
	Status         string `json:"status"`
}

// CompletionDelta is the per-item outcome on a log_completion entry.
type CompletionDelta struct {
	ItemID         string `json:"item_id"`
	QtyCompleted   int    `json:"qty_completed"`
	Discarded      int    `json:"discarded,omitempty"`
	OrderCompleted int    `json:"order_completed"`
	StockCompleted int    `json:"stock_completed"`
	Status         string `json:"status"`
}

// WorkLogEntry is one immutable ledger fact.
type WorkLogEntry struct {
	ID      int64             `json:"id"`
	JobID   string            `json:"job_id"`
	ActorID string            `json:"actor_id"`
	TS      string            `json:"ts"`
	Kind    string            `json:"kind"`
	ItemID  *string           `json:"item_id,omitempty"`
	Hours   *float64          `json:"hours,omitempty"`
	Notes   *string           `json:"notes,omitempty"`
	Deltas  []CompletionDelta `json:"deltas,omitempty"`
}

// Photo is a photo attachment on a work log entry.
type Photo struct {
	ID      string `json:"id"`
	EntryID int64  `json:"entry_id"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// JobWithItems wraps job creation responses.
type JobWithItems struct {
	Job   Job    `json:"job"`
	Items []Item `json:"items"`
}

// JobSnapshot is the full read model for one job.
type JobSnapshot struct {
	Job     Job            `json:"job"`
	Items   []Item         `json:"items"`
	WorkLog []WorkLogEntry `json:"work_log"`
	Photos  []Photo        `json:"photos"`
}

// ItemSpec describes an item for job creation.
type ItemSpec struct {
	Name     string `json:"name"`
	OrderQty int    `json:"order_qty"`
	StockQty int    `json:"stock_qty,omitempty"`
}

// CompletionEntry is one reported quantity against one item.
type CompletionEntry struct {
	ItemID       string `json:"item_id"`
	QtyCompleted int    `json:"qty_completed"`
}

// PaginatedWorkLog wraps work log listings with a cursor.
type PaginatedWorkLog struct {
	Items      []WorkLogEntry `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateJob creates a job with its initial items.
func (c *Client) CreateJob(ctx context.Context, name string, items []ItemSpec) (JobWithItems, error) {
	body := map[string]any{
		"name":  name,
		"items": items,
	}
	var resp JobWithItems
	err := c.do(ctx, http.MethodPost, "v1/jobs", body, &resp)
	return resp, err
}

// ReleaseJob moves a draft job into production.
func (c *Client) ReleaseJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	endpoint := fmt.Sprintf("v1/jobs/%s/release", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Snapshot fetches the full job read model.
func (c *Client) Snapshot(ctx context.Context, jobID string) (JobSnapshot, error) {
	var resp JobSnapshot
	endpoint := fmt.Sprintf("v1/jobs/%s", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListJobs returns jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string) ([]Job, error) {
	endpoint := "v1/jobs"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Job
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartWorking marks an item as picked up.
func (c *Client) StartWorking(ctx context.Context, jobID, itemID string) (WorkLogEntry, error) {
	var resp WorkLogEntry
	endpoint := fmt.Sprintf("v1/jobs/%s/items/%s/start-working", url.PathEscape(jobID), url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// LogCompletion reports completed quantities for one or more items.
func (c *Client) LogCompletion(ctx context.Context, jobID string, entries []CompletionEntry, hours *float64, notes *string) (WorkLogEntry, error) {
	body := map[string]any{"entries": entries}
	if hours != nil {
		body["hours"] = *hours
	}
	if notes != nil {
		body["notes"] = *notes
	}
	var resp WorkLogEntry
	endpoint := fmt.Sprintf("v1/jobs/%s/log-completion", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// WorkLog returns recent entries for a job.
func (c *Client) WorkLog(ctx context.Context, jobID string, limit int) ([]WorkLogEntry, error) {
	page, err := c.WorkLogPage(ctx, jobID, limit, "")
	return page.Items, err
}

// WorkLogPage returns a paginated work log listing, most recent first.
func (c *Client) WorkLogPage(ctx context.Context, jobID string, limit int, cursor string) (PaginatedWorkLog, error) {
	endpoint := fmt.Sprintf("v1/jobs/%s/work-log", url.PathEscape(jobID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedWorkLog
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AttachPhoto links a photo URL to a work log entry.
func (c *Client) AttachPhoto(ctx context.Context, entryID int64, photoURL, caption string) (Photo, error) {
	body := map[string]any{
		"url":     photoURL,
		"caption": caption,
	}
	var resp Photo
	endpoint := fmt.Sprintf("v1/work-log/%d/photos", entryID)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RebuildCounters replays the work log into the item counters.
func (c *Client) RebuildCounters(ctx context.Context, jobID string) ([]Item, error) {
	var resp []Item
	endpoint := fmt.Sprintf("v1/jobs/%s/rebuild", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
