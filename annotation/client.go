// Package annotation exports stored products into a Label Studio project.
package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-beauty/config"
)

// Task is one annotation task as imported into Label Studio.
type Task struct {
	Data TaskData `json:"data"`
	Meta TaskMeta `json:"meta"`
}

// TaskData is the payload shown to annotators.
type TaskData struct {
	Text  string `json:"text"`
	Name  string `json:"name"`
	Brand string `json:"brand"`
}

// TaskMeta links a task back to its stored product. MongoDBID holds the
// store id; the key name is kept for existing projects.
type TaskMeta struct {
	MongoDBID string  `json:"mongodb_id"`
	SyncedAt  string  `json:"synced_at"`
	URL       string  `json:"url"`
	Price     float64 `json:"price"`
}

// RemoteTask is a task already present in the project.
type RemoteTask struct {
	ID   int64          `json:"id"`
	Meta map[string]any `json:"meta"`
}

// StoreID returns the store id recorded in the task meta, or "".
func (t RemoteTask) StoreID() string {
	switch v := t.Meta["mongodb_id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// APIError is a non-2xx answer from Label Studio.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("label studio %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client talks to the Label Studio REST API with token authentication.
type Client struct {
	baseURL    string
	apiKey     string
	projectID  int
	pageSize   int
	httpClient *http.Client
}

// NewClient builds a client for cfg. httpClient may be nil.
func NewClient(cfg config.LabelStudioConfig, httpClient *http.Client) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("label studio url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse label studio url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		projectID:  cfg.ProjectID,
		pageSize:   pageSize,
		httpClient: httpClient,
	}, nil
}

type taskPage struct {
	Tasks []RemoteTask `json:"tasks"`
	Total int          `json:"total"`
}

// ListTasks returns every task of the project, following pagination until a
// short or empty page, the reported total, or a 404 past the last page.
func (c *Client) ListTasks(ctx context.Context) ([]RemoteTask, error) {
	var all []RemoteTask
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("project", strconv.Itoa(c.projectID))
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(c.pageSize))

		body, err := c.do(ctx, http.MethodGet, "/api/tasks?"+q.Encode(), nil)
		if err != nil {
			var apiErr *APIError
			if page > 1 && errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				return all, nil
			}
			return nil, fmt.Errorf("list tasks page %d: %w", page, err)
		}

		var resp taskPage
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode tasks page %d: %w", page, err)
		}
		all = append(all, resp.Tasks...)

		if len(resp.Tasks) < c.pageSize || (resp.Total > 0 && len(all) >= resp.Total) {
			return all, nil
		}
	}
}

type importResponse struct {
	TaskCount int `json:"task_count"`
}

// ImportTasks uploads tasks to the project and returns the number Label
// Studio reports as created.
func (c *Client) ImportTasks(ctx context.Context, tasks []Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}
	payload, err := json.Marshal(tasks)
	if err != nil {
		return 0, fmt.Errorf("marshal tasks: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/projects/%d/import", c.projectID), payload)
	if err != nil {
		return 0, fmt.Errorf("import tasks: %w", err)
	}

	var resp importResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.TaskCount == 0 {
		// Older servers answer without a count.
		return len(tasks), nil
	}
	return resp.TaskCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: req.URL.Path, Status: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
