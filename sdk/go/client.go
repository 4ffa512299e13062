package taskboardsdk

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

// Client is a minimal Taskboard HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	ActorID     int64
	ActorRoles  []string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "api",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	AuthorID    int64     `json:"author_id"`
	AssigneeID  int64     `json:"assignee_id"`
	Comments    []Comment `json:"comments,omitempty"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// Comment represents a task comment.
type Comment struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	AuthorID  int64  `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// User represents a directory entry.
type User struct {
	ID    int64    `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// TaskPage wraps the paged listing envelope.
type TaskPage struct {
	Content       []Task `json:"content"`
	Page          int    `json:"page"`
	Size          int    `json:"size"`
	TotalElements int64  `json:"total_elements"`
	TotalPages    int    `json:"total_pages"`
}

// TaskFilter holds the optional predicates for Tasks. Zero values mean
// "not set".
type TaskFilter struct {
	Status     string
	Priority   string
	AuthorID   int64
	AssigneeID int64
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, description string, assigneeID int64) (Task, error) {
	body := map[string]any{
		"title":       title,
		"assignee_id": assigneeID,
	}
	if description != "" {
		body["description"] = description
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task with its comments.
func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

// Tasks runs the filtered, paginated listing. At least one filter field
// must be set; an empty result comes back as an APIError with status 404.
func (c *Client) Tasks(ctx context.Context, filter TaskFilter, page, size int) (TaskPage, error) {
	params := url.Values{}
	if filter.Status != "" {
		params.Set("status", filter.Status)
	}
	if filter.Priority != "" {
		params.Set("priority", filter.Priority)
	}
	if filter.AuthorID != 0 {
		params.Set("author_id", fmt.Sprint(filter.AuthorID))
	}
	if filter.AssigneeID != 0 {
		params.Set("assignee_id", fmt.Sprint(filter.AssigneeID))
	}
	params.Set("page", fmt.Sprint(page))
	if size > 0 {
		params.Set("size", fmt.Sprint(size))
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, "tasks?"+params.Encode(), nil, &resp)
	return resp, err
}

// AllTasks pages through every task. Requires the ADMIN role.
func (c *Client) AllTasks(ctx context.Context, page, size int) (TaskPage, error) {
	params := url.Values{}
	params.Set("page", fmt.Sprint(page))
	if size > 0 {
		params.Set("size", fmt.Sprint(size))
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, "tasks/all?"+params.Encode(), nil, &resp)
	return resp, err
}

// AssignTask changes the task's assignee.
func (c *Client) AssignTask(ctx context.Context, id, assigneeID int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d/assign", id), map[string]any{"assignee_id": assigneeID}, &resp)
	return resp, err
}

// UpdateTaskStatus changes the task's status.
func (c *Client) UpdateTaskStatus(ctx context.Context, id int64, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d/status", id), map[string]any{"status": status}, &resp)
	return resp, err
}

// UpdateTaskPriority changes the task's priority.
func (c *Client) UpdateTaskPriority(ctx context.Context, id int64, priority string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d/priority", id), map[string]any{"priority": priority}, &resp)
	return resp, err
}

// DeleteTask removes a task and its comments.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", id), nil, nil)
}

// AddComment comments on a task.
func (c *Client) AddComment(ctx context.Context, taskID int64, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/comments", taskID), map[string]any{"text": text}, &resp)
	return resp, err
}

// TasksByAuthor lists tasks created by a user.
func (c *Client) TasksByAuthor(ctx context.Context, authorID int64) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/author/%d", authorID), nil, &resp)
	return resp, err
}

// TasksByAssignee lists tasks assigned to a user.
func (c *Client) TasksByAssignee(ctx context.Context, assigneeID int64) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/assignee/%d", assigneeID), nil, &resp)
	return resp, err
}

// Users lists the directory.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "users", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != 0:
		req.Header.Set("X-Actor-Id", fmt.Sprint(c.ActorID))
		if len(c.ActorRoles) > 0 {
			req.Header.Set("X-Actor-Roles", strings.Join(c.ActorRoles, ","))
		}
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
