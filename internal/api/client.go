// Package api implements the typed client for the fieldsync REST backend.
// The engine only ever talks to the server through this package; every
// response is mapped onto the app error taxonomy at this boundary.
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/models"
)

// DefaultTimeout bounds a single API round trip. Mobile links stall more
// often than they fail, so this stays short and the queue handles retries.
const DefaultTimeout = 15 * time.Second

// Config carries the client settings.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/v1.
	BaseURL string
	// Token is sent as a bearer token when non-empty. Token refresh is
	// the host app's business.
	Token string
	// Timeout bounds each request; DefaultTimeout when zero.
	Timeout time.Duration
}

// Client is a thin typed wrapper over the REST surface.
type Client struct {
	rc *resty.Client
}

// NewClient creates a Client for the given backend.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}
	return &Client{rc: rc}
}

// request performs one round trip. The callback customizes the outgoing
// request; a non-2xx response comes back as an AppError so callers can
// sort connectivity from conflict from rejection without touching HTTP.
func (c *Client) request(ctx context.Context, method, path string, callback func(req *resty.Request), result interface{}) error {
	req := c.rc.R().SetContext(ctx)
	if callback != nil {
		callback(req)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrap(errors.ErrRemoteUnreachable, fmt.Sprintf("%s %s failed", method, path), err)
	}
	if resp.IsError() {
		statusErr := &StatusError{Status: resp.StatusCode(), Body: snippet(resp)}
		if statusErr.Status == http.StatusConflict {
			return errors.Wrap(errors.ErrSyncConflict, "remote rejected stale update", statusErr)
		}
		return errors.Wrap(errors.ErrRemoteRejected, fmt.Sprintf("%s %s rejected", method, path), statusErr)
	}
	return nil
}

// StatusError carries the HTTP status of a rejected request through the
// AppError chain.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// StatusOf returns the HTTP status carried by err, or 0 when err holds
// none (connectivity failures never reached the server).
func StatusOf(err error) int {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Ping checks that the backend answers at all. The connectivity gate
// calls this with a short deadline before any sync pass.
func (c *Client) Ping(ctx context.Context) error {
	return c.request(ctx, http.MethodGet, "/health", nil, nil)
}

// ListUsers fetches user accounts changed at or after since (epoch ms);
// since=0 fetches everything.
func (c *Client) ListUsers(ctx context.Context, since int64) ([]UserDTO, error) {
	var users []UserDTO
	err := c.request(ctx, http.MethodGet, "/users", sinceParam(since), &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ListSites fetches work sites changed at or after since (epoch ms).
func (c *Client) ListSites(ctx context.Context, since int64) ([]SiteDTO, error) {
	var sites []SiteDTO
	err := c.request(ctx, http.MethodGet, "/sites", sinceParam(since), &sites)
	if err != nil {
		return nil, err
	}
	return sites, nil
}

// ListTasks fetches tasks changed at or after since (epoch ms).
func (c *Client) ListTasks(ctx context.Context, since int64) ([]TaskDTO, error) {
	var tasks []TaskDTO
	err := c.request(ctx, http.MethodGet, "/tasks", sinceParam(since), &tasks)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches the authoritative copy of one task. Conflict resolution
// in favor of the server goes through here.
func (c *Client) GetTask(ctx context.Context, serverID string) (*TaskDTO, error) {
	var dto TaskDTO
	err := c.request(ctx, http.MethodGet, "/tasks/"+serverID, nil, &dto)
	if err != nil {
		return nil, err
	}
	return &dto, nil
}

// CreateTask pushes a locally created task and returns the server's copy,
// including the assigned identifier.
func (c *Client) CreateTask(ctx context.Context, dto TaskDTO) (*TaskDTO, error) {
	var created TaskDTO
	err := c.request(ctx, http.MethodPost, "/tasks", func(req *resty.Request) {
		req.SetBody(dto)
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateTask pushes local edits to a task the server already knows. A
// stale-version rejection surfaces as an ErrSyncConflict AppError.
func (c *Client) UpdateTask(ctx context.Context, serverID string, dto TaskDTO) (*TaskDTO, error) {
	var updated TaskDTO
	err := c.request(ctx, http.MethodPut, "/tasks/"+serverID, func(req *resty.Request) {
		req.SetBody(dto)
	}, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteTask deletes a task on the server. A 404 counts as success: the
// point of the tombstone is that the task is gone, and a retried delete
// after a half-applied pass must not fail forever.
func (c *Client) DeleteTask(ctx context.Context, serverID string) error {
	err := c.request(ctx, http.MethodDelete, "/tasks/"+serverID, nil, nil)
	if err != nil && StatusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// CreateComment pushes a comment and returns the server's copy.
func (c *Client) CreateComment(ctx context.Context, dto CommentDTO) (*CommentDTO, error) {
	var created CommentDTO
	err := c.request(ctx, http.MethodPost, "/comments", func(req *resty.Request) {
		req.SetBody(dto)
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// sinceParam formats the pull cursor. The wire speaks RFC3339; fractional
// seconds keep the millisecond precision of the stored cursor.
func sinceParam(since int64) func(req *resty.Request) {
	return func(req *resty.Request) {
		if since > 0 {
			req.SetQueryParam("since", models.MillisToTime(since).UTC().Format(time.RFC3339Nano))
		}
	}
}

// snippet trims a response body down to something loggable.
func snippet(resp *resty.Response) string {
	body := strings.TrimSpace(resp.String())
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return "(empty body)"
	}
	return body
}
