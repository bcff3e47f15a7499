package api

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

	"cronkeep/internal/job"
	"cronkeep/internal/manager"
)

// Client talks to a running daemon.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Error is a non-2xx reply.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return e.Message
}

func (c *Client) List(ctx context.Context) ([]job.Job, error) {
	var out []job.Job
	err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (job.Job, error) {
	var out job.Job
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) Add(ctx context.Context, j job.Job) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPost, "/api/jobs", j)
}

func (c *Client) Update(ctx context.Context, id string, p job.Patch) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPatch, "/api/jobs/"+url.PathEscape(id), p)
}

func (c *Client) Delete(ctx context.Context, id string) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil)
}

func (c *Client) Toggle(ctx context.Context, id string) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/toggle", nil)
}

func (c *Client) Duplicate(ctx context.Context, id string) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/duplicate", nil)
}

func (c *Client) Terminal(ctx context.Context, id string) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/terminal", nil)
}

func (c *Client) TestRun(ctx context.Context, j job.Job) (manager.TestRunResult, error) {
	var out manager.TestRunResult
	err := c.do(ctx, http.MethodPost, "/api/test-run", j, &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context, jobID string) ([]job.ExecutionLog, error) {
	var out []job.ExecutionLog
	err := c.do(ctx, http.MethodGet, "/api/logs?jobId="+url.QueryEscape(jobID), nil, &out)
	return out, err
}

func (c *Client) PruneLogs(ctx context.Context, jobID string) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodDelete, "/api/logs?jobId="+url.QueryEscape(jobID), nil)
}

func (c *Client) ExportCrontab(ctx context.Context) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPost, "/api/crontab/export", nil)
}

func (c *Client) ImportCrontab(ctx context.Context) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPost, "/api/crontab/import", nil)
}

func (c *Client) AutoSync(ctx context.Context) (bool, error) {
	var out autoSyncJSON
	err := c.do(ctx, http.MethodGet, "/api/crontab/autosync", nil, &out)
	return out.Enabled, err
}

func (c *Client) SetAutoSync(ctx context.Context, on bool) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPut, "/api/crontab/autosync", autoSyncJSON{Enabled: on})
}

func (c *Client) Sounds(ctx context.Context) ([]string, error) {
	var out soundsJSON
	err := c.do(ctx, http.MethodGet, "/api/sounds", nil, &out)
	return out.Sounds, err
}

func (c *Client) Reconcile(ctx context.Context) (manager.OperationResult, error) {
	return c.op(ctx, http.MethodPost, "/api/reconcile", nil)
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) op(ctx context.Context, method, path string, body any) (manager.OperationResult, error) {
	var out manager.OperationResult
	err := c.do(ctx, method, path, body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var res manager.OperationResult
		_ = json.Unmarshal(raw, &res)
		return &Error{Status: resp.StatusCode, Message: res.Message}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
