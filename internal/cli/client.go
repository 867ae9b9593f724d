package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/me/goflow/internal/store"
	"github.com/me/goflow/pkg/model"
)

// Client is an HTTP client for the goflow run history API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a run history API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// Get performs a GET request and returns the parsed envelope. An error
// envelope is returned as a *model.APIError.
func (c *Client) Get(ctx context.Context, path string) (*apiResponse, error) {
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.Logger.Debug("HTTP request", "method", http.MethodGet, "url", u)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.Logger.Debug("HTTP response", "status", resp.StatusCode, "bytes", len(body))

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.Status == "error" && apiResp.Error != nil {
		return &apiResp, apiResp.Error
	}
	return &apiResp, nil
}

// getData fetches path and decodes the envelope's data into dst.
func (c *Client) getData(ctx context.Context, path string, dst any) (*apiResponse, error) {
	resp, err := c.Get(ctx, path)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrNotFound {
			return nil, fmt.Errorf("%s: %w", apiErr.Message, store.ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp, nil
}

// ListRuns lists recorded runs, newest first.
func (c *Client) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.RunRecord, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("offset", strconv.Itoa(opts.Offset))
	if opts.Workflow != "" {
		q.Set("workflow", opts.Workflow)
	}
	if opts.Outcome != "" {
		q.Set("outcome", string(opts.Outcome))
	}

	var runs []*model.RunRecord
	resp, err := c.getData(ctx, "/api/v1/runs?"+q.Encode(), &runs)
	if err != nil {
		return nil, 0, err
	}
	total := len(runs)
	if resp.Pagination != nil {
		total = resp.Pagination.Total
	}
	return runs, total, nil
}

// GetRun fetches one run. It returns an error wrapping store.ErrNotFound
// when the server does not know the run.
func (c *Client) GetRun(ctx context.Context, id string) (*model.RunRecord, error) {
	var run model.RunRecord
	if _, err := c.getData(ctx, "/api/v1/runs/"+url.PathEscape(id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListStepResults fetches the recorded step results of a run.
func (c *Client) ListStepResults(ctx context.Context, runID string) ([]*model.ResolvedStepResult, error) {
	var steps []*model.ResolvedStepResult
	if _, err := c.getData(ctx, "/api/v1/runs/"+url.PathEscape(runID)+"/steps", &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// ListArtifacts fetches the recorded artifacts of a run.
func (c *Client) ListArtifacts(ctx context.Context, runID string) ([]model.ArtifactResult, error) {
	var artifacts []model.ArtifactResult
	if _, err := c.getData(ctx, "/api/v1/runs/"+url.PathEscape(runID)+"/artifacts", &artifacts); err != nil {
		return nil, err
	}
	return artifacts, nil
}
