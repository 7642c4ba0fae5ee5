package orch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient implements Client against the orchestration service's JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient for the given base URL and bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListEntities implements Client.
func (c *HTTPClient) ListEntities(ctx context.Context, t EntityType, f Filter) ([]json.RawMessage, error) {
	q := url.Values{}
	if f.ScopeID != "" {
		q.Set("scope", f.ScopeID)
	}
	if len(f.IDs) > 0 {
		q.Set("ids", strings.Join(f.IDs, ","))
	}
	path := fmt.Sprintf("/api/%ss?%s", t, q.Encode())

	var out struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// UpdateEntity implements Client.
func (c *HTTPClient) UpdateEntity(ctx context.Context, t EntityType, id string, patch map[string]any) error {
	path := fmt.Sprintf("/api/%ss/%s", t, url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, path, patch, nil)
}

// ApplyChangeset implements Client.
func (c *HTTPClient) ApplyChangeset(ctx context.Context, ops []ChangeOp) error {
	body := map[string]any{"operations": ops}
	return c.do(ctx, http.MethodPost, "/api/changesets", body, nil)
}

// EmitActivity implements Client.
func (c *HTTPClient) EmitActivity(ctx context.Context, a Activity) (string, error) {
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/activities", a, &out); err != nil {
		return "", err
	}
	return out.RunID, nil
}

// CheckSpawnGuard implements Client. A 404 or 501 from the guard endpoint is
// reported as ErrGuardUnsupported so callers can log it apart from transient
// transport failures.
func (c *HTTPClient) CheckSpawnGuard(ctx context.Context, domain, taskID string) (*GuardVerdict, error) {
	body := map[string]any{"domain": domain, "task_id": taskID}
	var v GuardVerdict
	err := c.do(ctx, http.MethodPost, "/api/spawn-guard/check", body, &v)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusNotImplemented) {
			return nil, fmt.Errorf("%w: %v", ErrGuardUnsupported, err)
		}
		return nil, err
	}
	return &v, nil
}

// statusError carries a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

// do performs one JSON request/response cycle.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %w", method, path, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))})
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
