package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/metorial/signal/internal/model"
)

// HTTPClient implements Client using the signal HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("server reported status %q", resp.Status)
	}
	return nil
}

// --- Tenants and senders ---

func (c *HTTPClient) UpsertTenant(ctx context.Context, req *UpsertRequest) (*model.Tenant, error) {
	var t model.Tenant
	if err := c.doJSON(ctx, http.MethodPut, "/v1/tenants", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) GetTenant(ctx context.Context, tenant string) (*model.Tenant, error) {
	var t model.Tenant
	if err := c.doJSON(ctx, http.MethodGet, tenantPath(tenant), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) UpsertSender(ctx context.Context, tenant string, req *UpsertRequest) (*model.Sender, error) {
	var s model.Sender
	if err := c.doJSON(ctx, http.MethodPut, tenantPath(tenant, "senders"), req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) GetSender(ctx context.Context, tenant, sender string) (*model.Sender, error) {
	var s model.Sender
	if err := c.doJSON(ctx, http.MethodGet, tenantPath(tenant, "senders", sender), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// --- Events ---

func (c *HTTPClient) SendEvent(ctx context.Context, tenant string, req *SendEventRequest) (*model.Event, error) {
	var e model.Event
	if err := c.doJSON(ctx, http.MethodPost, tenantPath(tenant, "events"), req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *HTTPClient) GetEvent(ctx context.Context, tenant, id string) (*model.Event, error) {
	var e model.Event
	if err := c.doJSON(ctx, http.MethodGet, tenantPath(tenant, "events", id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *HTTPClient) ListEvents(ctx context.Context, tenant string, req *ListEventsRequest) (*ListEventsResponse, error) {
	q := pageQuery(req.Page)
	setList(q, "event_type", req.EventTypes)
	setList(q, "topic", req.Topics)
	setList(q, "sender", req.Senders)

	var resp ListEventsResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery(tenantPath(tenant, "events"), q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Destinations ---

func (c *HTTPClient) CreateDestination(ctx context.Context, tenant string, req *CreateDestinationRequest) (*model.Destination, error) {
	var d model.Destination
	if err := c.doJSON(ctx, http.MethodPost, tenantPath(tenant, "destinations"), req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) GetDestination(ctx context.Context, tenant, id string) (*model.Destination, error) {
	var d model.Destination
	if err := c.doJSON(ctx, http.MethodGet, tenantPath(tenant, "destinations", id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) ListDestinations(ctx context.Context, tenant string, page Page) (*ListDestinationsResponse, error) {
	var resp ListDestinationsResponse
	path := withQuery(tenantPath(tenant, "destinations"), pageQuery(page))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) UpdateDestination(ctx context.Context, tenant, id string, req *UpdateDestinationRequest) (*model.Destination, error) {
	var d model.Destination
	if err := c.doJSON(ctx, http.MethodPatch, tenantPath(tenant, "destinations", id), req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) DeleteDestination(ctx context.Context, tenant, id string) (*model.Destination, error) {
	var d model.Destination
	if err := c.doJSON(ctx, http.MethodDelete, tenantPath(tenant, "destinations", id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Intents and attempts ---

func (c *HTTPClient) GetIntent(ctx context.Context, tenant, id string) (*model.Intent, error) {
	var i model.Intent
	if err := c.doJSON(ctx, http.MethodGet, tenantPath(tenant, "intents", id), nil, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func (c *HTTPClient) ListIntents(ctx context.Context, tenant string, req *ListIntentsRequest) (*ListIntentsResponse, error) {
	q := pageQuery(req.Page)
	setList(q, "event", req.Events)
	setList(q, "destination", req.Destinations)
	setList(q, "status", req.Statuses)

	var resp ListIntentsResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery(tenantPath(tenant, "intents"), q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetAttempt(ctx context.Context, tenant, id string) (*AttemptDetail, error) {
	var a AttemptDetail
	if err := c.doJSON(ctx, http.MethodGet, tenantPath(tenant, "attempts", id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) ListAttempts(ctx context.Context, tenant string, req *ListAttemptsRequest) (*ListAttemptsResponse, error) {
	q := pageQuery(req.Page)
	setList(q, "event", req.Events)
	setList(q, "intent", req.Intents)
	setList(q, "destination", req.Destinations)
	setList(q, "status", req.Statuses)

	var resp ListAttemptsResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery(tenantPath(tenant, "attempts"), q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// tenantPath builds /v1/tenants/{tenant}/... with every segment escaped.
func tenantPath(tenant string, segments ...string) string {
	var b strings.Builder
	b.WriteString("/v1/tenants/")
	b.WriteString(url.PathEscape(tenant))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func pageQuery(p Page) url.Values {
	q := url.Values{}
	if p.Cursor != "" {
		q.Set("cursor", p.Cursor)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

func setList(q url.Values, key string, values []string) {
	if len(values) > 0 {
		q.Set(key, strings.Join(values, ","))
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Fields lists the per-field problems of a validation failure.
	Fields []model.FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Field + ": " + f.Message
		}
		return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string             `json:"error"`
			Fields []model.FieldError `json:"fields"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Fields: errResp.Fields}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
