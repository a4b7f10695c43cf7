package stacks

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
	"time"
)

// ServerRecord is one entity as reported by the catalog server, either in a
// delta page or as the payload of a stream event.
type ServerRecord struct {
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Payload    json.RawMessage `json:"data"`
}

// PageRequest parameterizes one cursor-paginated delta fetch.
type PageRequest struct {
	Limit        int
	Cursor       string
	UpdatedAfter string // stored checkpoint; empty means full sync
}

// DeltaPage is one page of a collection's change stream.
type DeltaPage struct {
	Records    []ServerRecord `json:"records"`
	DeletedIDs []string       `json:"deleted_ids"`
	NextCursor string         `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
	Total      int            `json:"total"`  // total records in the delta, 0 if unknown
	AsOf       string         `json:"as_of"`  // server time; next checkpoint
}

// PushResult is the success envelope for an acknowledged push.
type PushResult struct {
	ServerVersion time.Time `json:"server_version"`
}

// ServerHealth is the catalog server health envelope.
type ServerHealth struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	LibraryID     string `json:"library_id"`
	ItemCount     int    `json:"item_count"`
	EventClients  int    `json:"event_clients"`
}

// CatalogAPI abstracts HTTP communication with the Stackroom catalog server.
// Implementations must be safe for concurrent use.
type CatalogAPI interface {
	// FetchPage retrieves one page of a collection's delta stream.
	FetchPage(ctx context.Context, col Collection, req PageRequest) (*DeltaPage, error)

	// PushOp sends one pending local mutation to the server.
	// Returns *ConflictError when the server holds a newer version,
	// *RejectionError for permanent rejections, *SyncError otherwise.
	PushOp(ctx context.Context, op *PendingOp) (*PushResult, error)

	// LibraryInfo returns the identity of the library this server serves.
	LibraryInfo(ctx context.Context) (*LibraryInfo, error)

	// Preferences fetches per-user preferences. Best-effort callers swallow errors.
	Preferences(ctx context.Context) (*Preferences, error)

	// Health validates connectivity and returns server metadata.
	Health(ctx context.Context) (*ServerHealth, error)
}

// HTTPClient implements CatalogAPI using net/http.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
	debug      *DebugLogger
}

// NewHTTPClient creates a new catalog HTTP client.
// deviceID is optional; if non-empty, it's sent as X-Stacks-Device-ID for observability.
func NewHTTPClient(serverURL, apiKey, deviceID string) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(serverURL, "/"),
		apiKey:   apiKey,
		deviceID: deviceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// WithDebugLogger attaches a debug logger for request/response tracing.
func (c *HTTPClient) WithDebugLogger(debug *DebugLogger) *HTTPClient {
	c.debug = debug
	return c
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "stacks-client/1.0")
	if strings.TrimSpace(c.deviceID) != "" {
		req.Header.Set("X-Stacks-Device-ID", c.deviceID)
	}
}

func newSyncError(op string, statusCode int, body []byte) *SyncError {
	msg := ""
	if len(body) > 0 && statusCode >= 400 {
		if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &SyncError{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

func (c *HTTPClient) FetchPage(ctx context.Context, col Collection, pr PageRequest) (*DeltaPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pr.Limit))
	if pr.Cursor != "" {
		q.Set("cursor", pr.Cursor)
	}
	if pr.UpdatedAfter != "" {
		q.Set("updatedAfter", pr.UpdatedAfter)
	}
	reqURL := fmt.Sprintf("%s/api/v1/%s?%s", c.baseURL, col, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &SyncError{Operation: "fetch_page", Err: err}
	}
	c.setHeaders(req)
	c.debug.LogRequest(http.MethodGet, reqURL, nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.debug.LogError("fetch_page", err)
		return nil, &SyncError{Operation: "fetch_page", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.debug.LogResponse(resp.StatusCode, resp.Status, body)
		return nil, newSyncError("fetch_page", resp.StatusCode, body)
	}

	var page DeltaPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &SyncError{Operation: "fetch_page", Err: err}
	}

	// Records arrive without the collection field on the wire.
	for i := range page.Records {
		page.Records[i].Collection = col
	}

	return &page, nil
}

// conflictEnvelope is the 409 response body for a rejected push.
type conflictEnvelope struct {
	ServerVersion time.Time     `json:"server_version"`
	Record        *ServerRecord `json:"record,omitempty"`
}

func (c *HTTPClient) PushOp(ctx context.Context, op *PendingOp) (*PushResult, error) {
	reqURL := fmt.Sprintf("%s/api/v1/%s/%s", c.baseURL, op.Collection, url.PathEscape(op.EntityID))

	method := http.MethodPost
	var body io.Reader
	if op.Kind == OpDelete {
		method = http.MethodDelete
	} else {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, &SyncError{Operation: "push_op", Err: err}
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.debug.LogRequest(method, reqURL, op.Payload)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.debug.LogError("push_op", err)
		return nil, &SyncError{Operation: "push_op", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result PushResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, &SyncError{Operation: "push_op", Err: err}
		}
		return &result, nil

	case resp.StatusCode == http.StatusConflict:
		var env conflictEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, &SyncError{Operation: "push_op", StatusCode: resp.StatusCode, Err: err}
		}
		ce := &ConflictError{
			Collection:    op.Collection,
			EntityID:      op.EntityID,
			ServerVersion: env.ServerVersion,
		}
		if env.Record != nil {
			ce.ServerPayload = env.Record.Payload
		}
		return nil, ce

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		respBody, _ := io.ReadAll(resp.Body)
		c.debug.LogResponse(resp.StatusCode, resp.Status, respBody)
		return nil, &RejectionError{
			Collection: op.Collection,
			EntityID:   op.EntityID,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}

	default:
		respBody, _ := io.ReadAll(resp.Body)
		c.debug.LogResponse(resp.StatusCode, resp.Status, respBody)
		return nil, newSyncError("push_op", resp.StatusCode, respBody)
	}
}

func (c *HTTPClient) LibraryInfo(ctx context.Context) (*LibraryInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/library", nil)
	if err != nil {
		return nil, &SyncError{Operation: "library_info", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SyncError{Operation: "library_info", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newSyncError("library_info", resp.StatusCode, body)
	}

	var info LibraryInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &SyncError{Operation: "library_info", Err: err}
	}

	return &info, nil
}

func (c *HTTPClient) Preferences(ctx context.Context) (*Preferences, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/me/preferences", nil)
	if err != nil {
		return nil, &SyncError{Operation: "preferences", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SyncError{Operation: "preferences", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newSyncError("preferences", resp.StatusCode, body)
	}

	var prefs Preferences
	if err := json.NewDecoder(resp.Body).Decode(&prefs); err != nil {
		return nil, &SyncError{Operation: "preferences", Err: err}
	}

	return &prefs, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*ServerHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, &SyncError{Operation: "health_check", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SyncError{Operation: "health_check", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newSyncError("health_check", resp.StatusCode, body)
	}

	var health ServerHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, &SyncError{Operation: "health_check", Err: err}
	}

	return &health, nil
}
