// Package upstream implements the Upstream Client: authenticates against,
// enumerates tables from, and pages rows out of the Upstream API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dbashand/dbreplicate/internal/model"
	"github.com/dbashand/dbreplicate/internal/runerr"
)

// sessionHeader is the exact header name the Upstream API requires on every
// authenticated call. Bit-exact; changing this breaks compatibility.
const sessionHeader = "X-Metabase-Session"

// APIError is returned for any non-2xx Upstream API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream API error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream API error (HTTP %d)", e.Status)
}

// Client is the HTTP-backed Upstream Client.
type Client struct {
	baseURL    string
	databaseID int64
	httpClient *http.Client
	token      string
}

// New builds a Client bound to baseURL and the configured source database.
func New(baseURL string, databaseID int64, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		databaseID: databaseID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sessionResponse struct {
	ID string `json:"id"`
}

// Authenticate exchanges credentials for an opaque session token, stored on
// the client for subsequent calls. Fails auth-failed on any non-success
// response.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	var resp sessionResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/api/session", body, false, &resp); err != nil {
		return runerr.New(runerr.KindAuthFailed, err)
	}
	if resp.ID == "" {
		return runerr.New(runerr.KindAuthFailed, fmt.Errorf("empty session token in response"))
	}
	c.token = resp.ID
	return nil
}

type metadataField struct {
	Name         string `json:"name"`
	BaseType     string `json:"base_type"`
	SemanticType string `json:"semantic_type"`
}

type metadataTable struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Fields []metadataField `json:"fields"`
}

type metadataResponse struct {
	Tables []metadataTable `json:"tables"`
}

// ListTables returns every table visible to the session in the configured
// database.
func (c *Client) ListTables(ctx context.Context) ([]model.TableDescriptor, error) {
	path := fmt.Sprintf("/api/database/%d/metadata", c.databaseID)
	var resp metadataResponse
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	tables := make([]model.TableDescriptor, 0, len(resp.Tables))
	for _, t := range resp.Tables {
		fields := make([]model.FieldDescriptor, 0, len(t.Fields))
		for _, f := range t.Fields {
			fields = append(fields, model.FieldDescriptor{
				Name:         f.Name,
				BaseType:     f.BaseType,
				SemanticType: f.SemanticType,
			})
		}
		tables = append(tables, model.TableDescriptor{UpstreamID: t.ID, Name: t.Name, Fields: fields})
	}
	return tables, nil
}

type datasetQuery struct {
	Database int64       `json:"database"`
	Type     string      `json:"type"`
	Query    queryClause `json:"query"`
}

type queryClause struct {
	SourceTable int64       `json:"source-table"`
	Limit       int         `json:"limit,omitempty"`
	Page        *pageClause `json:"page,omitempty"`
	Aggregation [][]string  `json:"aggregation,omitempty"`
}

type pageClause struct {
	Page  int `json:"page"`
	Items int `json:"items"`
}

type datasetCol struct {
	Name string `json:"name"`
}

type datasetData struct {
	Rows [][]interface{} `json:"rows"`
	Cols []datasetCol    `json:"cols"`
}

type datasetResponse struct {
	Data datasetData `json:"data"`
}

// CountRows returns the total row count for tableID via an aggregate query.
// A failed request or an empty response yields 0 rather than failing the
// call; the caller cannot tell that 0 apart from an empty table, and the
// error itself is not recorded anywhere.
func (c *Client) CountRows(ctx context.Context, tableID int64) int64 {
	q := datasetQuery{
		Database: c.databaseID,
		Type:     "query",
		Query: queryClause{
			SourceTable: tableID,
			Aggregation: [][]string{{"count"}},
		},
	}
	var resp datasetResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/api/dataset", q, true, &resp); err != nil {
		return 0
	}
	if len(resp.Data.Rows) == 0 || len(resp.Data.Rows[0]) == 0 {
		return 0
	}
	return toInt64(resp.Data.Rows[0][0])
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// FetchPage returns at most limit rows starting at offset. The server is
// assumed to produce a stable order across pages within one run.
func (c *Client) FetchPage(ctx context.Context, tableID int64, offset, limit int) ([]string, []model.Row, error) {
	pageNum := offset/limit + 1
	q := datasetQuery{
		Database: c.databaseID,
		Type:     "query",
		Query: queryClause{
			SourceTable: tableID,
			Limit:       limit,
			Page:        &pageClause{Page: pageNum, Items: limit},
		},
	}
	var resp datasetResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/api/dataset", q, true, &resp); err != nil {
		return nil, nil, runerr.New(runerr.KindExtractFailed, err)
	}

	cols := make([]string, len(resp.Data.Cols))
	for i, col := range resp.Data.Cols {
		cols[i] = col.Name
	}

	rows := make([]model.Row, 0, len(resp.Data.Rows))
	for _, raw := range resp.Data.Rows {
		row := make(model.Row, 0, len(cols))
		for i, v := range raw {
			if i >= len(cols) {
				break
			}
			row = append(row, model.Cell{Name: cols[i], Value: rawValue(v)})
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

// rawValue wraps an Upstream API JSON scalar as a model.Value; the
// Transformer is responsible for coercing it to the target's declared type.
func rawValue(v interface{}) model.Value {
	switch n := v.(type) {
	case nil:
		return model.Null()
	case bool:
		return model.Bool(n)
	case float64:
		if n == float64(int64(n)) {
			return model.Int64(int64(n))
		}
		return model.Float64(n)
	case string:
		return model.Text(n)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(n)
		if err != nil {
			return model.Null()
		}
		return model.JSON(string(b))
	default:
		return model.Text(fmt.Sprintf("%v", n))
	}
}

// Logout best-effort terminates the session; errors are swallowed.
func (c *Client) Logout(ctx context.Context) {
	if c.token == "" {
		return
	}
	_ = c.makeRequest(ctx, http.MethodDelete, "/api/session", nil, true, nil)
	c.token = ""
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, requireAuth bool, result interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if requireAuth {
		req.Header.Set(sessionHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, result)
}

func handleResponse(resp *http.Response, result interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var parsed struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(data, &parsed) == nil {
			if parsed.Message != "" {
				apiErr.Message = parsed.Message
			} else if parsed.Error != "" {
				apiErr.Message = parsed.Error
			}
		}
		if apiErr.Message == "" && len(data) > 0 {
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
