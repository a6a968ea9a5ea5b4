// Package postgrest is the remote record store: a PostgREST endpoint such
// as the one Supabase exposes under /rest/v1.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/reconcile"
	"github.com/itsneelabh/betpilot/telemetry"
)

const restPath = "/rest/v1/"

// Client implements reconcile.RemoteStore over PostgREST.
type Client struct {
	BaseURL    string
	APIKey     string
	Schema     string
	HTTPClient *http.Client
	Logger     core.Logger
}

var _ reconcile.RemoteStore = (*Client)(nil)

// NewClient builds a client from the remote config section. Requests are
// traced through otelhttp.
func NewClient(cfg core.RemoteConfig, logger core.Logger) (*Client, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, &core.FrameworkError{Op: "postgrest.NewClient", Kind: "config", Message: "remote url and api key are required", Err: core.ErrMissingConfiguration}
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, &core.FrameworkError{Op: "postgrest.NewClient", Kind: "config", Err: fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)}
	}
	return &Client{
		BaseURL:    strings.TrimRight(cfg.URL, "/"),
		APIKey:     cfg.APIKey,
		Schema:     cfg.Schema,
		HTTPClient: telemetry.NewTracedHTTPClient(cfg.Timeout),
		Logger:     core.ComponentLogger(logger, "postgrest"),
	}, nil
}

// FetchMetadata selects the key columns and tsField ordered by key.
func (c *Client) FetchMetadata(ctx context.Context, table string, keyColumns []string, tsField string, offset, limit int) ([]reconcile.RemoteRow, error) {
	order := make([]string, len(keyColumns))
	for i, k := range keyColumns {
		order[i] = k + ".asc"
	}
	q := url.Values{}
	q.Set("select", strings.Join(append(append([]string(nil), keyColumns...), tsField), ","))
	q.Set("order", strings.Join(order, ","))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var out []reconcile.RemoteRow
	if err := c.do(ctx, "postgrest.FetchMetadata", http.MethodGet, table, q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchRows selects full rows whose key is in keys. A single key column
// uses an in.() filter; a composite key an or=(and(...)) filter.
func (c *Client) FetchRows(ctx context.Context, table string, keyColumns []string, keys [][]string) ([]reconcile.RemoteRow, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("select", "*")
	if len(keyColumns) == 1 {
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = quote(k[0])
		}
		q.Set(keyColumns[0], "in.("+strings.Join(values, ",")+")")
	} else {
		terms := make([]string, len(keys))
		for i, k := range keys {
			conds := make([]string, len(keyColumns))
			for j, col := range keyColumns {
				conds[j] = col + ".eq." + quote(k[j])
			}
			terms[i] = "and(" + strings.Join(conds, ",") + ")"
		}
		q.Set("or", "("+strings.Join(terms, ",")+")")
	}

	var out []reconcile.RemoteRow
	if err := c.do(ctx, "postgrest.FetchRows", http.MethodGet, table, q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert posts rows with merge-duplicates resolution on conflictKey. The
// columns parameter lists the union of keys; a row missing one of them
// gets the column default, so an omitted id is assigned by the database.
func (c *Client) Upsert(ctx context.Context, table string, conflictKey []string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return &core.FrameworkError{Op: "postgrest.Upsert", Kind: "remote", ID: table, Err: fmt.Errorf("encode rows: %w", err)}
	}

	q := url.Values{}
	q.Set("on_conflict", strings.Join(conflictKey, ","))
	q.Set("columns", strings.Join(columnsOf(rows), ","))

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Prefer", "resolution=merge-duplicates,missing=default,return=minimal")

	return c.do(ctx, "postgrest.Upsert", http.MethodPost, table, q, headers, body, nil)
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (c *Client) do(ctx context.Context, op, method, table string, q url.Values, headers http.Header, body []byte, out interface{}) error {
	u := c.BaseURL + restPath + url.PathEscape(table)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &core.FrameworkError{Op: op, Kind: "remote", ID: table, Err: err}
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if c.Schema != "" {
		if method == http.MethodGet {
			req.Header.Set("Accept-Profile", c.Schema)
		} else {
			req.Header.Set("Content-Profile", c.Schema)
		}
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	started := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &core.FrameworkError{Op: op, Kind: "remote", ID: table, Err: fmt.Errorf("%v: %w", err, core.ErrTimeout)}
		}
		return &core.FrameworkError{Op: op, Kind: "remote", ID: table, Err: fmt.Errorf("%v: %w", err, core.ErrConnectionFailed)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return &core.FrameworkError{Op: op, Kind: "remote", ID: table, Err: fmt.Errorf("read response: %v: %w", err, core.ErrConnectionFailed)}
	}

	c.logger().Debug("PostgREST request", map[string]interface{}{
		"op":          op,
		"table":       table,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, table, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &core.FrameworkError{Op: op, Kind: "remote", ID: table, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// statusError maps a failed response. 429 and 5xx are transient.
func statusError(op, table string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
		if apiErr.Code != "" {
			msg = apiErr.Code + ": " + msg
		}
		if apiErr.Details != "" {
			msg += " (" + apiErr.Details + ")"
		}
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}

	sentinel := core.ErrRequestFailed
	if status == http.StatusTooManyRequests || status >= 500 {
		sentinel = core.ErrConnectionFailed
	}
	return &core.FrameworkError{Op: op, Kind: "remote", ID: table, Err: fmt.Errorf("status %d: %s: %w", status, msg, sentinel)}
}

func (c *Client) logger() core.Logger {
	if c.Logger == nil {
		return &core.NoOpLogger{}
	}
	return c.Logger
}

// quote renders v as a PostgREST filter literal.
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func columnsOf(rows []map[string]interface{}) []string {
	seen := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
