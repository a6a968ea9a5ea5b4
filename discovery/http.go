package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/telemetry"
)

// HTTPOracle calls a selector-discovery service over HTTP.
//
// Request:  POST {Endpoint}/discover with a JSON Request body.
// Response: {"selectors": {"element_key": "locator", ...}}
type HTTPOracle struct {
	Endpoint string
	Client   *http.Client
	Logger   core.Logger
}

type discoverResponse struct {
	Selectors map[string]string `json:"selectors"`
	Error     string            `json:"error,omitempty"`
}

// NewHTTPOracle creates an oracle with a traced HTTP client.
func NewHTTPOracle(endpoint string, timeout time.Duration, logger core.Logger) *HTTPOracle {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HTTPOracle{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   telemetry.NewTracedHTTPClient(timeout),
		Logger:   logger,
	}
}

// Discover posts req and returns the selector mapping.
func (o *HTTPOracle) Discover(ctx context.Context, req Request) (map[string]string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode discovery request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint+"/discover", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("discovery request: %v: %w", err, core.ErrTimeout)
		}
		return nil, fmt.Errorf("discovery request: %v: %w", err, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read discovery response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.Logger.Warn("Discovery service returned error status", map[string]interface{}{
			"status":  resp.StatusCode,
			"context": req.Context,
		})
		return nil, fmt.Errorf("discovery service status %d: %s: %w", resp.StatusCode, truncate(string(data), 200), core.ErrRequestFailed)
	}

	var out discoverResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode discovery response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("discovery service: %s: %w", out.Error, core.ErrRequestFailed)
	}
	if out.Selectors == nil {
		out.Selectors = map[string]string{}
	}
	return out.Selectors, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
