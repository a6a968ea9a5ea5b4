// Package discovery bridges the executor to the external selector-discovery
// oracle. The adapter asks the oracle for a fresh context mapping, merges it
// into the knowledge store and persists it. It never retries; retry policy
// belongs to the executor.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/knowledge"
)

// PageSnapshot is the visible state of the automated surface handed to the
// oracle so it can locate elements.
type PageSnapshot struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	HTML       string `json:"html,omitempty"`
	Screenshot []byte `json:"screenshot,omitempty"`
}

// Request asks the oracle for locators of one context.
type Request struct {
	Context      string        `json:"context"`
	Hint         string        `json:"hint"`
	ForceRefresh bool          `json:"force_refresh"`
	Page         *PageSnapshot `json:"page,omitempty"`
}

// Oracle produces element-key to locator mappings for a context.
type Oracle interface {
	Discover(ctx context.Context, req Request) (map[string]string, error)
}

// Snapshotter captures the current page for discovery requests.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*PageSnapshot, error)
}

// Adapter wires an Oracle to a knowledge store.
type Adapter struct {
	Oracle      Oracle
	Store       knowledge.Store
	Persister   knowledge.Persister
	Snapshotter Snapshotter
	Timeout     time.Duration
	Logger      core.Logger
	Telemetry   core.Telemetry
}

// NewAdapter creates an adapter with no persistence or snapshots.
func NewAdapter(oracle Oracle, store knowledge.Store) *Adapter {
	return &Adapter{
		Oracle:    oracle,
		Store:     store,
		Logger:    &core.NoOpLogger{},
		Telemetry: &core.NoOpTelemetry{},
	}
}

// Discover refreshes the locators of contextName. On success the mapping is
// merged into the store; oracle failures are returned wrapped with
// core.ErrDiscoveryFailed.
func (a *Adapter) Discover(ctx context.Context, contextName, hint string, forceRefresh bool) error {
	logger := a.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	tel := a.Telemetry
	if tel == nil {
		tel = &core.NoOpTelemetry{}
	}

	ctx, span := tel.StartSpan(ctx, "discovery.discover")
	defer span.End()
	span.SetAttribute("discovery.context", contextName)
	span.SetAttribute("discovery.force_refresh", forceRefresh)

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	req := Request{Context: contextName, Hint: hint, ForceRefresh: forceRefresh}
	if a.Snapshotter != nil {
		page, err := a.Snapshotter.Snapshot(ctx)
		if err != nil {
			// the oracle can still answer from its own state
			logger.Warn("Page snapshot failed", map[string]interface{}{
				"context": contextName,
				"error":   err,
			})
		} else {
			req.Page = page
		}
	}

	start := time.Now()
	mapping, err := a.Oracle.Discover(ctx, req)
	tel.RecordMetric("discovery.duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{"context": contextName})
	if err != nil {
		span.RecordError(err)
		tel.RecordMetric("discovery.failures", 1, map[string]string{"context": contextName})
		logger.Warn("Discovery failed", map[string]interface{}{
			"context": contextName,
			"hint":    hint,
			"error":   err,
		})
		return &core.FrameworkError{
			Op:  "discovery.Discover",
			ID:  contextName,
			Err: fmt.Errorf("%w: %w", core.ErrDiscoveryFailed, err),
		}
	}

	a.Store.PutAll(contextName, mapping)
	span.SetAttribute("discovery.selectors", len(mapping))
	logger.Info("Discovery refreshed locators", map[string]interface{}{
		"context":   contextName,
		"selectors": len(mapping),
		"hint":      hint,
	})

	if a.Persister != nil && len(mapping) > 0 {
		if err := a.Persister.Save(ctx, contextName, mapping); err != nil {
			logger.Warn("Failed to persist discovered locators", map[string]interface{}{
				"context": contextName,
				"error":   err,
			})
		}
	}
	return nil
}
