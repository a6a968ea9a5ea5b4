// Package events carries structured progress and diagnostic events emitted
// by the action executor and the reconciliation engine.
package events

import (
	"context"
	"time"

	"github.com/itsneelabh/betpilot/core"
)

// Event types emitted by the executor.
const (
	TypeAttempt      = "attempt"
	TypeActionFailed = "action_failed"
	TypeHealing      = "healing"
	TypeSucceeded    = "succeeded"
	TypeExhausted    = "exhausted"
)

// Event types emitted by reconciliation.
const (
	TypeSyncStarted     = "sync_started"
	TypeCollectionState = "collection_state"
	TypeCollectionDone  = "collection_done"
	TypeSyncFinished    = "sync_finished"
)

// Event types emitted by the withdrawal flow.
const (
	TypeWithdrawalStarted   = "withdrawal_started"
	TypeWithdrawalCompleted = "withdrawal_completed"
	TypeWithdrawalFailed    = "withdrawal_failed"
)

// Event is one progress or diagnostic record.
type Event struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Time    time.Time              `json:"time"`
	Source  string                 `json:"source"`
	Context string                 `json:"context,omitempty"`
	Element string                 `json:"element,omitempty"`
	Attempt int                    `json:"attempt,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Sink receives events. Implementations must not block the caller for long
// and must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogSink writes events through a core.Logger at debug level, failures at warn.
type LogSink struct {
	Logger core.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger core.Logger) *LogSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Publish(_ context.Context, evt Event) error {
	fields := map[string]interface{}{
		"event_id": evt.ID,
		"event":    evt.Type,
		"source":   evt.Source,
	}
	if evt.Context != "" {
		fields["context"] = evt.Context
	}
	if evt.Element != "" {
		fields["element"] = evt.Element
	}
	if evt.Attempt > 0 {
		fields["attempt"] = evt.Attempt
	}
	for k, v := range evt.Fields {
		fields[k] = v
	}
	if evt.Error != "" {
		fields["error"] = evt.Error
		s.Logger.Warn("event", fields)
		return nil
	}
	s.Logger.Debug("event", fields)
	return nil
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Emit fills in the timestamp and publishes, dropping publish errors after
// logging them. Events are diagnostics; losing one never fails an operation.
func Emit(ctx context.Context, sink Sink, logger core.Logger, evt Event) {
	if sink == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	if err := sink.Publish(ctx, evt); err != nil && logger != nil {
		logger.Warn("Failed to publish event", map[string]interface{}{
			"event": evt.Type,
			"error": err,
		})
	}
}
