package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/events"
)

// Action is one interaction with the automated surface, performed against a
// concrete locator. Implementations carry their own timeouts.
type Action[T any] interface {
	Invoke(ctx context.Context, locator string) (T, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc[T any] func(ctx context.Context, locator string) (T, error)

// Invoke calls f.
func (f ActionFunc[T]) Invoke(ctx context.Context, locator string) (T, error) {
	return f(ctx, locator)
}

// Locators resolves element keys. knowledge.Store satisfies it.
type Locators interface {
	Get(context, element string) (string, bool)
}

// Discoverer refreshes the locators of a context. discovery.Adapter satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, contextName, hint string, forceRefresh bool) error
}

// UnresolvedError is returned when every attempt ended without a locator,
// so no action was ever invoked. It matches core.ErrLocatorUnavailable and
// unwraps to the last discovery error, if any.
type UnresolvedError struct {
	Context  string
	Element  string
	Attempts int
	Err      error
}

func (e *UnresolvedError) Error() string {
	msg := fmt.Sprintf("element %q in context %q never resolved after %d attempt(s)", e.Element, e.Context, e.Attempts)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *UnresolvedError) Is(target error) bool {
	return target == core.ErrLocatorUnavailable
}

func (e *UnresolvedError) Unwrap() error {
	return e.Err
}

// Healer holds the collaborators of the self-healing executor. It is safe
// for concurrent use as long as its collaborators are.
type Healer struct {
	Store       Locators
	Discoverer  Discoverer
	SettleDelay time.Duration
	Logger      core.Logger
	Telemetry   core.Telemetry
	Events      events.Sink
}

// NewHealer creates a Healer with no-op observability.
func NewHealer(store Locators, discoverer Discoverer, settle time.Duration) *Healer {
	return &Healer{
		Store:       store,
		Discoverer:  discoverer,
		SettleDelay: settle,
		Logger:      &core.NoOpLogger{},
		Telemetry:   &core.NoOpTelemetry{},
		Events:      events.Nop{},
	}
}

// outcome of one attempt.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeActionFailed
	outcomeLocatorMissing
)

// invocation carries per-call state through the attempt loop.
type invocation struct {
	h       *Healer
	id      string
	context string
	element string
	logger  core.Logger
	tel     core.Telemetry
}

// Execute resolves (contextKey, elementKey) to a locator and runs action
// against it, healing through discovery on a missing locator or a failed
// action. Attempts run 0..maxRetries; the action and the discovery call
// each run at most maxRetries+1 times.
//
// A discovery run because the locator was missing counts as that attempt's
// healing cycle when the element is still unresolved afterwards. Discovery
// errors consume budget and are never retried on their own.
//
// On exhaustion the error from the last action invocation is returned as
// is. If the action never ran, the result is an *UnresolvedError.
func Execute[T any](ctx context.Context, h *Healer, contextKey, elementKey string, action Action[T], maxRetries int) (T, error) {
	var zero T
	if maxRetries < 0 {
		maxRetries = 0
	}

	inv := h.newInvocation(contextKey, elementKey)
	ctx, span := inv.tel.StartSpan(ctx, "executor.execute")
	defer span.End()
	span.SetAttribute("executor.context", contextKey)
	span.SetAttribute("executor.element", elementKey)
	span.SetAttribute("executor.invocation_id", inv.id)

	var lastErr, lastDiscoveryErr error
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return zero, err
		}
		attempts++
		inv.emit(ctx, events.TypeAttempt, attempt, nil, nil)
		inv.tel.RecordMetric("executor.attempts", 1, map[string]string{"context": contextKey})

		healed := false
		locator, ok := h.Store.Get(contextKey, elementKey)
		if !ok {
			if err := inv.discover(ctx, "missing:"+elementKey); err != nil {
				lastDiscoveryErr = err
			}
			locator, ok = h.Store.Get(contextKey, elementKey)
			healed = !ok
		}

		result, res, err := runAttempt(ctx, action, locator, ok)
		switch result {
		case outcomeSucceeded:
			span.SetAttribute("executor.attempts", attempts)
			inv.emit(ctx, events.TypeSucceeded, attempt, nil, map[string]interface{}{"locator": locator})
			return res, nil
		case outcomeActionFailed:
			lastErr = err
			inv.emit(ctx, events.TypeActionFailed, attempt, err, map[string]interface{}{"locator": locator})
			inv.logger.Warn("Action failed", map[string]interface{}{
				"invocation_id": inv.id,
				"context":       contextKey,
				"element":       elementKey,
				"attempt":       attempt,
				"locator":       locator,
				"error":         err,
			})
		case outcomeLocatorMissing:
			inv.logger.Warn("Locator unavailable", map[string]interface{}{
				"invocation_id": inv.id,
				"context":       contextKey,
				"element":       elementKey,
				"attempt":       attempt,
			})
		}

		if attempt == maxRetries {
			break
		}

		// healing cycle
		if !healed {
			hint := "action failed on " + elementKey
			if lastErr != nil {
				hint += ": " + lastErr.Error()
			}
			if err := inv.discover(ctx, hint); err != nil {
				lastDiscoveryErr = err
			}
		}
		inv.emit(ctx, events.TypeHealing, attempt, nil, nil)
		inv.tel.RecordMetric("executor.healing_cycles", 1, map[string]string{"context": contextKey})

		if err := sleepCtx(ctx, h.SettleDelay); err != nil {
			span.RecordError(err)
			return zero, err
		}
	}

	inv.tel.RecordMetric("executor.exhausted", 1, map[string]string{"context": contextKey})
	span.SetAttribute("executor.attempts", attempts)

	if lastErr != nil {
		span.RecordError(lastErr)
		inv.emit(ctx, events.TypeExhausted, attempts-1, lastErr, nil)
		inv.logger.Error("Action retries exhausted", map[string]interface{}{
			"invocation_id": inv.id,
			"context":       contextKey,
			"element":       elementKey,
			"attempts":      attempts,
			"error":         lastErr,
		})
		return zero, lastErr
	}

	unresolved := &UnresolvedError{
		Context:  contextKey,
		Element:  elementKey,
		Attempts: attempts,
		Err:      lastDiscoveryErr,
	}
	span.RecordError(unresolved)
	inv.emit(ctx, events.TypeExhausted, attempts-1, unresolved, nil)
	inv.logger.Error("Element never resolved", map[string]interface{}{
		"invocation_id": inv.id,
		"context":       contextKey,
		"element":       elementKey,
		"attempts":      attempts,
	})
	return zero, unresolved
}

// Do runs an action that produces no value.
func Do(ctx context.Context, h *Healer, contextKey, elementKey string, fn func(ctx context.Context, locator string) error, maxRetries int) error {
	_, err := Execute[struct{}](ctx, h, contextKey, elementKey, ActionFunc[struct{}](func(ctx context.Context, locator string) (struct{}, error) {
		return struct{}{}, fn(ctx, locator)
	}), maxRetries)
	return err
}

func (h *Healer) newInvocation(contextKey, elementKey string) *invocation {
	logger := h.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	tel := h.Telemetry
	if tel == nil {
		tel = &core.NoOpTelemetry{}
	}
	return &invocation{
		h:       h,
		id:      uuid.NewString(),
		context: contextKey,
		element: elementKey,
		logger:  logger,
		tel:     tel,
	}
}

// runAttempt invokes action when a locator is available.
func runAttempt[T any](ctx context.Context, action Action[T], locator string, resolved bool) (outcome, T, error) {
	var zero T
	if !resolved {
		return outcomeLocatorMissing, zero, nil
	}
	res, err := action.Invoke(ctx, locator)
	if err != nil {
		return outcomeActionFailed, zero, err
	}
	return outcomeSucceeded, res, nil
}

func (inv *invocation) discover(ctx context.Context, hint string) error {
	if inv.h.Discoverer == nil {
		return fmt.Errorf("no discoverer configured: %w", core.ErrDiscoveryFailed)
	}
	inv.logger.Debug("Requesting discovery", map[string]interface{}{
		"invocation_id": inv.id,
		"context":       inv.context,
		"hint":          hint,
	})
	return inv.h.Discoverer.Discover(ctx, inv.context, hint, true)
}

func (inv *invocation) emit(ctx context.Context, typ string, attempt int, err error, fields map[string]interface{}) {
	evt := events.Event{
		ID:      inv.id,
		Type:    typ,
		Source:  "executor",
		Context: inv.context,
		Element: inv.element,
		Attempt: attempt + 1,
		Fields:  fields,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	events.Emit(ctx, inv.h.Events, inv.logger, evt)
}
