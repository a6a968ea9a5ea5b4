// Package browser drives the automated web surface. Surface is the narrow
// capability flows need; Session implements it with playwright.
package browser

import (
	"context"
	"strings"
	"time"

	"github.com/itsneelabh/betpilot/resilience"
)

// Surface is one page of an automated browser. Every method acts on the
// first element matching locator unless stated otherwise, and fails if
// none appears within the session's action timeout.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, locator string) error
	Fill(ctx context.Context, locator, value string) error
	// FillNth fills the index-th match of locator, counting from zero.
	FillNth(ctx context.Context, locator string, index int, value string) error
	InnerText(ctx context.Context, locator string) (string, error)
	WaitVisible(ctx context.Context, locator string) error
	Count(ctx context.Context, locator string) (int, error)
}

// enabledSuffix excludes elements the site marks as disabled.
const enabledSuffix = ":not(.is-disabled)"

// Click clicks the element.
func Click(s Surface) resilience.Action[struct{}] {
	return resilience.ActionFunc[struct{}](func(ctx context.Context, locator string) (struct{}, error) {
		return struct{}{}, s.Click(ctx, locator)
	})
}

// Fill types value into the element.
func Fill(s Surface, value string) resilience.Action[struct{}] {
	return resilience.ActionFunc[struct{}](func(ctx context.Context, locator string) (struct{}, error) {
		return struct{}{}, s.Fill(ctx, locator, value)
	})
}

// FillEach fills the i-th match with the i-th rune of value, as PIN
// inputs with one box per digit expect. pause is waited after each rune.
func FillEach(s Surface, value string, pause time.Duration) resilience.Action[struct{}] {
	return resilience.ActionFunc[struct{}](func(ctx context.Context, locator string) (struct{}, error) {
		for i, r := range []rune(value) {
			if err := s.FillNth(ctx, locator, i, string(r)); err != nil {
				return struct{}{}, err
			}
			if pause > 0 {
				select {
				case <-ctx.Done():
					return struct{}{}, ctx.Err()
				case <-time.After(pause):
				}
			}
		}
		return struct{}{}, nil
	})
}

// ReadText returns the element's trimmed inner text.
func ReadText(s Surface) resilience.Action[string] {
	return resilience.ActionFunc[string](func(ctx context.Context, locator string) (string, error) {
		text, err := s.InnerText(ctx, locator)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	})
}

// WaitVisible waits until the element is visible.
func WaitVisible(s Surface) resilience.Action[struct{}] {
	return resilience.ActionFunc[struct{}](func(ctx context.Context, locator string) (struct{}, error) {
		return struct{}{}, s.WaitVisible(ctx, locator)
	})
}

// WaitEnabled waits until the element is visible and not disabled.
func WaitEnabled(s Surface) resilience.Action[struct{}] {
	return resilience.ActionFunc[struct{}](func(ctx context.Context, locator string) (struct{}, error) {
		return struct{}{}, s.WaitVisible(ctx, locator+enabledSuffix)
	})
}

// Count returns how many elements match.
func Count(s Surface) resilience.Action[int] {
	return resilience.ActionFunc[int](func(ctx context.Context, locator string) (int, error) {
		return s.Count(ctx, locator)
	})
}
