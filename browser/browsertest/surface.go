// Package browsertest provides an in-memory browser.Surface for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/itsneelabh/betpilot/browser"
)

// Call records one surface operation.
type Call struct {
	Op      string
	Locator string
	Index   int
	Value   string
}

// Surface is a fake page. An element exists when its locator was added
// with Show or SetText; operations on any other locator fail. It is safe
// for concurrent use.
type Surface struct {
	mu      sync.Mutex
	url     string
	present map[string]int
	texts   map[string]string
	fails   map[string]error
	onClick map[string]func(*Surface)
	calls   []Call
}

var _ browser.Surface = (*Surface)(nil)

// New returns an empty page.
func New() *Surface {
	return &Surface{
		present: map[string]int{},
		texts:   map[string]string{},
		fails:   map[string]error{},
		onClick: map[string]func(*Surface){},
	}
}

// Show makes locator match n elements, at least one.
func (s *Surface) Show(locator string, n ...int) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 1
	if len(n) > 0 && n[0] > 0 {
		count = n[0]
	}
	s.present[locator] = count
	return s
}

// Hide removes locator.
func (s *Surface) Hide(locator string) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.present, locator)
	delete(s.texts, locator)
	return s
}

// SetText shows locator with the given inner text.
func (s *Surface) SetText(locator, text string) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present[locator] == 0 {
		s.present[locator] = 1
	}
	s.texts[locator] = text
	return s
}

// Fail makes every operation on locator return err.
func (s *Surface) Fail(locator string, err error) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[locator] = err
	return s
}

// OnClick runs fn after a successful click on locator.
func (s *Surface) OnClick(locator string, fn func(*Surface)) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick[locator] = fn
	return s
}

// Calls returns the recorded operations.
func (s *Surface) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Ops returns the recorded operations as "op locator" strings, with the
// index appended for fill_nth.
func (s *Surface) Ops() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		switch c.Op {
		case "fill_nth":
			out[i] = fmt.Sprintf("%s %s[%d]", c.Op, c.Locator, c.Index)
		case "navigate":
			out[i] = c.Op + " " + c.Value
		default:
			out[i] = c.Op + " " + c.Locator
		}
	}
	return out
}

// URL is the last navigated address.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "navigate", Value: url})
	s.url = url
	return nil
}

func (s *Surface) Click(ctx context.Context, locator string) error {
	s.mu.Lock()
	err := s.check(ctx, Call{Op: "click", Locator: locator})
	fn := s.onClick[locator]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if fn != nil {
		fn(s)
	}
	return nil
}

func (s *Surface) Fill(ctx context.Context, locator, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx, Call{Op: "fill", Locator: locator, Value: value})
}

func (s *Surface) FillNth(ctx context.Context, locator string, index int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, Call{Op: "fill_nth", Locator: locator, Index: index, Value: value}); err != nil {
		return err
	}
	if index >= s.present[locator] {
		return fmt.Errorf("fill %s[%d]: only %d match(es)", locator, index, s.present[locator])
	}
	return nil
}

func (s *Surface) InnerText(ctx context.Context, locator string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, Call{Op: "read", Locator: locator}); err != nil {
		return "", err
	}
	return s.texts[locator], nil
}

func (s *Surface) WaitVisible(ctx context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx, Call{Op: "wait", Locator: locator})
}

func (s *Surface) Count(ctx context.Context, locator string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "count", Locator: locator})
	return s.present[locator], nil
}

// check records c and reports whether its locator can be acted on. A
// locator with a ":not(...)" suffix matches its base when the base is
// present and the full form is not explicitly failed.
func (s *Surface) check(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.calls = append(s.calls, c)
	if err, ok := s.fails[c.Locator]; ok {
		return err
	}
	if s.present[c.Locator] > 0 {
		return nil
	}
	if base, _, ok := strings.Cut(c.Locator, ":not("); ok && s.present[base] > 0 {
		return nil
	}
	return fmt.Errorf("%s %s: no element matches", c.Op, c.Locator)
}
