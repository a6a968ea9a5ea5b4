package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/discovery"
)

// Options configures a Session.
type Options struct {
	Headless          bool
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	Logger            core.Logger
}

// OptionsFrom converts the browser config section.
func OptionsFrom(cfg core.BrowserConfig, logger core.Logger) Options {
	return Options{
		Headless:          cfg.Headless,
		NavigationTimeout: cfg.NavigationTimeout,
		ActionTimeout:     cfg.ActionTimeout,
		Logger:            logger,
	}
}

// Session is one Chromium page. It is owned by a single flow at a time.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	opts    Options
	logger  core.Logger
}

var (
	_ Surface               = (*Session)(nil)
	_ discovery.Snapshotter = (*Session)(nil)
)

// Launch starts playwright and opens a page. The playwright driver and
// browsers must already be installed.
func Launch(opts Options) (*Session, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 15 * time.Second
	}
	logger := core.ComponentLogger(opts.Logger, "browser")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	page, err := b.NewPage()
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("open page: %w", err)
	}

	logger.Info("Browser session started", map[string]interface{}{
		"headless":            opts.Headless,
		"action_timeout_ms":   opts.ActionTimeout.Milliseconds(),
		"navigate_timeout_ms": opts.NavigationTimeout.Milliseconds(),
	})
	return &Session{pw: pw, browser: b, page: page, opts: opts, logger: logger}, nil
}

// Close shuts the browser and the playwright driver down.
func (s *Session) Close() error {
	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := s.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

// Page exposes the underlying page for code that needs more than Surface.
func (s *Session) Page() playwright.Page {
	return s.page
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout, err := budget(ctx, s.opts.NavigationTimeout)
	if err != nil {
		return err
	}
	_, err = s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeout,
	})
	return classify("navigate "+url, err)
}

func (s *Session) Click(ctx context.Context, locator string) error {
	timeout, err := budget(ctx, s.opts.ActionTimeout)
	if err != nil {
		return err
	}
	err = s.page.Locator(locator).First().Click(playwright.LocatorClickOptions{Timeout: timeout})
	return classify("click "+locator, err)
}

func (s *Session) Fill(ctx context.Context, locator, value string) error {
	timeout, err := budget(ctx, s.opts.ActionTimeout)
	if err != nil {
		return err
	}
	err = s.page.Locator(locator).First().Fill(value, playwright.LocatorFillOptions{Timeout: timeout})
	return classify("fill "+locator, err)
}

func (s *Session) FillNth(ctx context.Context, locator string, index int, value string) error {
	timeout, err := budget(ctx, s.opts.ActionTimeout)
	if err != nil {
		return err
	}
	err = s.page.Locator(locator).Nth(index).Fill(value, playwright.LocatorFillOptions{Timeout: timeout})
	return classify(fmt.Sprintf("fill %s[%d]", locator, index), err)
}

func (s *Session) InnerText(ctx context.Context, locator string) (string, error) {
	timeout, err := budget(ctx, s.opts.ActionTimeout)
	if err != nil {
		return "", err
	}
	text, err := s.page.Locator(locator).First().InnerText(playwright.LocatorInnerTextOptions{Timeout: timeout})
	return text, classify("read "+locator, err)
}

func (s *Session) WaitVisible(ctx context.Context, locator string) error {
	timeout, err := budget(ctx, s.opts.ActionTimeout)
	if err != nil {
		return err
	}
	err = s.page.Locator(locator).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeout,
	})
	return classify("wait "+locator, err)
}

func (s *Session) Count(ctx context.Context, locator string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.page.Locator(locator).Count()
	return n, classify("count "+locator, err)
}

// Snapshot captures the page for the discovery oracle.
func (s *Session) Snapshot(ctx context.Context) (*discovery.PageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	html, err := s.page.Content()
	if err != nil {
		return nil, fmt.Errorf("page content: %w", err)
	}
	title, err := s.page.Title()
	if err != nil {
		s.logger.Debug("Page title unavailable", map[string]interface{}{"error": err})
	}
	shot, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypeJpeg,
		Quality: playwright.Int(60),
	})
	if err != nil {
		// HTML alone is enough for the oracle
		s.logger.Warn("Screenshot failed", map[string]interface{}{"error": err})
		shot = nil
	}
	return &discovery.PageSnapshot{
		URL:        s.page.URL(),
		Title:      title,
		HTML:       html,
		Screenshot: shot,
	}, nil
}

// budget is the playwright timeout in milliseconds: limit, or less if ctx
// expires first.
func budget(ctx context.Context, limit time.Duration) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < limit {
			limit = remaining
		}
	}
	if limit <= 0 {
		return nil, context.DeadlineExceeded
	}
	return playwright.Float(float64(limit.Milliseconds())), nil
}

// classify marks playwright timeouts with core.ErrTimeout.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
