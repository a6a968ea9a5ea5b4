package withdrawal

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/betpilot/browser"
	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/events"
	"github.com/itsneelabh/betpilot/resilience"
)

// Context is the knowledge-store context of the withdrawal page.
const Context = "fb_withdraw_page"

// Element keys on the withdrawal page.
const (
	ElemAmountInput       = "amount_input"
	ElemSubmit            = "withdraw_submit_button"
	ElemConfirmDialog     = "confirm_dialog_wrapper"
	ElemConfirmAmount     = "confirm_amount_value"
	ElemConfirmBank       = "confirm_bank_value"
	ElemConfirmAccount    = "confirm_account_value"
	ElemConfirmName       = "confirm_account_name_value"
	ElemConfirmButton     = "confirm_confirm_button"
	ElemPinInputs         = "pin_input_fields"
	ElemPinConfirm        = "pin_confirm_button"
	ElemSuccessDialog     = "success_dialog_wrapper"
	ElemSuccessTitle      = "success_title"
	ElemSuccessHomeButton = "success_home_btn"
)

// pendingTitle is the success dialog title of an accepted request.
const pendingTitle = "Pending Request"

// BalanceReader reports the account balance currently shown.
type BalanceReader interface {
	Balance(ctx context.Context) (float64, error)
}

// ElementBalance reads the balance from one element's text through the
// executor.
type ElementBalance struct {
	Healer     *resilience.Healer
	Page       browser.Surface
	Context    string
	Element    string
	MaxRetries int
}

func (b *ElementBalance) Balance(ctx context.Context) (float64, error) {
	text, err := resilience.Execute(ctx, b.Healer, b.Context, b.Element, browser.ReadText(b.Page), b.MaxRetries)
	if err != nil {
		return 0, err
	}
	return ParseAmount(text)
}

// Flow submits a withdrawal request and verifies it. A Flow owns its page
// while Run is in progress.
type Flow struct {
	Healer     *resilience.Healer
	Page       browser.Surface
	Balance    BalanceReader
	Audit      *AuditLog
	PIN        string
	MaxRetries int
	// PinPause is waited after each PIN digit.
	PinPause time.Duration
	// SettleDelay is waited before the balance is read again.
	SettleDelay time.Duration
	// Tolerance bounds the difference between expected and actual balance.
	Tolerance float64
	Logger    core.Logger
	Events    events.Sink

	now func() time.Time
}

// NewFlow returns a flow with the site's pacing defaults.
func NewFlow(h *resilience.Healer, page browser.Surface, balance BalanceReader, audit *AuditLog, pin string) *Flow {
	return &Flow{
		Healer:      h,
		Page:        page,
		Balance:     balance,
		Audit:       audit,
		PIN:         pin,
		MaxRetries:  3,
		PinPause:    300 * time.Millisecond,
		SettleDelay: 3 * time.Second,
		Tolerance:   0.1,
		Logger:      &core.NoOpLogger{},
		Events:      events.Nop{},
		now:         time.Now,
	}
}

// Run withdraws amount and returns the audit record written for it.
// Failures that mean the site did not accept the request, or accepted a
// different amount than it charged, wrap core.ErrWithdrawalRejected.
func (f *Flow) Run(ctx context.Context, amount int, reason string) (*Record, error) {
	if amount < MinAmount {
		return nil, f.reject("amount %d is below the minimum %d", amount, MinAmount)
	}
	if f.PIN == "" || strings.Trim(f.PIN, "0123456789") != "" {
		return nil, &core.FrameworkError{Op: "withdrawal.Run", Kind: "config", Err: fmt.Errorf("pin must be digits: %w", core.ErrInvalidConfiguration)}
	}

	logger := core.ComponentLogger(f.Logger, "withdrawal")
	runID := uuid.NewString()
	f.emit(ctx, runID, events.TypeWithdrawalStarted, nil, map[string]interface{}{"amount": amount, "reason": reason})

	rec, err := f.run(ctx, logger, amount, reason)
	if err != nil {
		logger.Error("Withdrawal failed", map[string]interface{}{
			"run_id": runID,
			"amount": amount,
			"error":  err.Error(),
		})
		f.emit(ctx, runID, events.TypeWithdrawalFailed, err, map[string]interface{}{"amount": amount})
		return nil, err
	}

	logger.Info("Withdrawal completed", map[string]interface{}{
		"run_id":         runID,
		"amount":         rec.Amount,
		"balance_before": rec.BalanceBefore,
		"balance_after":  rec.BalanceAfter,
	})
	f.emit(ctx, runID, events.TypeWithdrawalCompleted, nil, map[string]interface{}{"amount": rec.Amount})
	return rec, nil
}

func (f *Flow) run(ctx context.Context, logger core.Logger, amount int, reason string) (*Record, error) {
	before, err := f.Balance.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	logger.Info("Starting withdrawal", map[string]interface{}{"amount": amount, "balance": before})

	page := f.Page
	if err := f.do(ctx, ElemAmountInput, browser.Fill(page, strconv.Itoa(amount))); err != nil {
		return nil, err
	}
	if err := f.do(ctx, ElemSubmit, browser.WaitEnabled(page)); err != nil {
		return nil, err
	}
	if err := f.do(ctx, ElemSubmit, browser.Click(page)); err != nil {
		return nil, err
	}

	if err := f.do(ctx, ElemConfirmDialog, browser.WaitVisible(page)); err != nil {
		return nil, err
	}
	rec := &Record{Reason: reason, BalanceBefore: before}
	for _, field := range []struct {
		element string
		dst     *string
	}{
		{ElemConfirmAmount, &rec.Amount},
		{ElemConfirmBank, &rec.Bank},
		{ElemConfirmAccount, &rec.AccountNumber},
		{ElemConfirmName, &rec.AccountName},
	} {
		v, err := resilience.Execute(ctx, f.Healer, Context, field.element, browser.ReadText(page), f.MaxRetries)
		if err != nil {
			return nil, err
		}
		*field.dst = v
	}
	logger.Debug("Confirmation details", map[string]interface{}{
		"amount":         rec.Amount,
		"bank":           rec.Bank,
		"account_number": rec.AccountNumber,
	})
	if err := f.do(ctx, ElemConfirmButton, browser.Click(page)); err != nil {
		return nil, err
	}

	if err := f.do(ctx, ElemPinInputs, browser.WaitVisible(page)); err != nil {
		return nil, err
	}
	if err := f.do(ctx, ElemPinInputs, browser.FillEach(page, f.PIN, f.PinPause)); err != nil {
		return nil, err
	}
	if err := f.do(ctx, ElemPinConfirm, browser.WaitEnabled(page)); err != nil {
		return nil, err
	}
	if err := f.do(ctx, ElemPinConfirm, browser.Click(page)); err != nil {
		return nil, err
	}

	if err := f.do(ctx, ElemSuccessDialog, browser.WaitVisible(page)); err != nil {
		return nil, f.reject("no %q dialog after pin: %v", pendingTitle, err)
	}
	title, err := resilience.Execute(ctx, f.Healer, Context, ElemSuccessTitle, browser.ReadText(page), f.MaxRetries)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(title, pendingTitle) {
		return nil, f.reject("success dialog title is %q", title)
	}

	if err := sleep(ctx, f.SettleDelay); err != nil {
		return nil, err
	}
	after, err := f.Balance.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read balance after withdrawal: %w", err)
	}
	withdrawn, err := ParseAmount(rec.Amount)
	if err != nil {
		return nil, f.reject("confirmed amount: %v", err)
	}
	if expected := before - withdrawn; math.Abs(after-expected) > f.Tolerance {
		return nil, f.reject("balance verification failed: before %.2f, expected %.2f, actual %.2f", before, expected, after)
	}
	rec.BalanceAfter = after
	rec.Time = f.clock()

	if f.Audit != nil {
		if err := f.Audit.Append(*rec); err != nil {
			return nil, fmt.Errorf("record withdrawal: %w", err)
		}
	}

	// leaving the dialog is optional
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := resilience.Do(closeCtx, f.Healer, Context, ElemSuccessHomeButton, f.Page.Click, 0); err != nil {
		logger.Debug("Success dialog left open", map[string]interface{}{"error": err.Error()})
	}
	return rec, nil
}

func (f *Flow) do(ctx context.Context, element string, action resilience.Action[struct{}]) error {
	_, err := resilience.Execute(ctx, f.Healer, Context, element, action, f.MaxRetries)
	return err
}

func (f *Flow) reject(format string, args ...interface{}) error {
	return &core.FrameworkError{
		Op:   "withdrawal.Run",
		Kind: "withdrawal",
		Err:  fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrWithdrawalRejected),
	}
}

func (f *Flow) clock() time.Time {
	if f.now == nil {
		return time.Now()
	}
	return f.now()
}

func (f *Flow) emit(ctx context.Context, runID, typ string, err error, fields map[string]interface{}) {
	evt := events.Event{ID: runID, Type: typ, Source: "withdrawal", Context: Context, Fields: fields}
	if err != nil {
		evt.Error = err.Error()
	}
	events.Emit(ctx, f.Events, f.Logger, evt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
