package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/flows/withdrawal"
)

// pinEnv holds the withdrawal PIN. It is never taken from a flag.
const pinEnv = "BETPILOT_WITHDRAW_PIN"

type withdrawOptions struct {
	url            string
	balanceContext string
	balanceElement string
	lastWin        float64
	reason         string
	auditFile      string
	dryRun         bool
}

// NewWithdrawCommand creates the withdraw command.
func NewWithdrawCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &withdrawOptions{}

	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw winnings when the withdrawal rules allow it",
		Long: `Open the withdrawal page, read the balance and withdraw the largest amount
the rules allow: at most 30% of the balance and, when --last-win is set,
at most 50% of that win. Nothing happens below the minimum of 500.

The PIN is read from ` + pinEnv + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithdraw(cmd, rootOpts, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "withdrawal page (required)")
	f.StringVar(&opts.balanceContext, "balance-context", "fb_main_page", "knowledge context of the balance element")
	f.StringVar(&opts.balanceElement, "balance-element", "navbar_balance", "element key of the balance")
	f.Float64Var(&opts.lastWin, "last-win", 0, "amount of the latest win, 0 if unknown")
	f.StringVar(&opts.reason, "reason", "scheduled", "reason stored in the audit log")
	f.StringVar(&opts.auditFile, "audit-file", "DB/withdrawals.csv", "CSV audit log")
	f.BoolVar(&opts.dryRun, "dry-run", false, "only report the planned amount")

	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runWithdraw(cmd *cobra.Command, rootOpts *RootOptions, opts *withdrawOptions) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		_ = rt.Close(sctx)
	}()

	pin := os.Getenv(pinEnv)
	if pin == "" && !opts.dryRun {
		return &core.FrameworkError{Op: "cli.withdraw", Kind: "config", Message: pinEnv + " is not set", Err: core.ErrMissingConfiguration}
	}

	store, persister, err := rt.locatorStore(ctx)
	if err != nil {
		return err
	}
	session, err := rt.launchBrowser()
	if err != nil {
		return err
	}
	h, err := rt.healer(store, persister, session)
	if err != nil {
		return err
	}
	if err := session.Navigate(ctx, opts.url); err != nil {
		return err
	}

	balance := &withdrawal.ElementBalance{
		Healer:     h,
		Page:       session,
		Context:    opts.balanceContext,
		Element:    opts.balanceElement,
		MaxRetries: rt.cfg.Healing.MaxRetries,
	}
	current, err := balance.Balance(ctx)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}

	out := cmd.OutOrStdout()
	amount, ok := withdrawal.Plan(current, opts.lastWin)
	if !ok {
		fmt.Fprintf(out, "balance %.2f: below the withdrawal minimum, skipped\n", current)
		return nil
	}
	if opts.dryRun {
		fmt.Fprintf(out, "balance %.2f: would withdraw %d\n", current, amount)
		return nil
	}

	flow := withdrawal.NewFlow(h, session, balance, withdrawal.NewAuditLog(opts.auditFile), pin)
	flow.MaxRetries = rt.cfg.Healing.MaxRetries
	flow.Logger = rt.logger
	flow.Events = rt.events

	rec, err := flow.Run(ctx, amount, opts.reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "withdrew %s to %s %s, balance %.2f -> %.2f\n",
		rec.Amount, rec.Bank, rec.AccountNumber, rec.BalanceBefore, rec.BalanceAfter)
	return nil
}
