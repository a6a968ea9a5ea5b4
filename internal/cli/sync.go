package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/reconcile"
	"github.com/itsneelabh/betpilot/resilience"
	"github.com/itsneelabh/betpilot/store/postgrest"
)

type syncOptions struct {
	schedule        string
	collectionsFile string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync [collection...]",
		Short: "Reconcile local collections with the remote store",
		Long: `Run one reconciliation pass over the named collections, or all of them.

With --schedule the pass repeats on a cron schedule (seconds field first)
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.schedule, "schedule", "", `cron schedule with seconds, e.g. "0 */15 * * * *"`)
	f.StringVar(&opts.collectionsFile, "collections", "", "YAML file listing collections (default: built-in list)")

	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *syncOptions, names []string) error {
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
	cfg := rt.cfg
	logger := core.ComponentLogger(rt.logger, "sync")

	if !cfg.RemoteConfigured() {
		logger.Warn("Remote store not configured, skipping sync", nil)
		fmt.Fprintln(cmd.OutOrStdout(), "remote store not configured; nothing to do")
		return nil
	}

	file := opts.collectionsFile
	if file == "" {
		file = cfg.Sync.CollectionsFile
	}
	all := reconcile.DefaultCollections()
	if file != "" {
		if all, err = reconcile.LoadCollections(file); err != nil {
			return err
		}
	}
	collections, err := reconcile.Select(all, names)
	if err != nil {
		return err
	}

	local, err := rt.localStore()
	if err != nil {
		return err
	}
	remote, err := postgrest.NewClient(cfg.Remote, rt.logger)
	if err != nil {
		return err
	}

	var breaker *resilience.CircuitBreaker
	if cfg.Resilience.CircuitBreaker.Enabled {
		breaker, err = resilience.NewCircuitBreaker(resilience.ConfigFrom("remote-store", cfg.Resilience.CircuitBreaker, rt.logger, rt.tel))
		if err != nil {
			return err
		}
	}

	r := reconcile.NewReconciler(local, remote,
		reconcile.FromConfig(cfg),
		reconcile.WithCircuitBreaker(breaker),
		reconcile.WithLogger(rt.logger),
		reconcile.WithTelemetry(rt.tel),
		reconcile.WithEvents(rt.events),
	)

	schedule := opts.schedule
	if schedule == "" {
		schedule = cfg.Sync.Schedule
	}
	if schedule == "" {
		report := r.Reconcile(ctx, collections)
		printReport(cmd.OutOrStdout(), report)
		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d of %d collection(s) failed", len(failed), len(report.Collections))
		}
		return nil
	}
	return runScheduled(ctx, cmd.OutOrStdout(), logger, schedule, func(ctx context.Context) {
		printReport(cmd.OutOrStdout(), r.Reconcile(ctx, collections))
	})
}

// runScheduled runs pass on schedule until ctx is done. Passes never
// overlap; a tick that fires while a pass is running is skipped.
func runScheduled(ctx context.Context, out io.Writer, logger core.Logger, schedule string, pass func(context.Context)) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return &core.FrameworkError{Op: "cli.sync", Kind: "config", Message: fmt.Sprintf("bad schedule %q", schedule), Err: fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)}
	}

	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() { pass(ctx) }))
	c.Start()
	next := sched.Next(time.Now())
	logger.Info("Sync scheduled", map[string]interface{}{
		"schedule": schedule,
		"next":     next.Format(time.RFC3339),
	})
	fmt.Fprintf(out, "sync scheduled (%s), next pass at %s\n", schedule, next.Format(time.RFC3339))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("Sync schedule stopped", nil)
	return nil
}

func printReport(w io.Writer, report reconcile.Report) {
	fmt.Fprintf(w, "run %s (%s)\n", report.RunID, report.Finished.Sub(report.Started).Round(time.Millisecond))
	for _, c := range report.Collections {
		status := "ok"
		switch {
		case core.IsNotFound(c.Err):
			status = "skipped: no local snapshot"
		case c.Err != nil:
			status = "FAILED: " + c.Err.Error()
		}
		fmt.Fprintf(w, "  %-22s push=%d pull=%d unchanged=%d dropped=%d %s\n",
			c.Collection, c.Upsert.Submitted, c.Pulled, c.Unchanged, c.Upsert.Dropped(), status)
	}
}
