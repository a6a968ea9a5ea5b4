package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/betpilot/browser"
	"github.com/itsneelabh/betpilot/resilience"
)

type actOptions struct {
	url     string
	context string
	element string
	action  string
	value   string
	retries int
}

var actActions = []string{"click", "fill", "text", "wait", "count"}

// NewActCommand creates the act command.
func NewActCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &actOptions{}

	cmd := &cobra.Command{
		Use:   "act",
		Short: "Open a page and run one self-healing action",
		Long: `Open --url and run one action on the element known as --element in
--context. A missing or stale locator is rediscovered and the result is
persisted for later runs.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAct(cmd, rootOpts, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "page to open (required)")
	f.StringVar(&opts.context, "context", "", "knowledge context of the page (required)")
	f.StringVar(&opts.element, "element", "", "element key (required)")
	f.StringVar(&opts.action, "action", "click", "one of click|fill|text|wait|count")
	f.StringVar(&opts.value, "value", "", "value for fill")
	f.IntVar(&opts.retries, "retries", -1, "healing retries (default: healing.max_retries)")

	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("context")
	_ = cmd.MarkFlagRequired("element")

	return cmd
}

func (o *actOptions) validate() error {
	if !slices.Contains(actActions, o.action) {
		return fmt.Errorf("invalid action %q: must be one of %v", o.action, actActions)
	}
	if o.action == "fill" && o.value == "" {
		return fmt.Errorf("--value is required for fill")
	}
	return nil
}

func runAct(cmd *cobra.Command, rootOpts *RootOptions, opts *actOptions) error {
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

	retries := opts.retries
	if retries < 0 {
		retries = rt.cfg.Healing.MaxRetries
	}

	out := cmd.OutOrStdout()
	switch opts.action {
	case "click":
		_, err = resilience.Execute(ctx, h, opts.context, opts.element, browser.Click(session), retries)
	case "fill":
		_, err = resilience.Execute(ctx, h, opts.context, opts.element, browser.Fill(session, opts.value), retries)
	case "wait":
		_, err = resilience.Execute(ctx, h, opts.context, opts.element, browser.WaitVisible(session), retries)
	case "text":
		var text string
		if text, err = resilience.Execute(ctx, h, opts.context, opts.element, browser.ReadText(session), retries); err == nil {
			fmt.Fprintln(out, text)
		}
	case "count":
		var n int
		if n, err = resilience.Execute(ctx, h, opts.context, opts.element, browser.Count(session), retries); err == nil {
			fmt.Fprintln(out, n)
		}
	}
	if err != nil {
		return err
	}

	locator, _ := store.Get(opts.context, opts.element)
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s.%s via %s\n", opts.action, opts.context, opts.element, locator)
	return nil
}
