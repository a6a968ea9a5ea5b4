package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/betpilot/core"
)

// NewLocatorsCommand creates the locators command group.
func NewLocatorsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locators",
		Short: "Inspect and edit persisted element locators",
	}
	cmd.AddCommand(newLocatorsListCommand(rootOpts))
	cmd.AddCommand(newLocatorsSetCommand(rootOpts))
	return cmd
}

func newLocatorsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [context]",
		Short: "List persisted locators, optionally for one context",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			p, err := rt.persister()
			if err != nil {
				return err
			}
			if p == nil {
				return &core.FrameworkError{Op: "cli.locators", Kind: "config", Message: "the memory knowledge provider persists nothing", Err: core.ErrInvalidConfiguration}
			}
			all, err := p.Load(ctx)
			if err != nil {
				return err
			}

			contexts := make([]string, 0, len(all))
			for c := range all {
				if len(args) == 1 && c != args[0] {
					continue
				}
				contexts = append(contexts, c)
			}
			sort.Strings(contexts)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONTEXT\tELEMENT\tLOCATOR")
			for _, c := range contexts {
				elements := make([]string, 0, len(all[c]))
				for el := range all[c] {
					elements = append(elements, el)
				}
				sort.Strings(elements)
				for _, el := range elements {
					fmt.Fprintf(w, "%s\t%s\t%s\n", c, el, all[c][el])
				}
			}
			return w.Flush()
		},
	}
}

func newLocatorsSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <context> <element> <locator>",
		Short: "Persist one locator",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			p, err := rt.persister()
			if err != nil {
				return err
			}
			if p == nil {
				return &core.FrameworkError{Op: "cli.locators", Kind: "config", Message: "the memory knowledge provider persists nothing", Err: core.ErrInvalidConfiguration}
			}
			if args[2] == "" {
				return fmt.Errorf("locator must not be empty")
			}
			if err := p.Save(ctx, args[0], map[string]string{args[1]: args[2]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}
