package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smeltworks/smelt/pkg/config"
	"github.com/smeltworks/smelt/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy checks over stored results",
		Long: `Evaluate Rego policies against stored analysis results.

Policies come from the builtin set plus the paths listed in the
workspace manifest. In enforcing mode a denied result fails the
command; advisory mode only reports violations.`,
	}

	cmd.AddCommand(newPolicyCheckCommand())
	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		cell          string
		configuration string
	)

	cmd := &cobra.Command{
		Use:   "check <label>",
		Short: "Check a stored result against the loaded policies",
		Example: `  # Check the stored result for a target
  smelt policy check //examples/hello:hello

  # Check a specific configuration
  smelt policy check //examples/hello:hello --configuration release`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			lbl, cfg, err := storeKey(rt, args[0], cell, configuration)
			if err != nil {
				return err
			}

			store, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.GetResult(ctx, lbl, cfg)
			if err != nil {
				return err
			}

			input, err := policy.NewInputFromJSON(res.Label, res.Configuration, res.ProviderNames, res.Providers)
			if err != nil {
				return err
			}

			engine, err := rt.newPolicyEngine(ctx)
			if err != nil {
				return err
			}

			verdict, err := engine.Evaluate(ctx, input)
			if err != nil {
				return fmt.Errorf("failed to evaluate policies for %s: %w", lbl, err)
			}

			if jsonOutput {
				if err := printJSON(verdict); err != nil {
					return err
				}
			} else {
				printViolations(lbl, verdict)
			}

			if !verdict.Allowed {
				if rt.ws.Policy.Mode == config.PolicyModeAdvisory {
					if !jsonOutput {
						fmt.Printf("%s denied by policy (advisory mode, not enforced)\n", lbl)
					}
					return nil
				}
				return fmt.Errorf("policy check failed for %s (%s)", lbl, cfg)
			}

			if !jsonOutput {
				fmt.Printf("✓ %s passes %d policies\n", lbl, len(verdict.EvaluatedPolicies))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cell, "cell", "root", "cell bare // labels are resolved against")
	cmd.Flags().StringVar(&configuration, "configuration", "", "configuration name (default from the workspace manifest)")

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			engine, err := rt.newPolicyEngine(ctx)
			if err != nil {
				return err
			}

			policies := engine.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}

			fmt.Printf("%-32s %-10s %-8s %s\n", "NAME", "SEVERITY", "ENABLED", "DESCRIPTION")
			for _, p := range policies {
				fmt.Printf("%-32s %-10s %-8t %s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return nil
		},
	}

	return cmd
}
