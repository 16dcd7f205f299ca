package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/smeltworks/smelt/pkg/eval"
	"github.com/smeltworks/smelt/pkg/label"
)

func newInspectCommand() *cobra.Command {
	var (
		cell          string
		configuration string
		mode          string
		timeout       time.Duration
		output        string
	)

	cmd := &cobra.Command{
		Use:   "inspect <label>",
		Short: "Inspect a target's provider collection",
		Long: `Evaluate a single target and print its provider collection.

The label may carry a sub-target path, which descends through the
DefaultInfo sub-target tree of the evaluated collection. The build file
is located through the workspace's cell roots.`,
		Example: `  # Inspect a target's providers
  smelt inspect //examples/hello:hello

  # Descend into a nested sub-target
  smelt inspect "//examples/hello:hello[tests][unit]"

  # Full payload as JSON
  smelt inspect //examples/hello:hello -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			pl, err := label.ParseProvidersLabel(qualifyLabel(args[0], cell))
			if err != nil {
				return err
			}

			cellDir, err := rt.cellRoot(pl.Target().Cell())
			if err != nil {
				return err
			}
			buildFile := filepath.Join(cellDir, filepath.FromSlash(pl.Target().Package()), rt.ws.BuildFileName)

			if configuration == "" {
				configuration = rt.ws.DefaultConfiguration
			}

			evaluator, err := eval.NewEvaluator(&eval.Config{
				Cell:          pl.Target().Cell(),
				Configuration: label.NewConfiguration(configuration, ""),
				Mode:          eval.Mode(mode),
				Timeout:       timeout,
				Logger:        rt.tel.Logger,
				Metrics:       rt.tel.Metrics,
				Events:        rt.tel.Events,
				Reporter:      rt.reporter,
			})
			if err != nil {
				return err
			}

			if err := evaluator.EvalFile(ctx, pl.Target().Package(), buildFile, nil); err != nil {
				return fmt.Errorf("failed to evaluate %s: %w", buildFile, err)
			}

			res, err := evaluator.EvalTarget(ctx, pl.Target().String())
			if err != nil {
				return err
			}

			configured := label.ConfigureProviders(pl, res.Label.Configuration())
			inner, err := res.Providers.LookupInner(configured)
			if err != nil {
				return err
			}

			format := resolveFormat(cmd, output)
			if format == outputText {
				fmt.Printf("%s\n", configured)
			}
			return printCollection(inner, format)
		},
	}

	cmd.Flags().StringVar(&cell, "cell", "root", "cell bare // labels are resolved against")
	cmd.Flags().StringVar(&configuration, "configuration", "", "configuration name (default from the workspace manifest)")
	cmd.Flags().StringVar(&mode, "mode", string(eval.ModeStrict), "collection mode: strict or lenient")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "evaluation timeout")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json, or yaml")

	return cmd
}
