package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smeltworks/smelt/pkg/config"
	"github.com/smeltworks/smelt/pkg/eval"
	"github.com/smeltworks/smelt/pkg/label"
	"github.com/smeltworks/smelt/pkg/policy"
	"github.com/smeltworks/smelt/pkg/provider"
	"github.com/smeltworks/smelt/pkg/stores"
)

func newEvalCommand() *cobra.Command {
	var (
		cell          string
		pkgOverride   string
		configuration string
		mode          string
		timeout       time.Duration
		parallel      int
		output        string
		store         bool
	)

	cmd := &cobra.Command{
		Use:   "eval [path]",
		Short: "Evaluate a build file",
		Long: `Evaluate a Starlark build file and print the provider collections its
targets produce.

The path may be a build file or a package directory, in which case the
workspace's build file name is appended. With no path the current
directory is evaluated. Targets are registered under the package derived
from the file's directory unless --package overrides it.`,
		Example: `  # Evaluate the build file in the current directory
  smelt eval

  # Evaluate a package directory
  smelt eval examples/hello

  # Evaluate under a named configuration and persist the results
  smelt eval examples/hello --configuration release --store

  # Machine-readable output
  smelt eval examples/hello -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			if _, err := rt.cellRoot(cell); err != nil {
				return err
			}

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			buildFile, pkg, err := resolveBuildFile(path, rt.ws.BuildFileName)
			if err != nil {
				return err
			}
			if pkgOverride != "" {
				pkg = pkgOverride
			}

			if configuration == "" {
				configuration = rt.ws.DefaultConfiguration
			}

			evaluator, err := eval.NewEvaluator(&eval.Config{
				Cell:          cell,
				Configuration: label.NewConfiguration(configuration, ""),
				Mode:          eval.Mode(mode),
				Timeout:       timeout,
				MaxParallel:   parallel,
				Logger:        rt.tel.Logger,
				Metrics:       rt.tel.Metrics,
				Events:        rt.tel.Events,
				Reporter:      rt.reporter,
			})
			if err != nil {
				return err
			}

			if err := evaluator.EvalFile(ctx, pkg, buildFile, nil); err != nil {
				return fmt.Errorf("failed to evaluate %s: %w", buildFile, err)
			}
			if len(evaluator.Targets()) == 0 {
				return fmt.Errorf("%s declares no targets", buildFile)
			}

			results, err := evaluator.EvalTargets(ctx)
			if err != nil {
				return err
			}

			if rt.ws.Policy.Enabled {
				if err := runPolicyGate(ctx, rt, results); err != nil {
					return err
				}
			}

			if store {
				if err := persistResults(ctx, rt, results); err != nil {
					return err
				}
			}

			return printResults(results, resolveFormat(cmd, output))
		},
	}

	cmd.Flags().StringVar(&cell, "cell", "root", "cell targets are registered under")
	cmd.Flags().StringVar(&pkgOverride, "package", "", "package path to register targets under (default from the file's directory)")
	cmd.Flags().StringVar(&configuration, "configuration", "", "configuration name (default from the workspace manifest)")
	cmd.Flags().StringVar(&mode, "mode", string(eval.ModeStrict), "collection mode: strict or lenient")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-target evaluation timeout")
	cmd.Flags().IntVar(&parallel, "parallel", 10, "maximum concurrent target evaluations")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json, or yaml")
	cmd.Flags().BoolVar(&store, "store", false, "persist results to the result store")

	return cmd
}

// resolveBuildFile turns a path argument into a build file plus the package
// its targets are registered under.
func resolveBuildFile(path, buildFileName string) (string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to access %s: %w", path, err)
	}

	file := path
	if info.IsDir() {
		file = filepath.Join(path, buildFileName)
		if _, err := os.Stat(file); err != nil {
			return "", "", fmt.Errorf("no %s in %s: %w", buildFileName, path, err)
		}
	}

	pkg := filepath.ToSlash(filepath.Dir(file))
	pkg = strings.TrimPrefix(pkg, "./")
	if pkg == "." {
		pkg = ""
	}
	return file, pkg, nil
}

// runPolicyGate evaluates every result against the policy engine. A denied
// result fails the run in enforcing mode; advisory mode only reports.
func runPolicyGate(ctx context.Context, rt *runtime, results []*eval.Result) error {
	engine, err := rt.newPolicyEngine(ctx)
	if err != nil {
		return err
	}

	denied := 0
	for _, res := range results {
		input, err := policyInput(res)
		if err != nil {
			return err
		}
		verdict, err := engine.Evaluate(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to evaluate policies for %s: %w", res.Label, err)
		}
		printViolations(res.Label.String(), verdict)
		if !verdict.Allowed {
			denied++
		}
	}

	if denied > 0 && rt.ws.Policy.Mode != config.PolicyModeAdvisory {
		return fmt.Errorf("policy check failed for %d of %d targets", denied, len(results))
	}
	return nil
}

// policyInput converts a live evaluation result into policy engine input.
func policyInput(res *eval.Result) (*policy.PolicyInput, error) {
	raw, err := provider.EncodeValue(res.Providers.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize providers for %s: %w", res.Label, err)
	}
	var providers map[string]interface{}
	if err := json.Unmarshal(raw, &providers); err != nil {
		return nil, fmt.Errorf("failed to decode providers for %s: %w", res.Label, err)
	}
	return &policy.PolicyInput{
		Label:         res.Label.Target().String(),
		Configuration: res.Label.Configuration().String(),
		ProviderNames: res.Providers.Collection().ProviderNames(),
		Providers:     providers,
	}, nil
}

func printViolations(target string, verdict *policy.PolicyResult) {
	for _, v := range verdict.Violations {
		fmt.Fprintf(os.Stderr, "policy %s: %s: %s (%s)\n", v.Policy, target, v.Message, v.Severity)
	}
	for _, warning := range verdict.Warnings {
		fmt.Fprintf(os.Stderr, "policy warning: %s\n", warning)
	}
}

// persistResults records each evaluation and its frozen collection in the
// result store. Every result gets its own evaluation row so reruns stay
// traceable.
func persistResults(ctx context.Context, rt *runtime, results []*eval.Result) error {
	store, err := rt.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, res := range results {
		if err := persistResult(ctx, store, res); err != nil {
			return err
		}
	}

	rt.tel.Logger.
		WithField("count", len(results)).
		WithField("path", rt.ws.Store.Path).
		Info("Stored analysis results")
	return nil
}

func persistResult(ctx context.Context, store *stores.SQLiteStore, res *eval.Result) error {
	providers, err := provider.EncodeValue(res.Providers.Value())
	if err != nil {
		return fmt.Errorf("failed to serialize providers for %s: %w", res.Label, err)
	}
	names, err := json.Marshal(res.Providers.Collection().ProviderNames())
	if err != nil {
		return fmt.Errorf("failed to serialize provider names for %s: %w", res.Label, err)
	}

	now := time.Now()
	evaluation := &stores.Evaluation{
		ID:            res.EvaluationID,
		Label:         res.Label.Target().String(),
		Configuration: res.Label.Configuration().String(),
		Status:        stores.EvaluationStatusRunning,
		StartedAt:     res.StartedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateEvaluation(ctx, evaluation); err != nil {
		return err
	}

	result := &stores.AnalysisResult{
		ID:            uuid.New().String(),
		Label:         res.Label.Target().String(),
		Configuration: res.Label.Configuration().String(),
		ProviderNames: string(names),
		Providers:     string(providers),
		EvaluationID:  res.EvaluationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.PutResult(ctx, result); err != nil {
		msg := err.Error()
		_ = store.UpdateEvaluationStatus(ctx, res.EvaluationID, stores.EvaluationStatusFailed, &msg)
		return err
	}

	return store.UpdateEvaluationStatus(ctx, res.EvaluationID, stores.EvaluationStatusCompleted, nil)
}

// resultOutput is the serialized form of one evaluation result.
type resultOutput struct {
	Label         string          `json:"label"`
	Configuration string          `json:"configuration"`
	EvaluationID  string          `json:"evaluation_id"`
	ProviderNames []string        `json:"provider_names"`
	Providers     json.RawMessage `json:"providers"`
	DurationMS    int64           `json:"duration_ms"`
}

func printResults(results []*eval.Result, format string) error {
	switch format {
	case outputText:
		for _, res := range results {
			coll := res.Providers.Collection()
			fmt.Printf("%s\n", res.Label)
			fmt.Printf("  providers: %s\n", strings.Join(coll.ProviderNames(), ", "))
			if info := coll.DefaultInfo(); info != nil {
				if names := info.SubTargetNames(); len(names) > 0 {
					fmt.Printf("  sub-targets: %s\n", strings.Join(names, ", "))
				}
			}
			fmt.Printf("  duration: %s\n", res.Duration.Round(time.Millisecond))
		}
		fmt.Printf("\nEvaluated %d target(s)\n", len(results))
		return nil
	case outputJSON:
		outputs, err := collectOutputs(results)
		if err != nil {
			return err
		}
		return printJSON(outputs)
	case outputYAML:
		outputs, err := collectOutputs(results)
		if err != nil {
			return err
		}
		return printYAML(outputs)
	default:
		return fmt.Errorf("unknown output format: %s (expected text, json, or yaml)", format)
	}
}

func collectOutputs(results []*eval.Result) ([]resultOutput, error) {
	outputs := make([]resultOutput, 0, len(results))
	for _, res := range results {
		raw, err := provider.EncodeValue(res.Providers.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to serialize providers for %s: %w", res.Label, err)
		}
		outputs = append(outputs, resultOutput{
			Label:         res.Label.Target().String(),
			Configuration: res.Label.Configuration().String(),
			EvaluationID:  res.EvaluationID,
			ProviderNames: res.Providers.Collection().ProviderNames(),
			Providers:     raw,
			DurationMS:    res.Duration.Milliseconds(),
		})
	}
	return outputs, nil
}
