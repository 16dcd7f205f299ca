// Package commands implements the smelt CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smeltworks/smelt/pkg/config"
	"github.com/smeltworks/smelt/pkg/diag"
	"github.com/smeltworks/smelt/pkg/policy"
	"github.com/smeltworks/smelt/pkg/stores"
	"github.com/smeltworks/smelt/pkg/telemetry"
)

// defaultManifest is the workspace manifest picked up from the working
// directory when --config is not given.
const defaultManifest = "smelt.cue"

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// cliVersion is threaded into telemetry as the service version.
	cliVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	cliVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "smelt",
		Short: "Smelt - Build Rule Evaluation Engine",
		Long: `Smelt evaluates Starlark build files into frozen provider collections.

Features:
  - Starlark build files with typed providers and sub-target trees
  - Immutable provider collections addressed by configured labels
  - SQLite result store with digest verification
  - OPA policy checks over analysis results
  - CUE workspace manifests with schema validation`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "workspace manifest path (default "+defaultManifest+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

// runtime bundles the state every command builds from the workspace
// manifest: configuration, telemetry, and the diagnostics reporter.
type runtime struct {
	ws       *config.WorkspaceConfig
	tel      *telemetry.Telemetry
	reporter *diag.Reporter
}

// newRuntime loads the workspace manifest and brings up the telemetry stack.
func newRuntime(ctx context.Context) (*runtime, error) {
	ws, err := loadWorkspace(ctx)
	if err != nil {
		return nil, err
	}

	tcfg := ws.ToTelemetryConfig(cliVersion)
	if verbose {
		tcfg.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	handler := diag.NewLogHandler(tel.Logger)
	if ws.Diagnostics.Quiet {
		base := handler
		handler = func(category string, err error, _ bool) {
			base(category, err, true)
		}
	}

	return &runtime{
		ws:       ws,
		tel:      tel,
		reporter: diag.NewReporter(handler, ws.ToEscalation()),
	}, nil
}

// loadWorkspace reads the manifest named by --config, falling back to
// smelt.cue in the working directory, then to the built-in defaults.
func loadWorkspace(ctx context.Context) (*config.WorkspaceConfig, error) {
	if configPath != "" {
		return config.Load(ctx, configPath)
	}
	if _, err := os.Stat(defaultManifest); err == nil {
		return config.Load(ctx, defaultManifest)
	}
	return config.DefaultWorkspaceConfig(), nil
}

func (r *runtime) shutdown(ctx context.Context) {
	if err := r.tel.Shutdown(ctx); err != nil {
		r.tel.Logger.WithError(err).Warn("Telemetry shutdown failed")
	}
}

// openStore opens the workspace result store and runs pending migrations.
func (r *runtime) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(r.ws.Store.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(r.ws.ToStoreConfig(r.reporter))
	if err != nil {
		return nil, fmt.Errorf("failed to create result store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate result store: %w", err)
	}
	return store, nil
}

// newPolicyEngine builds a policy engine with the workspace's policy paths
// loaded on top of the builtins.
func (r *runtime) newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(policy.Config{
		Logger:   r.tel.Logger,
		Metrics:  r.tel.Metrics,
		Events:   r.tel.Events,
		Reporter: r.reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(r.ws.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, r.ws.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// cellRoot resolves a cell name to its directory on disk.
func (r *runtime) cellRoot(cell string) (string, error) {
	root, ok := r.ws.Cells[cell]
	if !ok {
		names := make([]string, 0, len(r.ws.Cells))
		for name := range r.ws.Cells {
			names = append(names, name)
		}
		return "", fmt.Errorf("unknown cell %q (declared cells: %s)", cell, strings.Join(names, ", "))
	}
	return root, nil
}

// qualifyLabel prepends the cell to labels written with a bare // prefix.
func qualifyLabel(raw, cell string) string {
	if strings.HasPrefix(raw, "//") {
		return cell + raw
	}
	return raw
}
