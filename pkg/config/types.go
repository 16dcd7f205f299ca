package config

import (
	"fmt"
	"time"

	"github.com/smeltworks/smelt/pkg/diag"
	"github.com/smeltworks/smelt/pkg/stores"
	"github.com/smeltworks/smelt/pkg/telemetry"
)

// Policy enforcement modes.
const (
	// PolicyModeAdvisory reports violations without failing evaluations.
	PolicyModeAdvisory = "advisory"
	// PolicyModeEnforcing fails evaluations on error-severity violations.
	PolicyModeEnforcing = "enforcing"
)

// WorkspaceConfig is the decoded workspace manifest from smelt.cue.
type WorkspaceConfig struct {
	// Name identifies the workspace.
	Name string `json:"name" validate:"required"`

	// Cells maps cell names to their root directories, relative to the
	// workspace root. Every workspace needs at least the root cell.
	Cells map[string]string `json:"cells" validate:"required,min=1"`

	// BuildFileName is the file evaluated in each package directory.
	BuildFileName string `json:"build_file_name,omitempty" validate:"required"`

	// DefaultConfiguration names the configuration used when none is
	// requested explicitly.
	DefaultConfiguration string `json:"default_configuration,omitempty" validate:"required"`

	// Store configures the result store.
	Store StoreConfig `json:"store"`

	// Policy configures provider policy checking.
	Policy PolicyConfig `json:"policy"`

	// Diagnostics configures soft error reporting.
	Diagnostics DiagnosticsConfig `json:"diagnostics"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetrySettings `json:"telemetry"`
}

// StoreConfig holds the result store settings. Zero values are omitted on
// encode so the schema defaults apply.
type StoreConfig struct {
	Path         string `json:"path,omitempty" validate:"required"`
	MaxOpenConns int    `json:"max_open_conns,omitempty" validate:"min=1"`
	MaxIdleConns int    `json:"max_idle_conns,omitempty" validate:"min=0"`
}

// PolicyConfig holds the policy engine settings.
type PolicyConfig struct {
	Enabled bool     `json:"enabled"`
	Paths   []string `json:"paths,omitempty"`
	Watch   bool     `json:"watch"`
	Mode    string   `json:"mode,omitempty" validate:"omitempty,oneof=advisory enforcing"`
}

// DiagnosticsConfig holds the soft error escalation settings.
type DiagnosticsConfig struct {
	Quiet       bool     `json:"quiet"`
	EscalateAll bool     `json:"escalate_all"`
	Escalate    []string `json:"escalate,omitempty" validate:"dive,min=1"`
}

// TelemetrySettings holds the observability settings.
type TelemetrySettings struct {
	Logging LoggingSettings `json:"logging"`
	Metrics MetricsSettings `json:"metrics"`
	Tracing TracingSettings `json:"tracing"`
}

// LoggingSettings holds structured logging settings.
type LoggingSettings struct {
	Level  string `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `json:"format,omitempty" validate:"omitempty,oneof=json console"`
	Output string `json:"output,omitempty"`
}

// MetricsSettings holds Prometheus exposition settings.
type MetricsSettings struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listen_address,omitempty"`
}

// TracingSettings holds OpenTelemetry tracing settings.
type TracingSettings struct {
	Enabled  bool   `json:"enabled"`
	Exporter string `json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string `json:"endpoint,omitempty"`
}

// ParsedConfig is the result of parsing workspace configuration sources.
type ParsedConfig struct {
	// Workspace is the decoded configuration, nil when validation failed.
	Workspace *WorkspaceConfig `json:"workspace,omitempty"`

	// SourceFiles lists the sources that contributed to the configuration.
	SourceFiles []string `json:"source_files"`

	// ParsedAt records when parsing happened.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors collects validation failures encountered during parsing.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError describes a single configuration validation failure.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "":
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// DefaultWorkspaceConfig returns the configuration used when no smelt.cue
// manifest is present. It mirrors the defaults of the workspace schema.
func DefaultWorkspaceConfig() *WorkspaceConfig {
	return &WorkspaceConfig{
		Name:                 "workspace",
		Cells:                map[string]string{"root": "."},
		BuildFileName:        "BUILD.star",
		DefaultConfiguration: "dev",
		Store: StoreConfig{
			Path:         ".smelt/results.db",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Mode:    PolicyModeEnforcing,
		},
		Telemetry: TelemetrySettings{
			Logging: LoggingSettings{Level: "info", Format: "console", Output: "stderr"},
			Metrics: MetricsSettings{ListenAddress: ":9090"},
			Tracing: TracingSettings{Exporter: "none", Endpoint: "localhost:4317"},
		},
	}
}

// ToStoreConfig builds the result store configuration. The reporter receives
// digest mismatch diagnostics and may be nil.
func (w *WorkspaceConfig) ToStoreConfig(reporter *diag.Reporter) stores.Config {
	return stores.Config{
		Path:         w.Store.Path,
		MaxOpenConns: w.Store.MaxOpenConns,
		MaxIdleConns: w.Store.MaxIdleConns,
		Reporter:     reporter,
	}
}

// ToEscalation builds the soft error escalation policy from the diagnostics
// settings. EscalateAll wins over the category list.
func (w *WorkspaceConfig) ToEscalation() diag.Escalation {
	if w.Diagnostics.EscalateAll {
		return diag.EscalateAll()
	}
	if len(w.Diagnostics.Escalate) > 0 {
		return diag.EscalateOnly(w.Diagnostics.Escalate...)
	}
	return diag.Escalation{}
}

// ToTelemetryConfig builds a telemetry configuration from the workspace
// settings, starting from the library defaults. Empty settings keep the
// defaults so a minimal manifest still produces a working stack.
func (w *WorkspaceConfig) ToTelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}

	if w.Telemetry.Logging.Level != "" {
		cfg.Logging.Level = w.Telemetry.Logging.Level
	}
	if w.Telemetry.Logging.Format != "" {
		cfg.Logging.Format = w.Telemetry.Logging.Format
	}
	if w.Telemetry.Logging.Output != "" {
		cfg.Logging.Output = w.Telemetry.Logging.Output
	}

	cfg.Metrics.Enabled = w.Telemetry.Metrics.Enabled
	if w.Telemetry.Metrics.ListenAddress != "" {
		cfg.Metrics.ListenAddress = w.Telemetry.Metrics.ListenAddress
	}

	cfg.Tracing.Enabled = w.Telemetry.Tracing.Enabled
	if w.Telemetry.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = w.Telemetry.Tracing.Exporter
	}
	if w.Telemetry.Tracing.Endpoint != "" {
		cfg.Tracing.Endpoint = w.Telemetry.Tracing.Endpoint
	}

	return cfg
}
