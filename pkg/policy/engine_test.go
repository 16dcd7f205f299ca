package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smeltworks/smelt/pkg/diag"
	"github.com/smeltworks/smelt/pkg/telemetry"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	if cfg.Logger == nil {
		logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
			Level:  "error",
			Format: "json",
			Output: "stderr",
		})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		cfg.Logger = logger
	}

	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t, Config{})

	// Check that built-in policies are loaded
	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"default-info",
		"provider-naming",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluate_DefaultInfoPolicy(t *testing.T) {
	eng := newTestEngine(t, Config{})

	tests := []struct {
		name            string
		input           *PolicyInput
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name: "collection with DefaultInfo",
			input: &PolicyInput{
				Label:         "root//pkg:lib",
				Configuration: "linux-release",
				ProviderNames: []string{"DefaultInfo"},
				Providers: map[string]interface{}{
					"DefaultInfo": map[string]interface{}{
						"default_outputs": []interface{}{"out/lib.a"},
					},
				},
			},
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name: "collection missing DefaultInfo",
			input: &PolicyInput{
				Label:         "root//pkg:lib",
				Configuration: "linux-release",
				ProviderNames: []string{"CompileInfo"},
				Providers: map[string]interface{}{
					"CompileInfo": map[string]interface{}{},
				},
			},
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "empty collection",
			input: &PolicyInput{
				Label:         "root//pkg:empty",
				Configuration: "linux-release",
				ProviderNames: []string{},
				Providers:     map[string]interface{}{},
			},
			expectAllowed:   false,
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("Expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}

			if tt.expectViolation {
				found := false
				for _, v := range result.Violations {
					if v.Policy == "default-info" {
						found = true
					}
				}
				if !found {
					t.Errorf("Expected a default-info violation, got: %+v", result.Violations)
				}
			}
		})
	}
}

func TestEvaluate_ProviderNamingPolicy(t *testing.T) {
	eng := newTestEngine(t, Config{})

	tests := []struct {
		name             string
		providerNames    []string
		expectViolations int
	}{
		{
			name:             "all names follow convention",
			providerNames:    []string{"DefaultInfo", "RunInfo"},
			expectViolations: 0,
		},
		{
			name:             "one name off convention",
			providerNames:    []string{"DefaultInfo", "Libs"},
			expectViolations: 1,
		},
		{
			name:             "two names off convention",
			providerNames:    []string{"DefaultInfo", "Libs", "Deps"},
			expectViolations: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := make(map[string]interface{}, len(tt.providerNames))
			for _, name := range tt.providerNames {
				providers[name] = map[string]interface{}{}
			}

			result, err := eng.Evaluate(context.Background(), &PolicyInput{
				Label:         "root//pkg:lib",
				Configuration: "linux-release",
				ProviderNames: tt.providerNames,
				Providers:     providers,
			})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			// Naming violations are warnings and never block the result
			if !result.Allowed {
				t.Errorf("Expected allowed=true, got false. Violations: %+v", result.Violations)
			}

			if len(result.Violations) != tt.expectViolations {
				t.Errorf("Expected %d violations, got %d: %+v",
					tt.expectViolations, len(result.Violations), result.Violations)
			}

			for _, v := range result.Violations {
				if v.Policy != "provider-naming" {
					t.Errorf("Expected provider-naming violation, got %s", v.Policy)
				}
				if v.Severity != SeverityWarning {
					t.Errorf("Expected severity %s, got %s", SeverityWarning, v.Severity)
				}
			}
		})
	}
}

func TestEvaluateReportsEvaluatedPolicies(t *testing.T) {
	eng := newTestEngine(t, Config{})

	result, err := eng.Evaluate(context.Background(), &PolicyInput{
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		ProviderNames: []string{"DefaultInfo"},
		Providers: map[string]interface{}{
			"DefaultInfo": map[string]interface{}{},
		},
	})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if len(result.EvaluatedPolicies) != 2 {
		t.Errorf("Expected 2 evaluated policies, got %d: %v",
			len(result.EvaluatedPolicies), result.EvaluatedPolicies)
	}

	if result.EvaluatedAt.IsZero() {
		t.Error("Result has zero EvaluatedAt")
	}
}

const runnableRego = `# Flags stored results that cannot be run
package smelt.policies.runnable

import rego.v1

deny contains violation if {
	not input.providers.RunInfo

	violation := {
		"message": sprintf("%s has no RunInfo", [input.label]),
		"severity": "error",
		"label": input.label,
	}
}
`

func TestLoadPolicies(t *testing.T) {
	eng := newTestEngine(t, Config{})

	dir := t.TempDir()
	path := filepath.Join(dir, "runnable.rego")
	if err := os.WriteFile(path, []byte(runnableRego), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	policy, err := eng.GetPolicy("runnable")
	if err != nil {
		t.Fatalf("Failed to get loaded policy: %v", err)
	}

	if policy.Description != "Flags stored results that cannot be run" {
		t.Errorf("Unexpected description: %q", policy.Description)
	}

	// A violation with severity error blocks the result even though the
	// loaded policy defaults to warning
	result, err := eng.Evaluate(context.Background(), &PolicyInput{
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		ProviderNames: []string{"DefaultInfo"},
		Providers: map[string]interface{}{
			"DefaultInfo": map[string]interface{}{},
		},
	})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected result to be denied by the runnable policy")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "runnable" && v.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a runnable violation with severity error, got: %+v", result.Violations)
	}
}

func TestLoadPoliciesSkipsInvalidFiles(t *testing.T) {
	reporter := diag.NewReporter(nil, diag.Escalation{})
	eng := newTestEngine(t, Config{Reporter: reporter})

	dir := t.TempDir()
	good := filepath.Join(dir, "runnable.rego")
	if err := os.WriteFile(good, []byte(runnableRego), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}
	bad := filepath.Join(dir, "broken.rego")
	if err := os.WriteFile(bad, []byte("this is not valid rego"), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if _, err := eng.GetPolicy("runnable"); err != nil {
		t.Errorf("Expected valid policy to load: %v", err)
	}

	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("Expected invalid policy to be skipped")
	}

	if count := reporter.Count("bad_policy_file"); count != 1 {
		t.Errorf("Expected 1 bad_policy_file diagnostic, got %d", count)
	}
}

func TestLoadPoliciesEscalatesInvalidFiles(t *testing.T) {
	reporter := diag.NewReporter(nil, diag.EscalateAll())
	eng := newTestEngine(t, Config{Reporter: reporter})

	dir := t.TempDir()
	bad := filepath.Join(dir, "broken.rego")
	if err := os.WriteFile(bad, []byte("this is not valid rego"), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	err := eng.LoadPolicies(context.Background(), []string{dir})
	if err == nil {
		t.Fatal("Expected escalated load to fail")
	}

	if !strings.Contains(err.Error(), "bad_policy_file") {
		t.Errorf("Expected bad_policy_file in error, got: %v", err)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, Config{})

	policyName := "default-info"

	// Disable the policy
	if err := eng.DisablePolicy(policyName); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	// A collection missing DefaultInfo passes while the policy is disabled
	input := &PolicyInput{
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		ProviderNames: []string{"CompileInfo"},
		Providers: map[string]interface{}{
			"CompileInfo": map[string]interface{}{},
		},
	}

	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == policyName {
			t.Error("Disabled policy should not generate violations")
		}
	}

	// Re-enable the policy
	if err := eng.EnablePolicy(policyName); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	policy, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if !policy.Enabled {
		t.Error("Policy should be enabled")
	}

	result, err = eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected re-enabled policy to deny the result")
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := newTestEngine(t, Config{})

	dir := t.TempDir()
	path := filepath.Join(dir, "runnable.rego")
	if err := os.WriteFile(path, []byte(runnableRego), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if count := len(eng.ListPolicies()); count != 3 {
		t.Fatalf("Expected 3 policies after load, got %d", count)
	}

	// Reload drops loaded policies and keeps the built-in set
	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	if count := len(eng.ListPolicies()); count != 2 {
		t.Errorf("Expected 2 policies after reload, got %d", count)
	}

	if _, err := eng.GetPolicy("runnable"); err == nil {
		t.Error("Expected loaded policy to be dropped by reload")
	}
}

func TestListPolicies(t *testing.T) {
	eng := newTestEngine(t, Config{})

	policies := eng.ListPolicies()

	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	// Check that all policies have required fields
	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}
}

func TestNewInputFromJSON(t *testing.T) {
	names := `["DefaultInfo","RunInfo"]`
	providers := `{"DefaultInfo":{"default_outputs":["out/lib.a"]},"RunInfo":{"args":["./lib"]}}`

	input, err := NewInputFromJSON("root//pkg:lib", "linux-release", names, providers)
	if err != nil {
		t.Fatalf("Failed to build input: %v", err)
	}

	if input.Label != "root//pkg:lib" {
		t.Errorf("Expected label root//pkg:lib, got %s", input.Label)
	}

	if len(input.ProviderNames) != 2 {
		t.Errorf("Expected 2 provider names, got %d", len(input.ProviderNames))
	}

	if _, ok := input.Providers["DefaultInfo"]; !ok {
		t.Error("Expected DefaultInfo in decoded providers")
	}

	// A decoded input evaluates cleanly against the built-in policies
	eng := newTestEngine(t, Config{})
	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected decoded input to be allowed, violations: %+v", result.Violations)
	}
}

func TestNewInputFromJSONInvalid(t *testing.T) {
	tests := []struct {
		name      string
		names     string
		providers string
	}{
		{
			name:      "invalid provider names",
			names:     `not-json`,
			providers: `{}`,
		},
		{
			name:      "invalid providers",
			names:     `[]`,
			providers: `{broken`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewInputFromJSON("root//pkg:lib", "linux-release", tt.names, tt.providers); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}
