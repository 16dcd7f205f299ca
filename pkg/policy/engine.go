package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/smeltworks/smelt/pkg/diag"
	"github.com/smeltworks/smelt/pkg/telemetry"
)

// Engine compiles Rego policies and evaluates analysis results against them.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	builtin  []Policy

	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	reporter *diag.Reporter
}

// compiledPolicy represents a compiled Rego policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Config holds policy engine configuration.
type Config struct {
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Events   *telemetry.EventPublisher
	Reporter *diag.Reporter
}

// NewEngine creates a new policy engine with the builtin policies loaded.
func NewEngine(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		var err error
		logger, err = telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		var err error
		metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{})
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		builtin:  GetBuiltinPolicies(),
		logger:   logger.NewComponentLogger("policy"),
		metrics:  metrics,
		events:   cfg.Events,
		reporter: cfg.Reporter,
	}

	// Load built-in policies
	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate runs every enabled policy against a single analysis result.
func (e *Engine) Evaluate(ctx context.Context, input *PolicyInput) (*PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var allViolations []PolicyViolation
	var warnings []string
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.WithError(err).
				WithPolicy(cp.policy.Name, string(cp.policy.Severity)).
				WithLabel(input.Label).
				Error("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		allViolations = append(allViolations, violations...)
	}

	// Determine if allowed based on violations
	allowed := true
	for i := range allViolations {
		if allViolations[i].Severity == SeverityError || allViolations[i].Severity == SeverityCritical {
			allowed = false
			break
		}
	}

	for i := range allViolations {
		e.metrics.RecordPolicyViolation(allViolations[i].Policy, string(allViolations[i].Severity))
		if e.events != nil {
			_ = e.events.PublishPolicyViolation(input.Label, allViolations[i].Policy, allViolations[i].Message)
		}
	}

	status := "allowed"
	if !allowed {
		status = "denied"
	}
	e.metrics.RecordPolicyEvaluation(status)

	duration := time.Since(startTime)
	e.logger.WithLabel(input.Label).
		WithFields(map[string]interface{}{
			"violations": len(allViolations),
			"duration":   duration.String(),
		}).
		Debug("Policy evaluation completed")

	return &PolicyResult{
		Allowed:           allowed,
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
	}, nil
}

// LoadPolicies loads policy files from the given paths. Files that fail to
// compile are reported as bad_policy_file diagnostics and skipped unless the
// reporter escalates that category.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger, e.reporter)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			if softErr := e.soft("bad_policy_file", fmt.Errorf("policy %s: %w", policies[i].Name, err)); softErr != nil {
				return softErr
			}
			continue
		}
	}

	e.metrics.SetLoadedPolicies(float64(len(e.policies)))
	e.logger.WithField("count", len(e.policies)).Info("Policies loaded")

	return nil
}

// WatchPolicies reloads policies whenever files under the given paths change.
// Watching stops when the context is cancelled.
func (e *Engine) WatchPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger, e.reporter)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.policies = make(map[string]*compiledPolicy)
		if err := e.loadBuiltinPolicies(ctx); err != nil {
			return err
		}

		for i := range policies {
			if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
				if softErr := e.soft("bad_policy_file", fmt.Errorf("policy %s: %w", policies[i].Name, err)); softErr != nil {
					return softErr
				}
				continue
			}
		}

		e.metrics.SetLoadedPolicies(float64(len(e.policies)))
		if e.events != nil {
			_ = e.events.PublishPoliciesReloaded(len(e.policies))
		}

		return nil
	})
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation

	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// createViolation creates a PolicyViolation from a deny query result.
func (e *Engine) createViolation(policy *Policy, result interface{}, input *PolicyInput) PolicyViolation {
	violation := PolicyViolation{
		Policy:     policy.Name,
		Label:      input.Label,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	// Extract message from result
	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if lbl, ok := v["label"].(string); ok {
			violation.Label = lbl
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and prepares its deny query.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	// Parse the Rego module
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	// Query the deny set of the policy's own package
	pkgPath := strings.TrimPrefix(module.Package.Path.String(), "data.")
	query := fmt.Sprintf("data.%s.deny", pkgPath)

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(query),
	)

	// Prepare the query for reuse
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: time.Now(),
	}

	e.logger.WithField("policy", policy.Name).Debug("Policy compiled")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtin {
		if err := e.compileAndStorePolicy(ctx, &e.builtin[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtin[i].Name, err)
		}
	}

	e.logger.WithField("count", len(e.builtin)).Debug("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and reloads the built-in set.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return err
	}

	e.metrics.SetLoadedPolicies(float64(len(e.policies)))
	return nil
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.WithField("policy", name).Info("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.WithField("policy", name).Info("Policy disabled")

	return nil
}

func (e *Engine) soft(category string, err error) error {
	if e.reporter == nil {
		return nil
	}
	return e.reporter.Soft(category, err)
}
