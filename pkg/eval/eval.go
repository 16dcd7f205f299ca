// Package eval runs build rule implementations. It executes Starlark build
// files with the provider environment predeclared, registers the targets they
// declare, and evaluates each target's implementation into a frozen provider
// collection.
package eval

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/smeltworks/smelt/pkg/artifact"
	"github.com/smeltworks/smelt/pkg/diag"
	"github.com/smeltworks/smelt/pkg/label"
	"github.com/smeltworks/smelt/pkg/provider"
	"github.com/smeltworks/smelt/pkg/telemetry"
)

// Mode selects the construction path for rule return values.
type Mode string

const (
	// ModeStrict requires every rule to return an explicit DefaultInfo.
	ModeStrict Mode = "strict"

	// ModeLenient inserts an empty DefaultInfo when a rule omits one.
	ModeLenient Mode = "lenient"
)

// Config holds evaluator configuration.
type Config struct {
	// Cell is the cell name targets are registered under.
	Cell string

	// Configuration is applied to every evaluated target.
	Configuration label.Configuration

	// Mode selects strict or lenient collection construction.
	Mode Mode

	// Timeout bounds a single Starlark execution.
	Timeout time.Duration

	// MaxParallel bounds concurrent target evaluations.
	MaxParallel int

	// Logger receives evaluation logs. A default stderr logger is created
	// when nil.
	Logger *telemetry.Logger

	// Metrics receives evaluation metrics. A no-op instance is used when nil.
	Metrics *telemetry.Metrics

	// Events receives evaluation lifecycle events. Optional.
	Events *telemetry.EventPublisher

	// Reporter receives soft errors such as rule-author deprecations.
	// Optional.
	Reporter *diag.Reporter

	// Resolver resolves deferred list elements during construction.
	// Defaults to PromiseResolver.
	Resolver provider.Resolver
}

// DefaultConfig returns an evaluator configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Cell:          "root",
		Configuration: label.Unbound(),
		Mode:          ModeStrict,
		Timeout:       30 * time.Second,
		MaxParallel:   10,
		Resolver:      PromiseResolver{},
	}
}

// targetDef is one registered target: its label, rule implementation, and
// declared attributes.
type targetDef struct {
	lbl   label.TargetLabel
	impl  starlark.Callable
	attrs *starlark.Dict
}

// Evaluator executes build files and evaluates registered targets into
// frozen provider collections. It is safe for concurrent use after the
// build files have been loaded.
type Evaluator struct {
	cfg      *Config
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	reporter *diag.Reporter
	resolver provider.Resolver
	sem      *semaphore.Weighted

	mu      sync.Mutex
	targets map[string]*targetDef
	order   []string
}

// NewEvaluator creates an evaluator from the given configuration. A nil
// configuration means DefaultConfig.
func NewEvaluator(cfg *Config) (*Evaluator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Cell == "" {
		cfg.Cell = "root"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 10
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeStrict
	case ModeStrict, ModeLenient:
	default:
		return nil, fmt.Errorf("invalid evaluation mode: %q", cfg.Mode)
	}

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
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = PromiseResolver{}
	}

	return &Evaluator{
		cfg:      cfg,
		logger:   logger.NewComponentLogger("evaluator"),
		metrics:  metrics,
		events:   cfg.Events,
		reporter: cfg.Reporter,
		resolver: resolver,
		sem:      semaphore.NewWeighted(int64(cfg.MaxParallel)),
		targets:  make(map[string]*targetDef),
	}, nil
}

// Result is the outcome of a single target evaluation.
type Result struct {
	// EvaluationID uniquely identifies this evaluation.
	EvaluationID string

	// Label is the configured target that was evaluated.
	Label label.ConfiguredTargetLabel

	// Providers is the frozen provider collection the rule produced.
	Providers provider.CollectionValue

	// StartedAt is when the evaluation began.
	StartedAt time.Time

	// Duration is how long the evaluation took.
	Duration time.Duration
}

// EvalFile executes a build file and registers the targets it declares.
// pkg is the package path of the file within the cell ("" for the cell
// root). src may be nil to read filename from disk, or a string or []byte
// holding the file's contents.
//
// The predeclared environment contains provider, DefaultInfo,
// source_artifact, and target. Provider types declared at the top level are
// bound to their global names after execution completes.
func (e *Evaluator) EvalFile(ctx context.Context, pkg, filename string, src interface{}) error {
	thread := e.newThread("exec " + filename)

	predeclared := starlark.StringDict{
		"provider":        provider.ProviderBuiltin(),
		"DefaultInfo":     provider.DefaultInfoCallable,
		"source_artifact": artifact.SourceArtifactBuiltin(),
		"target":          e.targetBuiltin(pkg),
	}

	start := time.Now()
	_, err := e.runWithTimeout(ctx, thread, func() (starlark.Value, error) {
		globals, err := starlark.ExecFile(thread, filename, src, predeclared)
		if err != nil {
			return nil, err
		}
		provider.BindNames(globals)
		return starlark.None, nil
	})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", filename, err)
	}

	e.logger.WithFields(map[string]interface{}{
		"file":     filename,
		"package":  pkg,
		"duration": time.Since(start).String(),
	}).Debug("Build file loaded")
	return nil
}

// targetBuiltin returns the target() builtin for a build file in pkg.
func (e *Evaluator) targetBuiltin(pkg string) *starlark.Builtin {
	return starlark.NewBuiltin("target", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: unexpected positional arguments", b.Name())
		}
		var (
			name           string
			impl           starlark.Callable
			implementation starlark.Callable
			attrs          *starlark.Dict
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"name", &name,
			"impl?", &impl,
			"attrs?", &attrs,
			"implementation?", &implementation,
		); err != nil {
			return nil, err
		}

		switch {
		case impl != nil && implementation != nil:
			return nil, fmt.Errorf("%s: got both impl and implementation", b.Name())
		case implementation != nil:
			// Legacy keyword, kept as an alias while callers migrate.
			err := e.soft("deprecated_implementation_kwarg",
				fmt.Errorf("target %q uses the deprecated implementation keyword, use impl", name))
			if err != nil {
				return nil, err
			}
			impl = implementation
		case impl == nil:
			return nil, fmt.Errorf("%s: missing impl", b.Name())
		}

		lbl, err := label.NewTargetLabel(e.cfg.Cell, pkg, name)
		if err != nil {
			return nil, err
		}
		if attrs != nil {
			// Declaration data is immutable once registered.
			attrs.Freeze()
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		key := lbl.String()
		if _, exists := e.targets[key]; exists {
			return nil, fmt.Errorf("target %s declared twice", key)
		}
		e.targets[key] = &targetDef{lbl: lbl, impl: impl, attrs: attrs}
		e.order = append(e.order, key)
		return starlark.None, nil
	})
}

// Targets returns the labels of all registered targets in declaration order.
func (e *Evaluator) Targets() []label.TargetLabel {
	e.mu.Lock()
	defer e.mu.Unlock()
	labels := make([]label.TargetLabel, 0, len(e.order))
	for _, key := range e.order {
		labels = append(labels, e.targets[key].lbl)
	}
	return labels
}

// EvalTargets evaluates every registered target. Independent targets run
// concurrently, bounded by MaxParallel; the first failure cancels the rest.
// Results come back in declaration order.
func (e *Evaluator) EvalTargets(ctx context.Context) ([]*Result, error) {
	e.mu.Lock()
	defs := make([]*targetDef, 0, len(e.order))
	for _, key := range e.order {
		defs = append(defs, e.targets[key])
	}
	e.mu.Unlock()

	results := make([]*Result, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			if err := e.sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("acquire evaluation slot for %s: %w", def.lbl, err)
			}
			defer e.sem.Release(1)

			res, err := e.evalTarget(gctx, def)
			if err != nil {
				return fmt.Errorf("evaluating %s: %w", def.lbl, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EvalTarget evaluates a single registered target by label. A label without
// a cell prefix ("//pkg:name") is resolved against the evaluator's cell.
func (e *Evaluator) EvalTarget(ctx context.Context, labelStr string) (*Result, error) {
	if strings.HasPrefix(labelStr, "//") {
		labelStr = e.cfg.Cell + labelStr
	}
	lbl, err := label.ParseTargetLabel(labelStr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	def, ok := e.targets[lbl.String()]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("target %s is not defined", lbl)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire evaluation slot for %s: %w", lbl, err)
	}
	defer e.sem.Release(1)

	res, err := e.evalTarget(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", lbl, err)
	}
	return res, nil
}

// evalTarget runs one target's rule implementation and freezes its
// providers.
func (e *Evaluator) evalTarget(ctx context.Context, def *targetDef) (*Result, error) {
	evaluationID := uuid.New().String()
	configured := label.Configure(def.lbl, e.cfg.Configuration)
	logger := e.logger.WithEvaluationID(evaluationID).WithLabel(configured.String())

	start := time.Now()
	e.metrics.RecordEvaluationStarted()
	if e.events != nil {
		_ = e.events.PublishEvaluationStarted(evaluationID, configured.String())
	}
	logger.Debug("Starting target evaluation")

	fail := func(err error) (*Result, error) {
		e.metrics.RecordEvaluationCompleted("failed", time.Since(start))
		if e.events != nil {
			_ = e.events.PublishEvaluationFailed(evaluationID, configured.String(), err.Error())
		}
		logger.WithError(err).Error("Target evaluation failed")
		return nil, err
	}

	rctx, err := e.ruleContext(def, configured)
	if err != nil {
		return fail(err)
	}

	thread := e.newThread("eval " + def.lbl.String())
	ret, err := e.runWithTimeout(ctx, thread, func() (starlark.Value, error) {
		return starlark.Call(thread, def.impl, starlark.Tuple{rctx}, nil)
	})
	if err != nil {
		return fail(err)
	}

	coll, err := e.collect(ret)
	if err != nil {
		if kind := provider.KindOf(err); kind != "" {
			e.metrics.RecordConstructionError(string(kind))
		}
		return fail(err)
	}

	timer := telemetry.NewTimer()
	frozen, err := provider.Finish(coll)
	if err != nil {
		return fail(err)
	}
	e.metrics.ObserveFreezeDuration(timer.Duration())

	duration := time.Since(start)
	e.metrics.RecordEvaluationCompleted("ok", duration)
	if e.events != nil {
		_ = e.events.PublishEvaluationCompleted(evaluationID, configured.String(), frozen.Len(), duration)
		_ = e.events.PublishCollectionFrozen(configured.String(), frozen.ProviderNames())
	}
	logger.WithField("providers", frozen.Len()).Info("Target evaluation completed")

	return &Result{
		EvaluationID: evaluationID,
		Label:        configured,
		Providers:    provider.NewCollectionValue(frozen),
		StartedAt:    start,
		Duration:     duration,
	}, nil
}

// ruleContext builds the ctx struct a rule implementation receives. Declared
// attributes are exposed as ctx.attrs; the reserved "outs" attribute is
// converted into source artifacts under the target's package and exposed as
// ctx.outputs.
func (e *Evaluator) ruleContext(def *targetDef, configured label.ConfiguredTargetLabel) (*starlarkstruct.Struct, error) {
	outputs := starlark.NewList(nil)
	attrFields := starlark.StringDict{}

	if def.attrs != nil {
		for _, item := range def.attrs.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("attrs keys must be strings, got %s", item[0].Type())
			}
			if string(key) == "outs" {
				list, ok := item[1].(*starlark.List)
				if !ok {
					return nil, fmt.Errorf("attrs key outs must be a list of strings, got %s", item[1].Type())
				}
				for i := 0; i < list.Len(); i++ {
					s, ok := starlark.AsString(list.Index(i))
					if !ok {
						return nil, fmt.Errorf("attrs key outs must be a list of strings, got element %s", list.Index(i).Type())
					}
					if err := outputs.Append(artifact.NewSource(path.Join(def.lbl.Package(), s))); err != nil {
						return nil, err
					}
				}
				continue
			}
			attrFields[string(key)] = item[1]
		}
	}
	attrFields["name"] = starlark.String(def.lbl.Name())

	fields := starlark.StringDict{
		"label":   starlark.String(configured.String()),
		"attrs":   starlarkstruct.FromStringDict(starlarkstruct.Default, attrFields),
		"outputs": outputs,
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, fields), nil
}

// collect builds a mutable collection from a rule's return value using the
// configured construction path.
func (e *Evaluator) collect(v starlark.Value) (*provider.Collection, error) {
	if e.cfg.Mode == ModeLenient {
		return provider.CollectionFromValueWithDefaultInfo(v, e.resolver, provider.EmptyDefaultInfoFactory)
	}
	return provider.CollectionFromValue(v, e.resolver)
}

// newThread creates a Starlark thread whose prints go to the debug log.
func (e *Evaluator) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			e.logger.WithField("thread", thread.Name).Debug(msg)
		},
	}
}

// runWithTimeout executes fn on a fresh goroutine and cancels the Starlark
// thread when the evaluator's timeout or the caller's context expires.
func (e *Evaluator) runWithTimeout(ctx context.Context, thread *starlark.Thread, fn func() (starlark.Value, error)) (starlark.Value, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type outcome struct {
		value starlark.Value
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		value, err := fn()
		ch <- outcome{value, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-ch // wait for the interpreter to unwind
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("starlark execution timed out after %v", e.cfg.Timeout)
	case out := <-ch:
		return out.value, out.err
	}
}

// soft routes a soft error through the reporter, or swallows it when no
// reporter is configured.
func (e *Evaluator) soft(category string, err error) error {
	if e.reporter == nil {
		return nil
	}
	return e.reporter.Soft(category, err)
}
