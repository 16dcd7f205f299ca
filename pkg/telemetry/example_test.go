package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/smeltworks/smelt/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "smelt"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("evaluator")

	// Add context fields
	logger = logger.WithFields(map[string]interface{}{
		"evaluation_id": "eval-123",
		"label":         "root//lib:core",
	})

	// Log at different levels
	logger.Debug("Starting target evaluation")
	logger.Info("Collection frozen successfully")
	logger.Warn("Sub-target resolution fell back to default")

	// Log with error
	err := fmt.Errorf("missing DefaultInfo")
	logger.WithError(err).Error("Failed to build provider collection")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "evaluate_target")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		attribute.String("target.label", "root//lib:core"),
		attribute.Int("collection.providers", 3),
	)

	// Add event
	span.AddEvent("analysis.complete")

	// Nested span
	ctx, childSpan := tel.Tracer.Start(ctx, "freeze_collection")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("target.label", "root//lib:core"),
		attribute.String("operation", "freeze"),
	)

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record evaluation metrics
	tel.Metrics.RecordEvaluationStarted()

	// Simulate evaluation
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordEvaluationCompleted("ok", duration)

	// Record collection metrics
	tel.Metrics.RecordCollectionConstructed("strict")
	tel.Metrics.ObserveFreezeDuration(25 * time.Millisecond)

	// Record lookup metrics
	tel.Metrics.RecordProviderLookup("[]", "hit")
	tel.Metrics.RecordProviderLookup(".get", "miss")

	// Record store metrics
	tel.Metrics.RecordStoreOperation("put_result", "ok", 15*time.Millisecond)

	// Record error metrics
	tel.Metrics.RecordConstructionError("duplicate_provider")

	// Set gauges
	tel.Metrics.SetActiveEvaluations(4)
	tel.Metrics.SetLoadedPolicies(2)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.PublishEvaluationStarted("eval-123", "root//lib:core")
	tel.Events.PublishCollectionFrozen("root//lib:core", []string{"FooInfo", "DefaultInfo"})
	tel.Events.PublishSubTargetResolved("root//lib:core", "docs")

	// Output varies due to async nature, no output specified
}

// Example_evaluationInstrumentation demonstrates instrumenting a complete evaluation.
func Example_evaluationInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start evaluation context
	evaluationID := "eval-123"
	label := "root//lib:core"
	ctx = telemetry.WithEvaluationContext(ctx, evaluationID, label)

	// Evaluate target (simulated)
	analyzeTarget(ctx, label)

	// End evaluation context
	telemetry.EndEvaluationContext(ctx, evaluationID, label, 3, nil)

	fmt.Println("Evaluation instrumentation complete")
	// Output: Evaluation instrumentation complete
}

func analyzeTarget(ctx context.Context, label string) {
	// Instrument the freeze step
	ic := telemetry.StartOperation(ctx, "collection.freeze",
		attribute.String("target.label", label),
	)
	defer ic.End(nil)

	// Get logger from context
	ic.Logger.Info("Freezing provider collection")

	// Simulate work
	time.Sleep(10 * time.Millisecond)
}

// Example_storeInstrumentation demonstrates instrumenting store operations.
func Example_storeInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Record store operation
	err := telemetry.RecordStoreOperation(ctx, "put_result", func() error {
		// Simulate persisting an analysis result
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Store operation completed successfully")
	}

	// Output: Store operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "validate_workspace",
		attribute.String("config.path", "smelt.cue"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Validating workspace configuration")

	// Simulate validation
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Workspace validation complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only policy violations)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Policy event: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypePolicyViolation))

	// Publish various events
	tel.Events.PublishEvaluationStarted("eval-123", "root//lib:core")       // Info - filtered by level filter
	tel.Events.PublishDigestMismatch("root//lib:core", "abc", "def")        // Warning - passes level filter
	tel.Events.PublishEvaluationFailed("eval-123", "root//lib:core", "err") // Error - passes level filter

	// Output varies, no output specified
}

// Example_serverConfiguration demonstrates configuration for long-lived deployments.
func Example_serverConfiguration() {
	cfg := telemetry.ServerConfig()

	// Customize for your environment
	cfg.ServiceName = "smelt"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "smelt"

	// Configure events
	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Server configuration validated")
	// Output: Server configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "build_collection")
	defer span.End()

	// Simulate an error
	err := fmt.Errorf("duplicate provider FooInfo")

	if err != nil {
		// Record error on span
		telemetry.RecordError(span, err)

		// Record error metric with classification
		tel.Metrics.RecordConstructionError("duplicate_provider")

		// Log error
		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("Collection construction failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	evalLogger := tel.Logger.NewComponentLogger("evaluator")
	policyLogger := tel.Logger.NewComponentLogger("policy")
	storeLogger := tel.Logger.NewComponentLogger("store")

	evalLogger.Info("Evaluator initialized")
	policyLogger.Info("Loading policy bundles")
	storeLogger.Info("Opening result store")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
