// Package telemetry provides comprehensive observability instrumentation for smelt.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging smelt evaluations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "smelt"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("evaluator")
//	logger = logger.WithLabel("root//lib:core").WithEvaluationID("eval-123")
//	logger.Info("Starting target evaluation")
//	logger.WithError(err).Error("Evaluation failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into evaluation flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("target.label", label),
//	    attribute.String("operation", "freeze"),
//	)
//
//	// Record events
//	span.AddEvent("collection.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record collection construction
//	tel.Metrics.RecordCollectionConstructed("strict")
//	tel.Metrics.RecordConstructionError("duplicate_provider")
//
//	// Record evaluations
//	tel.Metrics.RecordEvaluationStarted()
//	tel.Metrics.RecordEvaluationCompleted("ok", duration)
//
//	// Record store operations
//	tel.Metrics.RecordStoreOperation("put_result", "ok", duration)
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishEvaluationStarted(evaluationID, label)
//	tel.Events.PublishCollectionFrozen(label, providerNames)
//	tel.Events.PublishPolicyViolation(label, policyName, reason)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByLabel, FilterByEvaluationID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "collection.freeze",
//	    attribute.String("target.label", label))
//	defer ic.End(err)
//
//	ic.Logger.Info("Freezing collection")
//
//	// Evaluation context
//	ctx = telemetry.WithEvaluationContext(ctx, evaluationID, label)
//	defer telemetry.EndEvaluationContext(ctx, evaluationID, label, providerCount, err)
//
//	// Store operation
//	err := telemetry.RecordStoreOperation(ctx, "put_result", func() error {
//	    return store.PutResult(ctx, result)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Long-lived daemon use (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ServerConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "smelt",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - smelt_collections_constructed_total{path}
//  - smelt_construction_errors_total{kind}
//  - smelt_freeze_duration_seconds
//  - smelt_provider_lookups_total{operator,outcome}
//  - smelt_subtarget_resolutions_total{outcome}
//  - smelt_evaluations_started_total
//  - smelt_evaluations_completed_total{status}
//  - smelt_evaluation_duration_seconds{status}
//  - smelt_store_operations_total{operation,status}
//  - smelt_policy_violations_total{policy,severity}
//  - smelt_active_evaluations
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//  - All buffered events are published
//  - All pending traces are exported
//  - Metrics are finalized
package telemetry
