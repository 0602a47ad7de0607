// Package telemetry provides logging, tracing and metrics for stackforge.
//
// Three pieces are bundled in Telemetry:
//
//  1. Logger: zerolog with component loggers and context propagation.
//  2. Tracer: an OpenTelemetry provider with otlp (gRPC), stdout or no
//     exporter. When enabled it becomes the global provider, so the spans
//     the engine opens around every entry point and remote call are exported.
//  3. Metrics: Prometheus collectors in a private registry. Metrics
//     implements engine.MetricsRecorder.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.ListenAddress = ":9464"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	ctx = tel.WithContext(ctx)
//
//	eng, err := engine.New(engine.Options{
//	    Remote:  client,
//	    Metrics: tel.Metrics,
//	    Logger:  tel.Logger.Zerolog(),
//	})
//
// # Operations
//
// StartOperation opens a span and a logger carrying the trace id:
//
//	op := telemetry.StartOperation(ctx, "cli.apply", telemetry.AttrRepo.String("acme/shop"))
//	res, err := eng.ApplyDockerfile(op.Ctx, req)
//	op.End(err)
//
// # Metrics
//
// All series live under the "stackforge" namespace:
//
//	stackforge_plans_total{artifact,mode}
//	stackforge_artifact_status_total{artifact,status}
//	stackforge_applies_total{artifact,outcome}
//	stackforge_remote_calls_total{operation}
//	stackforge_remote_errors_total{operation}
//	stackforge_remote_call_duration_seconds{operation}
//	stackforge_ledger_failures_total
//	stackforge_directories_walked_total
//
// A disabled Metrics accepts every call and records nothing.
package telemetry
