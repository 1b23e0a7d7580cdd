// Package tracing provides OpenTelemetry tracing for Bastion.
//
// # Overview
//
// New builds a tracer provider from telemetry.tracing. When tracing is
// disabled the tracer is a noop and nothing is exported; otherwise spans are
// batched to an OTLP gRPC collector. Components only see a trace.Tracer:
//
//	tr, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tr.Shutdown(context.Background())
//
//	eng, err := engine.New(engineCfg, engine.WithTracer(tr.Tracer()))
//
// # Spans
//
// The engine opens one span per operation (engine.Evaluate, engine.Create,
// engine.Rollback and so on) tagged with the bastion.* attribute keys
// defined in this package. The admin server extracts W3C trace context from
// incoming requests with HTTPMiddleware, and the HTTP propagation transport
// injects it into pushes with Inject, so a mutation and its fan-out share a
// trace.
//
// # Sampling
//
//   - always: Sample all traces
//   - never: Sample no traces
//   - ratio: Sample telemetry.tracing.sample_ratio of root traces
//
// All samplers honour the parent's decision.
package tracing
