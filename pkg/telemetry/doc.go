// Package telemetry groups Bastion's observability packages.
//
//   - logging: slog construction with redaction and request-scoped attributes
//   - metrics: Prometheus collector for the engine and propagation
//   - tracing: OpenTelemetry tracer provider and W3C propagation helpers
//   - health: liveness and readiness probes
//
// Each subpackage is configured from the telemetry section of the Bastion
// configuration and wired together in cmd/bastion.
package telemetry
