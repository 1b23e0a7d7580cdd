// Package audit receives security events emitted by the policy engine.
//
// # Events
//
// Every violation recorded by the engine is forwarded as an Event of type
// SecurityPolicyViolation. The engine always assigns the event id and
// reports Result=false; Level is derived from the violation severity.
//
// # Sinks
//
// A Sink consumes events. The package provides:
//
//   - LogSink: writes each event as a structured slog record
//   - MemorySink: keeps events in memory, used by tests and local runs
//   - SQLiteSink: durable storage in an embedded SQLite database
//   - MultiSink: fans an event out to several sinks
//
// # Basic Usage
//
//	sink, err := audit.NewSQLiteSink(&audit.SQLiteConfig{Path: "data/audit.db"})
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	err = sink.Emit(ctx, audit.Event{Type: audit.TypeSecurityPolicyViolation, ...})
package audit
