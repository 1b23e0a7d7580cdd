// Package metrics provides Prometheus metrics for Bastion.
//
// # Overview
//
// A single Collector is shared by the policy engine and the propagation
// fan-out. It implements both engine.Metrics and propagation.Observer, so
// wiring is a matter of passing it to engine.WithMetrics and
// engine.WithPropagationObserver.
//
// # Metrics Categories
//
//   - Policy Metrics: evaluations, latency, matches, conflicts, store
//     mutations, stored policies, violations and rollbacks
//   - Propagation Metrics: pushes per service and their latency
//   - Cache Metrics: evaluation cache hits, misses and size
//
// All names are prefixed with the configured namespace and subsystem
// (bastion_policy_ by default).
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng, err := engine.New(engineCfg,
//		engine.WithMetrics(collector),
//		engine.WithPropagationObserver(collector),
//	)
//	router.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// # Cardinality
//
// Service ids are caller-supplied, so the collector caps the number of
// distinct service label values. Pushes to services beyond the cap are
// recorded under the "other" label.
package metrics
