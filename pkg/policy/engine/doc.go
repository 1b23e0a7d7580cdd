// Package engine is the security policy engine: the single authority that
// stores policies, evaluates them against request contexts, resolves
// conflicts between overlapping policies, versions and rolls back policy
// content, records violations and propagates enabled policies to
// downstream services.
//
// # Lifecycle
//
// An Engine is an explicit handle owned by the application entrypoint.
// New builds the handle, Init loads the built-in default policies and the
// configuration store bundle and starts background work, and Shutdown
// drains the propagator. Init may be called once; Shutdown is idempotent.
// Until Init succeeds, and after Shutdown, every operation except Shutdown
// returns policy.ErrNotInitialized (which matches policy.ErrNotFound).
//
// # Basic Usage
//
//	eng, err := engine.New(engine.DefaultConfig(),
//	    engine.WithTransport(transport),
//	    engine.WithAuditSink(sink),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := eng.Init(ctx); err != nil {
//	    return err
//	}
//	defer eng.Shutdown(context.Background())
//
//	res, err := eng.Evaluate(ctx, policy.EvaluationContext{
//	    ServiceID:     "fs",
//	    SecurityLevel: policy.SecurityMedium,
//	})
//
// # Concurrency
//
// Mutations (create, update, delete, enable flips, rollback, bundle sync)
// hold the engine write lock across validation, snapshot, store update and
// propagation hand-off, so a snapshot always exists before new content is
// visible and a completed mutation is observed by the next Evaluate.
// Evaluations share the read lock. Push outcomes arrive asynchronously and
// surface through binding status and statistics.
package engine
