// Package async provides safe concurrent execution primitives.
//
// SafeGo runs fire-and-forget work with panic recovery and a timeout:
//
//	async.SafeGo(async.Detach(r.Context()), 10*time.Second, "notify", func(ctx context.Context) error {
//		return dispatcher.Deliver(ctx, id)
//	})
//
// WorkerPool is a bounded pool with graceful shutdown:
//
//	pool := async.NewWorkerPool(ctx, 4, "relay", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//	pool.Submit(func(ctx context.Context) error { return work(ctx) })
//
// Map fans a slice out over a pool and returns results addressed by input index,
// so callers can report per-item outcomes in input order:
//
//	results := async.Map(ctx, scopes, 4, "batch assign", 10*time.Second,
//		func(ctx context.Context, i int, s Scope) (*Assignment, error) {
//			return manager.Create(ctx, req(s))
//		})
package async
