// Package pool provides a generic bounded concurrent object pool for
// resources that are expensive to create and must be validated before reuse.
//
// The pool supports:
//   - Configurable initial and maximum size
//   - Blocking Take and timed TryTake, both cancellable through a context
//   - Fair (FIFO) or unfair waiter selection
//   - Versioned mass invalidation through the Factory
//   - Optional tracking of checked-out holders for leak diagnosis
//   - A sampling Reducer that shrinks idle capacity toward InitialSize
//
// # Basic Usage
//
//	p, err := pool.New(ctx, factory, pool.Config{
//	    Name:        "orders",
//	    InitialSize: 2,
//	    MaxSize:     10,
//	    Fair:        true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Terminate()
//
//	h, err := p.TryTake(ctx, 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	valid := use(h.Value())
//	p.Restore(ctx, h, valid)
//
// # Invalidation
//
// A Factory stamps each holder with its current version. Bumping the version
// with CompareAndSetVersion makes every older holder fail ReadyToTake and
// ReadyToRestore, so the whole generation is destroyed lazily:
//
//	factory.CompareAndSetVersion(h.Version(), h.Version()+1)
//
// # Reducing
//
//	r, _ := pool.NewReducer(p, time.Minute, 20, pool.LogObserver(p.Name()))
//	r.Start()
//	defer r.Terminate()
//
// # Metrics
//
// RegisterMetrics exposes, per registry:
//   - dbcp_pool_connections_max / _open / _idle / _in_use
//   - dbcp_pool_version
//   - dbcp_pool_acquire_total / _success_total / _timeouts_total
//   - dbcp_pool_create_failures_total, dbcp_pool_destroyed_total
//   - dbcp_pool_validation_fails_total
package pool
