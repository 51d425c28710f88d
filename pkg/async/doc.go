// Package async runs background tasks with panic recovery, timeouts and
// context cancellation.
//
//	async.SafeGo(ctx, 10*time.Minute, "role rebuild", func(ctx context.Context) error {
//		_, err := engine.Rebuild(ctx)
//		return err
//	})
package async
