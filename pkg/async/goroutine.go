package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The returned channel receives the task's result (a recovered panic becomes an
// error) and is then closed. Callers that fire and forget may ignore it.
//
// Example:
//
//	SafeGo(context.WithoutCancel(r.Context()), 10*time.Minute, "role rebuild", func(ctx context.Context) error {
//	    _, err := engine.Rebuild(ctx)
//	    return err
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		logger := observability.FromContext(ctx).WithField("task", taskName)

		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithField("stack", string(debug.Stack())).Errorf("panic in %s: %v", taskName, r)
					err = observability.MustRecover(r)
				}
			}()
			err = fn(ctx)
		}()

		if err != nil {
			// Logged only; the caller decides whether the result matters.
			logger.WithError(err).Error(fmt.Sprintf("background task %s failed", taskName))
		}
		done <- err
	}()

	return done
}
