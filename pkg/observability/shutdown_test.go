package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsFunctionsInOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), time.Second)
	sm.AddServer(&http.Server{Addr: "127.0.0.1:0"})

	var order []string
	for _, step := range []string{"scheduler", "store", "otel"} {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			order = append(order, step)
			return nil
		})
	}

	assert.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"scheduler", "store", "otel"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("redis close failed") })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	assert.ErrorContains(t, err, "redis close failed")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), 20*time.Millisecond)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var skipped atomic.Bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		skipped.Store(false)
		return nil
	})
	skipped.Store(true)

	err := sm.Shutdown(context.Background())
	assert.ErrorContains(t, err, "shutdown timeout reached")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, skipped.Load())
}

func TestShutdownManager_IgnoresCancelledParent(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), time.Second)
	var ran bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		ran = ctx.Err() == nil
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sm.Shutdown(ctx))
	assert.True(t, ran)
}
