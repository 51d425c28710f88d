package derive

import (
	"bytes"
	"testing"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	store := newFakeStore(baseOrganizations(), nil, nil)
	_, err := NewScheduler(NewEngine(store, EngineConfig{}), "every tuesday", time.Minute, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))
	assert.Error(t, err)
}

func TestScheduler_RunOnce(t *testing.T) {
	store := newFakeStore(baseOrganizations(), []accounts.User{
		{ID: 1, Class: accounts.ClassInternal, LegacyRole: "root"},
	}, nil)
	var logs bytes.Buffer
	scheduler, err := NewScheduler(NewEngine(store, EngineConfig{}), "", time.Minute, observability.NewLogger(observability.InfoLevel, &logs))
	require.NoError(t, err)

	scheduler.RunOnce()

	assert.Len(t, store.derived, 4)
	assert.Contains(t, logs.String(), "Scheduled rebuild wrote 4 roles")
}

func TestScheduler_RunOnceSwallowsFailures(t *testing.T) {
	store := newFakeStore(baseOrganizations(), nil, nil)
	store.failReplace = true
	var logs bytes.Buffer
	scheduler, err := NewScheduler(NewEngine(store, EngineConfig{}), DefaultSchedule, time.Minute, observability.NewLogger(observability.InfoLevel, &logs))
	require.NoError(t, err)

	assert.NotPanics(t, scheduler.RunOnce)
	assert.Contains(t, logs.String(), "Scheduled rebuild failed")
}

func TestScheduler_StartStop(t *testing.T) {
	store := newFakeStore(baseOrganizations(), nil, nil)
	scheduler, err := NewScheduler(NewEngine(store, EngineConfig{}), "@every 1h", time.Minute, observability.NewLogger(observability.InfoLevel, &bytes.Buffer{}))
	require.NoError(t, err)

	scheduler.Start()
	ctx := scheduler.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
