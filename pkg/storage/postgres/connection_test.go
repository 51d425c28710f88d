package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single URL", "postgres://localhost:5432/db", []string{"postgres://localhost:5432/db"}},
		{
			"URLs with whitespace",
			" postgres://host1:5432/db , postgres://host2:5432/db ",
			[]string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{
			"URLs with empty entries",
			"postgres://host1:5432/db,,postgres://host2:5432/db,",
			[]string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{"only commas and whitespace", " , , , ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestNewConnectionManager_UnreachablePrimary(t *testing.T) {
	config := storage.DefaultConfig()
	config.PostgresURL = "postgres://nonexistent:9999/roles?connect_timeout=1&sslmode=disable"
	config.PostgresTimeout = 2 * time.Second

	cm, err := NewConnectionManager(context.Background(), config, observability.NewLogger(observability.ErrorLevel, nil))
	require.Error(t, err)
	assert.Nil(t, cm)
	assert.Contains(t, err.Error(), "failed to connect to primary")
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas falls back to primary", func(t *testing.T) {
		primary := &sql.DB{}
		cm := &ConnectionManager{primary: primary}
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, r2, r3 := &sql.DB{}, &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2, r3}}

		selections := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			selections[cm.Replica()]++
		}
		assert.Equal(t, 10, selections[r1])
		assert.Equal(t, 10, selections[r2])
		assert.Equal(t, 10, selections[r3])
	})

	t.Run("concurrent selection", func(t *testing.T) {
		r1, r2 := &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2}}

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			selections = make(map[*sql.DB]int)
		)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				db := cm.Replica()
				mu.Lock()
				selections[db]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, selections[r1])
		assert.Equal(t, 50, selections[r2])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("primary down", func(t *testing.T) {
		primary, mock := pingMock(t)
		defer primary.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(primary)
		err := cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, primaryMock := pingMock(t)
		defer primary.Close()
		replica, replicaMock := pingMock(t)
		defer replica.Close()
		primaryMock.ExpectPing()
		replicaMock.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
		err := cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "replica-0")
	})

	t.Run("one of two replicas down is tolerated", func(t *testing.T) {
		primary, primaryMock := pingMock(t)
		defer primary.Close()
		up, upMock := pingMock(t)
		defer up.Close()
		down, downMock := pingMock(t)
		defer down.Close()
		primaryMock.ExpectPing()
		upMock.ExpectPing()
		downMock.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{up, down}}
		assert.NoError(t, cm.HealthCheck(ctx))
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	up, upMock := pingMock(t)
	defer up.Close()
	down, downMock := pingMock(t)
	upMock.ExpectPing()
	downMock.ExpectPing().WillReturnError(errors.New("gone"))
	downMock.ExpectClose()

	cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{up, down}}
	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Same(t, up, cm.Replica())
	assert.NoError(t, downMock.ExpectationsWereMet())
}

func TestConnectionManager_StatsAndClose(t *testing.T) {
	primary, primaryMock := pingMock(t)
	replica, replicaMock := pingMock(t)
	primaryMock.ExpectClose()
	replicaMock.ExpectClose().WillReturnError(errors.New("close failed"))

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
	stats := cm.Stats()
	assert.Len(t, stats.Replicas, 1)

	err := cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica-0 close error")
	assert.Same(t, primary, cm.Replica())
}
