//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/torquesign/internal/config"
	"github.com/liamcoop/torquesign/workflow"
)

// setupTestDB starts PostgreSQL in a container, applies the schema and
// returns its connection string
func setupTestDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { postgres.Terminate(ctx) })

	host, err := postgres.Host(ctx)
	require.NoError(t, err)
	port, err := postgres.MappedPort(ctx, "5432")
	require.NoError(t, err)
	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer db.Close()
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(migrationSQL))
	require.NoError(t, err, "apply schema")
	return connStr
}

func testConfig(databaseURL string) config.Config {
	return config.Config{
		DatabaseURL:     databaseURL,
		WorkflowTimeout: 72 * time.Hour,
		SweepInterval:   time.Minute,
		EventBuffer:     16,
		SignerID:        "integration",
		ShutdownTimeout: 5 * time.Second,
	}
}

// TestEndToEndSurvivesRestart drives a session through approval, then starts
// a second app over the same database and checks rules and workflows were
// restored
func TestEndToEndSurvivesRestart(t *testing.T) {
	connStr := setupTestDB(t)
	ctx := context.Background()

	first, err := newApp(ctx, testConfig(connStr))
	require.NoError(t, err)
	s := first.server

	require.Equal(t, http.StatusCreated, call(t, s, "POST", "/api/v1/rules", map[string]any{
		"id": "tight", "ruleType": "TOLERANCE", "parameters": map[string]any{"lower": 147},
		"active": true, "severity": "ERROR",
	}, nil))
	require.Equal(t, http.StatusCreated, call(t, s, "POST", "/api/v1/sessions",
		map[string]any{"id": "s1", "specification": criticalSpec}, nil))
	for _, v := range []float64{150, 146} {
		require.Equal(t, http.StatusOK, call(t, s, "POST", "/api/v1/sessions/s1/readings",
			map[string]any{"instrumentId": "wrench-9", "value": v}, nil))
	}

	var wf workflow.Workflow
	require.Equal(t, http.StatusCreated, call(t, s, "POST", "/api/v1/workflows", map[string]any{
		"id": "wf-1", "type": "COMPLETION", "sessionId": "s1", "initiator": "op-1",
	}, &wf))
	assert.Len(t, wf.Requirements, 3, "critical with an out-of-spec reading")
	require.Equal(t, http.StatusOK, call(t, s, "POST", "/api/v1/workflows/wf-1/signatures", map[string]any{
		"signerId": "op-1", "role": "operator", "type": "APPROVAL",
	}, nil))
	require.Equal(t, http.StatusCreated, call(t, s, "POST", "/api/v1/delegations", map[string]any{
		"delegatedBy": "qi-1", "delegatedTo": "sup-1", "role": "quality_inspector",
		"validFrom": time.Now().Add(-time.Hour), "validTo": time.Now().Add(time.Hour),
	}, nil))
	first.close()

	second, err := newApp(ctx, testConfig(connStr))
	require.NoError(t, err)
	defer second.close()
	s = second.server

	var health HealthResponse
	require.Equal(t, http.StatusOK, call(t, s, "GET", "/api/v1/health", nil, &health))
	assert.Equal(t, "postgres", health.Storage)
	assert.Equal(t, 1, health.Rules)

	require.Equal(t, http.StatusOK, call(t, s, "GET", "/api/v1/workflows/wf-1", nil, &wf))
	assert.Equal(t, workflow.StatusPending, wf.Status)
	assert.Equal(t, 1, wf.CurrentStepIndex)

	require.Equal(t, http.StatusOK, call(t, s, "POST", "/api/v1/workflows/wf-1/signatures", map[string]any{
		"signerId": "sup-1", "role": "supervisor", "type": "APPROVAL",
	}, nil))
	require.Equal(t, http.StatusOK, call(t, s, "POST", "/api/v1/workflows/wf-1/signatures", map[string]any{
		"signerId": "sup-1", "role": "supervisor", "type": "APPROVAL",
	}, &wf), "restored delegation covers the inspector step")
	assert.Equal(t, workflow.StatusCompleted, wf.Status)
}
