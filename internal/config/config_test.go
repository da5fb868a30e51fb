package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"TORQUESIGN_ADDR", "DATABASE_URL", "TORQUESIGN_DATABASE_URL", "WORKFLOW_TIMEOUT",
		"KAFKA_BROKERS", "ARCHIVE_BUCKET", "EVENT_BUFFER", "NODE_ENV"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 72*time.Hour, cfg.WorkflowTimeout)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, 256, cfg.EventBuffer)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TORQUESIGN_ADDR", ":9000")
	t.Setenv("DATABASE_URL", "postgres://localhost/torque")
	t.Setenv("WORKFLOW_TIMEOUT", "90m")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("EVENT_BUFFER", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "postgres://localhost/torque", cfg.DatabaseURL)
	assert.Equal(t, 90*time.Minute, cfg.WorkflowTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 16, cfg.EventBuffer)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("WORKFLOW_TIMEOUT", "-1h")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("WORKFLOW_TIMEOUT", "")
	t.Setenv("EVENT_BUFFER", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRequiresSignerKeyInProduction(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	t.Setenv("SIGNER_KEY_B64", "")
	_, err := Load()
	assert.Error(t, err)
}
