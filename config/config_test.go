package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 10, cfg.MinReasonLength)
	assert.Equal(t, 5, cfg.MaxWriteAttempts)
	assert.Equal(t, 15*time.Minute, cfg.DriftInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LEDGER_ENV", "production")
	t.Setenv("LEDGER_STORE", "SQLite")
	t.Setenv("LEDGER_MIN_REASON_LENGTH", "20")
	t.Setenv("LEDGER_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LEDGER_DRIFT_AUTO_RECONCILE", "true")
	t.Setenv("LEDGER_DOCUMENT_TZ", "Europe/Madrid")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 20, cfg.MinReasonLength)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.DriftAutoReconcile)
	assert.Equal(t, "Europe/Madrid", cfg.Location().String())
}

func TestFromEnv_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown store", map[string]string{"LEDGER_STORE": "mongo"}, "unknown store"},
		{"postgres without dsn", map[string]string{"LEDGER_STORE": "postgres"}, "POSTGRES_DSN"},
		{"webhook without url", map[string]string{"LEDGER_NOTIFIER": "webhook"}, "WEBHOOK_URL"},
		{"bad timezone", map[string]string{"LEDGER_DOCUMENT_TZ": "Mars/Olympus"}, "timezone"},
		{"bad duration", map[string]string{"LEDGER_DRIFT_INTERVAL": "soon"}, "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
