package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestLoad(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SCAN_TIMEOUT", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "wait", cfg.MergeLockMode)
	assert.Equal(t, ":3004", cfg.Addr())
	assert.Equal(t, 0.05, cfg.ScanMaterialChange)
	assert.True(t, cfg.DatabaseMigrationAutoRollback)
	assert.Equal(t, 0, cfg.DatabaseMigrationVersion)
}

func TestLoad_EnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("CLOVER_TEST_LOCK=1\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("CLOVER_TEST_LOCK") })

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "1", os.Getenv("CLOVER_TEST_LOCK"))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{name: "store backend", key: "STORE_BACKEND", value: "sqlite"},
		{name: "lock backend", key: "LOCK_BACKEND", value: "etcd"},
		{name: "lock mode", key: "MERGE_LOCK_MODE", value: "spin"},
		{name: "negative budget", key: "SCAN_MAX_RESULTS", value: "-1"},
		{name: "negative migration version", key: "DB_MIGRATION_VERSION", value: "-2"},
		{name: "non numeric port", key: "PORT", value: "http"},
		{name: "bad duration", key: "SCAN_TIMEOUT", value: "ten minutes"},
		{name: "bad bool", key: "AUTO_MERGE_ENABLED", value: "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog("sources.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"clients", "leads"}, catalog.Names())

	leads, ok := catalog.Table("leads")
	require.True(t, ok)
	assert.Equal(t, models.ReconcileManual, leads.PolicyFor("owner_id"))
	assert.Equal(t, models.ReconcilePreferNonNull, leads.PolicyFor("website"))

	clients, ok := catalog.Table("clients")
	require.True(t, ok)
	assert.Equal(t, "id", clients.IDColumn)
	assert.Equal(t, 10, clients.Priority)

	_, err = ParseCatalog([]byte("tables: []"))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("tables:\n  - name: leads\n    merge_policy: {default: coinflip}\n"))
	assert.Error(t, err)
}
