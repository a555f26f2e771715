package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/pkg/config"
)

func TestLoad_ValoresPorDefecto(t *testing.T) {
	t.Setenv("SECRETS_KEY", "00")
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.App.StoreDriver)
	assert.Equal(t, []int{502, 503, 504}, cfg.Hacienda.ContingencyStatuses)
	assert.Equal(t, 3, cfg.Hacienda.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Hacienda.TokenTTL)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.True(t, cfg.Invalidation.StrictReplacement)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoad_DesdeEntorno(t *testing.T) {
	t.Setenv("SECRETS_KEY", "00")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HACIENDA_CONTINGENCY_STATUSES", "503, 504")
	t.Setenv("HACIENDA_TRANSIENT_CODES", "098,099")
	t.Setenv("RECONCILE_STALE_AFTER", "90")
	t.Setenv("SIGNER_PROBE_INTERVAL", "2m")
	t.Setenv("INVALIDATION_STRICT_REPLACEMENT", "false")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.App.StoreDriver)
	assert.Equal(t, []int{503, 504}, cfg.Hacienda.ContingencyStatuses)
	assert.Equal(t, []string{"098", "099"}, cfg.Hacienda.TransientCodes)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.StaleAfter)
	assert.Equal(t, 2*time.Minute, cfg.Signer.ProbeInterval)
	assert.False(t, cfg.Invalidation.StrictReplacement)
}

func TestLoad_DriverDesconocido(t *testing.T) {
	t.Setenv("SECRETS_KEY", "00")
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestDSN_EscapaContrasena(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5432, User: "dte", Password: "p@ss/word", DBName: "dte", SSLMode: "disable"}
	assert.Equal(t, "postgres://dte:p%40ss%2Fword@db:5432/dte?sslmode=disable", c.DSN())

	c.DatabaseURL = "postgres://x"
	assert.Equal(t, "postgres://x", c.ConnectionString())
}
