package config_test

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/pkg/config"
)

func TestLoad_ValoresPorDefecto(t *testing.T) {
	t.Setenv("SIFEN_ENVIRONMENT", "test")
	t.Setenv("STORAGE", "memory")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.App.Storage)
	assert.Equal(t, "https://sifen-test.set.gov.py/de/ws/sync/recibe.wsdl", cfg.SIFEN.SubmitURL)
	assert.Equal(t, "https://ekuatia.set.gov.py/consultas-test/qr?", cfg.SIFEN.QRBaseURL)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.SIFEN.MinTLSVersion)
	assert.Equal(t, 50, cfg.SIFEN.MaxBatchDocuments)
	assert.Equal(t, 72*time.Hour, cfg.Lateness.MaxLateness)
	assert.Equal(t, 4, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Resilience.BreakerCooldown)
	assert.Equal(t, 15*time.Minute, cfg.Monitor.StuckThreshold)
}

func TestLoad_VariablesDeEntorno(t *testing.T) {
	t.Setenv("SIFEN_ENVIRONMENT", "prod")
	t.Setenv("STORAGE", "postgres")
	t.Setenv("SIFEN_QUERY_URL", "https://proxy.interno/consulta")
	t.Setenv("SIFEN_MIN_TLS", "1.3")
	t.Setenv("RETRY_MAX_ATTEMPTS", "6")
	t.Setenv("BREAKER_COOLDOWN", "45s")
	t.Setenv("LATENESS_HOLIDAYS", "2026-05-14, 2026-05-15")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "https://sifen.set.gov.py/de/ws/sync/recibe.wsdl", cfg.SIFEN.SubmitURL)
	assert.Equal(t, "https://proxy.interno/consulta", cfg.SIFEN.QueryURL)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.SIFEN.MinTLSVersion)
	assert.Equal(t, 6, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Resilience.BreakerCooldown)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Len(t, cfg.Lateness.Holidays, 2)
	assert.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), cfg.Lateness.Holidays[1])
}

func TestLoad_ErroresDeValidacion(t *testing.T) {
	cases := map[string]map[string]string{
		"ambiente desconocido": {"SIFEN_ENVIRONMENT": "staging"},
		"tls antiguo":          {"SIFEN_MIN_TLS": "1.0"},
		"lote excedido":        {"SIFEN_MAX_BATCH_DOCUMENTS": "51"},
		"sin intentos":         {"RETRY_MAX_ATTEMPTS": "0"},
		"feriado mal formado":  {"LATENESS_HOLIDAYS": "14/05/2026"},
		"storage desconocido":  {"STORAGE": "sqlite"},
		"ttl de lock mínimo":   {"REDIS_LOCK_TTL": "500ms"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SIFEN_ENVIRONMENT", "test")
			t.Setenv("STORAGE", "memory")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestDBConfig_ConnectionString(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5432, User: "sifen", Password: "p@ss", DBName: "sifen", SSLMode: "disable"}
	assert.Equal(t, "postgres://sifen:p%40ss@db:5432/sifen?sslmode=disable", c.ConnectionString())

	c.DatabaseURL = "postgres://otro"
	assert.Equal(t, "postgres://otro", c.ConnectionString())
}
