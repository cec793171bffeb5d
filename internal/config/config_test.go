package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("AI_API_KEY", "key")

	cfg, err := LoadConfig("testdata/does-not-exist.env")
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.SimilarityThreshold)
	assert.Equal(t, 1000, cfg.SimilaritySampleSize)
	assert.Equal(t, 0.7, cfg.TrimBoundaryRatio)
	assert.Equal(t, 20, cfg.RecentSummaryWindow)
	assert.Equal(t, 10, cfg.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 15*time.Second, cfg.AIConnectTimeout)
	assert.Equal(t, 300*time.Second, cfg.AIStreamTimeout)
	assert.Equal(t, "key", cfg.AIAPIKey)
	assert.Equal(t, "pw", cfg.DBPassword)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("AI_CLIENT_TYPE", "ollama")
	t.Setenv("AI_BASE_URL", "http://localhost:11434")
	t.Setenv("SIMILARITY_THRESHOLD", "0.35")
	t.Setenv("WORKER_POOL_SIZE", "3")

	cfg, err := LoadConfig("testdata/does-not-exist.env")
	require.NoError(t, err)
	assert.Equal(t, 0.35, cfg.SimilarityThreshold)
	assert.Equal(t, 3, cfg.WorkerPoolSize)
	assert.Empty(t, cfg.AIAPIKey, "ollama needs no key")
}

func TestLoadConfig_InvalidThreshold(t *testing.T) {
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("AI_API_KEY", "key")
	t.Setenv("SIMILARITY_THRESHOLD", "1.5")

	_, err := LoadConfig("testdata/does-not-exist.env")
	assert.Error(t, err)
}

func TestMaskedDSN(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "secret", DBHost: "h", DBPort: "5432", DBName: "db", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://u:secret@h:5432/db?sslmode=disable", cfg.GetDSN())
	assert.NotContains(t, cfg.MaskedDSN(), "secret")
}

func TestGetAllowedOrigins(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: " http://a.test, ,http://b.test"}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.GetAllowedOrigins())
	assert.Nil(t, (&Config{}).GetAllowedOrigins())
}
