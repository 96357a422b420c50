package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)

	g := cfg.Governance
	assert.Equal(t, 5*time.Minute, g.CacheTTL)
	assert.Equal(t, 100, g.CacheCapacity)
	assert.Equal(t, 10, g.RateLimit)
	assert.Equal(t, 2*time.Minute, g.RateWindow)
	assert.Equal(t, 3, g.StrikeLimit)
	assert.Equal(t, 10*time.Minute, g.StrikeWindow)
	assert.Equal(t, 5*time.Minute, g.PenaltyDuration)
	assert.Contains(t, cfg.Upstream.SystemPrompt, DefaultOffTopicMarker)
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
listen: ":9090"
providers:
  - name: openai
    url: https://api.openai.com
    api_key: ${TEST_API_KEY}
governance:
  cache_ttl: 30m
  rate_limit: 20
  strike_limit: 5
audit:
  enabled: true
  db_path: audit.db
  exclude_kinds: [cache_hit]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "sk-test-123", cfg.Providers[0].APIKey, "env var expanded")
	assert.Equal(t, 30*time.Minute, cfg.Governance.CacheTTL)
	assert.Equal(t, 20, cfg.Governance.RateLimit)
	assert.Equal(t, 5, cfg.Governance.StrikeLimit)
	assert.Equal(t, 5*time.Minute, cfg.Governance.PenaltyDuration, "unset fields keep defaults")
	assert.True(t, cfg.Audit.Enabled)
	assert.Len(t, cfg.Audit.ExcludeKinds, 1)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WARDEN_TEST_DOTENV_KEY=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("WARDEN_TEST_DOTENV_KEY") })

	path := filepath.Join(dir, "config.yaml")
	content := "providers:\n  - name: p\n    url: http://x\n    api_key: ${WARDEN_TEST_DOTENV_KEY}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Providers[0].APIKey)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Governance.RateLimit = 0
	cfg.Governance.PenaltyDuration = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"provider", "rate_limit", "penalty_duration"} {
		assert.ErrorContains(t, err, want)
	}
}
