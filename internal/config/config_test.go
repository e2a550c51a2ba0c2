package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	src := `listen: ":9000"
timezone: Europe/London
ics:
  - url: https://example.org/feed.ics
    name: diocese
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "Europe/London", cfg.Timezone)
	assert.Equal(t, defaultRefreshCron, cfg.RefreshCron)
	assert.Equal(t, defaultHorizonDays, cfg.HorizonDays)
	require.Len(t, cfg.ICS, 1)
	assert.Equal(t, "diocese", cfg.ICS[0].SourceID())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.RefreshCron = "every so often"
	cfg.Timezone = "Mars/Olympus"
	cfg.ICS = []ICSConfig{
		{URL: ""},
		{URL: "https://a.example/x.ics", ID: "a", Language: "de"},
		{URL: "https://b.example/x.ics", ID: "a"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, part := range []string{"refresh", "timezone", "ics[0]", "unsupported language", "duplicate id"} {
		assert.Contains(t, err.Error(), part)
	}
}

func TestSourceIDFallbacks(t *testing.T) {
	assert.Equal(t, "id", ICSConfig{ID: "id", Name: "n", URL: "u"}.SourceID())
	assert.Equal(t, "n", ICSConfig{Name: "n", URL: "u"}.SourceID())
	assert.Equal(t, "u", ICSConfig{URL: "u"}.SourceID())
}
