package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Crawler.Concurrency)
	require.Equal(t, 1000, cfg.Crawler.MaxPagesDefault)
	require.Equal(t, 10, cfg.Crawler.MaxDepthDefault)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, time.Second, cfg.CrawlDelay())
	require.Equal(t, 0.8, cfg.Dedup.PageSimilarity)
	require.Equal(t, "memory", cfg.DB.Backend)
	require.Equal(t, "docpress", cfg.Output.FilePrefix)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: 9090
crawler:
  concurrency: 8
  delay_seconds: 0.5
db:
  backend: sqlite
  path: jobs.db
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 8, cfg.Crawler.Concurrency)
	require.Equal(t, 500*time.Millisecond, cfg.CrawlDelay())
	require.Equal(t, "sqlite", cfg.DB.Backend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	bad := base
	bad.Server.Port = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.Dedup.PageSimilarity = 1.5
	require.Error(t, bad.Validate())

	bad = base
	bad.DB.Backend = "postgres"
	require.Error(t, bad.Validate())

	bad = base
	bad.DB.Backend = "sqlite"
	bad.DB.Path = ""
	require.Error(t, bad.Validate())

	bad = base
	bad.Auth.Enabled = true
	bad.Auth.APIKey = ""
	require.Error(t, bad.Validate())
}
