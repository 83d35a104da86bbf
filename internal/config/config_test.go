package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrDefaultMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10, cfg.Audit.Workers)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9090
  host: 127.0.0.1
audit:
  workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 4, cfg.Audit.Workers)
	// Untouched fields keep their defaults.
	require.Equal(t, 800, cfg.Audit.HighWaterMark)
}

func TestEnvOverlayWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("PORT", "7070")
	t.Setenv("REDIS_URL", "redis://overridden:6379/1")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "redis://overridden:6379/1", cfg.Store.RedisURL)
}

func TestDiffReportsChangedFields(t *testing.T) {
	old := defaultConfig()
	updated := defaultConfig()
	updated.Server.Port = 9999
	updated.Audit.Workers = 20

	changes := Diff(old, updated)
	require.Len(t, changes, 2)
}

func TestDiffNoChanges(t *testing.T) {
	old := defaultConfig()
	same := defaultConfig()

	require.Empty(t, Diff(old, same))
}
