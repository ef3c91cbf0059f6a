package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sqlite_path: /data/custom.db\ncontext_compact_threshold: 60\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/data/custom.db", cfg.SQLitePath)
	require.Equal(t, 60, cfg.ContextCompactThreshold)
	require.Equal(t, Default().RedisAddress, cfg.RedisAddress)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sqlite_path: /data/from-file.db\n"), 0o644))

	t.Setenv("SQLITE_PATH", "/data/from-env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/data/from-env.db", cfg.SQLitePath)
}
