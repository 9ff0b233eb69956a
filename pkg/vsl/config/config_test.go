package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, defaultNetworkCachingMS, cfg.NetworkCachingMS)
	require.False(t, cfg.ContinuousFor("sinasegment"))
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsl.yaml")
	contents := "network_caching_ms: 3000\nhttp_continuous:\n  sinasegment: true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.NetworkCachingMS)
	require.True(t, cfg.ContinuousFor("sinasegment"))
	require.False(t, cfg.ContinuousFor("youkusegment"))
}
