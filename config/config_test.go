package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load("")
	require.NoError(err)
	require.Equal("local", cfg.ChainID)
	require.Empty(cfg.LedgerEndpoint)
	require.Equal(uint64(1000), cfg.Reader.Window)
	require.Equal(5*time.Second, cfg.Indexer.PollInterval)
	require.Equal(":8080", cfg.API.ListenAddr)
	require.False(cfg.Content.VerifyDigest)
	require.Equal(4, cfg.Prefetch.Workers)
}

func TestLoadOverridesDefaults(t *testing.T) {
	require := require.New(t)

	path := writeConfig(t, `
chainId: fuji
contract: "00deadbeef"
reader:
  window: 250
content:
  verifyDigest: true
api:
  listenAddr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("fuji", cfg.ChainID)
	require.Equal("00deadbeef", cfg.Contract)
	require.Equal(uint64(250), cfg.Reader.Window)
	require.True(cfg.Content.VerifyDigest)
	require.Equal(":9090", cfg.API.ListenAddr)

	// Untouched sections keep their defaults.
	require.Equal(uint64(10000), cfg.Indexer.PruneDepth)
	require.Equal("scanstate", cfg.ScanDB.Path)
}

func TestLoadMissingFile(t *testing.T) {
	require := require.New(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(err)
}

func TestLoadMalformedYAML(t *testing.T) {
	require := require.New(t)

	_, err := Load(writeConfig(t, "chainId: [unclosed"))
	require.Error(err)
}

func TestLoadInvalidValuesRejected(t *testing.T) {
	require := require.New(t)

	_, err := Load(writeConfig(t, "reader:\n  window: 0\n"))
	require.Error(err)

	_, err = Load(writeConfig(t, `chainId: ""`))
	require.Error(err)
}
