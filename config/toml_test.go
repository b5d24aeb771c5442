package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ensureFiles(t *testing.T, rootDir string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := rootify(f, rootDir)
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
}

func TestEnsureRoot(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "home")

	require.NoError(t, EnsureRoot(root))
	ensureFiles(t, root, "config", "data")

	// idempotent
	require.NoError(t, EnsureRoot(root))
}

func TestEnsureRootRejectsFileAsDataDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, defaultDataDir), []byte{}, 0644))

	err := EnsureRoot(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestWriteConfigFileIsValidTOML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureRoot(root))
	require.NoError(t, WriteConfigFile(root, DefaultConfig()))
	ensureFiles(t, root, defaultConfigFilePath)

	var raw map[string]interface{}
	_, err := toml.DecodeFile(ConfigFile(root), &raw)
	require.NoError(t, err)

	assert.Contains(t, raw, "chain_id")
	assert.Contains(t, raw, "log_level")
	assert.NotContains(t, raw, "home")
	for _, section := range []string{"wal", "evidence", "validators"} {
		assert.IsType(t, map[string]interface{}{}, raw[section], section)
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureRoot(root))

	cfg := DefaultConfig()
	cfg.ChainID = 7
	cfg.LogFormat = "json"
	cfg.WAL.HeadSizeLimit = 4096
	cfg.WAL.TotalSizeLimit = 1 << 20
	cfg.WAL.FlushInterval = 250 * time.Millisecond
	cfg.Evidence.MaxAgeNumBlocks = 42
	cfg.Evidence.DBBackend = "memdb"
	cfg.Validators.MaxCount = 4
	cfg.Validators.Genesis = []string{"0x00000000000000000000000000000000000000aa"}
	require.NoError(t, WriteConfigFile(root, cfg))

	loaded, err := Load(root)
	require.NoError(t, err)

	cfg.SetRoot(root)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, filepath.Join(root, "data", "cs.wal", "wal"), loaded.WAL.WalFile())
}

func TestLoadEnvOverride(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureRoot(root))
	require.NoError(t, WriteConfigFile(root, DefaultConfig()))

	t.Setenv("REIMINT_EVIDENCE_MAX_CACHE_SIZE", "7")
	t.Setenv("REIMINT_LOG_LEVEL", "error")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Evidence.MaxCacheSize)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, EnsureRoot(root))
		cfg := DefaultConfig()
		cfg.Evidence.MaxCacheSize = 0
		require.NoError(t, WriteConfigFile(root, cfg))

		_, err := Load(root)
		assert.Error(t, err)
	})
}

func TestWriteDefaultConfigFileIfNone(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureRoot(root))

	cfg := DefaultConfig()
	cfg.ChainID = 99
	require.NoError(t, WriteConfigFile(root, cfg))
	require.NoError(t, WriteDefaultConfigFileIfNone(root))

	loaded, err := Load(root)
	require.NoError(t, err)
	assert.EqualValues(t, 99, loaded.ChainID)
}
