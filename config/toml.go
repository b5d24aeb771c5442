package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/atomicfile"
	"github.com/spf13/viper"

	tmos "github.com/reinetwork/reimint/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

// EnvPrefix prefixes environment variables overriding config.toml values,
// e.g. REIMINT_WAL_FLUSH_INTERVAL.
const EnvPrefix = "REIMINT"

const configHeader = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/reimint/data") or
# relative to the home directory (e.g. "data").

`

// EnsureRoot creates the root, config, and data directories if they don't exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := tmos.EnsureDir(dir, defaultDirPerm); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFile returns the path of config.toml under rootDir.
func ConfigFile(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// WriteConfigFile encodes cfg as TOML and atomically replaces the
// config.toml under rootDir.
func WriteConfigFile(rootDir string, cfg *Config) error {
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if _, err := atomicfile.WriteAll(ConfigFile(rootDir), &buf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// WriteDefaultConfigFileIfNone writes the default configuration unless a
// config.toml already exists under rootDir.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	if tmos.FileExists(ConfigFile(rootDir)) {
		return nil
	}
	return WriteConfigFile(rootDir, DefaultConfig())
}

// Load reads config.toml from the home directory on top of the defaults.
// Values may be overridden with REIMINT_ prefixed environment variables.
func Load(home string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(home)
	v.AddConfigPath(filepath.Join(home, defaultConfigDir))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no config file in %s: %w", home, err)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetRoot(home)
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("config is invalid: %w", err)
	}
	return cfg, nil
}
