package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	dbm "github.com/tendermint/tm-db"

	"github.com/reinetwork/reimint/libs/log"
)

// NOTE: viper reads the config.toml through the mapstructure tags and
// WriteConfigFile renders it through the toml tags. Keep both in sync.
var (
	DefaultReimintDir = ".reimint"
	defaultConfigDir  = "config"
	defaultDataDir    = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultWALPath        = filepath.Join(defaultDataDir, "cs.wal", "wal")
)

// Config defines the top level configuration of the consensus support
// services.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	WAL        *WALConfig        `mapstructure:"wal" toml:"wal"`
	Evidence   *EvidenceConfig   `mapstructure:"evidence" toml:"evidence"`
	Validators *ValidatorsConfig `mapstructure:"validators" toml:"validators"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: DefaultBaseConfig(),
		WAL:        DefaultWALConfig(),
		Evidence:   DefaultEvidenceConfig(),
		Validators: DefaultValidatorsConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig: TestBaseConfig(),
		WAL:        TestWALConfig(),
		Evidence:   TestEvidenceConfig(),
		Validators: DefaultValidatorsConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.WAL.RootDir = root
	cfg.Evidence.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.WAL.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [wal] section: %w", err)
	}
	if err := cfg.Evidence.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [evidence] section: %w", err)
	}
	if err := cfg.Validators.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [validators] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home" toml:"-"`

	// Chain the signed messages belong to
	ChainID uint64 `mapstructure:"chain_id" toml:"chain_id"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level" toml:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format" toml:"log_format"`
}

// DefaultBaseConfig returns a default base configuration
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		ChainID:   1,
		LogLevel:  log.LogLevelInfo,
		LogFormat: log.LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.LogLevel = log.LogLevelDebug
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatText, log.LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain', 'text' or 'json')")
	}
	switch cfg.LogLevel {
	case log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return nil
}

//-----------------------------------------------------------------------------
// WALConfig

// WALConfig defines the layout of the consensus write-ahead log on disk.
type WALConfig struct {
	RootDir string `mapstructure:"home" toml:"-"`

	// Path of the head file. Rotated segments live next to it.
	Path string `mapstructure:"wal_file" toml:"wal_file"`

	// Size at which the head is rotated into a numbered segment
	HeadSizeLimit int64 `mapstructure:"head_size_limit" toml:"head_size_limit"`

	// Oldest segments are removed once the group grows past this size.
	// 0 disables the limit.
	TotalSizeLimit int64 `mapstructure:"total_size_limit" toml:"total_size_limit"`

	// How often the size limits are checked
	CheckDuration time.Duration `mapstructure:"check_duration" toml:"check_duration"`

	// Maximum number of segments removed per check
	MaxFilesToRemove int `mapstructure:"max_files_to_remove" toml:"max_files_to_remove"`

	// How often buffered records are flushed to disk
	FlushInterval time.Duration `mapstructure:"flush_interval" toml:"flush_interval"`
}

// DefaultWALConfig returns a default WAL configuration
func DefaultWALConfig() *WALConfig {
	return &WALConfig{
		Path:             defaultWALPath,
		HeadSizeLimit:    10 * 1024 * 1024,       // 10MB
		TotalSizeLimit:   1 * 1024 * 1024 * 1024, // 1GB
		CheckDuration:    10 * time.Second,
		MaxFilesToRemove: 4,
		FlushInterval:    2 * time.Second,
	}
}

// TestWALConfig returns a WAL configuration for testing
func TestWALConfig() *WALConfig {
	cfg := DefaultWALConfig()
	cfg.HeadSizeLimit = 64 * 1024
	cfg.TotalSizeLimit = 0
	cfg.CheckDuration = 100 * time.Millisecond
	cfg.FlushInterval = 100 * time.Millisecond
	return cfg
}

// WalFile returns the full path to the WAL head file.
func (cfg *WALConfig) WalFile() string {
	return rootify(cfg.Path, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *WALConfig) ValidateBasic() error {
	if cfg.Path == "" {
		return errors.New("wal_file can't be empty")
	}
	if cfg.HeadSizeLimit <= 0 {
		return errors.New("head_size_limit must be positive")
	}
	if cfg.TotalSizeLimit < 0 {
		return errors.New("total_size_limit can't be negative")
	}
	if cfg.TotalSizeLimit > 0 && cfg.TotalSizeLimit < cfg.HeadSizeLimit {
		return errors.New("total_size_limit can't be less than head_size_limit")
	}
	if cfg.CheckDuration <= 0 {
		return errors.New("check_duration must be positive")
	}
	if cfg.MaxFilesToRemove < 0 {
		return errors.New("max_files_to_remove can't be negative")
	}
	if cfg.FlushInterval <= 0 {
		return errors.New("flush_interval must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// EvidenceConfig

// EvidenceConfig defines the evidence pool and its backing database.
type EvidenceConfig struct {
	RootDir string `mapstructure:"home" toml:"-"`

	// Evidence older than this many blocks is expired
	MaxAgeNumBlocks uint64 `mapstructure:"max_age_num_blocks" toml:"max_age_num_blocks"`

	// Number of pending evidence kept in memory
	MaxCacheSize int `mapstructure:"max_cache_size" toml:"max_cache_size"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend" toml:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir" toml:"db_dir"`
}

// DefaultEvidenceConfig returns a default evidence configuration
func DefaultEvidenceConfig() *EvidenceConfig {
	return &EvidenceConfig{
		MaxAgeNumBlocks: 10000,
		MaxCacheSize:    100,
		DBBackend:       string(dbm.GoLevelDBBackend),
		DBPath:          defaultDataDir,
	}
}

// TestEvidenceConfig returns an evidence configuration for testing
func TestEvidenceConfig() *EvidenceConfig {
	cfg := DefaultEvidenceConfig()
	cfg.MaxAgeNumBlocks = 100
	cfg.MaxCacheSize = 10
	cfg.DBBackend = string(dbm.MemDBBackend)
	return cfg
}

// DBDir returns the full path to the evidence database directory.
func (cfg *EvidenceConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *EvidenceConfig) ValidateBasic() error {
	if cfg.MaxAgeNumBlocks == 0 {
		return errors.New("max_age_num_blocks must be positive")
	}
	if cfg.MaxCacheSize <= 0 {
		return errors.New("max_cache_size must be positive")
	}
	switch dbm.BackendType(cfg.DBBackend) {
	case dbm.GoLevelDBBackend, dbm.MemDBBackend:
	default:
		return fmt.Errorf("unsupported db_backend %q (must be 'goleveldb' or 'memdb')", cfg.DBBackend)
	}
	return nil
}

//-----------------------------------------------------------------------------
// ValidatorsConfig

// ValidatorsConfig defines how the active validator set is selected.
type ValidatorsConfig struct {
	// Maximum number of active validators
	MaxCount int `mapstructure:"max_count" toml:"max_count"`

	// Hex addresses of the genesis validators, used to fill the active set
	// when too few validators are staked
	Genesis []string `mapstructure:"genesis" toml:"genesis"`
}

// DefaultValidatorsConfig returns a default validators configuration
func DefaultValidatorsConfig() *ValidatorsConfig {
	return &ValidatorsConfig{
		MaxCount: 21,
		Genesis:  []string{},
	}
}

// GenesisAddresses parses the genesis validator addresses.
func (cfg *ValidatorsConfig) GenesisAddresses() ([]common.Address, error) {
	addrs := make([]common.Address, 0, len(cfg.Genesis))
	seen := make(map[common.Address]struct{}, len(cfg.Genesis))
	for _, s := range cfg.Genesis {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid genesis address %q", s)
		}
		addr := common.HexToAddress(s)
		if _, ok := seen[addr]; ok {
			return nil, fmt.Errorf("duplicate genesis address %s", addr.Hex())
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ValidatorsConfig) ValidateBasic() error {
	if cfg.MaxCount <= 0 {
		return errors.New("max_count must be positive")
	}
	if len(cfg.Genesis) > cfg.MaxCount {
		return fmt.Errorf("%d genesis validators exceed max_count %d", len(cfg.Genesis), cfg.MaxCount)
	}
	_, err := cfg.GenesisAddresses()
	return err
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
