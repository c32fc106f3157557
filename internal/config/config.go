// Package config loads tipledger settings.
//
// Settings are resolved in order: built-in defaults, an optional YAML file,
// then TIPLEDGER_* environment variables. A .env file in the working
// directory is loaded into the environment first; variables already set
// win over it. Command-line flags are applied by the caller after Load.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/justthetip/internal/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TIPLEDGER_"

// Default configuration values.
const (
	DefaultDataDir             = "./data"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultLamportsPerByteYear = 3480
	DefaultExemptionThreshold  = 2
	DefaultComputeBudget       = 200_000

	// journalFile is the receipt database name inside DataDir.
	journalFile = "receipts.db"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Rent holds the rent-exemption parameters.
type Rent struct {
	LamportsPerByteYear uint64 `yaml:"lamports_per_byte_year"`
	ExemptionThreshold  uint64 `yaml:"exemption_threshold"`
}

// Config holds the ledger configuration.
type Config struct {
	// DataDir holds the accounts database and, by default, the journal.
	DataDir string `yaml:"data_dir"`

	// InMemory keeps accounts in memory. The journal is skipped unless
	// JournalPath is set.
	InMemory bool `yaml:"in_memory"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// ProgramID is the base58 address the tip program is registered at.
	ProgramID string `yaml:"program_id"`

	Rent          Rent   `yaml:"rent"`
	ComputeBudget uint64 `yaml:"compute_budget"`

	// JournalPath overrides the receipt database location.
	JournalPath string `yaml:"journal_path"`

	// MetricsAddr enables the /metrics listener, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:   DefaultDataDir,
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		ProgramID: types.JustTheTipProgramAddr.String(),
		Rent: Rent{
			LamportsPerByteYear: DefaultLamportsPerByteYear,
			ExemptionThreshold:  DefaultExemptionThreshold,
		},
		ComputeBudget: DefaultComputeBudget,
	}
}

// Load resolves the configuration. An empty path skips the file.
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from TIPLEDGER_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DATA_DIR":     &c.DataDir,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FORMAT":   &c.LogFormat,
		"PROGRAM_ID":   &c.ProgramID,
		"JOURNAL_PATH": &c.JournalPath,
		"METRICS_ADDR": &c.MetricsAddr,
	}
	for name, field := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = v
		}
	}

	num := map[string]*uint64{
		"COMPUTE_BUDGET":         &c.ComputeBudget,
		"LAMPORTS_PER_BYTE_YEAR": &c.Rent.LamportsPerByteYear,
		"EXEMPTION_THRESHOLD":    &c.Rent.ExemptionThreshold,
	}
	for name, field := range num {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, name, err)
		}
		*field = n
	}

	if v, ok := lookup(EnvPrefix + "IN_MEMORY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sIN_MEMORY: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.InMemory = b
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required unless in_memory is set", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	if _, err := c.Program(); err != nil {
		return fmt.Errorf("%w: program_id: %v", ErrInvalidConfig, err)
	}
	if c.Rent.LamportsPerByteYear == 0 || c.Rent.ExemptionThreshold == 0 {
		return fmt.Errorf("%w: rent parameters must be positive", ErrInvalidConfig)
	}
	if c.ComputeBudget == 0 {
		return fmt.Errorf("%w: compute_budget must be positive", ErrInvalidConfig)
	}
	return nil
}

// Program returns the parsed program id.
func (c *Config) Program() (types.Pubkey, error) {
	return types.PubkeyFromBase58(c.ProgramID)
}

// AccountsDir returns the accounts database directory.
func (c *Config) AccountsDir() string {
	return filepath.Join(c.DataDir, "accounts")
}

// JournalFile returns the receipt database path, or "" when receipts are
// not persisted.
func (c *Config) JournalFile() string {
	if c.JournalPath != "" {
		return c.JournalPath
	}
	if c.InMemory {
		return ""
	}
	return filepath.Join(c.DataDir, journalFile)
}

// NewLogger builds a logger from the level and format settings.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
