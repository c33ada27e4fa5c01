package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/memfs/internal/util"
	"gopkg.in/yaml.v3"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultFsName = "memfs"
	DefaultName   = "memfs"

	DefaultLogLvl = util.InfoLevel

	// DefaultMaxFileSize is the largest content a regular file may hold in bytes
	DefaultMaxFileSize = 512

	// DefaultMaxNameLen is the longest allowed final path segment in bytes
	DefaultMaxNameLen = 255

	// DefaultFlushInterval is the write-back flush period in seconds
	DefaultFlushInterval = 1.0

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0
)

// DefaultStateDir is where the persistence streams live unless overridden.
var DefaultStateDir = os.TempDir()

// Config contains runtime configuration values for the in-memory filesystem.
type Config struct {
	MountOptions
	LogLvl util.LogLevel

	MaxFileSize int // Maximum bytes a regular file can hold (Default 512)
	MaxNameLen  int // Maximum length of a node's name (Default 255)

	StateDir      string  // Directory holding the files/dirs/links streams (Default os.TempDir())
	KeepState     bool    // Leave the streams in place on unmount instead of removing them
	WriteBack     bool    // Persist from a background flusher instead of on every mutation
	FlushInterval float64 // Write-back flush period in seconds (Default 1.0)
	StrictPersist bool    // Fail (and roll back) a mutation whose persistence fails

	MetricsAddr string // Listen address for the Prometheus endpoint; empty disables it

	// NOTE: Low-level FUSE config (strongly recommend defaults unless you really know what you're doing):

	AttrTimeout  float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 // Directory entry cache timeout in seconds (Default 1.0)
}

// StatePaths returns the files, dirs and links stream paths.
func (c *Config) StatePaths() (files, dirs, links string) {
	return filepath.Join(c.StateDir, FilesStateFile),
		filepath.Join(c.StateDir, DirsStateFile),
		filepath.Join(c.StateDir, LinksStateFile)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	FsName         *string `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name           *string `yaml:"name,omitempty" json:"name,omitempty"`
	AllowOther     *bool   `yaml:"allow_other,omitempty" json:"allow_other,omitempty"`
	SingleThreaded *bool   `yaml:"single_threaded,omitempty" json:"single_threaded,omitempty"`
	// LogLvl is a CLI style verbosity between 1 (error) and 5 (trace)
	LogLvl        *int     `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	MaxFileSize   *int     `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	MaxNameLen    *int     `yaml:"max_name_len,omitempty" json:"max_name_len,omitempty"`
	StateDir      *string  `yaml:"state_dir,omitempty" json:"state_dir,omitempty"`
	KeepState     *bool    `yaml:"keep_state,omitempty" json:"keep_state,omitempty"`
	WriteBack     *bool    `yaml:"write_back,omitempty" json:"write_back,omitempty"`
	FlushInterval *float64 `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty"`
	StrictPersist *bool    `yaml:"strict_persist,omitempty" json:"strict_persist,omitempty"`
	MetricsAddr   *string  `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	AttrTimeout   *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout  *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
}

// NewConfig creates a Config from defaults with override applied on top.
// A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:        DefaultLogLvl,
		MaxFileSize:   DefaultMaxFileSize,
		MaxNameLen:    DefaultMaxNameLen,
		StateDir:      DefaultStateDir,
		FlushInterval: DefaultFlushInterval,
		AttrTimeout:   DefaultAttrTimeout,
		EntryTimeout:  DefaultEntryTimeout,
	}
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.AllowOther != nil {
		c.AllowOther = *override.AllowOther
	}
	if override.SingleThreaded != nil {
		c.SingleThreaded = *override.SingleThreaded
	}
	if override.LogLvl != nil {
		c.LogLvl = LogLevelFromVerbose(*override.LogLvl)
	}
	if override.MaxFileSize != nil {
		c.MaxFileSize = *override.MaxFileSize
	}
	if override.MaxNameLen != nil {
		c.MaxNameLen = *override.MaxNameLen
	}
	if override.StateDir != nil {
		c.StateDir = *override.StateDir
	}
	if override.KeepState != nil {
		c.KeepState = *override.KeepState
	}
	if override.WriteBack != nil {
		c.WriteBack = *override.WriteBack
	}
	if override.FlushInterval != nil {
		c.FlushInterval = *override.FlushInterval
	}
	if override.StrictPersist != nil {
		c.StrictPersist = *override.StrictPersist
	}
	if override.MetricsAddr != nil {
		c.MetricsAddr = *override.MetricsAddr
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	c.Debug = c.LogLvl == util.TraceLevel
}

// Validate reports settings the filesystem cannot run with.
func (c *Config) Validate() error {
	if c.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must not be negative: %d", c.MaxFileSize)
	}
	if c.MaxNameLen <= 0 {
		return fmt.Errorf("max_name_len must be positive: %d", c.MaxNameLen)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must be set")
	}
	if c.WriteBack && c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive with write_back: %v", c.FlushInterval)
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
