package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/brettbedarf/memfs/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestNewConfig_WithNilOverride tests that NewConfig creates a config with all default values
// when no override is provided.
func TestNewConfig_WithNilOverride(t *testing.T) {
	t.Parallel()

	cfg := NewConfig(nil)

	require.NotNil(t, cfg)
	assert.Equal(t, createDefaultCfg(), cfg, "must use default values when no config provided")
	require.NoError(t, cfg.Validate())
}

func TestNewConfig_WithAllOverride(t *testing.T) {
	t.Parallel()

	override := createOverride()
	override.LogLvl = util.Pointer(TraceVerbose)
	cfg := NewConfig(override)

	expCfg := &Config{
		MountOptions: MountOptions{
			Debug:          true,
			FsName:         "test_fs",
			Name:           "test_name",
			AllowOther:     true,
			SingleThreaded: true,
		},
		LogLvl:        util.TraceLevel,
		MaxFileSize:   *override.MaxFileSize,
		MaxNameLen:    *override.MaxNameLen,
		StateDir:      *override.StateDir,
		KeepState:     *override.KeepState,
		WriteBack:     *override.WriteBack,
		FlushInterval: *override.FlushInterval,
		StrictPersist: *override.StrictPersist,
		MetricsAddr:   *override.MetricsAddr,
		AttrTimeout:   *override.AttrTimeout,
		EntryTimeout:  *override.EntryTimeout,
	}
	require.NotNil(t, cfg)
	assert.Equal(t, expCfg, cfg, "must override all provided fields")
}

func TestConfig_Merge_LogLvlConversion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		verboseValue  int
		expectedLevel util.LogLevel
	}{
		{"verbose_1_error", 1, util.ErrorLevel},
		{"verbose_2_warn", 2, util.WarnLevel},
		{"verbose_3_info", 3, util.InfoLevel},
		{"verbose_4_debug", 4, util.DebugLevel},
		{"verbose_5_trace", 5, util.TraceLevel},
		{"verbose_0_clamped_to_1", 0, util.ErrorLevel},
		{"verbose_100_clamped_to_5", 100, util.TraceLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			override := &ConfigOverride{
				LogLvl: &tt.verboseValue,
			}

			cfg := NewConfig(override)

			assert.Equal(t, tt.expectedLevel, cfg.LogLvl,
				"CLI verbose %d should map to util.LogLevel %v", tt.verboseValue, tt.expectedLevel)
		})
	}
}

func TestConfig_Merge_PartialOverride(t *testing.T) {
	t.Parallel()

	override := &ConfigOverride{
		FsName:      util.Pointer("test_fs"),
		MaxFileSize: util.Pointer(DefaultMaxFileSize * 2),
	}
	cfg := NewConfig(override)

	expCfg := createDefaultCfg()
	expCfg.FsName = "test_fs"
	expCfg.MaxFileSize = DefaultMaxFileSize * 2

	assert.Equal(t, expCfg, cfg, "must override all provided fields and leave rest default")
}

func TestConfig_StatePaths(t *testing.T) {
	t.Parallel()

	cfg := NewConfig(&ConfigOverride{StateDir: util.Pointer("/var/lib/memfs")})
	files, dirs, links := cfg.StatePaths()

	assert.Equal(t, "/var/lib/memfs/files_list", files)
	assert.Equal(t, "/var/lib/memfs/dirs_list", dirs)
	assert.Equal(t, "/var/lib/memfs/links_list", links)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative_max_file_size", func(c *Config) { c.MaxFileSize = -1 }},
		{"zero_max_name_len", func(c *Config) { c.MaxNameLen = 0 }},
		{"empty_state_dir", func(c *Config) { c.StateDir = "" }},
		{"write_back_without_interval", func(c *Config) {
			c.WriteBack = true
			c.FlushInterval = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigOverrideFile_Valid(t *testing.T) {
	t.Parallel()

	type tc struct {
		ext   string
		build func() (*ConfigOverride, []byte)
	}

	cases := []tc{
		{
			ext: ".yaml",
			build: func() (*ConfigOverride, []byte) {
				o := createOverride()
				b, err := yaml.Marshal(o)
				require.NoError(t, err)
				return o, b
			},
		},
		{
			ext: ".yml",
			build: func() (*ConfigOverride, []byte) {
				o := createOverride()
				b, err := yaml.Marshal(o)
				require.NoError(t, err)
				return o, b
			},
		},
		{
			ext: ".json",
			build: func() (*ConfigOverride, []byte) {
				o := createOverride()
				b, err := json.Marshal(o)
				require.NoError(t, err)
				return o, b
			},
		},
	}

	for _, c := range cases {
		t.Run("valid"+c.ext, func(t *testing.T) {
			t.Parallel()
			override, data := c.build()
			path := filepath.Join(t.TempDir(), "override"+c.ext)
			require.NoError(t, os.WriteFile(path, data, 0o600))

			loaded, err := LoadConfigOverrideFile(path)

			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, *override, *loaded)
		})
	}
}

func TestLoadConfigOverrideFile_HandWrittenYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_file_size: 4096\nwrite_back: true\nverbose: 4\n"), 0o600))

	cfg, err := NewConfigFromFile(path)

	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.MaxFileSize)
	assert.True(t, cfg.WriteBack)
	assert.Equal(t, util.DebugLevel, cfg.LogLvl)
	assert.Equal(t, DefaultMaxNameLen, cfg.MaxNameLen)
}

func TestLoadConfigOverrideFile_NonExistentFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "does_not_exist.yaml")

	_, err := LoadConfigOverrideFile(path)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err), "expected not exist error, got %v", err)
}

func TestLoadConfigOverrideFile_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "override.txt")
	require.NoError(t, os.WriteFile(path, []byte("max_file_size: 1"), 0o600))

	_, err := LoadConfigOverrideFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config file extension")
}

func TestLoadConfigOverrideFile_Malformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "override.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewConfigFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config file")
}

func createDefaultCfg() *Config {
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

// createOverride makes a ConfigOverride with all non-default values
func createOverride() *ConfigOverride {
	return &ConfigOverride{
		FsName:         util.Pointer("test_fs"),
		Name:           util.Pointer("test_name"),
		AllowOther:     util.Pointer(true),
		SingleThreaded: util.Pointer(true),
		LogLvl:         util.Pointer(DebugVerbose),
		MaxFileSize:    util.Pointer(DefaultMaxFileSize + 1),
		MaxNameLen:     util.Pointer(DefaultMaxNameLen - 1),
		StateDir:       util.Pointer("/var/lib/memfs"),
		KeepState:      util.Pointer(true),
		WriteBack:      util.Pointer(true),
		FlushInterval:  util.Pointer(float64(DefaultFlushInterval + 1)),
		StrictPersist:  util.Pointer(true),
		MetricsAddr:    util.Pointer("127.0.0.1:9101"),
		AttrTimeout:    util.Pointer(float64(DefaultAttrTimeout + 1)),
		EntryTimeout:   util.Pointer(float64(DefaultEntryTimeout + 1)),
	}
}
