package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buddy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.NoError(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
capacity: 1048576
storage: mmap
logLevel: debug
preallocSizes: [4096, 65536]
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1048576), c.Capacity)
	assert.Equal(t, "mmap", c.Storage)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, []uint64{4096, 65536}, c.PreallocSizes)
	// untouched fields keep their defaults
	assert.Equal(t, "127.0.0.1:1234", c.Addr)
	assert.Equal(t, "text", c.LogFormat)
}

func TestLoadFileFromEnv(t *testing.T) {
	t.Setenv(ConfigFileEnv, writeConfig(t, "capacity: 4096\n"))

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), c.Capacity)
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadUnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "capacityy: 10\n"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "capacity: 4096\naddr: 0.0.0.0:9000\n")
	t.Setenv("BUDDY_CAPACITY", "8192")
	t.Setenv("BUDDY_PREALLOC_SIZES", "16,32")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), c.Capacity)
	assert.Equal(t, "0.0.0.0:9000", c.Addr)
	assert.Equal(t, []uint64{16, 32}, c.PreallocSizes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"capacity", func(c *Config) { c.Capacity = 0 }},
		{"storage", func(c *Config) { c.Storage = "disk" }},
		{"addr", func(c *Config) { c.Addr = "" }},
		{"logLevel", func(c *Config) { c.LogLevel = "verbose" }},
		{"logFormat", func(c *Config) { c.LogFormat = "xml" }},
		{"preallocSizes", func(c *Config) { c.PreallocSizes = []uint64{16, 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}
