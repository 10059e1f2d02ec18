package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/config"
	"github.com/dargueta/osfs/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "osfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad__Defaults(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
	assert.Equal(t, common.DefaultGeometry, c.Geometry())
	assert.EqualValues(t, 8, c.BufferPages)
	assert.Equal(t, 100, c.OpLogCapacity)
	assert.Equal(t, 50, c.SwapLogCapacity)
	assert.Empty(t, c.ImagePath)
}

func TestLoad__MissingFileIsSkipped(t *testing.T) {
	c, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestLoad__FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "blockSize: 128\nbufferPages: 4\nimagePath: /tmp/x.img\n")

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 128, c.BlockSize)
	assert.EqualValues(t, 4, c.BufferPages)
	assert.Equal(t, "/tmp/x.img", c.ImagePath)
	assert.EqualValues(t, 1024, c.TotalBlocks, "unset keys keep their defaults")
}

func TestLoad__EnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "bufferPages: 4\nlogLevel: warn\n")
	t.Setenv("OSFS_BUFFER_PAGES", "16")

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 16, c.BufferPages)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, level)
}

func TestLoad__UnknownKeyFails(t *testing.T) {
	path := writeConfigFile(t, "blockSzie: 128\n")

	_, err := config.Load(path)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"block size not a multiple of 64": func(c *config.Config) { c.BlockSize = 100 },
		"no room for data":                func(c *config.Config) { c.TotalBlocks = 35 },
		"too many blocks for u16 pointers": func(c *config.Config) {
			c.TotalBlocks = 70000
		},
		"no inodes":       func(c *config.Config) { c.InodeCount = 0 },
		"no buffer pages": func(c *config.Config) { c.BufferPages = 0 },
		"bad log level":   func(c *config.Config) { c.LogLevel = "loud" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := config.Default()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), errors.ErrArgumentOutOfRange)
		})
	}
}

func TestLoad__PresetOverridesGeometry(t *testing.T) {
	path := writeConfigFile(t, "preset: classroom\nblockSize: 256\n")
	t.Setenv("OSFS_TOTAL_BLOCKS", "4096")

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 128, c.BlockSize)
	assert.EqualValues(t, 2048, c.TotalBlocks)
	assert.EqualValues(t, 64, c.InodeCount)
}

func TestLoad__UnknownPreset(t *testing.T) {
	t.Setenv("OSFS_PRESET", "zip-disk")

	_, err := config.Load("")
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
}
