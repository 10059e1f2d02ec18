// Package config loads the settings for a storage stack. Values come from the
// built-in defaults, then an optional YAML file, then `OSFS_*` environment
// variables, each overriding the one before. A geometry preset, if named,
// overrides the geometry from all three.
package config

import (
	"fmt"
	"os"

	"github.com/dargueta/osfs/buffer"
	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/disk"
	"github.com/dargueta/osfs/errors"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const EnvVarPrefix = "OSFS"

type Config struct {
	// ImagePath is the disk image file. If empty, the volume lives in memory
	// and is lost on exit.
	ImagePath       string `envconfig:"IMAGE_PATH"        yaml:"imagePath"`
	Preset          string `envconfig:"PRESET"            yaml:"preset"`
	BlockSize       uint   `envconfig:"BLOCK_SIZE"        yaml:"blockSize"`
	TotalBlocks     uint   `envconfig:"TOTAL_BLOCKS"      yaml:"totalBlocks"`
	InodeCount      uint   `envconfig:"INODE_COUNT"       yaml:"inodeCount"`
	BufferPages     uint   `envconfig:"BUFFER_PAGES"      yaml:"bufferPages"`
	OpLogCapacity   int    `envconfig:"OP_LOG_CAPACITY"   yaml:"opLogCapacity"`
	SwapLogCapacity int    `envconfig:"SWAP_LOG_CAPACITY" yaml:"swapLogCapacity"`
	LogLevel        string `envconfig:"LOG_LEVEL"         yaml:"logLevel"`
}

func Default() Config {
	return Config{
		BlockSize:       common.DefaultGeometry.BlockSize,
		TotalBlocks:     common.DefaultGeometry.TotalBlocks,
		InodeCount:      common.DefaultGeometry.InodeCount,
		BufferPages:     buffer.DefaultPageCount,
		OpLogCapacity:   disk.DefaultOperationLogCapacity,
		SwapLogCapacity: buffer.DefaultSwapLogCapacity,
		LogLevel:        "info",
	}
}

// Load builds a configuration from the defaults, the YAML file at `path`, and
// the environment. A missing file is skipped; so is an empty `path`. The result
// is validated.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, errors.ErrIOFailed.Wrap(err)
			}
			log.WithField("path", path).Debug("config file not found, skipping")
		} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return Config{}, errors.ErrArgumentOutOfRange.WithMessage(
				fmt.Sprintf("parsing %s: %s", path, err.Error()))
		}
	}

	if err := envconfig.Process(EnvVarPrefix, &c); err != nil {
		return Config{}, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("parsing environment variables: %s", err.Error()))
	}

	if err := c.ApplyPreset(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyPreset copies the geometry of the preset named by Preset (see
// [disk.GetPreset]) into BlockSize, TotalBlocks, and InodeCount. It does
// nothing if Preset is empty.
func (c *Config) ApplyPreset() error {
	if c.Preset == "" {
		return nil
	}
	preset, err := disk.GetPreset(c.Preset)
	if err != nil {
		return err
	}
	c.BlockSize = preset.BlockSize
	c.TotalBlocks = preset.TotalBlocks
	c.InodeCount = preset.InodeCount
	return nil
}

func (c *Config) Geometry() common.Geometry {
	return common.Geometry{
		BlockSize:   c.BlockSize,
		TotalBlocks: c.TotalBlocks,
		InodeCount:  c.InodeCount,
	}
}

func (c *Config) Validate() error {
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	if c.BufferPages == 0 {
		return errors.ErrArgumentOutOfRange.WithMessage("bufferPages must be at least 1")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (log.Level, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("logLevel: %s", err.Error()))
	}
	return level, nil
}
