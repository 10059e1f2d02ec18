// Package osfs ties the three layers of the storage stack together behind one
// handle, and exposes them through a command-style interface for callers that
// deal in loosely typed requests.
package osfs

import (
	"io"
	"os"
	"sync"

	"github.com/dargueta/osfs/buffer"
	"github.com/dargueta/osfs/config"
	"github.com/dargueta/osfs/disk"
	"github.com/dargueta/osfs/errors"
	"github.com/dargueta/osfs/filesystem"
	"github.com/dargueta/osfs/snapshot"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Stack owns a block store, the buffer cache in front of it, and the file
// system on top. All access to a volume goes through one Stack.
type Stack struct {
	// lifecycle is held exclusively while the volume is being reformatted or
	// closed, and shared by every other operation.
	lifecycle sync.RWMutex
	config    config.Config
	file      *os.File
	store     *disk.BlockStore
	cache     *buffer.BufferCache
	fs        *filesystem.FileSystem
	closed    bool
	logger    *log.Entry
}

// New builds a stack from a configuration. If [config.Config.ImagePath] is set
// the image file is opened, or created if it doesn't exist; otherwise the
// volume lives in memory. A blank or unrecognized image is formatted.
func New(c config.Config) (*Stack, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	geometry := c.Geometry()
	stack := &Stack{
		config: c,
		logger: log.WithField("component", "stack"),
	}

	var backing io.ReadWriteSeeker
	if c.ImagePath == "" {
		backing = disk.NewMemoryBacking(geometry)
	} else {
		file, err := disk.OpenFileBacking(c.ImagePath, geometry)
		if err != nil {
			return nil, err
		}
		stack.file = file
		backing = file
	}

	store, err := disk.New(backing, geometry, c.OpLogCapacity)
	if err != nil {
		stack.closeFile()
		return nil, err
	}
	formatted, err := store.Mount()
	if err != nil {
		stack.closeFile()
		return nil, err
	}

	stack.store = store
	stack.cache = buffer.WrapStore(store, c.BufferPages, c.SwapLogCapacity)
	stack.fs, err = filesystem.New(store, stack.cache)
	if err != nil {
		stack.closeFile()
		return nil, err
	}

	stack.logger.WithFields(log.Fields{
		"image":     c.ImagePath,
		"formatted": formatted,
		"pages":     c.BufferPages,
	}).Info("storage stack ready")
	return stack, nil
}

// NewInMemory is a shortcut for a stack on a fresh in-memory volume with the
// default settings.
func NewInMemory() (*Stack, error) {
	return New(config.Default())
}

func (stack *Stack) Config() config.Config {
	return stack.config
}

func (stack *Stack) Store() *disk.BlockStore {
	return stack.store
}

func (stack *Stack) Cache() *buffer.BufferCache {
	return stack.cache
}

func (stack *Stack) FileSystem() *filesystem.FileSystem {
	return stack.fs
}

// Format wipes the volume in place. Cached pages are dropped without being
// written back, the open-file table is cleared, and the current directory goes
// back to the root.
func (stack *Stack) Format() error {
	stack.lifecycle.Lock()
	defer stack.lifecycle.Unlock()

	if stack.closed {
		return errors.ErrNotPermitted.WithMessage("stack is closed")
	}
	if err := stack.store.Format(); err != nil {
		return err
	}
	stack.cache.Reset()
	if err := stack.fs.Remount(); err != nil {
		return err
	}

	stack.logger.Info("volume reformatted")
	return nil
}

// Flush writes every dirty cached page back to the volume.
func (stack *Stack) Flush() error {
	stack.lifecycle.RLock()
	defer stack.lifecycle.RUnlock()
	return stack.cache.FlushAll()
}

// Export writes a compressed snapshot of the whole volume to `output` and
// returns its size. Dirty pages are flushed first so the snapshot is current.
func (stack *Stack) Export(output io.Writer) (int64, error) {
	stack.lifecycle.Lock()
	defer stack.lifecycle.Unlock()

	if stack.closed {
		return 0, errors.ErrNotPermitted.WithMessage("stack is closed")
	}
	if err := stack.cache.FlushAll(); err != nil {
		return 0, err
	}

	writer := snapshot.NewWriter(output)
	if err := stack.store.ExportImage(writer); err != nil {
		return writer.BytesWritten(), err
	}
	if err := writer.Close(); err != nil {
		return writer.BytesWritten(), err
	}

	stack.logger.WithField("bytes", writer.BytesWritten()).Info("volume exported")
	return writer.BytesWritten(), nil
}

// Import replaces the volume with one from a snapshot made by [Stack.Export].
// The geometry must match. Like [Stack.Format], it drops the cache and the
// open-file table and goes back to the root directory.
func (stack *Stack) Import(input io.Reader) error {
	stack.lifecycle.Lock()
	defer stack.lifecycle.Unlock()

	if stack.closed {
		return errors.ErrNotPermitted.WithMessage("stack is closed")
	}

	reader, err := snapshot.NewReader(input)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err = stack.store.ImportImage(reader); err != nil {
		return err
	}
	stack.cache.Reset()
	if err = stack.fs.Remount(); err != nil {
		return err
	}

	stack.logger.Info("volume imported")
	return nil
}

// Close flushes the cache and closes the image file, if any. The stack can't
// be used afterwards. Closing twice does nothing.
func (stack *Stack) Close() error {
	stack.lifecycle.Lock()
	defer stack.lifecycle.Unlock()

	if stack.closed {
		return nil
	}
	stack.closed = true

	var result *multierror.Error
	if err := stack.cache.FlushAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := stack.closeFile(); err != nil {
		result = multierror.Append(result, err)
	}
	return errors.CastToDriverError(result.ErrorOrNil())
}

func (stack *Stack) closeFile() error {
	if stack.file == nil {
		return nil
	}
	err := stack.file.Close()
	stack.file = nil
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}
