package testing

import (
	"testing"

	"github.com/dargueta/osfs/buffer"
	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/disk"
	"github.com/dargueta/osfs/filesystem"
	"github.com/stretchr/testify/require"
)

// MemoryStack is a complete storage stack on an in-memory image.
type MemoryStack struct {
	Store *disk.BlockStore
	Cache *buffer.BufferCache
	FS    *filesystem.FileSystem
}

// NewMemoryStack formats a fresh in-memory volume and mounts a file system on
// it, with a buffer cache of `pageCount` pages in between.
func NewMemoryStack(geometry common.Geometry, pageCount uint, t *testing.T) MemoryStack {
	store := NewFormattedStore(geometry, t)
	cache := buffer.WrapStore(store, pageCount, 0)

	fs, err := filesystem.New(store, cache)
	require.NoError(t, err, "failed to mount file system")
	return MemoryStack{Store: store, Cache: cache, FS: fs}
}

// NewDefaultMemoryStack is [NewMemoryStack] with the default geometry and page
// count.
func NewDefaultMemoryStack(t *testing.T) MemoryStack {
	return NewMemoryStack(common.DefaultGeometry, buffer.DefaultPageCount, t)
}

// PatternedData returns `size` bytes that differ from block to block, so a
// block read from the wrong place is caught.
func PatternedData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/64) % 251)
	}
	return data
}
