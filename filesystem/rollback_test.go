package filesystem

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pinEveryPage flushes and empties the cache, loads `keep` followed by unused
// blocks from the end of the volume until every page is bound, and pins them
// all. Any other block then misses with nowhere to go.
func pinEveryPage(t *testing.T, fs *FileSystem, keep ...common.BlockID) {
	require.NoError(t, fs.cache.FlushAll())
	fs.cache.Reset()

	for _, block := range keep {
		_, err := fs.cache.Acquire(block, 0)
		require.NoError(t, err)
	}
	filler := common.BlockID(fs.geometry.TotalBlocks) - 1
	for i := len(keep); i < fs.cache.PageCount(); i++ {
		_, err := fs.cache.Acquire(filler, 0)
		require.NoError(t, err)
		filler--
	}
	for i := 0; i < fs.cache.PageCount(); i++ {
		require.NoError(t, fs.cache.Pin(i))
	}
}

func unpinEveryPage(t *testing.T, fs *FileSystem) {
	for i := 0; i < fs.cache.PageCount(); i++ {
		require.NoError(t, fs.cache.Unpin(i))
	}
}

func TestFileSystem__Write__FailedShrinkKeepsBlocks(t *testing.T) {
	fs := newTestFileSystem(t, common.DefaultGeometry, 8)
	original := bytes.Repeat([]byte("0123456789abcdef"), 12)

	info, err := fs.Create("f", original, DefaultFilePermissions, 0)
	require.NoError(t, err)
	require.Len(t, info.Blocks, 3)

	pinEveryPage(t, fs, common.DefaultGeometry.DataStart())
	freeBefore := fs.store.FreeBlocks()

	_, err = fs.Write("f", []byte("x"), AllBlocks, 0)
	assert.ErrorIs(t, err, errors.ErrNoBufferSpace)
	assert.Equal(t, errors.ResourceExhausted, errors.KindOf(err))

	assert.Equal(t, freeBefore, fs.store.FreeBlocks())
	for _, block := range info.Blocks {
		assert.Truef(t, fs.store.IsAllocated(block), "block %d was freed", block)
	}

	unpinEveryPage(t, fs)
	checkConsistency(t, fs, 0)

	after, err := fs.InodeInfo(info.Inode, 0)
	require.NoError(t, err)
	assert.EqualValues(t, len(original), after.Size)
	assert.Equal(t, info.Blocks, after.Blocks)

	other, err := fs.Create("g", []byte("new"), DefaultFilePermissions, 0)
	require.NoError(t, err)
	for _, block := range other.Blocks {
		assert.NotContains(t, info.Blocks, block, "blocks of f were handed out again")
	}

	data, err := fs.Read("f", AllBlocks, 0)
	require.NoError(t, err)
	assert.Equal(t, original, data)

	// With room in the cache the same write goes through and frees the tail.
	size, err := fs.Write("f", []byte("x"), AllBlocks, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
	assert.False(t, fs.store.IsAllocated(info.Blocks[2]))
	checkConsistency(t, fs, 1)
}

func TestFileSystem__Write__FailedGrowthIsUndone(t *testing.T) {
	fs := newTestFileSystem(t, common.DefaultGeometry, 8)
	original := []byte("abcdefghij")

	info, err := fs.Create("f", original, DefaultFilePermissions, 0)
	require.NoError(t, err)
	require.Len(t, info.Blocks, 1)

	pinEveryPage(t, fs, common.DefaultGeometry.DataStart(), info.Blocks[0])
	freeBefore := fs.store.FreeBlocks()

	_, err = fs.Write("f", bytes.Repeat([]byte("!"), 150), AllBlocks, 0)
	assert.ErrorIs(t, err, errors.ErrNoBufferSpace)

	assert.Equal(t, freeBefore, fs.store.FreeBlocks(), "blocks taken for the write leaked")
	assert.False(t, fs.store.IsAllocated(info.Blocks[0]+1))

	cached, err := fs.cache.Read(info.Blocks[0], 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(cached, original), "the old block was overwritten")

	unpinEveryPage(t, fs)
	checkConsistency(t, fs, 0)

	data, err := fs.Read("f", AllBlocks, 0)
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestFileSystem__Grow__FailedFlushRestoresIndexBlocks(t *testing.T) {
	fs := newTestFileSystem(t, common.DefaultGeometry, 8)
	blockSize := int(common.DefaultGeometry.BlockSize)

	// 70 blocks fill the first second-level block exactly, so one more needs
	// a new one.
	content := bytes.Repeat([]byte("z"), 70*blockSize)
	info, err := fs.Create("big", content, DefaultFilePermissions, 0)
	require.NoError(t, err)

	inode, err := fs.loadInode(info.Inode)
	require.NoError(t, err)
	require.NotZero(t, inode.DoubleIndirect)

	pinEveryPage(t, fs, inode.DoubleIndirect)
	freeBefore := fs.store.FreeBlocks()

	grown := inode
	err = fs.grow(&grown, 70, 71, 0)
	assert.ErrorIs(t, err, errors.ErrNoBufferSpace)
	assert.Equal(t, inode, grown)
	assert.Equal(t, freeBefore, fs.store.FreeBlocks())

	double, err := fs.cache.Read(inode.DoubleIndirect, 0)
	require.NoError(t, err)
	assert.NotZero(t, binary.LittleEndian.Uint16(double[0:2]))
	assert.Zero(
		t,
		binary.LittleEndian.Uint16(double[2:4]),
		"the double-indirect block still points at a block that was freed",
	)

	unpinEveryPage(t, fs)
	checkConsistency(t, fs, 0)

	longer := bytes.Repeat([]byte("y"), 71*blockSize)
	_, err = fs.Write("big", longer, AllBlocks, 0)
	require.NoError(t, err)
	checkConsistency(t, fs, 1)

	data, err := fs.Read("big", AllBlocks, 0)
	require.NoError(t, err)
	assert.Equal(t, longer, data)
}
