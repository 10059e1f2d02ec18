package disk_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/disk"
	"github.com/dargueta/osfs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFormattedStore(t *testing.T, geometry common.Geometry) *disk.BlockStore {
	store, err := disk.New(disk.NewMemoryBacking(geometry), geometry, 0)
	require.NoError(t, err, "failed to create block store")

	formatted, err := store.Mount()
	require.NoError(t, err, "failed to mount blank image")
	require.True(t, formatted, "blank image should've been formatted on mount")
	return store
}

func TestBlockStore__Format__Layout(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)

	info := store.Info()
	assert.EqualValues(t, 1024, info.TotalBlocks)
	assert.EqualValues(t, 1024-35, info.FreeBlocks)
	assert.EqualValues(t, 35, info.UsedBlocks)
	assert.EqualValues(t, 35, info.DataStartBlock)
	assert.EqualValues(t, 65536, info.TotalSize)
	assert.True(t, info.IsMounted)

	bitmap := store.Bitmap()
	require.Len(t, bitmap, 1024)
	for i, inUse := range bitmap {
		if i < 35 {
			assert.Truef(t, inUse, "metadata block %d should be in use", i)
		} else {
			assert.Falsef(t, inUse, "data block %d should be free", i)
		}
	}

	sb := store.Superblock()
	assert.EqualValues(t, disk.Magic, sb.Magic)
	assert.EqualValues(t, 35, sb.DataStartBlock)
}

func TestBlockStore__Mount__PreservesExistingVolume(t *testing.T) {
	geometry := common.DefaultGeometry
	backing := disk.NewMemoryBacking(geometry)

	store, err := disk.New(backing, geometry, 0)
	require.NoError(t, err)
	_, err = store.Mount()
	require.NoError(t, err)

	// Allocate blocks spanning both bitmap blocks so both get persisted.
	allocated, err := store.AllocateBlocks(600)
	require.NoError(t, err)
	require.Len(t, allocated, 600)
	require.NoError(t, store.WriteBlock(allocated[0], []byte("persistent")))
	sb := store.Superblock()
	volume := sb.VolumeUUID()

	remounted, err := disk.New(backing, geometry, 0)
	require.NoError(t, err)
	formatted, err := remounted.Mount()
	require.NoError(t, err)
	assert.False(t, formatted, "valid volume was reformatted")

	remountedSB := remounted.Superblock()
	assert.Equal(t, volume, remountedSB.VolumeUUID())
	assert.Equal(t, store.Bitmap(), remounted.Bitmap(), "bitmap not persisted")
	assert.Equal(t, store.FreeBlocks(), remounted.FreeBlocks())

	data, err := remounted.ReadBlock(allocated[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("persistent")))
}

func TestBlockStore__Mount__GeometryMismatchReformats(t *testing.T) {
	geometry := common.DefaultGeometry
	backing := disk.NewMemoryBacking(geometry)

	store, err := disk.New(backing, geometry, 0)
	require.NoError(t, err)
	_, err = store.Mount()
	require.NoError(t, err)
	_, err = store.AllocateBlock()
	require.NoError(t, err)

	other := geometry
	other.InodeCount = 16
	mismatched, err := disk.New(backing, other, 0)
	require.NoError(t, err)
	formatted, err := mismatched.Mount()
	require.NoError(t, err)
	assert.True(t, formatted, "image with different geometry should be reformatted")
	assert.EqualValues(t, other.TotalBlocks-uint(other.DataStart()), mismatched.FreeBlocks())
}

func TestBlockStore__New__RejectsBadGeometry(t *testing.T) {
	geometry := common.Geometry{BlockSize: 100, TotalBlocks: 1024, InodeCount: 32}
	_, err := disk.New(disk.NewMemoryBacking(common.DefaultGeometry), geometry, 0)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
}

func TestBlockStore__Allocate__FirstFit(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)

	first, err := store.AllocateBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 35, first, "allocation should start at the data region")

	second, err := store.AllocateBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 36, second)

	require.NoError(t, store.FreeBlock(first))
	third, err := store.AllocateBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 35, third, "freed block should be reused first")
}

func TestBlockStore__Allocate__Exhaustion(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)

	dataBlocks := store.FreeBlocks()
	_, err := store.AllocateBlocks(dataBlocks)
	require.NoError(t, err)
	assert.EqualValues(t, 0, store.FreeBlocks())

	id, err := store.AllocateBlock()
	assert.ErrorIs(t, err, errors.ErrNoSpaceOnDevice)
	assert.Equal(t, errors.ResourceExhausted, errors.KindOf(err))
	assert.Equal(t, common.NoBlock, id)
}

func TestBlockStore__AllocateBlocks__AllOrNothing(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)
	before := store.Bitmap()

	blocks, err := store.AllocateBlocks(store.FreeBlocks() + 1)
	assert.Error(t, err)
	assert.Equal(t, errors.ResourceExhausted, errors.KindOf(err))
	assert.Empty(t, blocks)
	assert.Equal(t, before, store.Bitmap(), "failed allocation changed the bitmap")
}

func TestBlockStore__Free__ZeroesBlock(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)

	id, err := store.AllocateBlock()
	require.NoError(t, err)
	require.NoError(t, store.WriteBlock(id, bytes.Repeat([]byte{0xAA}, 64)))
	require.NoError(t, store.FreeBlock(id))

	assert.False(t, store.IsAllocated(id))
	data, err := store.ReadBlock(id)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), data, "freed block wasn't zeroed")
}

func TestBlockStore__Free__Errors(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)

	err := store.FreeBlock(3)
	assert.ErrorIs(t, err, errors.ErrNotPermitted, "freeing metadata block should fail")

	err = store.FreeBlock(100)
	assert.Equal(t, errors.Conflict, errors.KindOf(err), "double free should conflict")

	err = store.FreeBlock(1024)
	assert.Equal(t, errors.Fault, errors.KindOf(err), "out-of-range free should fault")

	err = store.FreeBlock(-1)
	assert.Equal(t, errors.Fault, errors.KindOf(err))
}

func TestBlockStore__WriteBlock__PadsAndTruncates(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)
	id, err := store.AllocateBlock()
	require.NoError(t, err)

	require.NoError(t, store.WriteBlock(id, []byte{1, 2, 3}))
	data, err := store.ReadBlock(id)
	require.NoError(t, err)
	expected := make([]byte, 64)
	copy(expected, []byte{1, 2, 3})
	assert.Equal(t, expected, data)

	long := bytes.Repeat([]byte{0x5A}, 100)
	require.NoError(t, store.WriteBlock(id, long))
	data, err = store.ReadBlock(id)
	require.NoError(t, err)
	assert.Equal(t, long[:64], data)

	next, err := store.ReadBlock(id + 1)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), next, "oversized write spilled into next block")
}

func TestBlockStore__ReadBlock__OutOfRange(t *testing.T) {
	store := newFormattedStore(t, common.DefaultGeometry)

	_, err := store.ReadBlock(1024)
	assert.Equal(t, errors.Fault, errors.KindOf(err))
	assert.Contains(t, err.Error(), "invalid block number: 1024 not in range [0, 1024)")

	err = store.WriteBlock(-5, []byte{1})
	assert.Equal(t, errors.Fault, errors.KindOf(err))
}

func TestBlockStore__Inodes__RoundTrip(t *testing.T) {
	geometry := common.Geometry{BlockSize: 128, TotalBlocks: 256, InodeCount: 10}
	store := newFormattedStore(t, geometry)

	first := bytes.Repeat([]byte{0x11}, common.InodeSize)
	second := bytes.Repeat([]byte{0x22}, common.InodeSize)

	// Inodes 4 and 5 share a block when there are two inodes per block.
	require.NoError(t, store.WriteInode(4, first))
	require.NoError(t, store.WriteInode(5, second))

	data, err := store.ReadInode(4)
	require.NoError(t, err)
	assert.Equal(t, first, data)
	data, err = store.ReadInode(5)
	require.NoError(t, err)
	assert.Equal(t, second, data)

	require.NoError(t, store.WriteInode(4, []byte{0x33}))
	data, err = store.ReadInode(4)
	require.NoError(t, err)
	assert.EqualValues(t, 0x33, data[0])
	assert.Equal(t, make([]byte, common.InodeSize-1), data[1:], "short inode write wasn't padded")

	_, err = store.ReadInode(10)
	assert.Equal(t, errors.Fault, errors.KindOf(err))
}

func TestBlockStore__OperationLog__Capped(t *testing.T) {
	geometry := common.DefaultGeometry
	store, err := disk.New(disk.NewMemoryBacking(geometry), geometry, 5)
	require.NoError(t, err)
	require.NoError(t, store.Format())

	id, err := store.AllocateBlock()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.WriteBlock(id, []byte{byte(i)}))
	}

	log := store.OperationLog()
	require.Len(t, log, 5)
	for _, op := range log {
		assert.Equal(t, disk.OpWrite, op.Type)
		assert.EqualValues(t, id, op.Target)
	}
}

func TestBlockStore__FileBacking(t *testing.T) {
	geometry := common.DefaultGeometry
	path := filepath.Join(t.TempDir(), "volume.img")

	file, err := disk.OpenFileBacking(path, geometry)
	require.NoError(t, err)
	store, err := disk.New(file, geometry, 0)
	require.NoError(t, err)
	formatted, err := store.Mount()
	require.NoError(t, err)
	assert.True(t, formatted)

	id, err := store.AllocateBlock()
	require.NoError(t, err)
	require.NoError(t, store.WriteBlock(id, []byte("on disk")))
	require.NoError(t, file.Close())

	file, err = disk.OpenFileBacking(path, geometry)
	require.NoError(t, err)
	defer file.Close()

	stat, err := file.Stat()
	require.NoError(t, err)
	assert.Equal(t, geometry.TotalSize(), stat.Size())

	store, err = disk.New(file, geometry, 0)
	require.NoError(t, err)
	formatted, err = store.Mount()
	require.NoError(t, err)
	assert.False(t, formatted)
	assert.True(t, store.IsAllocated(id))

	data, err := store.ReadBlock(id)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("on disk")))
}
