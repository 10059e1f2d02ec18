package filesystem_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/dargueta/osfs/buffer"
	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/dargueta/osfs/filesystem"
	osfstest "github.com/dargueta/osfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = common.Owner(1)
const bob = common.Owner(2)

// A volume with 30 data blocks, one of which goes to the root directory.
var tinyGeometry = common.Geometry{BlockSize: 64, TotalBlocks: 64, InodeCount: 32}

func dataBlocksInUse(stack osfstest.MemoryStack) uint {
	info := stack.Store.Info()
	return info.UsedBlocks - uint(info.DataStartBlock)
}

func TestFileSystem__New__CreatesRoot(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	assert.Equal(t, []common.InodeID{common.RootInode}, stack.FS.UsedInodes())
	assert.EqualValues(t, 1, dataBlocksInUse(stack), "root should have one block")

	root, err := stack.FS.InodeInfo(common.RootInode, alice)
	require.NoError(t, err)
	assert.Equal(t, filesystem.TypeDirectory, root.Type)
	assert.Equal(t, filesystem.DefaultDirectoryPermissions, root.Permissions)
	assert.EqualValues(t, 0, root.Size)
	assert.Equal(t, []common.BlockID{35}, root.Blocks)

	path := stack.FS.Path()
	assert.Equal(t, "/", path.Path)
	assert.Equal(t, common.RootInode, path.Inode)
	assert.False(t, path.CanGoBack)

	files, err := stack.FS.List(alice)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileSystem__ScenarioA__CreateAndRead(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	info, err := stack.FS.Create("a.txt", []byte("hello"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", info.Name)
	assert.Equal(t, filesystem.TypeRegular, info.Type)
	assert.EqualValues(t, 5, info.Size)
	assert.Len(t, info.Blocks, 1)
	assert.Empty(t, info.IndexBlocks)
	assert.Equal(t, filesystem.DefaultFilePermissions, info.Permissions)
	assert.Equal(t, "rw-", info.Permissions.String())

	data, err := stack.FS.Read("a.txt", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestFileSystem__ScenarioB__Subdirectory(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.MakeDirectory("d", alice)
	require.NoError(t, err)

	path, err := stack.FS.ChangeDirectory("d", alice)
	require.NoError(t, err)
	assert.Equal(t, "/d", path.Path)
	assert.True(t, path.CanGoBack)

	_, err = stack.FS.Create("x", []byte("1"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	path, err = stack.FS.ChangeDirectory("..", alice)
	require.NoError(t, err)
	assert.Equal(t, "/", path.Path)

	files, err := stack.FS.List(alice)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "d", files[0].Name)
	assert.Equal(t, filesystem.TypeDirectory, files[0].Type)

	_, err = stack.FS.Info("x", alice)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFileSystem__ScenarioC__SingleIndirect(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	content := osfstest.PatternedData(500)

	info, err := stack.FS.Create("big", content, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	require.Len(t, info.Blocks, 8)
	require.Len(t, info.IndexBlocks, 1)

	// Blocks are handed out in the order positions are filled, and the index
	// block is taken just before the first block it points to.
	assert.Equal(
		t,
		[]common.BlockID{36, 37, 38, 39, 40, 41, 43, 44},
		info.Blocks,
	)
	assert.Equal(t, []common.BlockID{42}, info.IndexBlocks)

	raw, err := stack.Cache.Read(info.IndexBlocks[0], alice)
	require.NoError(t, err)
	pointers := make([]uint16, 32)
	require.NoError(t, binary.Read(bytes.NewReader(raw), binary.LittleEndian, pointers))

	assert.EqualValues(t, info.Blocks[6], pointers[0])
	assert.EqualValues(t, info.Blocks[7], pointers[1])
	for i := 2; i < len(pointers); i++ {
		assert.Zerof(t, pointers[i], "pointer %d should be unused", i)
	}

	assert.EqualValues(t, 1+8+1, dataBlocksInUse(stack))

	data, err := stack.FS.Read("big", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFileSystem__RoundTrip(t *testing.T) {
	sizes := []struct {
		size        int
		blocks      int
		indexBlocks int
	}{
		{0, 1, 0},
		{1, 1, 0},
		{63, 1, 0},
		{64, 1, 0},
		{65, 2, 0},
		{6 * 64, 6, 0},
		{6*64 + 1, 7, 1},
		{(6 + 32) * 64, 38, 1},
		{(6+32)*64 + 1, 39, 3},
		{(6 + 32 + 40) * 64, 78, 4},
	}

	for _, tc := range sizes {
		t.Run(fmt.Sprintf("%d bytes", tc.size), func(t *testing.T) {
			stack := osfstest.NewDefaultMemoryStack(t)
			content := osfstest.PatternedData(tc.size)

			info, err := stack.FS.Create("file", content, filesystem.DefaultFilePermissions, alice)
			require.NoError(t, err)
			assert.EqualValues(t, tc.size, info.Size)
			assert.Len(t, info.Blocks, tc.blocks)
			assert.Len(t, info.IndexBlocks, tc.indexBlocks)
			assert.EqualValues(t, 1+tc.blocks+tc.indexBlocks, dataBlocksInUse(stack))

			data, err := stack.FS.Read("file", filesystem.AllBlocks, alice)
			require.NoError(t, err)
			assert.Equal(t, content, data)

			// Everything must also have made it to the block store intact.
			require.NoError(t, stack.Cache.FlushAll())
			var onDisk []byte
			for _, block := range info.Blocks {
				raw, err := stack.Store.ReadBlock(block)
				require.NoError(t, err)
				onDisk = append(onDisk, raw...)
			}
			assert.Equal(t, content, onDisk[:tc.size])
		})
	}
}

func TestFileSystem__Create__Permissions(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	info, err := stack.FS.Create("ro", nil, filesystem.PermRead, alice)
	require.NoError(t, err)
	assert.Equal(t, "r--", info.Permissions.String())

	info, err = stack.FS.Create("none", nil, 0, alice)
	require.NoError(t, err)
	assert.Equal(t, "---", info.Permissions.String(), "an empty mask is kept, not defaulted")

	info, err = stack.FS.Info("none", alice)
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.Permissions)
}

func TestFileSystem__Create__Conflicts(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.Create("f", []byte("1"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	_, err = stack.FS.MakeDirectory("d", alice)
	require.NoError(t, err)

	_, err = stack.FS.Create("f", []byte("2"), filesystem.DefaultFilePermissions, alice)
	assert.ErrorIs(t, err, errors.ErrExists)
	assert.Contains(t, err.Error(), "regular")

	_, err = stack.FS.Create("d", []byte("2"), filesystem.DefaultFilePermissions, alice)
	assert.ErrorIs(t, err, errors.ErrExists)
	assert.Contains(t, err.Error(), "directory")

	_, err = stack.FS.MakeDirectory("f", alice)
	assert.ErrorIs(t, err, errors.ErrExists)

	// The original file is untouched.
	data, err := stack.FS.Read("f", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), data)
}

func TestFileSystem__Create__InvalidNames(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	before := stack.Store.Info()

	names := map[string]error{
		"":                          errors.ErrInvalidName,
		".":                         errors.ErrInvalidName,
		"..":                        errors.ErrInvalidName,
		"a/b":                       errors.ErrInvalidName,
		"nul\x00":                   errors.ErrInvalidName,
		"abcdefghijklmnopqrstuvwxy": errors.ErrNameTooLong,
	}
	for name, expected := range names {
		_, err := stack.FS.Create(name, []byte("x"), filesystem.DefaultFilePermissions, alice)
		assert.ErrorIsf(t, err, expected, "wrong error for %q", name)
	}

	assert.Equal(t, before, stack.Store.Info(), "nothing should've been allocated")
	assert.Len(t, stack.FS.UsedInodes(), 1)
}

func TestFileSystem__Create__TooLarge(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	maxBytes := int(common.DefaultGeometry.MaxFileBlocks() * 64)

	_, err := stack.FS.Create("huge", make([]byte, maxBytes+1), filesystem.DefaultFilePermissions, alice)
	assert.ErrorIs(t, err, errors.ErrFileTooLarge)
	assert.Len(t, stack.FS.UsedInodes(), 1)
}

func TestFileSystem__Create__NoSpaceRollsBack(t *testing.T) {
	stack := osfstest.NewMemoryStack(tinyGeometry, 8, t)
	bitmapBefore := stack.Store.Bitmap()

	// 29 blocks are free, but 29 data blocks need an index block on top.
	_, err := stack.FS.Create("big", make([]byte, 29*64), filesystem.DefaultFilePermissions, alice)
	require.Error(t, err)
	assert.Equal(t, errors.ResourceExhausted, errors.KindOf(err))

	assert.Equal(t, bitmapBefore, stack.Store.Bitmap())
	assert.Equal(t, []common.InodeID{common.RootInode}, stack.FS.UsedInodes())

	files, err := stack.FS.List(alice)
	require.NoError(t, err)
	assert.Empty(t, files)

	// Something that fits still works afterwards.
	_, err = stack.FS.Create("fits", make([]byte, 20*64), filesystem.DefaultFilePermissions, alice)
	assert.NoError(t, err)
}

func TestFileSystem__Create__NoFreeInodes(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	for i := 1; i < 32; i++ {
		_, err := stack.FS.Create(fmt.Sprintf("f%d", i), []byte{byte(i)}, filesystem.DefaultFilePermissions, alice)
		require.NoErrorf(t, err, "failed to create file %d", i)
	}

	blocksBefore := stack.Store.Info().FreeBlocks
	_, err := stack.FS.Create("one-too-many", []byte("x"), filesystem.DefaultFilePermissions, alice)
	assert.ErrorIs(t, err, errors.ErrNoFreeInodes)
	assert.Equal(t, blocksBefore, stack.Store.Info().FreeBlocks)

	stats := stack.FS.Stats()
	assert.EqualValues(t, 32, stats.UsedInodes)
	assert.EqualValues(t, 0, stats.FreeInodes)
}

func TestFileSystem__Read__SingleBlock(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	content := osfstest.PatternedData(100)

	_, err := stack.FS.Create("f", content, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	block, err := stack.FS.Read("f", 1, alice)
	require.NoError(t, err)
	require.Len(t, block, 64)
	assert.Equal(t, content[64:], block[:36])
	assert.Equal(t, make([]byte, 28), block[36:], "tail of the last block should be zeroed")

	_, err = stack.FS.Read("f", 2, alice)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
	_, err = stack.FS.Read("f", -2, alice)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
}

func TestFileSystem__ReadWrite__Directory(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.MakeDirectory("d", alice)
	require.NoError(t, err)

	_, err = stack.FS.Read("d", filesystem.AllBlocks, alice)
	assert.ErrorIs(t, err, errors.ErrIsADirectory)
	_, err = stack.FS.Write("d", []byte("x"), filesystem.AllBlocks, alice)
	assert.ErrorIs(t, err, errors.ErrIsADirectory)

	_, err = stack.FS.Read("missing", filesystem.AllBlocks, alice)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFileSystem__Write__GrowAndShrink(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.Create("f", []byte("short"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	long := osfstest.PatternedData(10 * 64)
	size, err := stack.FS.Write("f", long, filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 640, size)
	assert.EqualValues(t, 1+10+1, dataBlocksInUse(stack))

	data, err := stack.FS.Read("f", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, long, data)

	size, err = stack.FS.Write("f", []byte("tiny"), filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)
	assert.EqualValues(t, 2, dataBlocksInUse(stack), "index block should be freed too")

	info, err := stack.FS.Info("f", alice)
	require.NoError(t, err)
	assert.Len(t, info.Blocks, 1)
	assert.Empty(t, info.IndexBlocks)

	data, err = stack.FS.Read("f", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), data)
}

func TestFileSystem__Write__GrowFailureKeepsContent(t *testing.T) {
	stack := osfstest.NewMemoryStack(tinyGeometry, 8, t)

	_, err := stack.FS.Create("f", []byte("keep me"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	bitmapBefore := stack.Store.Bitmap()

	_, err = stack.FS.Write("f", make([]byte, 40*64), filesystem.AllBlocks, alice)
	assert.Equal(t, errors.ResourceExhausted, errors.KindOf(err))
	assert.Equal(t, bitmapBefore, stack.Store.Bitmap())

	data, err := stack.FS.Read("f", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep me"), data)
}

func TestFileSystem__Write__SingleBlock(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	content := osfstest.PatternedData(130)

	_, err := stack.FS.Create("f", content, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	size, err := stack.FS.Write("f", []byte("xyz"), 1, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 130, size, "size shouldn't change")

	data, err := stack.FS.Read("f", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, content[:64], data[:64])
	assert.Equal(t, []byte("xyz"), data[64:67])
	assert.Equal(t, make([]byte, 61), data[67:128], "rest of the block is zeroed")
	assert.Equal(t, content[128:], data[128:])

	_, err = stack.FS.Write("f", []byte("x"), 3, alice)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
}

func TestFileSystem__Write__WhileOpen(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.Create("f", []byte("v1"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	_, err = stack.FS.Open("f", alice, filesystem.ModeRead)
	require.NoError(t, err)

	_, err = stack.FS.Write("f", []byte("v2"), filesystem.AllBlocks, bob)
	assert.ErrorIs(t, err, errors.ErrBusy)

	require.NoError(t, stack.FS.Close("f", alice))
	_, err = stack.FS.Write("f", []byte("v2"), filesystem.AllBlocks, bob)
	assert.NoError(t, err)
}

func TestFileSystem__Delete__FreesEverything(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	bitmapBefore := stack.Store.Bitmap()

	info, err := stack.FS.Create("f", osfstest.PatternedData(50*64), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	result, err := stack.FS.Delete("f", alice)
	require.NoError(t, err)
	assert.Equal(t, info.Inode, result.Inode)
	assert.Equal(t, info.Blocks, result.FreedBlocks)

	assert.Equal(t, bitmapBefore, stack.Store.Bitmap())
	assert.Equal(t, []common.InodeID{common.RootInode}, stack.FS.UsedInodes())

	for _, block := range info.Blocks {
		_, cached := stack.Cache.LookupPage(block)
		assert.Falsef(t, cached, "freed block %d is still cached", block)
	}

	_, err = stack.FS.Delete("f", alice)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFileSystem__Delete__Protections(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.Delete(".", alice)
	assert.ErrorIs(t, err, errors.ErrInvalidName)
	_, err = stack.FS.Delete("..", alice)
	assert.ErrorIs(t, err, errors.ErrInvalidName)

	_, err = stack.FS.MakeDirectory("d", alice)
	require.NoError(t, err)
	_, err = stack.FS.ChangeDirectory("d", alice)
	require.NoError(t, err)
	_, err = stack.FS.Create("x", nil, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	_, err = stack.FS.ChangeDirectory("..", alice)
	require.NoError(t, err)

	_, err = stack.FS.Delete("d", alice)
	assert.ErrorIs(t, err, errors.ErrDirectoryNotEmpty)

	_, err = stack.FS.Create("open", nil, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	_, err = stack.FS.Open("open", bob, filesystem.ModeRead)
	require.NoError(t, err)
	_, err = stack.FS.Delete("open", alice)
	assert.ErrorIs(t, err, errors.ErrBusy)
}

func TestFileSystem__Delete__EmptyDirectory(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	bitmapBefore := stack.Store.Bitmap()

	_, err := stack.FS.MakeDirectory("d", alice)
	require.NoError(t, err)
	_, err = stack.FS.ChangeDirectory("d", alice)
	require.NoError(t, err)
	_, err = stack.FS.Create("x", nil, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	_, err = stack.FS.Delete("x", alice)
	require.NoError(t, err)
	_, err = stack.FS.ChangeDirectory("..", alice)
	require.NoError(t, err)

	_, err = stack.FS.Delete("d", alice)
	require.NoError(t, err)
	assert.Equal(t, bitmapBefore, stack.Store.Bitmap())
}

func TestFileSystem__Directory__SlotReuse(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	for _, name := range []string{"a", "b", "c"} {
		_, err := stack.FS.Create(name, nil, filesystem.DefaultFilePermissions, alice)
		require.NoError(t, err)
	}

	// Two entries fit in a 64-byte block, so "c" went into a second block.
	root, err := stack.FS.InodeInfo(common.RootInode, alice)
	require.NoError(t, err)
	assert.Len(t, root.Blocks, 2)
	assert.EqualValues(t, 64+26, root.Size)

	_, err = stack.FS.Delete("b", alice)
	require.NoError(t, err)
	_, err = stack.FS.Create("d", nil, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	files, err := stack.FS.List(alice)
	require.NoError(t, err)
	names := []string{}
	for _, file := range files {
		names = append(names, file.Name)
	}
	assert.Equal(t, []string{"a", "d", "c"}, names)

	root, err = stack.FS.InodeInfo(common.RootInode, alice)
	require.NoError(t, err)
	assert.Len(t, root.Blocks, 2, "directory shouldn't have grown")
	assert.EqualValues(t, 64+26, root.Size)
}

func TestFileSystem__ChangeDirectory(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	path, err := stack.FS.ChangeDirectory("..", alice)
	require.NoError(t, err, "going up from the root does nothing")
	assert.Equal(t, "/", path.Path)

	_, err = stack.FS.Create("f", nil, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	_, err = stack.FS.ChangeDirectory("f", alice)
	assert.ErrorIs(t, err, errors.ErrNotADirectory)
	_, err = stack.FS.ChangeDirectory("missing", alice)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = stack.FS.MakeDirectory("a", alice)
	require.NoError(t, err)
	_, err = stack.FS.ChangeDirectory("a", alice)
	require.NoError(t, err)
	info, err := stack.FS.MakeDirectory("b", alice)
	require.NoError(t, err)
	path, err = stack.FS.ChangeDirectory("b", alice)
	require.NoError(t, err)
	assert.Equal(t, "/a/b", path.Path)
	assert.Equal(t, info.Inode, path.Inode)
	assert.Equal(t, path, stack.FS.Path())

	stack.FS.ResetToRoot()
	assert.Equal(t, "/", stack.FS.Path().Path)
	assert.False(t, stack.FS.Path().CanGoBack)
}

func TestFileSystem__OpenClose(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	created, err := stack.FS.Create("f", []byte("data"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	id, err := stack.FS.Open("f", alice, filesystem.ModeRead)
	require.NoError(t, err)
	assert.Equal(t, created.Inode, id)
	_, err = stack.FS.Open("f", bob, filesystem.ModeRead)
	require.NoError(t, err, "readers can share a file")

	_, err = stack.FS.Open("f", bob, filesystem.ModeReadWrite)
	assert.ErrorIs(t, err, errors.ErrWouldBlock)

	info, err := stack.FS.Info("f", alice)
	require.NoError(t, err)
	assert.True(t, info.IsOpen)
	assert.EqualValues(t, 1, stack.FS.Stats().OpenFiles)

	registrations, err := stack.FS.OpenRegistrations("f", alice)
	require.NoError(t, err)
	require.Len(t, registrations, 2)
	assert.Equal(t, alice, registrations[0].Owner)
	assert.Equal(t, bob, registrations[1].Owner)

	require.NoError(t, stack.FS.Close("f", alice))
	err = stack.FS.Close("f", alice)
	assert.ErrorIs(t, err, errors.ErrNotPermitted)
	require.NoError(t, stack.FS.Close("f", bob))

	err = stack.FS.Close("f", bob)
	assert.ErrorIs(t, err, errors.ErrNotOpen)
	assert.EqualValues(t, 0, stack.FS.Stats().OpenFiles)

	_, err = stack.FS.Open("f", bob, filesystem.ModeWrite)
	require.NoError(t, err)
	_, err = stack.FS.Open("f", alice, filesystem.ModeRead)
	assert.Equal(t, errors.WouldBlock, errors.KindOf(err), "a writer excludes readers")
}

func TestFileSystem__Stats(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.Create("f", make([]byte, 100), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	stats := stack.FS.Stats()
	assert.EqualValues(t, 1024, stats.TotalBlocks)
	assert.EqualValues(t, 35+1+2, stats.UsedBlocks)
	assert.EqualValues(t, 1024-38, stats.FreeBlocks)
	assert.EqualValues(t, 32, stats.TotalInodes)
	assert.EqualValues(t, 2, stats.UsedInodes)
	assert.EqualValues(t, 30, stats.FreeInodes)
	assert.EqualValues(t, 64, stats.BlockSize)
	assert.EqualValues(t, 0, stats.OpenFiles)
}

func TestFileSystem__Remount__PreservesFiles(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)
	content := osfstest.PatternedData(1000)

	_, err := stack.FS.MakeDirectory("d", alice)
	require.NoError(t, err)
	_, err = stack.FS.Create("f", content, filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)
	require.NoError(t, stack.Cache.FlushAll())

	// A fresh cache proves the data came from the block store.
	cache := buffer.WrapStore(stack.Store, buffer.DefaultPageCount, 0)
	fs, err := filesystem.New(stack.Store, cache)
	require.NoError(t, err)

	assert.Equal(t, stack.FS.UsedInodes(), fs.UsedInodes())
	data, err := fs.Read("f", filesystem.AllBlocks, alice)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	info, err := fs.Info("d", alice)
	require.NoError(t, err)
	assert.True(t, info.Type == filesystem.TypeDirectory)
}

func TestFileSystem__Remount__AfterFormat(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.Create("f", []byte("gone"), filesystem.DefaultFilePermissions, alice)
	require.NoError(t, err)

	require.NoError(t, stack.Store.Format())
	stack.Cache.Reset()
	require.NoError(t, stack.FS.Remount())

	files, err := stack.FS.List(alice)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, []common.InodeID{common.RootInode}, stack.FS.UsedInodes())
	assert.EqualValues(t, 1, dataBlocksInUse(stack))
}

func TestFileSystem__InodeInfo__Errors(t *testing.T) {
	stack := osfstest.NewDefaultMemoryStack(t)

	_, err := stack.FS.InodeInfo(5, alice)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = stack.FS.InodeInfo(32, alice)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
}
