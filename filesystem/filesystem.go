// Package filesystem implements an inode-based file system on top of a block
// store and its buffer cache.
//
// Inodes are read and written directly against the block store. Everything
// stored in data blocks, meaning file contents, directory entries, and index
// blocks, goes through the buffer cache.
//
// There is no path resolution. The file system keeps a current directory, and
// every name given to it is looked up in that directory only.
package filesystem

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dargueta/osfs/buffer"
	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/disk"
	"github.com/dargueta/osfs/errors"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

type pathEntry struct {
	name  string
	inode common.InodeID
}

type FileSystem struct {
	mutex    sync.Mutex
	store    *disk.BlockStore
	cache    *buffer.BufferCache
	geometry common.Geometry
	inodes   common.Allocator
	open     openTable
	// path is the stack of directories from the root to the current directory.
	// It's never empty; path[0] is always the root.
	path   []pathEntry
	logger *log.Entry
}

// New creates a file system over a mounted block store. If the volume has no
// root directory yet, one is created.
func New(store *disk.BlockStore, cache *buffer.BufferCache) (*FileSystem, error) {
	fs := &FileSystem{
		store:    store,
		cache:    cache,
		geometry: store.Geometry(),
		logger:   log.WithField("component", "filesystem"),
	}
	if err := fs.Remount(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Remount rebuilds the in-memory state from the volume: the inode usage table,
// an empty open-file table, and a current directory of the root. Call it after
// the block store has been formatted.
func (fs *FileSystem) Remount() error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	fs.open = openTable{}
	fs.path = []pathEntry{{name: "", inode: common.RootInode}}
	fs.inodes = common.NewAllocator(fs.geometry.InodeCount)
	fs.inodes.FirstUsable = 1

	for i := uint(0); i < fs.geometry.InodeCount; i++ {
		raw, err := fs.store.ReadInode(common.InodeID(i))
		if err != nil {
			return err
		}
		if InodeType(raw[2]) != TypeFree {
			fs.inodes.Reserve(common.UnitID(i))
		}
	}

	if !fs.inodes.IsAllocated(common.UnitID(common.RootInode)) {
		return fs.createRoot()
	}
	return nil
}

func (fs *FileSystem) createRoot() error {
	block, err := fs.store.AllocateBlock()
	if err != nil {
		return err
	}

	now := time.Now()
	root := Inode{
		ID:          common.RootInode,
		Type:        TypeDirectory,
		Permissions: DefaultDirectoryPermissions,
		Created:     now,
		Modified:    now,
		LinkCount:   1,
	}
	root.Direct[0] = block

	if err = fs.saveInode(&root); err != nil {
		return err
	}
	fs.inodes.Reserve(common.UnitID(common.RootInode))
	fs.logger.WithField("block", block).Info("created root directory")
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Inodes

func (fs *FileSystem) allocateInode() (common.InodeID, error) {
	unit, err := fs.inodes.AllocateSingle()
	if err != nil {
		return 0, errors.ErrNoFreeInodes.WithMessage(
			fmt.Sprintf("all %d inodes are in use", fs.geometry.InodeCount))
	}
	return common.InodeID(unit), nil
}

func (fs *FileSystem) loadInode(id common.InodeID) (Inode, error) {
	raw, err := fs.store.ReadInode(id)
	if err != nil {
		return Inode{}, err
	}

	inode, err := DeserializeInode(raw)
	if err != nil {
		return Inode{}, err
	}
	if inode.Type == TypeFree {
		return Inode{}, errors.ErrNotFound.WithMessage(
			fmt.Sprintf("inode %d is not allocated", id))
	}
	return inode, nil
}

func (fs *FileSystem) saveInode(inode *Inode) error {
	return fs.store.WriteInode(inode.ID, inode.Serialize())
}

// discardInode frees an inode and everything it points to. It's used to undo a
// partially created file, so `cause` is returned along with anything that went
// wrong while cleaning up.
func (fs *FileSystem) discardInode(inode *Inode, cause error, who common.Owner) error {
	var result error = cause

	if _, err := fs.shrink(inode, fs.blockCount(inode), 0, who); err != nil {
		result = multierror.Append(result, err)
	}
	if err := fs.store.WriteInode(inode.ID, nil); err != nil {
		result = multierror.Append(result, err)
	}
	if err := fs.inodes.FreeSingle(common.UnitID(inode.ID)); err != nil {
		result = multierror.Append(result, err)
	}
	return errors.CastToDriverError(result)
}

// blockCount gives the number of blocks assigned to an inode. Every inode has
// at least one.
func (fs *FileSystem) blockCount(inode *Inode) uint {
	return fs.geometry.LengthToNumBlocks(inode.Size)
}

////////////////////////////////////////////////////////////////////////////////
// Block assignment

// grow extends an inode from `from` to `to` blocks. All data and index blocks
// needed are allocated at once, so if the volume is too full nothing changes.
// Only the inode in memory is updated; the caller must save it.
func (fs *FileSystem) grow(inode *Inode, from, to uint, who common.Owner) error {
	if to > fs.geometry.MaxFileBlocks() {
		return errors.ErrFileTooLarge.WithMessage(
			fmt.Sprintf(
				"%d blocks needed, limit is %d", to, fs.geometry.MaxFileBlocks()))
	}
	if to <= from {
		return nil
	}

	p := fs.geometry.PointersPerBlock()
	needed := (to - from) + indexBlocksFor(p, to) - indexBlocksFor(p, from)
	blocks, err := fs.store.AllocateBlocks(needed)
	if err != nil {
		return err
	}

	original := *inode
	taken := 0
	next := func() common.BlockID {
		block := blocks[taken]
		taken++
		return block
	}

	m := fs.newBlockMap(inode, who)
	for position := from; position < to; position++ {
		if err = m.assign(position, next); err != nil {
			break
		}
	}
	if err == nil {
		err = m.flush()
	}
	if err != nil {
		*inode = original
		if restoreErr := m.restore(); restoreErr != nil {
			err = multierror.Append(err, restoreErr)
		}
		if releaseErr := fs.releaseBlocks(blocks); releaseErr != nil {
			err = multierror.Append(err, releaseErr)
		}
		return errors.CastToDriverError(err)
	}

	fs.logger.WithFields(log.Fields{
		"inode":  inode.ID,
		"from":   from,
		"to":     to,
		"blocks": blocks,
	}).Debug("grew inode")
	return nil
}

// shrink truncates an inode from `from` to `to` blocks, freeing the trailing
// data blocks and any index blocks left empty. Only the inode in memory is
// updated; the caller must save it.
func (fs *FileSystem) shrink(
	inode *Inode, from, to uint, who common.Owner,
) ([]common.BlockID, error) {
	released, err := fs.truncate(inode, from, to, who)
	if err != nil {
		return nil, err
	}
	if err = fs.releaseBlocks(released); err != nil {
		return nil, err
	}
	return released, nil
}

// truncate detaches the blocks past position `to` from the inode and returns
// them without freeing them. On failure the inode and its index blocks are
// put back the way they were.
func (fs *FileSystem) truncate(
	inode *Inode, from, to uint, who common.Owner,
) ([]common.BlockID, error) {
	original := *inode
	m := fs.newBlockMap(inode, who)
	released := []common.BlockID{}

	var err error
	for position := from; position > to && err == nil; position-- {
		var blocks []common.BlockID
		if blocks, err = m.clear(position - 1); err == nil {
			released = append(released, blocks...)
		}
	}
	if err == nil {
		err = m.flush()
	}
	if err != nil {
		*inode = original
		if restoreErr := m.restore(); restoreErr != nil {
			err = multierror.Append(err, restoreErr)
		}
		return nil, errors.CastToDriverError(err)
	}

	fs.logger.WithFields(log.Fields{
		"inode":  inode.ID,
		"from":   from,
		"to":     to,
		"blocks": released,
	}).Debug("truncated inode")
	return released, nil
}

// releaseBlocks drops any cached copies of the blocks and frees them. It keeps
// going if one fails.
func (fs *FileSystem) releaseBlocks(blocks []common.BlockID) error {
	var result *multierror.Error
	for _, block := range blocks {
		fs.cache.Invalidate(block)
		if err := fs.store.FreeBlock(block); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// writeContent overwrites every block of the inode with `data`, one block at a
// time, starting at position `first` and wrapping around to position 0. The
// inode must already have exactly enough blocks.
func (fs *FileSystem) writeContent(
	inode *Inode, data []byte, first uint, who common.Owner,
) error {
	count := fs.geometry.LengthToNumBlocks(uint(len(data)))
	blocks, err := fs.newBlockMap(inode, who).dataBlocks(count)
	if err != nil {
		return err
	}
	if first >= count {
		first = 0
	}

	blockSize := fs.geometry.BlockSize
	for k := uint(0); k < count; k++ {
		i := (first + k) % count
		start := i * blockSize
		end := start + blockSize
		if end > uint(len(data)) {
			end = uint(len(data))
		}
		var chunk []byte
		if start < uint(len(data)) {
			chunk = data[start:end]
		}
		if err = fs.cache.Write(blocks[i], chunk, who); err != nil {
			return err
		}
	}
	return nil
}

// replaceContent gives an existing inode `data` as its whole content and saves
// it. New blocks are filled before any old one is overwritten, and blocks cut
// off the end are freed only after the shorter inode is saved. If it fails,
// the inode keeps its old size and blocks, though blocks already rewritten
// keep their new contents.
func (fs *FileSystem) replaceContent(inode *Inode, data []byte, who common.Owner) error {
	original := *inode
	oldCount := fs.blockCount(inode)
	newCount := fs.geometry.LengthToNumBlocks(uint(len(data)))

	if newCount > oldCount {
		if err := fs.grow(inode, oldCount, newCount, who); err != nil {
			return err
		}
	}
	if err := fs.writeContent(inode, data, oldCount, who); err != nil {
		return fs.undoGrowth(inode, original, oldCount, newCount, err, who)
	}

	var released []common.BlockID
	if newCount < oldCount {
		var err error
		if released, err = fs.truncate(inode, oldCount, newCount, who); err != nil {
			return err
		}
	}

	inode.Size = uint(len(data))
	inode.Modified = time.Now()
	if err := fs.saveInode(inode); err != nil {
		if newCount > oldCount {
			return fs.undoGrowth(inode, original, oldCount, newCount, err, who)
		}
		// The index blocks may already be cut, so the tail is leaked rather
		// than freed while the saved inode still points at it.
		*inode = original
		return err
	}
	return fs.releaseBlocks(released)
}

// undoGrowth takes back the blocks a failed [FileSystem.replaceContent] added
// and puts `original` back in place of the inode. It returns `cause` along with
// anything that went wrong on the way.
func (fs *FileSystem) undoGrowth(
	inode *Inode, original Inode, from, to uint, cause error, who common.Owner,
) error {
	var result error = cause
	if to > from {
		if _, err := fs.shrink(inode, to, from, who); err != nil {
			result = multierror.Append(result, err)
		}
	}
	*inode = original
	return errors.CastToDriverError(result)
}

func (fs *FileSystem) readContent(inode *Inode, who common.Owner) ([]byte, error) {
	blocks, err := fs.newBlockMap(inode, who).dataBlocks(fs.blockCount(inode))
	if err != nil {
		return nil, err
	}

	content := make([]byte, 0, uint(len(blocks))*fs.geometry.BlockSize)
	for _, block := range blocks {
		data, err := fs.cache.Read(block, who)
		if err != nil {
			return nil, err
		}
		content = append(content, data...)
	}
	return content[:inode.Size], nil
}

////////////////////////////////////////////////////////////////////////////////
// Directories

func (fs *FileSystem) currentInode() common.InodeID {
	return fs.path[len(fs.path)-1].inode
}

func (fs *FileSystem) currentDirectory() (Inode, error) {
	return fs.loadInode(fs.currentInode())
}

func (fs *FileSystem) readDirectory(dir *Inode, who common.Owner) ([]direntSlot, error) {
	blocks, err := fs.newBlockMap(dir, who).dataBlocks(fs.blockCount(dir))
	if err != nil {
		return nil, err
	}

	entries := []direntSlot{}
	perBlock := fs.geometry.DirentsPerBlock()
	for blockIndex, block := range blocks {
		data, err := fs.cache.Read(block, who)
		if err != nil {
			return nil, err
		}

		for slot := uint(0); slot < perBlock; slot++ {
			dirent, ok, err := DeserializeDirent(data[slot*common.DirentSize:])
			if err != nil {
				return nil, err
			}
			if ok {
				entries = append(entries, direntSlot{
					Dirent:     dirent,
					blockIndex: uint(blockIndex),
					slot:       slot,
					block:      block,
				})
			}
		}
	}
	return entries, nil
}

func (fs *FileSystem) findEntry(
	dir *Inode, name string, who common.Owner,
) (direntSlot, bool, error) {
	entries, err := fs.readDirectory(dir, who)
	if err != nil {
		return direntSlot{}, false, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			return entry, true, nil
		}
	}
	return direntSlot{}, false, nil
}

// lookup finds `name` in the current directory and loads its inode.
func (fs *FileSystem) lookup(name string, who common.Owner) (direntSlot, Inode, error) {
	dir, err := fs.currentDirectory()
	if err != nil {
		return direntSlot{}, Inode{}, err
	}

	entry, found, err := fs.findEntry(&dir, name, who)
	if err != nil {
		return direntSlot{}, Inode{}, err
	}
	if !found {
		return direntSlot{}, Inode{}, errors.ErrNotFound.WithMessage(fmt.Sprintf("%q", name))
	}

	inode, err := fs.loadInode(entry.Inode)
	if err != nil {
		return direntSlot{}, Inode{}, err
	}
	return entry, inode, nil
}

// checkNameAvailable fails if `name` is invalid or already used in `dir`.
func (fs *FileSystem) checkNameAvailable(dir *Inode, name string, who common.Owner) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	entry, found, err := fs.findEntry(dir, name, who)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	existing, err := fs.loadInode(entry.Inode)
	if err != nil {
		return err
	}
	return errors.ErrExists.WithMessage(
		fmt.Sprintf("%q (%s)", name, strings.ToLower(existing.Type.String())))
}

// addEntry stores a directory entry in the first empty slot of `dir`, adding a
// block to the directory if they're all full. The directory's inode is saved.
func (fs *FileSystem) addEntry(dir *Inode, dirent Dirent, who common.Owner) error {
	count := fs.blockCount(dir)
	blocks, err := fs.newBlockMap(dir, who).dataBlocks(count)
	if err != nil {
		return err
	}

	perBlock := fs.geometry.DirentsPerBlock()
	for blockIndex, block := range blocks {
		data, err := fs.cache.Read(block, who)
		if err != nil {
			return err
		}

		for slot := uint(0); slot < perBlock; slot++ {
			offset := slot * common.DirentSize
			if data[offset] != 0 {
				continue
			}

			copy(data[offset:], dirent.Serialize())
			if err = fs.cache.Write(block, data, who); err != nil {
				return err
			}
			fs.extendDirectory(dir, uint(blockIndex), slot)
			return fs.saveInode(dir)
		}
	}

	// Every slot is taken, so the entry goes at the start of a new block.
	if err = fs.grow(dir, count, count+1, who); err != nil {
		return err
	}

	block, err := fs.newBlockMap(dir, who).lookup(count)
	if err == nil {
		err = fs.cache.Write(block, dirent.Serialize(), who)
	}
	if err != nil {
		if _, shrinkErr := fs.shrink(dir, count+1, count, who); shrinkErr != nil {
			err = multierror.Append(err, shrinkErr)
		}
		return errors.CastToDriverError(err)
	}

	fs.extendDirectory(dir, count, 0)
	return fs.saveInode(dir)
}

// extendDirectory makes sure a directory's size covers a slot. The size of a
// directory is the end of the last slot ever used; it never shrinks.
func (fs *FileSystem) extendDirectory(dir *Inode, blockIndex, slot uint) {
	extent := blockIndex*fs.geometry.BlockSize + (slot+1)*common.DirentSize
	if extent > dir.Size {
		dir.Size = extent
	}
	dir.Modified = time.Now()
}

// removeEntry zero-fills a directory entry's slot. The slot is reused by the
// next addEntry, and the directory never shrinks.
func (fs *FileSystem) removeEntry(dir *Inode, entry direntSlot, who common.Owner) error {
	data, err := fs.cache.Read(entry.block, who)
	if err != nil {
		return err
	}

	offset := entry.slot * common.DirentSize
	copy(data[offset:offset+common.DirentSize], make([]byte, common.DirentSize))
	if err = fs.cache.Write(entry.block, data, who); err != nil {
		return err
	}

	dir.Modified = time.Now()
	return fs.saveInode(dir)
}

func (fs *FileSystem) isOnPath(inode common.InodeID) bool {
	for _, entry := range fs.path {
		if entry.inode == inode {
			return true
		}
	}
	return false
}

func (fs *FileSystem) describe(name string, inode *Inode, who common.Owner) (FileInfo, error) {
	m := fs.newBlockMap(inode, who)
	count := fs.blockCount(inode)

	blocks, err := m.dataBlocks(count)
	if err != nil {
		return FileInfo{}, err
	}
	indexBlocks, err := m.indexBlocks(count)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Name:        name,
		Inode:       inode.ID,
		Type:        inode.Type,
		Size:        inode.Size,
		Blocks:      blocks,
		IndexBlocks: indexBlocks,
		Permissions: inode.Permissions,
		Created:     inode.Created,
		Modified:    inode.Modified,
		IsOpen:      fs.open.isOpen(inode.ID),
	}, nil
}

func (fs *FileSystem) pathInfo() PathInfo {
	names := make([]string, 0, len(fs.path)-1)
	for _, entry := range fs.path[1:] {
		names = append(names, entry.name)
	}
	return PathInfo{
		Path:      "/" + strings.Join(names, "/"),
		Inode:     fs.currentInode(),
		CanGoBack: len(fs.path) > 1,
	}
}
