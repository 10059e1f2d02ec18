package filesystem

import (
	"fmt"
	"time"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	log "github.com/sirupsen/logrus"
)

// Create makes a regular file in the current directory holding `data`, with
// exactly the permissions in `perms`. Callers without a preference should pass
// [DefaultFilePermissions].
//
// If anything fails, every inode and block allocated along the way is freed
// again and the directory is left untouched.
func (fs *FileSystem) Create(
	name string, data []byte, perms Permissions, who common.Owner,
) (FileInfo, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	dir, err := fs.currentDirectory()
	if err != nil {
		return FileInfo{}, err
	}
	if err = fs.checkNameAvailable(&dir, name, who); err != nil {
		return FileInfo{}, err
	}

	count := fs.geometry.LengthToNumBlocks(uint(len(data)))
	if count > fs.geometry.MaxFileBlocks() {
		return FileInfo{}, errors.ErrFileTooLarge.WithMessage(
			fmt.Sprintf(
				"%d bytes needs %d blocks, limit is %d",
				len(data),
				count,
				fs.geometry.MaxFileBlocks(),
			),
		)
	}
	id, err := fs.allocateInode()
	if err != nil {
		return FileInfo{}, err
	}

	now := time.Now()
	inode := Inode{
		ID:          id,
		Type:        TypeRegular,
		Permissions: perms,
		Size:        uint(len(data)),
		Created:     now,
		Modified:    now,
		LinkCount:   1,
	}

	// grow cleans up after itself, so only the inode needs to be released.
	if err = fs.grow(&inode, 0, count, who); err != nil {
		fs.inodes.FreeSingle(common.UnitID(id))
		return FileInfo{}, err
	}

	err = fs.writeContent(&inode, data, 0, who)
	if err == nil {
		err = fs.saveInode(&inode)
	}
	if err == nil {
		err = fs.addEntry(&dir, Dirent{Name: name, Inode: id}, who)
	}
	if err != nil {
		return FileInfo{}, fs.discardInode(&inode, err, who)
	}

	fs.logger.WithFields(log.Fields{
		"name":  name,
		"inode": id,
		"size":  len(data),
		"owner": who,
	}).Debug("created file")
	return fs.describe(name, &inode, who)
}

// Read returns the contents of a file in the current directory. With a
// `blockIndex` of [AllBlocks] it returns the whole file, trimmed to its size.
// Otherwise it returns that one block verbatim, and the caller must trim it.
func (fs *FileSystem) Read(name string, blockIndex int, who common.Owner) ([]byte, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	_, inode, err := fs.lookup(name, who)
	if err != nil {
		return nil, err
	}
	if inode.IsDirectory() {
		return nil, errors.ErrIsADirectory.WithMessage(fmt.Sprintf("%q", name))
	}

	if blockIndex == AllBlocks {
		return fs.readContent(&inode, who)
	}

	block, err := fs.resolveBlockIndex(&inode, name, blockIndex, who)
	if err != nil {
		return nil, err
	}
	return fs.cache.Read(block, who)
}

func (fs *FileSystem) resolveBlockIndex(
	inode *Inode, name string, blockIndex int, who common.Owner,
) (common.BlockID, error) {
	count := fs.blockCount(inode)
	if blockIndex < 0 || uint(blockIndex) >= count {
		return common.NoBlock, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"block %d of %q not in range [0, %d)", blockIndex, name, count))
	}
	return fs.newBlockMap(inode, who).lookup(uint(blockIndex))
}

// Write replaces the contents of a file in the current directory and returns
// its new size. With a `blockIndex` of [AllBlocks] the file is resized to fit
// `data`. Otherwise only that one block is overwritten, with `data` padded or
// truncated to exactly one block, and the size doesn't change.
//
// Writing to a file that is open by anyone fails.
func (fs *FileSystem) Write(
	name string, data []byte, blockIndex int, who common.Owner,
) (uint, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	_, inode, err := fs.lookup(name, who)
	if err != nil {
		return 0, err
	}
	if fs.open.isOpen(inode.ID) {
		return 0, errors.ErrBusy.WithMessage(fmt.Sprintf("%q is open", name))
	}
	if inode.IsDirectory() {
		return 0, errors.ErrIsADirectory.WithMessage(fmt.Sprintf("%q", name))
	}

	if blockIndex != AllBlocks {
		block, err := fs.resolveBlockIndex(&inode, name, blockIndex, who)
		if err != nil {
			return 0, err
		}
		if err = fs.cache.Write(block, data, who); err != nil {
			return 0, err
		}
		inode.Modified = time.Now()
		return inode.Size, fs.saveInode(&inode)
	}

	oldCount := fs.blockCount(&inode)
	if err = fs.replaceContent(&inode, data, who); err != nil {
		return 0, err
	}

	fs.logger.WithFields(log.Fields{
		"name":       name,
		"inode":      inode.ID,
		"old_blocks": oldCount,
		"new_blocks": fs.blockCount(&inode),
		"owner":      who,
	}).Debug("rewrote file")
	return inode.Size, nil
}

// Delete removes a file or an empty directory from the current directory and
// frees its inode and blocks.
func (fs *FileSystem) Delete(name string, who common.Owner) (DeleteResult, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if name == "" || name == "." || name == ".." {
		return DeleteResult{}, errors.ErrInvalidName.WithMessage(
			fmt.Sprintf("can't delete %q", name))
	}

	dir, err := fs.currentDirectory()
	if err != nil {
		return DeleteResult{}, err
	}
	entry, found, err := fs.findEntry(&dir, name, who)
	if err != nil {
		return DeleteResult{}, err
	}
	if !found {
		return DeleteResult{}, errors.ErrNotFound.WithMessage(fmt.Sprintf("%q", name))
	}

	if fs.isOnPath(entry.Inode) {
		return DeleteResult{}, errors.ErrBusy.WithMessage(
			fmt.Sprintf("%q is on the current path", name))
	}
	if fs.open.isOpen(entry.Inode) {
		return DeleteResult{}, errors.ErrBusy.WithMessage(fmt.Sprintf("%q is open", name))
	}

	inode, err := fs.loadInode(entry.Inode)
	if err != nil {
		return DeleteResult{}, err
	}
	if inode.IsDirectory() {
		children, err := fs.readDirectory(&inode, who)
		if err != nil {
			return DeleteResult{}, err
		}
		if len(children) > 0 {
			return DeleteResult{}, errors.ErrDirectoryNotEmpty.WithMessage(
				fmt.Sprintf("%q has %d entries", name, len(children)))
		}
	}

	dataBlocks, err := fs.newBlockMap(&inode, who).dataBlocks(fs.blockCount(&inode))
	if err != nil {
		return DeleteResult{}, err
	}
	released, err := fs.truncate(&inode, fs.blockCount(&inode), 0, who)
	if err != nil {
		return DeleteResult{}, err
	}
	if err = fs.store.WriteInode(inode.ID, nil); err != nil {
		return DeleteResult{}, err
	}
	if err = fs.inodes.FreeSingle(common.UnitID(inode.ID)); err != nil {
		return DeleteResult{}, err
	}
	if err = fs.removeEntry(&dir, entry, who); err != nil {
		return DeleteResult{}, err
	}
	if err = fs.releaseBlocks(released); err != nil {
		return DeleteResult{}, err
	}

	fs.logger.WithFields(log.Fields{
		"name":  name,
		"inode": inode.ID,
		"owner": who,
	}).Debug("deleted")
	return DeleteResult{Inode: inode.ID, FreedBlocks: dataBlocks}, nil
}

// List describes every entry of the current directory, in slot order.
func (fs *FileSystem) List(who common.Owner) ([]FileInfo, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	dir, err := fs.currentDirectory()
	if err != nil {
		return nil, err
	}
	entries, err := fs.readDirectory(&dir, who)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		inode, err := fs.loadInode(entry.Inode)
		if err != nil {
			return nil, err
		}
		info, err := fs.describe(entry.Name, &inode, who)
		if err != nil {
			return nil, err
		}
		files = append(files, info)
	}
	return files, nil
}

// MakeDirectory creates an empty directory in the current directory. It starts
// out with one data block.
func (fs *FileSystem) MakeDirectory(name string, who common.Owner) (FileInfo, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	dir, err := fs.currentDirectory()
	if err != nil {
		return FileInfo{}, err
	}
	if err = fs.checkNameAvailable(&dir, name, who); err != nil {
		return FileInfo{}, err
	}

	id, err := fs.allocateInode()
	if err != nil {
		return FileInfo{}, err
	}

	now := time.Now()
	inode := Inode{
		ID:          id,
		Type:        TypeDirectory,
		Permissions: DefaultDirectoryPermissions,
		Created:     now,
		Modified:    now,
		LinkCount:   1,
	}
	if err = fs.grow(&inode, 0, 1, who); err != nil {
		fs.inodes.FreeSingle(common.UnitID(id))
		return FileInfo{}, err
	}

	err = fs.saveInode(&inode)
	if err == nil {
		err = fs.addEntry(&dir, Dirent{Name: name, Inode: id}, who)
	}
	if err != nil {
		return FileInfo{}, fs.discardInode(&inode, err, who)
	}

	fs.logger.WithFields(log.Fields{
		"name":  name,
		"inode": id,
		"owner": who,
	}).Debug("created directory")
	return fs.describe(name, &inode, who)
}

// ChangeDirectory descends into the named subdirectory, or with ".." goes up
// one level. Going up from the root does nothing.
func (fs *FileSystem) ChangeDirectory(name string, who common.Owner) (PathInfo, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if name == ".." {
		if len(fs.path) > 1 {
			fs.path = fs.path[:len(fs.path)-1]
		}
		return fs.pathInfo(), nil
	}

	entry, inode, err := fs.lookup(name, who)
	if err != nil {
		return PathInfo{}, err
	}
	if !inode.IsDirectory() {
		return PathInfo{}, errors.ErrNotADirectory.WithMessage(fmt.Sprintf("%q", name))
	}

	fs.path = append(fs.path, pathEntry{name: entry.Name, inode: entry.Inode})
	return fs.pathInfo(), nil
}

// Open registers `who` as having the named file open. It never waits: if the
// file is open by anyone and either side wants to write, it fails immediately
// with an error of kind [errors.WouldBlock].
func (fs *FileSystem) Open(name string, who common.Owner, mode OpenMode) (common.InodeID, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	_, inode, err := fs.lookup(name, who)
	if err != nil {
		return 0, err
	}
	if err = fs.open.register(inode.ID, name, who, mode); err != nil {
		return 0, err
	}
	return inode.ID, nil
}

// Close removes `who`'s registration for the named file.
func (fs *FileSystem) Close(name string, who common.Owner) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	_, inode, err := fs.lookup(name, who)
	if err != nil {
		return err
	}
	return fs.open.unregister(inode.ID, name, who)
}

// OpenRegistrations returns who has the named file open.
func (fs *FileSystem) OpenRegistrations(name string, who common.Owner) ([]OpenRegistration, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	_, inode, err := fs.lookup(name, who)
	if err != nil {
		return nil, err
	}
	return append([]OpenRegistration{}, fs.open[inode.ID]...), nil
}

// Info describes one entry of the current directory.
func (fs *FileSystem) Info(name string, who common.Owner) (FileInfo, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	entry, inode, err := fs.lookup(name, who)
	if err != nil {
		return FileInfo{}, err
	}
	return fs.describe(entry.Name, &inode, who)
}

// InodeInfo describes an inode by number, whether or not it's in the current
// directory. The name is left empty.
func (fs *FileSystem) InodeInfo(id common.InodeID, who common.Owner) (FileInfo, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if uint(id) >= fs.geometry.InodeCount {
		return FileInfo{}, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("inode %d not in range [0, %d)", id, fs.geometry.InodeCount))
	}
	inode, err := fs.loadInode(id)
	if err != nil {
		return FileInfo{}, err
	}
	return fs.describe("", &inode, who)
}

// UsedInodes returns the numbers of every allocated inode in ascending order.
func (fs *FileSystem) UsedInodes() []common.InodeID {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	ids := []common.InodeID{}
	for i := uint(0); i < fs.geometry.InodeCount; i++ {
		if fs.inodes.IsAllocated(common.UnitID(i)) {
			ids = append(ids, common.InodeID(i))
		}
	}
	return ids
}

func (fs *FileSystem) Stats() Stats {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	info := fs.store.Info()
	usedInodes := fs.inodes.CountAllocated(0)
	return Stats{
		TotalBlocks: info.TotalBlocks,
		FreeBlocks:  info.FreeBlocks,
		UsedBlocks:  info.UsedBlocks,
		TotalInodes: fs.geometry.InodeCount,
		UsedInodes:  usedInodes,
		FreeInodes:  fs.geometry.InodeCount - usedInodes,
		BlockSize:   fs.geometry.BlockSize,
		OpenFiles:   uint(len(fs.open)),
	}
}

// Path describes the current directory.
func (fs *FileSystem) Path() PathInfo {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	return fs.pathInfo()
}

// ResetToRoot makes the root the current directory.
func (fs *FileSystem) ResetToRoot() {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	fs.path = fs.path[:1]
}
