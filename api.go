package osfs

import (
	"os"
	"time"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/filesystem"
)

// ReadingDriver is the interface for file systems supporting read operations.
// Every name is resolved in the current directory.
type ReadingDriver interface {
	// Read returns the whole file, or one raw block of it if `blockIndex` isn't
	// [filesystem.AllBlocks].
	Read(name string, blockIndex int, who common.Owner) ([]byte, error)
	List(who common.Owner) ([]filesystem.FileInfo, error)
	// Info describes a single directory entry.
	Info(name string, who common.Owner) (filesystem.FileInfo, error)
	Stats() filesystem.Stats
	Path() filesystem.PathInfo
}

// WritingDriver is the interface for file systems supporting write operations.
type WritingDriver interface {
	Create(
		name string, data []byte, perms filesystem.Permissions, who common.Owner,
	) (filesystem.FileInfo, error)
	Write(name string, data []byte, blockIndex int, who common.Owner) (uint, error)
	Delete(name string, who common.Owner) (filesystem.DeleteResult, error)
	MakeDirectory(name string, who common.Owner) (filesystem.FileInfo, error)
}

// NavigatingDriver is the interface for file systems with a current directory.
type NavigatingDriver interface {
	// ChangeDirectory descends into a subdirectory, or goes up a level if the
	// name is "..".
	ChangeDirectory(name string, who common.Owner) (filesystem.PathInfo, error)
	ResetToRoot()
}

// OpeningDriver is the interface for file systems with an advisory open-file
// table. Open must never wait.
type OpeningDriver interface {
	Open(name string, who common.Owner, mode filesystem.OpenMode) (common.InodeID, error)
	Close(name string, who common.Owner) error
}

// Driver is the interface for file systems implementing all capabilities.
type Driver interface {
	ReadingDriver
	WritingDriver
	NavigatingDriver
	OpeningDriver

	// Remount discards all in-memory state and reloads it from the volume.
	Remount() error
}

var _ Driver = (*filesystem.FileSystem)(nil)

// DirectoryEntry adapts a [filesystem.FileInfo] to the os.FileInfo interface.
type DirectoryEntry struct {
	Info filesystem.FileInfo
}

// Name returns the base name of the directory entry.
func (d DirectoryEntry) Name() string {
	return d.Info.Name
}

func (d DirectoryEntry) Size() int64 {
	return int64(d.Info.Size)
}

// Mode returns the entry's type and permissions as an os.FileMode. The stored
// permissions apply to the owner only.
func (d DirectoryEntry) Mode() os.FileMode {
	mode := os.FileMode(PermissionsToMode(d.Info.Permissions) & S_IRWXU)
	if d.Info.Type == filesystem.TypeDirectory {
		mode |= os.ModeDir
	}
	return mode
}

// ModTime returns the last modification time of the entry.
func (d DirectoryEntry) ModTime() time.Time {
	return d.Info.Modified
}

// IsDir returns true if it's a directory.
func (d DirectoryEntry) IsDir() bool {
	return d.Info.Type == filesystem.TypeDirectory
}

// Sys returns a copy of the [filesystem.FileInfo] backing this entry.
func (d DirectoryEntry) Sys() interface{} {
	return d.Info
}

// NewDirectoryEntries converts a directory listing for use with code expecting
// os.FileInfo.
func NewDirectoryEntries(files []filesystem.FileInfo) []os.FileInfo {
	entries := make([]os.FileInfo, len(files))
	for i, file := range files {
		entries[i] = DirectoryEntry{Info: file}
	}
	return entries
}
