package osfs

import (
	"github.com/dargueta/osfs/filesystem"
)

// Mode bits in the traditional Unix layout. The volume only stores one rwx
// triple, which maps onto the owner bits.
const (
	S_IXOTH = 1 << iota // 00001
	S_IWOTH = 1 << iota // 00002
	S_IROTH = 1 << iota
	S_IXGRP = 1 << iota
	S_IWGRP = 1 << iota // 00010
	S_IRGRP = 1 << iota
	S_IXUSR = 1 << iota
	S_IWUSR = 1 << iota
	S_IRUSR = 1 << iota // 00100
)

const S_IFDIR = 0x4000
const S_IFREG = 0x8000
const S_IFMT = 0xf000

const S_IRWXU = S_IXUSR | S_IWUSR | S_IRUSR

// PermissionsToMode converts stored permissions to owner mode bits.
func PermissionsToMode(perms filesystem.Permissions) uint32 {
	var mode uint32
	if perms&filesystem.PermRead != 0 {
		mode |= S_IRUSR
	}
	if perms&filesystem.PermWrite != 0 {
		mode |= S_IWUSR
	}
	if perms&filesystem.PermExecute != 0 {
		mode |= S_IXUSR
	}
	return mode
}

// ModeToPermissions keeps only the owner bits of a Unix mode.
func ModeToPermissions(mode uint32) filesystem.Permissions {
	var perms filesystem.Permissions
	if mode&S_IRUSR != 0 {
		perms |= filesystem.PermRead
	}
	if mode&S_IWUSR != 0 {
		perms |= filesystem.PermWrite
	}
	if mode&S_IXUSR != 0 {
		perms |= filesystem.PermExecute
	}
	return perms
}

// FullMode combines an entry's type and permissions into a stat-style mode.
func FullMode(info filesystem.FileInfo) uint32 {
	mode := PermissionsToMode(info.Permissions)
	if info.Type == filesystem.TypeDirectory {
		return mode | S_IFDIR
	}
	return mode | S_IFREG
}
