package filesystem

import (
	"time"

	"github.com/dargueta/osfs/common"
)

// AllBlocks tells Read and Write to operate on the whole file instead of a
// single block.
const AllBlocks = -1

// FileInfo describes one file or directory.
type FileInfo struct {
	Name        string           `json:"name"`
	Inode       common.InodeID   `json:"inode_id"`
	Type        InodeType        `json:"type"`
	Size        uint             `json:"size"`
	Blocks      []common.BlockID `json:"block_ids"`
	IndexBlocks []common.BlockID `json:"index_block_ids"`
	Permissions Permissions      `json:"permissions"`
	Created     time.Time        `json:"create_time"`
	Modified    time.Time        `json:"modify_time"`
	IsOpen      bool             `json:"is_open"`
}

func (info *FileInfo) BlockCount() int {
	return len(info.Blocks)
}

// DeleteResult is what [FileSystem.Delete] released.
type DeleteResult struct {
	Inode       common.InodeID   `json:"freed_inode"`
	FreedBlocks []common.BlockID `json:"freed_blocks"`
}

type Stats struct {
	TotalBlocks uint `json:"total_blocks"`
	FreeBlocks  uint `json:"free_blocks"`
	UsedBlocks  uint `json:"used_blocks"`
	TotalInodes uint `json:"total_inodes"`
	UsedInodes  uint `json:"used_inodes"`
	FreeInodes  uint `json:"free_inodes"`
	BlockSize   uint `json:"block_size"`
	OpenFiles   uint `json:"open_files"`
}

// PathInfo describes the current directory.
type PathInfo struct {
	Path      string         `json:"current_path"`
	Inode     common.InodeID `json:"current_inode"`
	CanGoBack bool           `json:"can_go_back"`
}
