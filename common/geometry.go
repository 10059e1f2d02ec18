package common

import (
	"fmt"

	"github.com/dargueta/osfs/errors"
)

// On-disk record sizes. These are fixed by the image format and don't depend
// on the block size.
const (
	SuperblockSize   = 48
	InodeSize        = 64
	DirentSize       = 26
	MaxNameLength    = 24
	BlockPointerSize = 2
	DirectPointers   = 6
)

const MinBlockSize = 64
const MaxBlockSize = 4096

// MaxTotalBlocks is the largest volume addressable with 16-bit block pointers.
const MaxTotalBlocks = 1 << 16

// Geometry describes the layout of a volume:
//
//	[superblock][bitmap blocks][inode-table blocks][data blocks]
//
// Everything other than the three exported fields is derived.
type Geometry struct {
	BlockSize   uint
	TotalBlocks uint
	InodeCount  uint
}

// DefaultGeometry is a 64 KiB volume of 64-byte blocks with 32 inodes.
var DefaultGeometry = Geometry{
	BlockSize:   64,
	TotalBlocks: 1024,
	InodeCount:  32,
}

// Validate checks that the geometry can actually be laid out on disk.
func (g Geometry) Validate() error {
	if g.BlockSize < MinBlockSize || g.BlockSize > MaxBlockSize {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"block size %d not in range [%d, %d]",
				g.BlockSize,
				MinBlockSize,
				MaxBlockSize,
			),
		)
	}
	if g.BlockSize%InodeSize != 0 {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"block size must be a multiple of %d, got %d", InodeSize, g.BlockSize),
		)
	}
	if g.InodeCount == 0 || g.InodeCount > 0xffff {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("inode count %d not in range [1, 65535]", g.InodeCount))
	}
	if g.TotalBlocks > MaxTotalBlocks {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"total blocks %d exceeds the pointer limit of %d",
				g.TotalBlocks,
				MaxTotalBlocks,
			),
		)
	}
	if g.TotalBlocks <= uint(g.DataStart()) {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"volume of %d blocks leaves no room for data; metadata needs %d",
				g.TotalBlocks,
				g.DataStart(),
			),
		)
	}
	return nil
}

// TotalSize gives the size of the image in bytes.
func (g Geometry) TotalSize() int64 {
	return int64(g.BlockSize) * int64(g.TotalBlocks)
}

// BitmapBytes gives the number of bytes needed for one bit per block.
func (g Geometry) BitmapBytes() uint {
	return DivRoundUp(g.TotalBlocks, 8)
}

func (g Geometry) BitmapBlocks() uint {
	return DivRoundUp(g.BitmapBytes(), g.BlockSize)
}

func (g Geometry) InodesPerBlock() uint {
	return g.BlockSize / InodeSize
}

func (g Geometry) InodeBlocks() uint {
	return DivRoundUp(g.InodeCount, g.InodesPerBlock())
}

// PointersPerBlock gives the number of block pointers in one index block.
func (g Geometry) PointersPerBlock() uint {
	return g.BlockSize / BlockPointerSize
}

// DirentsPerBlock gives how many directory entries fit in one block. The
// remainder of each block is unused.
func (g Geometry) DirentsPerBlock() uint {
	return g.BlockSize / DirentSize
}

func (g Geometry) BitmapStart() BlockID {
	return BlockID(1)
}

func (g Geometry) InodeTableStart() BlockID {
	return g.BitmapStart() + BlockID(g.BitmapBlocks())
}

// DataStart is the first block available for file data and index blocks.
func (g Geometry) DataStart() BlockID {
	return g.InodeTableStart() + BlockID(g.InodeBlocks())
}

// MaxFileBlocks gives the largest number of data blocks one inode can address.
func (g Geometry) MaxFileBlocks() uint {
	p := g.PointersPerBlock()
	return DirectPointers + p + p*p
}

// LengthToNumBlocks gives the number of blocks a file of `size` bytes occupies.
// Every file occupies at least one block, even if it's empty.
func (g Geometry) LengthToNumBlocks(size uint) uint {
	n := DivRoundUp(size, g.BlockSize)
	if n == 0 {
		return 1
	}
	return n
}

// DivRoundUp divides `n` by `d`, rounding up.
func DivRoundUp(n, d uint) uint {
	return (n + d - 1) / d
}
