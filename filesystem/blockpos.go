package filesystem

import (
	"github.com/dargueta/osfs/common"
)

type indirection int

const (
	direct indirection = iota
	singlyIndirect
	doublyIndirect
	outOfRange
)

// blockPos says where the pointer to a file's n'th block lives.
//
//   - direct: inode.Direct[DirectIndex]
//   - singlyIndirect: slot SinglyIndirectIndex of the single-indirect block
//   - doublyIndirect: slot DoublyIndirectIndex of the single-indirect block
//     referenced by slot SinglyIndirectIndex of the double-indirect block
type blockPos struct {
	Indirection         indirection
	DirectIndex         uint
	SinglyIndirectIndex uint
	DoublyIndirectIndex uint
}

func blockPosFromFileBlock(pointersPerBlock uint, fileBlock uint) blockPos {
	indirect1Size := pointersPerBlock
	indirect2Size := indirect1Size * indirect1Size

	if fileBlock < common.DirectPointers {
		return blockPos{Indirection: direct, DirectIndex: fileBlock}
	} else if fileBlock < common.DirectPointers+indirect1Size {
		return blockPos{
			Indirection:         singlyIndirect,
			SinglyIndirectIndex: fileBlock - common.DirectPointers,
		}
	} else if fileBlock < common.DirectPointers+indirect1Size+indirect2Size {
		base := fileBlock - common.DirectPointers - indirect1Size
		return blockPos{
			Indirection:         doublyIndirect,
			SinglyIndirectIndex: base / indirect1Size,
			DoublyIndirectIndex: base % indirect1Size,
		}
	}
	return blockPos{Indirection: outOfRange}
}

// indexBlocksFor gives how many index blocks a file of `fileBlocks` blocks
// needs: the single-indirect block, the double-indirect block, and one
// second-level block for every started run of `pointersPerBlock` positions past
// the single-indirect range.
func indexBlocksFor(pointersPerBlock uint, fileBlocks uint) uint {
	total := uint(0)
	if fileBlocks > common.DirectPointers {
		total++
	}
	doubleStart := common.DirectPointers + pointersPerBlock
	if fileBlocks > doubleStart {
		total += 1 + common.DivRoundUp(fileBlocks-doubleStart, pointersPerBlock)
	}
	return total
}
