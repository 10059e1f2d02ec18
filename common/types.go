// Package common contains definitions of fundamental types and functions used
// by every layer of the storage stack: identifiers, the on-disk geometry, the
// bitmap allocator, and the capped log ring.
package common

import "fmt"

// BlockID is the physical index of a block on the volume. Block 0 always holds
// the superblock, so 0 doubles as the "unused" value inside block pointers.
type BlockID int

// InodeID is the index of an inode in the inode table. Inode 0 is the root
// directory.
type InodeID int

// Owner is an advisory tag naming the requester of an operation, usually a
// process ID in the scheduler that drives the stack. It grants no exclusivity.
type Owner int

const NoBlock = BlockID(-1)
const NoOwner = Owner(-1)
const RootInode = InodeID(0)

// String implements [fmt.Stringer].
func (id BlockID) String() string {
	if id == NoBlock {
		return "<none>"
	}
	return fmt.Sprintf("%d", int(id))
}
