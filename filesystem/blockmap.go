package filesystem

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/noxer/bytewriter"
)

// pointerBlock is a decoded index block.
type pointerBlock struct {
	id       common.BlockID
	pointers []uint16
	// original holds the pointers as loaded. It's nil for a fresh block.
	original []uint16
	dirty    bool
	// written is set once flush has stored the block in the cache.
	written bool
}

// blockMap resolves and edits one inode's mixed index. Index blocks are read
// through the buffer cache on first use and held until flush writes the
// changed ones back. Edits to the inode's own pointers go straight into
// `inode`; the caller is responsible for persisting it.
type blockMap struct {
	fs     *FileSystem
	inode  *Inode
	who    common.Owner
	loaded map[common.BlockID]*pointerBlock
}

func (fs *FileSystem) newBlockMap(inode *Inode, who common.Owner) *blockMap {
	return &blockMap{
		fs:     fs,
		inode:  inode,
		who:    who,
		loaded: make(map[common.BlockID]*pointerBlock),
	}
}

func (m *blockMap) pointersPerBlock() uint {
	return m.fs.geometry.PointersPerBlock()
}

func (m *blockMap) load(id common.BlockID) (*pointerBlock, error) {
	if pb, ok := m.loaded[id]; ok {
		return pb, nil
	}
	if id == 0 {
		return nil, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("inode %d references an unallocated index block", m.inode.ID))
	}

	data, err := m.fs.cache.Read(id, m.who)
	if err != nil {
		return nil, err
	}

	pb := &pointerBlock{id: id, pointers: make([]uint16, m.pointersPerBlock())}
	err = binary.Read(bytes.NewReader(data), binary.LittleEndian, pb.pointers)
	if err != nil {
		return nil, errors.ErrIOFailed.Wrap(err)
	}
	pb.original = append([]uint16(nil), pb.pointers...)
	m.loaded[id] = pb
	return pb, nil
}

// fresh registers a newly allocated index block. It starts out all zeroes.
func (m *blockMap) fresh(id common.BlockID) *pointerBlock {
	pb := &pointerBlock{
		id:       id,
		pointers: make([]uint16, m.pointersPerBlock()),
		dirty:    true,
	}
	m.loaded[id] = pb
	return pb
}

func (m *blockMap) forget(id common.BlockID) {
	delete(m.loaded, id)
}

// lookup returns the data block at position `fileBlock` of the file.
func (m *blockMap) lookup(fileBlock uint) (common.BlockID, error) {
	pos := blockPosFromFileBlock(m.pointersPerBlock(), fileBlock)

	var block common.BlockID
	switch pos.Indirection {
	case direct:
		block = m.inode.Direct[pos.DirectIndex]
	case singlyIndirect:
		single, err := m.load(m.inode.SingleIndirect)
		if err != nil {
			return common.NoBlock, err
		}
		block = common.BlockID(single.pointers[pos.SinglyIndirectIndex])
	case doublyIndirect:
		double, err := m.load(m.inode.DoubleIndirect)
		if err != nil {
			return common.NoBlock, err
		}
		single, err := m.load(common.BlockID(double.pointers[pos.SinglyIndirectIndex]))
		if err != nil {
			return common.NoBlock, err
		}
		block = common.BlockID(single.pointers[pos.DoublyIndirectIndex])
	default:
		return common.NoBlock, errors.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("block %d is past the largest possible file", fileBlock))
	}

	if block == 0 {
		return common.NoBlock, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("inode %d has no block at position %d", m.inode.ID, fileBlock))
	}
	return block, nil
}

// dataBlocks returns the data blocks at positions [0, count).
func (m *blockMap) dataBlocks(count uint) ([]common.BlockID, error) {
	blocks := make([]common.BlockID, 0, count)
	for i := uint(0); i < count; i++ {
		block, err := m.lookup(i)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// indexBlocks returns the index blocks used by a file of `count` blocks.
func (m *blockMap) indexBlocks(count uint) ([]common.BlockID, error) {
	p := m.pointersPerBlock()
	blocks := []common.BlockID{}

	if count > common.DirectPointers {
		blocks = append(blocks, m.inode.SingleIndirect)
	}

	doubleStart := common.DirectPointers + p
	if count > doubleStart {
		blocks = append(blocks, m.inode.DoubleIndirect)
		double, err := m.load(m.inode.DoubleIndirect)
		if err != nil {
			return nil, err
		}
		for i := uint(0); i < common.DivRoundUp(count-doubleStart, p); i++ {
			blocks = append(blocks, common.BlockID(double.pointers[i]))
		}
	}
	return blocks, nil
}

// assign points position `fileBlock` at a data block, creating any index blocks
// the position needs along the way. Index blocks and the data block are taken
// from `next` in that order.
func (m *blockMap) assign(fileBlock uint, next func() common.BlockID) error {
	pos := blockPosFromFileBlock(m.pointersPerBlock(), fileBlock)

	switch pos.Indirection {
	case direct:
		m.inode.Direct[pos.DirectIndex] = next()
	case singlyIndirect:
		var single *pointerBlock
		var err error
		if m.inode.SingleIndirect == 0 {
			m.inode.SingleIndirect = next()
			single = m.fresh(m.inode.SingleIndirect)
		} else if single, err = m.load(m.inode.SingleIndirect); err != nil {
			return err
		}
		single.pointers[pos.SinglyIndirectIndex] = uint16(next())
		single.dirty = true
	case doublyIndirect:
		var double, single *pointerBlock
		var err error
		if m.inode.DoubleIndirect == 0 {
			m.inode.DoubleIndirect = next()
			double = m.fresh(m.inode.DoubleIndirect)
		} else if double, err = m.load(m.inode.DoubleIndirect); err != nil {
			return err
		}

		singleID := common.BlockID(double.pointers[pos.SinglyIndirectIndex])
		if singleID == 0 {
			singleID = next()
			double.pointers[pos.SinglyIndirectIndex] = uint16(singleID)
			double.dirty = true
			single = m.fresh(singleID)
		} else if single, err = m.load(singleID); err != nil {
			return err
		}
		single.pointers[pos.DoublyIndirectIndex] = uint16(next())
		single.dirty = true
	default:
		return errors.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("block %d is past the largest possible file", fileBlock))
	}
	return nil
}

// clear unsets position `fileBlock` and returns the blocks it released: the
// data block, followed by any index block whose first slot this was. Positions
// must be cleared from the end of the file backwards.
func (m *blockMap) clear(fileBlock uint) ([]common.BlockID, error) {
	pos := blockPosFromFileBlock(m.pointersPerBlock(), fileBlock)
	released := []common.BlockID{}

	switch pos.Indirection {
	case direct:
		released = append(released, m.inode.Direct[pos.DirectIndex])
		m.inode.Direct[pos.DirectIndex] = 0
	case singlyIndirect:
		single, err := m.load(m.inode.SingleIndirect)
		if err != nil {
			return nil, err
		}
		released = append(released, common.BlockID(single.pointers[pos.SinglyIndirectIndex]))
		single.pointers[pos.SinglyIndirectIndex] = 0
		single.dirty = true

		if pos.SinglyIndirectIndex == 0 {
			released = append(released, single.id)
			m.forget(single.id)
			m.inode.SingleIndirect = 0
		}
	case doublyIndirect:
		double, err := m.load(m.inode.DoubleIndirect)
		if err != nil {
			return nil, err
		}
		single, err := m.load(common.BlockID(double.pointers[pos.SinglyIndirectIndex]))
		if err != nil {
			return nil, err
		}
		released = append(released, common.BlockID(single.pointers[pos.DoublyIndirectIndex]))
		single.pointers[pos.DoublyIndirectIndex] = 0
		single.dirty = true

		if pos.DoublyIndirectIndex == 0 {
			released = append(released, single.id)
			m.forget(single.id)
			double.pointers[pos.SinglyIndirectIndex] = 0
			double.dirty = true

			if pos.SinglyIndirectIndex == 0 {
				released = append(released, double.id)
				m.forget(double.id)
				m.inode.DoubleIndirect = 0
			}
		}
	default:
		return nil, errors.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("block %d is past the largest possible file", fileBlock))
	}

	for _, block := range released {
		if block == 0 {
			return nil, errors.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("inode %d has no block at position %d", m.inode.ID, fileBlock))
		}
	}
	return released, nil
}

func (m *blockMap) encode(pointers []uint16) []byte {
	buffer := make([]byte, m.fs.geometry.BlockSize)
	binary.Write(bytewriter.New(buffer), binary.LittleEndian, pointers)
	return buffer
}

// flush writes every changed index block back through the buffer cache.
func (m *blockMap) flush() error {
	for _, pb := range m.loaded {
		if !pb.dirty {
			continue
		}
		if err := m.fs.cache.Write(pb.id, m.encode(pb.pointers), m.who); err != nil {
			return err
		}
		pb.dirty = false
		pb.written = true
	}
	return nil
}

// restore undoes a partial flush: every index block that existed before and
// has already been written gets its loaded contents back. Fresh index blocks
// are left alone; the caller frees them.
//
// A written block is still bound to a cache page, so restoring it doesn't need
// a free page.
func (m *blockMap) restore() error {
	var result *multierror.Error
	for _, pb := range m.loaded {
		if pb.original == nil || !pb.written {
			continue
		}
		if err := m.fs.cache.Write(pb.id, m.encode(pb.original), m.who); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		copy(pb.pointers, pb.original)
		pb.written = false
		pb.dirty = false
	}
	return result.ErrorOrNil()
}
