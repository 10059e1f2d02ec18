// Package disk implements the block store at the bottom of the storage stack:
// a flat image of fixed-size blocks holding the superblock, the free-space
// bitmap, the inode table, and the data region.
//
// All block indices begin at 0. Every public method of [BlockStore] holds the
// store's lock for its whole duration, so operations are atomic with respect
// to each other.
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/xaionaro-go/bytesextra"
)

const DefaultOperationLogCapacity = 100

type OperationType string

const (
	OpFormat     = OperationType("FORMAT")
	OpMount      = OperationType("MOUNT")
	OpRead       = OperationType("READ")
	OpWrite      = OperationType("WRITE")
	OpAllocate   = OperationType("ALLOCATE")
	OpFree       = OperationType("FREE")
	OpReadInode  = OperationType("READ_INODE")
	OpWriteInode = OperationType("WRITE_INODE")
	OpExport     = OperationType("EXPORT")
	OpImport     = OperationType("IMPORT")
)

// Operation is one entry of the store's operation log.
type Operation struct {
	Timestamp time.Time     `csv:"timestamp" json:"timestamp"`
	Type      OperationType `csv:"type" json:"type"`
	Target    int           `csv:"target" json:"target"`
	Message   string        `csv:"message" json:"message"`
}

// Info is a summary of the store's space usage.
type Info struct {
	TotalBlocks    uint           `json:"total_blocks"`
	FreeBlocks     uint           `json:"free_blocks"`
	UsedBlocks     uint           `json:"used_blocks"`
	BlockSize      uint           `json:"block_size"`
	TotalSize      int64          `json:"total_size"`
	DataStartBlock common.BlockID `json:"data_start_block"`
	IsMounted      bool           `json:"is_mounted"`
}

type BlockStore struct {
	mutex      sync.Mutex
	stream     io.ReadWriteSeeker
	geometry   common.Geometry
	blocks     common.Allocator
	freeBlocks uint
	superblock RawSuperblock
	isMounted  bool
	opLog      *common.Ring[Operation]
	logger     *log.Entry
}

// New creates a block store on top of `stream`, which must be at least
// `geometry.TotalSize()` bytes. Nothing is read or written until [BlockStore.Mount]
// or [BlockStore.Format] is called.
func New(
	stream io.ReadWriteSeeker,
	geometry common.Geometry,
	opLogCapacity int,
) (*BlockStore, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	if opLogCapacity <= 0 {
		opLogCapacity = DefaultOperationLogCapacity
	}

	blocks := common.NewAllocator(geometry.TotalBlocks)
	blocks.FirstUsable = common.UnitID(geometry.DataStart())

	return &BlockStore{
		stream:   stream,
		geometry: geometry,
		blocks:   blocks,
		opLog:    common.NewRing[Operation](opLogCapacity),
		logger:   log.WithField("component", "disk"),
	}, nil
}

// NewMemoryBacking creates a zeroed in-memory image big enough for `geometry`.
func NewMemoryBacking(geometry common.Geometry) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(make([]byte, geometry.TotalSize()))
}

// OpenFileBacking opens (or creates) the image file at `path` and makes sure
// it's exactly the size `geometry` needs. A new file is all zeroes and will be
// formatted by [BlockStore.Mount].
func OpenFileBacking(path string, geometry common.Geometry) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.ErrIOFailed.Wrap(err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.ErrIOFailed.Wrap(err)
	}

	if stat.Size() != geometry.TotalSize() {
		err = file.Truncate(geometry.TotalSize())
		if err != nil {
			file.Close()
			return nil, errors.ErrIOFailed.Wrap(err)
		}
	}
	return file, nil
}

////////////////////////////////////////////////////////////////////////////////
// Lifecycle

// Format wipes the image and writes a fresh superblock, bitmap, and empty inode
// table. Blocks in the metadata region are marked as allocated.
func (store *BlockStore) Format() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.format()
}

func (store *BlockStore) format() error {
	zeroes := make([]byte, store.geometry.BlockSize)
	for i := uint(0); i < store.geometry.TotalBlocks; i++ {
		if err := store.writeRaw(common.BlockID(i), zeroes); err != nil {
			return err
		}
	}

	store.superblock = NewSuperblock(store.geometry, time.Now())
	err := store.writeRaw(0, store.superblock.Serialize(store.geometry.BlockSize))
	if err != nil {
		return err
	}

	store.blocks = common.NewAllocator(store.geometry.TotalBlocks)
	store.blocks.FirstUsable = common.UnitID(store.geometry.DataStart())
	for i := common.BlockID(0); i < store.geometry.DataStart(); i++ {
		store.blocks.Reserve(common.UnitID(i))
	}
	store.freeBlocks = store.geometry.TotalBlocks - uint(store.geometry.DataStart())

	if err = store.saveBitmap(); err != nil {
		return err
	}

	store.isMounted = true
	store.record(OpFormat, 0, "disk formatted")
	store.logger.WithFields(log.Fields{
		"total_blocks": store.geometry.TotalBlocks,
		"block_size":   store.geometry.BlockSize,
		"data_start":   store.geometry.DataStart(),
		"volume":       store.superblock.VolumeUUID().String(),
	}).Info("formatted volume")
	return nil
}

// Mount validates the superblock and loads the bitmap into memory. If the
// image doesn't hold a valid volume with the expected geometry, it's formatted
// instead and `formatted` is true.
func (store *BlockStore) Mount() (formatted bool, err error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	raw, err := store.readRaw(0)
	if err != nil {
		return false, err
	}

	sb, err := DeserializeSuperblock(raw)
	if err == nil {
		err = sb.Validate(store.geometry)
	}
	if err != nil {
		store.logger.WithError(err).Warn("superblock invalid, reformatting")
		return true, store.format()
	}

	store.superblock = sb
	if err = store.loadBitmap(); err != nil {
		return false, err
	}

	store.isMounted = true
	store.record(OpMount, 0, "disk mounted")
	store.logger.WithFields(log.Fields{
		"free_blocks": store.freeBlocks,
		"volume":      sb.VolumeUUID().String(),
	}).Info("mounted volume")
	return false, nil
}

////////////////////////////////////////////////////////////////////////////////
// Bitmap

func (store *BlockStore) bitmapBytes() []byte {
	// Pad out to whole blocks so the trailing bytes of the last bitmap block are
	// always written as zeroes.
	padded := make([]byte, store.geometry.BitmapBlocks()*store.geometry.BlockSize)
	copy(padded, store.blocks.Bytes())
	return padded
}

func (store *BlockStore) saveBitmap() error {
	data := store.bitmapBytes()
	blockSize := store.geometry.BlockSize
	for i := uint(0); i < store.geometry.BitmapBlocks(); i++ {
		block := store.geometry.BitmapStart() + common.BlockID(i)
		err := store.writeRaw(block, data[i*blockSize:(i+1)*blockSize])
		if err != nil {
			return err
		}
	}
	return nil
}

// saveBitmapBlockFor persists only the bitmap block holding the bit for `id`.
func (store *BlockStore) saveBitmapBlockFor(id common.BlockID) error {
	data := store.bitmapBytes()
	blockSize := store.geometry.BlockSize
	index := uint(id) / 8 / blockSize
	return store.writeRaw(
		store.geometry.BitmapStart()+common.BlockID(index),
		data[index*blockSize:(index+1)*blockSize],
	)
}

func (store *BlockStore) loadBitmap() error {
	raw := make([]byte, 0, store.geometry.BitmapBlocks()*store.geometry.BlockSize)
	for i := uint(0); i < store.geometry.BitmapBlocks(); i++ {
		data, err := store.readRaw(store.geometry.BitmapStart() + common.BlockID(i))
		if err != nil {
			return err
		}
		raw = append(raw, data...)
	}

	store.blocks = common.NewAllocatorFromInUseBitmap(raw, store.geometry.TotalBlocks)
	store.blocks.FirstUsable = common.UnitID(store.geometry.DataStart())

	// The metadata region is always in use, even if the image claims otherwise.
	for i := common.BlockID(0); i < store.geometry.DataStart(); i++ {
		store.blocks.Reserve(common.UnitID(i))
	}

	dataBlocks := store.geometry.TotalBlocks - uint(store.geometry.DataStart())
	store.freeBlocks = dataBlocks - store.blocks.CountAllocated(common.UnitID(store.geometry.DataStart()))
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Allocation

// AllocateBlock allocates the first free block in the data region and returns
// its ID. If the volume is full, it returns an error of kind ResourceExhausted
// and nothing changes.
func (store *BlockStore) AllocateBlock() (common.BlockID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.allocateBlock()
}

func (store *BlockStore) allocateBlock() (common.BlockID, error) {
	unit, err := store.blocks.AllocateSingle()
	if err != nil {
		return common.NoBlock, err
	}

	id := common.BlockID(unit)
	store.freeBlocks--
	if err = store.saveBitmapBlockFor(id); err != nil {
		store.blocks.FreeSingle(unit)
		store.freeBlocks++
		return common.NoBlock, err
	}

	store.record(OpAllocate, int(id), fmt.Sprintf("allocated block %d", id))
	store.logger.WithField("block", id).Debug("allocated block")
	return id, nil
}

// AllocateBlocks allocates `count` blocks, not necessarily contiguous. It's
// all-or-nothing: if the volume doesn't have enough space, any blocks
// allocated along the way are freed again and an empty slice is returned with
// an error.
func (store *BlockStore) AllocateBlocks(count uint) ([]common.BlockID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if count > store.freeBlocks {
		return []common.BlockID{}, errors.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf("need %d blocks, only %d free", count, store.freeBlocks))
	}

	allocated := make([]common.BlockID, 0, count)
	for i := uint(0); i < count; i++ {
		id, err := store.allocateBlock()
		if err != nil {
			var result error = err
			for _, block := range allocated {
				if freeErr := store.freeBlock(block); freeErr != nil {
					result = multierror.Append(result, freeErr)
				}
			}
			return []common.BlockID{}, errors.CastToDriverError(result)
		}
		allocated = append(allocated, id)
	}
	return allocated, nil
}

// FreeBlock marks a data block as free and zeroes its contents. Blocks in the
// metadata region can't be freed.
func (store *BlockStore) FreeBlock(id common.BlockID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.freeBlock(id)
}

func (store *BlockStore) freeBlock(id common.BlockID) error {
	if err := store.checkBlock(id); err != nil {
		return err
	}
	if id < store.geometry.DataStart() {
		return errors.ErrNotPermitted.WithMessage(
			fmt.Sprintf("block %d is in the metadata region", id))
	}

	if err := store.blocks.FreeSingle(common.UnitID(id)); err != nil {
		return err
	}
	store.freeBlocks++

	if err := store.saveBitmapBlockFor(id); err != nil {
		return err
	}
	if err := store.writeRaw(id, make([]byte, store.geometry.BlockSize)); err != nil {
		return err
	}

	store.record(OpFree, int(id), fmt.Sprintf("freed block %d", id))
	store.logger.WithField("block", id).Debug("freed block")
	return nil
}

// IsAllocated returns whether the block's bit is set in the bitmap.
func (store *BlockStore) IsAllocated(id common.BlockID) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.blocks.IsAllocated(common.UnitID(id))
}

////////////////////////////////////////////////////////////////////////////////
// Block I/O

// ReadBlock returns a copy of the block's contents, always exactly one block
// long.
func (store *BlockStore) ReadBlock(id common.BlockID) ([]byte, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	data, err := store.readRaw(id)
	if err != nil {
		return nil, err
	}
	store.record(OpRead, int(id), fmt.Sprintf("read block %d", id))
	return data, nil
}

// WriteBlock overwrites a block. `data` is zero-padded or truncated to exactly
// one block.
func (store *BlockStore) WriteBlock(id common.BlockID, data []byte) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if err := store.writeRaw(id, data); err != nil {
		return err
	}
	store.record(OpWrite, int(id), fmt.Sprintf("wrote block %d", id))
	return nil
}

// inodeLocation gives the block holding an inode and the inode's offset in it.
func (store *BlockStore) inodeLocation(id common.InodeID) (common.BlockID, uint, error) {
	if id < 0 || uint(id) >= store.geometry.InodeCount {
		return common.NoBlock, 0, errors.ErrFault.WithMessage(
			fmt.Sprintf(
				"invalid inode number: %d not in range [0, %d)",
				id,
				store.geometry.InodeCount,
			),
		)
	}

	perBlock := store.geometry.InodesPerBlock()
	block := store.geometry.InodeTableStart() + common.BlockID(uint(id)/perBlock)
	offset := (uint(id) % perBlock) * common.InodeSize
	return block, offset, nil
}

// ReadInode returns the raw bytes of one inode record.
func (store *BlockStore) ReadInode(id common.InodeID) ([]byte, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	block, offset, err := store.inodeLocation(id)
	if err != nil {
		return nil, err
	}

	data, err := store.readRaw(block)
	if err != nil {
		return nil, err
	}
	store.record(OpReadInode, int(id), fmt.Sprintf("read inode %d", id))
	return data[offset : offset+common.InodeSize], nil
}

// WriteInode overwrites one inode record. `data` is zero-padded or truncated
// to the size of an inode.
func (store *BlockStore) WriteInode(id common.InodeID, data []byte) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	block, offset, err := store.inodeLocation(id)
	if err != nil {
		return err
	}

	blockData, err := store.readRaw(block)
	if err != nil {
		return err
	}

	record := blockData[offset : offset+common.InodeSize]
	n := copy(record, data)
	for i := n; i < len(record); i++ {
		record[i] = 0
	}

	if err = store.writeRaw(block, blockData); err != nil {
		return err
	}
	store.record(OpWriteInode, int(id), fmt.Sprintf("wrote inode %d", id))
	return nil
}

// checkBlock verifies a raw block ID. Callers above this layer only pass IDs
// they got from the store, so a failure here is a contract violation.
func (store *BlockStore) checkBlock(id common.BlockID) error {
	if id < 0 || uint(id) >= store.geometry.TotalBlocks {
		return errors.ErrFault.WithMessage(
			fmt.Sprintf(
				"invalid block number: %d not in range [0, %d)",
				id,
				store.geometry.TotalBlocks,
			),
		)
	}
	return nil
}

// seekToBlock sets the stream pointer to the offset of a block.
func (store *BlockStore) seekToBlock(id common.BlockID) error {
	if err := store.checkBlock(id); err != nil {
		return err
	}

	offset := int64(id) * int64(store.geometry.BlockSize)
	if _, err := store.stream.Seek(offset, io.SeekStart); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (store *BlockStore) readRaw(id common.BlockID) ([]byte, error) {
	if err := store.seekToBlock(id); err != nil {
		return nil, err
	}

	buffer := make([]byte, store.geometry.BlockSize)
	if _, err := io.ReadFull(store.stream, buffer); err != nil {
		return nil, errors.ErrIOFailed.Wrap(
			fmt.Errorf("reading block %d: %w", id, err))
	}
	return buffer, nil
}

func (store *BlockStore) writeRaw(id common.BlockID, data []byte) error {
	if err := store.seekToBlock(id); err != nil {
		return err
	}

	buffer := data
	if uint(len(data)) != store.geometry.BlockSize {
		buffer = make([]byte, store.geometry.BlockSize)
		copy(buffer, data)
	}

	if _, err := store.stream.Write(buffer); err != nil {
		return errors.ErrIOFailed.Wrap(
			fmt.Errorf("writing block %d: %w", id, err))
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Observability

func (store *BlockStore) record(op OperationType, target int, message string) {
	store.opLog.Push(Operation{
		Timestamp: time.Now(),
		Type:      op,
		Target:    target,
		Message:   message,
	})
}

// OperationLog returns a copy of the most recent operations, oldest first.
func (store *BlockStore) OperationLog() []Operation {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.opLog.Snapshot()
}

// Bitmap returns the allocation state of every block.
func (store *BlockStore) Bitmap() []bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.blocks.Snapshot()
}

func (store *BlockStore) Info() Info {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return Info{
		TotalBlocks:    store.geometry.TotalBlocks,
		FreeBlocks:     store.freeBlocks,
		UsedBlocks:     store.geometry.TotalBlocks - store.freeBlocks,
		BlockSize:      store.geometry.BlockSize,
		TotalSize:      store.geometry.TotalSize(),
		DataStartBlock: store.geometry.DataStart(),
		IsMounted:      store.isMounted,
	}
}

// Superblock returns a copy of the superblock as of the last format or mount.
func (store *BlockStore) Superblock() RawSuperblock {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.superblock
}

func (store *BlockStore) Geometry() common.Geometry {
	return store.geometry
}

func (store *BlockStore) FreeBlocks() uint {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.freeBlocks
}
