package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/google/uuid"
	"github.com/noxer/bytewriter"
)

// Magic identifies a formatted volume. It's "OSFS" when read as big-endian.
const Magic = 0x4F534653

const CurrentVersion = 1

// RawSuperblock is the on-disk layout of block 0. All fields are little-endian,
// and the struct is serialized with no padding:
//
//	offset  size  field
//	     0     4  Magic
//	     4     2  Version
//	     6     2  BlockSize
//	     8     4  TotalBlocks
//	    12     4  FreeBlocks (as of format time)
//	    16     4  DataStartBlock
//	    20     4  InodeCount
//	    24     8  CreatedAt (seconds since the Unix epoch)
//	    32    16  VolumeID
//
// The rest of the block is zeroed.
type RawSuperblock struct {
	Magic          uint32
	Version        uint16
	BlockSize      uint16
	TotalBlocks    uint32
	FreeBlocks     uint32
	DataStartBlock uint32
	InodeCount     uint32
	CreatedAt      uint64
	VolumeID       [16]byte
}

// NewSuperblock creates the superblock for a freshly formatted volume.
func NewSuperblock(geometry common.Geometry, createdAt time.Time) RawSuperblock {
	return RawSuperblock{
		Magic:          Magic,
		Version:        CurrentVersion,
		BlockSize:      uint16(geometry.BlockSize),
		TotalBlocks:    uint32(geometry.TotalBlocks),
		FreeBlocks:     uint32(geometry.TotalBlocks - uint(geometry.DataStart())),
		DataStartBlock: uint32(geometry.DataStart()),
		InodeCount:     uint32(geometry.InodeCount),
		CreatedAt:      uint64(createdAt.Unix()),
		VolumeID:       uuid.New(),
	}
}

// Serialize writes the superblock into a zeroed buffer of `blockSize` bytes.
func (sb *RawSuperblock) Serialize(blockSize uint) []byte {
	buffer := make([]byte, blockSize)
	writer := bytewriter.New(buffer)
	binary.Write(writer, binary.LittleEndian, sb)
	return buffer
}

// DeserializeSuperblock decodes the first bytes of block 0. It doesn't validate
// anything; see [RawSuperblock.Validate].
func DeserializeSuperblock(data []byte) (RawSuperblock, error) {
	var sb RawSuperblock
	if len(data) < common.SuperblockSize {
		return sb, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"superblock needs %d bytes, got %d", common.SuperblockSize, len(data)),
		)
	}

	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &sb)
	if err != nil {
		return sb, errors.ErrIOFailed.Wrap(err)
	}
	return sb, nil
}

// Validate checks that the superblock describes a volume with the expected
// geometry.
func (sb *RawSuperblock) Validate(geometry common.Geometry) error {
	if sb.Magic != Magic {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("bad magic: expected %#08x, got %#08x", Magic, sb.Magic))
	}
	if sb.Version != CurrentVersion {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("unsupported version %d", sb.Version))
	}
	if uint(sb.BlockSize) != geometry.BlockSize ||
		uint(sb.TotalBlocks) != geometry.TotalBlocks ||
		uint(sb.InodeCount) != geometry.InodeCount {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"geometry mismatch: image is %d blocks of %d B with %d inodes,"+
					" expected %d blocks of %d B with %d inodes",
				sb.TotalBlocks,
				sb.BlockSize,
				sb.InodeCount,
				geometry.TotalBlocks,
				geometry.BlockSize,
				geometry.InodeCount,
			),
		)
	}
	if sb.DataStartBlock != uint32(geometry.DataStart()) {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"data region starts at block %d, expected %d",
				sb.DataStartBlock,
				geometry.DataStart(),
			),
		)
	}
	return nil
}

// VolumeUUID returns the volume ID as a UUID.
func (sb *RawSuperblock) VolumeUUID() uuid.UUID {
	return uuid.UUID(sb.VolumeID)
}

func (sb *RawSuperblock) Created() time.Time {
	return time.Unix(int64(sb.CreatedAt), 0)
}
