package filesystem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/noxer/bytewriter"
)

type InodeType uint8

const (
	TypeFree InodeType = iota
	TypeDirectory
	TypeRegular
)

func (t InodeType) String() string {
	switch t {
	case TypeFree:
		return "FREE"
	case TypeDirectory:
		return "DIRECTORY"
	case TypeRegular:
		return "REGULAR"
	}
	return fmt.Sprintf("InodeType(%d)", uint8(t))
}

func (t InodeType) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(t.String())), nil
}

// Permissions is a stored rwx bitmask. Nothing enforces it.
type Permissions uint8

const (
	PermExecute Permissions = 1 << iota
	PermWrite
	PermRead
)

const DefaultFilePermissions = PermRead | PermWrite
const DefaultDirectoryPermissions = PermRead | PermWrite | PermExecute

// String renders the permissions like `ls` does, e.g. "rw-".
func (p Permissions) String() string {
	var out strings.Builder
	out.WriteByte(permChar(p&PermRead != 0, 'r'))
	out.WriteByte(permChar(p&PermWrite != 0, 'w'))
	out.WriteByte(permChar(p&PermExecute != 0, 'x'))
	return out.String()
}

func (p Permissions) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePermissions reads permissions written the way [Permissions.String]
// writes them. Dashes are optional, so "rw" and "rw-" are the same.
func ParsePermissions(text string) (Permissions, error) {
	var p Permissions
	for _, c := range text {
		switch c {
		case 'r':
			p |= PermRead
		case 'w':
			p |= PermWrite
		case 'x':
			p |= PermExecute
		case '-':
		default:
			return 0, errors.ErrArgumentOutOfRange.WithMessage(
				fmt.Sprintf("invalid permissions %q: unrecognized flag %q", text, c))
		}
	}
	return p, nil
}

func permChar(set bool, c byte) byte {
	if set {
		return c
	}
	return '-'
}

// RawInode is the on-disk layout of an inode, 64 bytes little-endian. Block
// pointers of 0 are unused; block 0 is always the superblock, so it can never
// be a file's block.
type RawInode struct {
	ID             uint16
	Type           uint8
	Permissions    uint8
	Size           uint32
	CreatedTime    uint64
	ModifiedTime   uint64
	LinkCount      uint16
	Direct         [common.DirectPointers]uint16
	SingleIndirect uint16
	DoubleIndirect uint16
	Reserved       [22]byte
}

// Inode is the in-memory form of [RawInode].
type Inode struct {
	ID             common.InodeID
	Type           InodeType
	Permissions    Permissions
	Size           uint
	Created        time.Time
	Modified       time.Time
	LinkCount      uint
	Direct         [common.DirectPointers]common.BlockID
	SingleIndirect common.BlockID
	DoubleIndirect common.BlockID
}

func SerializeTimestamp(tstamp time.Time) uint64 {
	return uint64(tstamp.Unix())
}

func DeserializeTimestamp(tstamp uint64) time.Time {
	return time.Unix(int64(tstamp), 0)
}

func (inode *Inode) IsDirectory() bool {
	return inode.Type == TypeDirectory
}

func (inode *Inode) ToRaw() RawInode {
	raw := RawInode{
		ID:             uint16(inode.ID),
		Type:           uint8(inode.Type),
		Permissions:    uint8(inode.Permissions),
		Size:           uint32(inode.Size),
		CreatedTime:    SerializeTimestamp(inode.Created),
		ModifiedTime:   SerializeTimestamp(inode.Modified),
		LinkCount:      uint16(inode.LinkCount),
		SingleIndirect: uint16(inode.SingleIndirect),
		DoubleIndirect: uint16(inode.DoubleIndirect),
	}
	for i, block := range inode.Direct {
		raw.Direct[i] = uint16(block)
	}
	return raw
}

func (raw *RawInode) ToInode() Inode {
	inode := Inode{
		ID:             common.InodeID(raw.ID),
		Type:           InodeType(raw.Type),
		Permissions:    Permissions(raw.Permissions),
		Size:           uint(raw.Size),
		Created:        DeserializeTimestamp(raw.CreatedTime),
		Modified:       DeserializeTimestamp(raw.ModifiedTime),
		LinkCount:      uint(raw.LinkCount),
		SingleIndirect: common.BlockID(raw.SingleIndirect),
		DoubleIndirect: common.BlockID(raw.DoubleIndirect),
	}
	for i, block := range raw.Direct {
		inode.Direct[i] = common.BlockID(block)
	}
	return inode
}

// Serialize encodes the inode into exactly [common.InodeSize] bytes.
func (inode *Inode) Serialize() []byte {
	buffer := make([]byte, common.InodeSize)
	raw := inode.ToRaw()
	binary.Write(bytewriter.New(buffer), binary.LittleEndian, &raw)
	return buffer
}

// DeserializeInode decodes an inode record. A record whose type byte is 0 comes
// back as a free inode; no other validation is done.
func DeserializeInode(data []byte) (Inode, error) {
	if len(data) < common.InodeSize {
		return Inode{}, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("inode needs %d bytes, got %d", common.InodeSize, len(data)))
	}

	var raw RawInode
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw)
	if err != nil {
		return Inode{}, errors.ErrIOFailed.Wrap(err)
	}
	return raw.ToInode(), nil
}
