package filesystem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/noxer/bytewriter"
)

// RawDirent is the on-disk layout of a directory entry: a NUL-padded UTF-8 name
// followed by the inode number. A slot whose first byte is 0 is empty.
type RawDirent struct {
	Name    [common.MaxNameLength]byte
	Inumber uint16
}

type Dirent struct {
	Name  string
	Inode common.InodeID
}

// direntSlot locates a directory entry: the slot'th entry of the directory's
// blockIndex'th block, which is physical block `block`.
type direntSlot struct {
	Dirent
	blockIndex uint
	slot       uint
	block      common.BlockID
}

const forbiddenNameChars = "/\\\x00:"

// ValidateName checks that `name` can be stored in a directory entry.
func ValidateName(name string) error {
	if name == "" {
		return errors.ErrInvalidName.WithMessage("name can't be empty")
	}
	if name == "." || name == ".." {
		return errors.ErrInvalidName.WithMessage(
			fmt.Sprintf("%q is reserved", name))
	}
	if len(name) > common.MaxNameLength {
		return errors.ErrNameTooLong.WithMessage(
			fmt.Sprintf(
				"%q is %d bytes, limit is %d", name, len(name), common.MaxNameLength),
		)
	}
	if !utf8.ValidString(name) {
		return errors.ErrInvalidName.WithMessage(
			fmt.Sprintf("%q is not valid UTF-8", name))
	}
	if i := strings.IndexAny(name, forbiddenNameChars); i >= 0 {
		return errors.ErrInvalidName.WithMessage(
			fmt.Sprintf("%q contains forbidden character %q", name, name[i]))
	}
	return nil
}

// Serialize encodes the entry into exactly [common.DirentSize] bytes. The name
// must already have passed [ValidateName].
func (d *Dirent) Serialize() []byte {
	raw := RawDirent{Inumber: uint16(d.Inode)}
	copy(raw.Name[:], d.Name)

	buffer := make([]byte, common.DirentSize)
	binary.Write(bytewriter.New(buffer), binary.LittleEndian, &raw)
	return buffer
}

// DeserializeDirent decodes one directory entry slot. `ok` is false if the slot
// is empty.
func DeserializeDirent(data []byte) (dirent Dirent, ok bool, err error) {
	if len(data) < common.DirentSize {
		return Dirent{}, false, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"directory entry needs %d bytes, got %d", common.DirentSize, len(data)),
		)
	}
	if data[0] == 0 {
		return Dirent{}, false, nil
	}

	var raw RawDirent
	err = binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw)
	if err != nil {
		return Dirent{}, false, errors.ErrIOFailed.Wrap(err)
	}

	name := raw.Name[:]
	if end := bytes.IndexByte(name, 0); end >= 0 {
		name = name[:end]
	}
	return Dirent{Name: string(name), Inode: common.InodeID(raw.Inumber)}, true, nil
}
