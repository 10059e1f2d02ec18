package filesystem

import (
	"fmt"
	"strings"
	"time"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
)

type OpenMode uint8

const (
	ModeRead OpenMode = 1 << iota
	ModeWrite
)

const ModeReadWrite = ModeRead | ModeWrite

// ParseOpenMode converts "r", "w", or "rw" (in either order) into an
// [OpenMode].
func ParseOpenMode(mode string) (OpenMode, error) {
	var result OpenMode
	for _, c := range mode {
		switch c {
		case 'r':
			result |= ModeRead
		case 'w':
			result |= ModeWrite
		default:
			return 0, errors.ErrArgumentOutOfRange.WithMessage(
				fmt.Sprintf("invalid open mode %q: unrecognized flag %q", mode, c))
		}
	}
	if result == 0 {
		return 0, errors.ErrArgumentOutOfRange.WithMessage("open mode can't be empty")
	}
	return result, nil
}

func (mode OpenMode) CanWrite() bool {
	return mode&ModeWrite != 0
}

func (mode OpenMode) String() string {
	var out strings.Builder
	if mode&ModeRead != 0 {
		out.WriteByte('r')
	}
	if mode&ModeWrite != 0 {
		out.WriteByte('w')
	}
	return out.String()
}

func (mode OpenMode) MarshalText() ([]byte, error) {
	return []byte(mode.String()), nil
}

// OpenRegistration records that an owner has a file open.
type OpenRegistration struct {
	Owner    common.Owner `json:"owner"`
	Mode     OpenMode     `json:"mode"`
	OpenedAt time.Time    `json:"open_time"`
}

// openTable tracks open files by inode. Any number of readers may share a
// file; a writer excludes everyone else.
type openTable map[common.InodeID][]OpenRegistration

func (table openTable) isOpen(inode common.InodeID) bool {
	return len(table[inode]) > 0
}

func (table openTable) register(
	inode common.InodeID, name string, who common.Owner, mode OpenMode,
) error {
	for _, existing := range table[inode] {
		if existing.Mode.CanWrite() || mode.CanWrite() {
			return errors.ErrWouldBlock.WithMessage(
				fmt.Sprintf(
					"%q is open by %d in mode %q", name, existing.Owner, existing.Mode))
		}
	}

	table[inode] = append(
		table[inode],
		OpenRegistration{Owner: who, Mode: mode, OpenedAt: time.Now()},
	)
	return nil
}

func (table openTable) unregister(inode common.InodeID, name string, who common.Owner) error {
	registrations := table[inode]
	if len(registrations) == 0 {
		return errors.ErrNotOpen.WithMessage(fmt.Sprintf("%q", name))
	}

	for i, existing := range registrations {
		if existing.Owner == who {
			registrations = append(registrations[:i], registrations[i+1:]...)
			if len(registrations) == 0 {
				delete(table, inode)
			} else {
				table[inode] = registrations
			}
			return nil
		}
	}
	return errors.ErrNotPermitted.WithMessage(
		fmt.Sprintf("%q is not open by %d", name, who))
}
