// Error kinds shared by every layer of the storage stack. Each failure the
// stack reports falls into exactly one of these categories, which tells the
// caller whether anything was mutated and whether retrying could help.

package errors

import (
	"fmt"
)

type Kind int

const (
	// OK is never carried by an error; it exists so the zero Kind is not a
	// real failure category.
	OK Kind = iota
	// Validation means the request was malformed (bad name, bad offset) and
	// was rejected before any mutation.
	Validation
	// ResourceExhausted means there was no free inode, block, or buffer page.
	// Any partial work has been rolled back.
	ResourceExhausted
	// Conflict means the request is well-formed but clashes with current
	// state: a name collision, a file open elsewhere, a non-empty directory.
	Conflict
	// NotFound means a name, inode, or block within the valid range does not
	// exist.
	NotFound
	// WouldBlock is returned by non-blocking operations that would otherwise
	// have to wait.
	WouldBlock
	// Fault is a contract violation (e.g. a raw block id out of range) or an
	// I/O failure in the backing image.
	Fault
)

var ErrValidation = New(Validation)
var ErrResourceExhausted = New(ResourceExhausted)
var ErrConflict = New(Conflict)
var ErrNotFound = New(NotFound)
var ErrWouldBlock = New(WouldBlock)
var ErrFault = New(Fault)

var ErrInvalidName = NewWithMessage(Validation, "invalid file name")
var ErrNameTooLong = NewWithMessage(Validation, "file name too long")
var ErrArgumentOutOfRange = NewWithMessage(Validation, "argument out of range")
var ErrIsADirectory = NewWithMessage(Validation, "is a directory")
var ErrNotADirectory = NewWithMessage(Validation, "not a directory")
var ErrNoSpaceOnDevice = NewWithMessage(ResourceExhausted, "no space left on device")
var ErrNoFreeInodes = NewWithMessage(ResourceExhausted, "no free inodes")
var ErrNoBufferSpace = NewWithMessage(ResourceExhausted, "no buffer page available")
var ErrFileTooLarge = NewWithMessage(ResourceExhausted, "file too large")
var ErrExists = NewWithMessage(Conflict, "file exists")
var ErrBusy = NewWithMessage(Conflict, "device or resource busy")
var ErrDirectoryNotEmpty = NewWithMessage(Conflict, "directory not empty")
var ErrNotOpen = NewWithMessage(Conflict, "file is not open")
var ErrNotPermitted = NewWithMessage(Conflict, "operation not permitted")
var ErrIOFailed = NewWithMessage(Fault, "input/output error")
var ErrFileSystemCorrupted = NewWithMessage(Fault, "structure needs cleaning")

// The sentinels above are built from this map, so it can't be filled in by an
// init function.
var messagesByKind = map[Kind]string{
	OK:                "Success",
	Validation:        "Invalid argument",
	ResourceExhausted: "Resource exhausted",
	Conflict:          "Conflict",
	NotFound:          "No such file or directory",
	WouldBlock:        "Resource temporarily unavailable",
	Fault:             "Internal fault",
}

// StrKind returns the default human-readable message for an error kind.
func StrKind(kind Kind) string {
	message, ok := messagesByKind[kind]
	if ok {
		return message
	}
	return fmt.Sprintf("error kind %d not recognized.", int(kind))
}

// String returns the kind's name in the form used by the command contract,
// e.g. "ResourceExhausted".
func (kind Kind) String() string {
	switch kind {
	case OK:
		return "OK"
	case Validation:
		return "Validation"
	case ResourceExhausted:
		return "ResourceExhausted"
	case Conflict:
		return "Conflict"
	case NotFound:
		return "NotFound"
	case WouldBlock:
		return "WouldBlock"
	case Fault:
		return "Fault"
	}
	return fmt.Sprintf("Kind(%d)", int(kind))
}
