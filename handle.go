package osfs

import (
	"fmt"
	"runtime/debug"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/disk"
	"github.com/dargueta/osfs/errors"
	"github.com/dargueta/osfs/filesystem"
	log "github.com/sirupsen/logrus"
)

type Command string

const (
	CmdCreate        Command = "create"
	CmdRead          Command = "read"
	CmdWrite         Command = "write"
	CmdDelete        Command = "delete"
	CmdList          Command = "list"
	CmdMakeDirectory Command = "mkdir"
	CmdChangeDir     Command = "cd"
	CmdOpen          Command = "open"
	CmdClose         Command = "close"
	CmdInfo          Command = "info"
	CmdStats         Command = "stats"
	CmdPath          Command = "path"
	CmdResetPath     Command = "reset_path"
	CmdFormat        Command = "format"
	CmdFlush         Command = "flush"
	CmdRelease       Command = "release"
	CmdDiskInfo      Command = "disk_info"
	CmdBitmap        Command = "bitmap"
	CmdOperationLog  Command = "oplog"
	CmdCacheStats    Command = "cache_stats"
	CmdCacheStatus   Command = "cache_status"
	CmdSwapLog       Command = "swaplog"
	CmdAccess        Command = "access"
	CmdRewrite       Command = "rewrite"
	CmdPin           Command = "pin"
	CmdUnpin         Command = "unpin"
)

// Request is one command for [Stack.Handle]. Which fields matter depends on
// the command.
type Request struct {
	Command Command `json:"command"`
	Name    string  `json:"name,omitempty"`
	Content string  `json:"content,omitempty"`
	// Block is a file's block index for read and write, or a raw block number
	// for access and rewrite. Nil means the whole file.
	Block       *int   `json:"block_index,omitempty"`
	Page        *int   `json:"page,omitempty"`
	Permissions string `json:"permissions,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

// Response is the result of [Stack.Handle]. On failure Kind names the
// [errors.Kind] and Error holds the message; on success Data holds the
// command's payload, if it has one.
type Response struct {
	Success bool   `json:"success"`
	Kind    string `json:"error_kind,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ReadResult struct {
	Name       string `json:"name"`
	Content    string `json:"content"`
	BlockIndex int    `json:"block_index"`
	Size       int    `json:"size"`
}

type WriteResult struct {
	Name string `json:"name"`
	Size uint   `json:"size"`
}

type OpenResult struct {
	Name  string              `json:"name"`
	Inode common.InodeID      `json:"inode_id"`
	Mode  filesystem.OpenMode `json:"mode"`
}

type BitmapEntry struct {
	Block     int  `json:"block" csv:"block"`
	Allocated bool `json:"allocated" csv:"allocated"`
}

func Success(data any) Response {
	return Response{Success: true, Data: data}
}

// Failure converts an error into a failed response.
func Failure(err error) Response {
	return Response{
		Success: false,
		Kind:    errors.KindOf(err).String(),
		Error:   err.Error(),
	}
}

func fromResult(data any, err error) Response {
	if err != nil {
		return Failure(err)
	}
	return Success(data)
}

// Handle runs one command on behalf of `requester` and reports the outcome. It
// never panics; a panic inside the stack comes back as a Fault response.
func (stack *Stack) Handle(request Request, requester common.Owner) (response Response) {
	logger := stack.logger.WithFields(log.Fields{
		"command":   request.Command,
		"name":      request.Name,
		"requester": requester,
	})

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.WithField("stack", string(debug.Stack())).Error("command panicked")
			response = Failure(
				errors.ErrFault.WithMessage(fmt.Sprintf("panic: %v", recovered)))
		}
	}()

	if request.Command == CmdFormat {
		response = fromResult(nil, stack.Format())
	} else {
		response = stack.dispatch(request, requester)
	}

	if response.Success {
		logger.Debug("command succeeded")
	} else {
		logger.WithField("kind", response.Kind).Debug(response.Error)
	}
	return response
}

func (stack *Stack) dispatch(request Request, who common.Owner) Response {
	stack.lifecycle.RLock()
	defer stack.lifecycle.RUnlock()

	if stack.closed {
		return Failure(errors.ErrNotPermitted.WithMessage("stack is closed"))
	}

	fs := stack.fs
	switch request.Command {
	case CmdCreate:
		perms := filesystem.DefaultFilePermissions
		if request.Permissions != "" {
			var err error
			if perms, err = filesystem.ParsePermissions(request.Permissions); err != nil {
				return Failure(err)
			}
		}
		return fromResult(fs.Create(request.Name, []byte(request.Content), perms, who))

	case CmdRead:
		blockIndex := blockIndexOf(request)
		data, err := fs.Read(request.Name, blockIndex, who)
		if err != nil {
			return Failure(err)
		}
		return Success(ReadResult{
			Name:       request.Name,
			Content:    string(data),
			BlockIndex: blockIndex,
			Size:       len(data),
		})

	case CmdWrite:
		size, err := fs.Write(request.Name, []byte(request.Content), blockIndexOf(request), who)
		if err != nil {
			return Failure(err)
		}
		return Success(WriteResult{Name: request.Name, Size: size})

	case CmdDelete:
		return fromResult(fs.Delete(request.Name, who))
	case CmdList:
		return fromResult(fs.List(who))
	case CmdMakeDirectory:
		return fromResult(fs.MakeDirectory(request.Name, who))
	case CmdChangeDir:
		return fromResult(fs.ChangeDirectory(request.Name, who))

	case CmdOpen:
		mode, err := filesystem.ParseOpenMode(request.Mode)
		if err != nil {
			return Failure(err)
		}
		inode, err := fs.Open(request.Name, who, mode)
		if err != nil {
			return Failure(err)
		}
		return Success(OpenResult{Name: request.Name, Inode: inode, Mode: mode})

	case CmdClose:
		return fromResult(nil, fs.Close(request.Name, who))
	case CmdInfo:
		return fromResult(fs.Info(request.Name, who))
	case CmdStats:
		return Success(fs.Stats())
	case CmdPath:
		return Success(fs.Path())
	case CmdResetPath:
		fs.ResetToRoot()
		return Success(fs.Path())

	case CmdFlush:
		return fromResult(nil, stack.cache.FlushAll())
	case CmdRelease:
		return fromResult(nil, stack.cache.ReleasePagesOf(who))
	case CmdDiskInfo:
		return Success(stack.store.Info())
	case CmdBitmap:
		return Success(bitmapEntries(stack.store))
	case CmdOperationLog:
		return Success(stack.store.OperationLog())
	case CmdCacheStats:
		return Success(stack.cache.Stats())
	case CmdCacheStatus:
		return Success(stack.cache.Status())
	case CmdSwapLog:
		return Success(stack.cache.SwapLog())

	case CmdAccess, CmdRewrite:
		if request.Block == nil {
			return Failure(errors.ErrArgumentOutOfRange.WithMessage("block number is required"))
		}
		block := common.BlockID(*request.Block)
		if err := stack.checkDataBlock(block); err != nil {
			return Failure(err)
		}
		if request.Command == CmdAccess {
			return fromResult(stack.cache.Access(block, who))
		}
		return fromResult(stack.cache.Rewrite(block, who))

	case CmdPin, CmdUnpin:
		if request.Page == nil {
			return Failure(errors.ErrArgumentOutOfRange.WithMessage("page number is required"))
		}
		if request.Command == CmdPin {
			return fromResult(nil, stack.cache.Pin(*request.Page))
		}
		return fromResult(nil, stack.cache.Unpin(*request.Page))
	}

	return Failure(errors.ErrArgumentOutOfRange.WithMessage(
		fmt.Sprintf("unknown command %q", request.Command)))
}

// checkDataBlock rejects raw block numbers outside the data region. Metadata
// blocks are written by the store directly and must never have a cached copy.
func (stack *Stack) checkDataBlock(block common.BlockID) error {
	geometry := stack.store.Geometry()
	if block < geometry.DataStart() || uint(block) >= geometry.TotalBlocks {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"block %d not in the data region [%d, %d)",
				block,
				geometry.DataStart(),
				geometry.TotalBlocks,
			),
		)
	}
	return nil
}

func blockIndexOf(request Request) int {
	if request.Block == nil {
		return filesystem.AllBlocks
	}
	return *request.Block
}

func bitmapEntries(store *disk.BlockStore) []BitmapEntry {
	bitmap := store.Bitmap()
	entries := make([]BitmapEntry, len(bitmap))
	for i, allocated := range bitmap {
		entries[i] = BitmapEntry{Block: i, Allocated: allocated}
	}
	return entries
}
