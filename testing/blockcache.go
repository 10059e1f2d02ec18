package testing

import (
	"fmt"
	"testing"

	"github.com/dargueta/osfs/buffer"
	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/stretchr/testify/assert"
)

// TrackedImage is a flat in-memory image that records every block fetched from
// or flushed to it.
type TrackedImage struct {
	Data      []byte
	BlockSize uint
	Fetches   []common.BlockID
	Flushes   []common.BlockID
	t         *testing.T
}

func (image *TrackedImage) TotalBlocks() uint {
	return uint(len(image.Data)) / image.BlockSize
}

// Block returns the slice of Data backing `block`. Writes to it change the
// image.
func (image *TrackedImage) Block(block common.BlockID) []byte {
	start := uint(block) * image.BlockSize
	return image.Data[start : start+image.BlockSize]
}

func (image *TrackedImage) checkBounds(block common.BlockID, action string) error {
	if block < 0 || uint(block) >= image.TotalBlocks() {
		message := fmt.Sprintf(
			"attempted to %s outside bounds: block %d not in [0, %d)",
			action,
			block,
			image.TotalBlocks(),
		)
		image.t.Error(message)
		return errors.ErrIOFailed.WithMessage(message)
	}
	return nil
}

func (image *TrackedImage) Fetch(block common.BlockID, buffer []byte) error {
	if err := image.checkBounds(block, "read"); err != nil {
		return err
	}
	image.Fetches = append(image.Fetches, block)
	copy(buffer, image.Block(block))
	return nil
}

func (image *TrackedImage) Flush(block common.BlockID, buffer []byte) error {
	if err := image.checkBounds(block, "write"); err != nil {
		return err
	}
	image.Flushes = append(image.Flushes, block)
	copy(image.Block(block), buffer)
	return nil
}

// CreateDefaultCache creates a buffer cache with `pageCount` pages on top of a
// random image of `totalBlocks` blocks. The fetch and flush handlers check
// bounds and fail the test if they're exceeded, so you won't be able to test
// out-of-bounds behavior with this; use [buffer.New] directly for that.
func CreateDefaultCache(
	blockSize,
	totalBlocks,
	pageCount uint,
	t *testing.T,
) (*buffer.BufferCache, *TrackedImage) {
	image := &TrackedImage{
		Data:      CreateRandomImage(blockSize, totalBlocks, t),
		BlockSize: blockSize,
		t:         t,
	}

	cache := buffer.New(pageCount, blockSize, image.Fetch, image.Flush, 0)
	cache.SetTotalBlocks(totalBlocks)
	assert.EqualValues(t, pageCount, cache.PageCount(), "wrong page count")
	assert.EqualValues(t, blockSize, cache.BlockSize(), "wrong block size")
	return cache, image
}
