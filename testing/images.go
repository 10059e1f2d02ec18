// Package testing contains fixtures shared by the tests of every layer of the
// storage stack. Import it as `osfstest`.
package testing

import (
	"crypto/rand"
	"testing"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/disk"
	"github.com/stretchr/testify/require"
)

// Create an image with the given number of blocks and bytes per block. It is
// guaranteed to either return a valid slice or fail the test and abort.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerBlock*totalBlocks)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d blocks of size %d with random bytes",
		totalBlocks,
		bytesPerBlock,
	)
	return backingData
}

// NewFormattedStore creates a freshly formatted block store on an in-memory
// image.
func NewFormattedStore(geometry common.Geometry, t *testing.T) *disk.BlockStore {
	store, err := disk.New(disk.NewMemoryBacking(geometry), geometry, 0)
	require.NoError(t, err, "failed to create block store")
	require.NoError(t, store.Format(), "failed to format block store")
	return store
}
