package disk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	log "github.com/sirupsen/logrus"
)

// ExportImage writes the entire raw image to `output`, block by block.
func (store *BlockStore) ExportImage(output io.Writer) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	for i := uint(0); i < store.geometry.TotalBlocks; i++ {
		data, err := store.readRaw(common.BlockID(i))
		if err != nil {
			return err
		}
		if _, err = output.Write(data); err != nil {
			return errors.ErrIOFailed.Wrap(err)
		}
	}

	store.record(OpExport, 0, "image exported")
	return nil
}

// ImportImage replaces the entire image with one read from `input`, which must
// hold a valid volume of exactly the store's geometry. If it doesn't, nothing
// is written.
func (store *BlockStore) ImportImage(input io.Reader) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	image := make([]byte, store.geometry.TotalSize())
	if _, err := io.ReadFull(input, image); err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("image is smaller than %d bytes", store.geometry.TotalSize()))
	} else if err != nil {
		return errors.CastToDriverError(err)
	}
	var extra [1]byte
	if n, _ := input.Read(extra[:]); n != 0 {
		return errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("image is larger than %d bytes", store.geometry.TotalSize()))
	}

	sb, err := DeserializeSuperblock(image[:store.geometry.BlockSize])
	if err == nil {
		err = sb.Validate(store.geometry)
	}
	if err != nil {
		return err
	}

	reader := bytes.NewReader(image)
	block := make([]byte, store.geometry.BlockSize)
	for i := uint(0); i < store.geometry.TotalBlocks; i++ {
		reader.Read(block)
		if err = store.writeRaw(common.BlockID(i), block); err != nil {
			return err
		}
	}

	store.superblock = sb
	if err = store.loadBitmap(); err != nil {
		return err
	}
	store.isMounted = true
	store.record(OpImport, 0, "image imported")
	store.logger.WithFields(log.Fields{
		"free_blocks": store.freeBlocks,
		"volume":      sb.VolumeUUID().String(),
	}).Info("imported volume")
	return nil
}
