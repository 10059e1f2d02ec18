// Command expandsnapshot turns a snapshot made by `osfs export` back into a
// raw image that `osfs --image` can mount directly.
package main

import (
	"fmt"
	"os"

	"github.com/dargueta/osfs/snapshot"
	log "github.com/sirupsen/logrus"
)

func expand(snapshotPath, imagePath string) (int64, error) {
	input, err := os.Open(snapshotPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot `%s`: %w", snapshotPath, err)
	}
	defer input.Close()

	output, err := os.Create(imagePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create image `%s`: %w", imagePath, err)
	}
	defer output.Close()

	size, err := snapshot.Decompress(input, output)
	if err != nil {
		return size, err
	}
	return size, output.Close()
}

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s SNAPSHOT_FILE IMAGE_FILE\n", os.Args[0])
		os.Exit(1)
	}

	size, err := expand(os.Args[1], os.Args[2])
	if err != nil {
		log.WithField("snapshot", os.Args[1]).Fatalf("expanding snapshot: %s", err)
	}
	log.WithFields(log.Fields{"image": os.Args[2], "bytes": size}).Info("image written")
}
