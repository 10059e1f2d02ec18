package disk

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
	"github.com/gocarina/gocsv"
)

// Preset is a named volume geometry.
type Preset struct {
	Slug        string `csv:"slug"`
	Name        string `csv:"name"`
	BlockSize   uint   `csv:"block_size"`
	TotalBlocks uint   `csv:"total_blocks"`
	InodeCount  uint   `csv:"inode_count"`
	Notes       string `csv:"notes"`
}

func (p Preset) Geometry() common.Geometry {
	return common.Geometry{
		BlockSize:   p.BlockSize,
		TotalBlocks: p.TotalBlocks,
		InodeCount:  p.InodeCount,
	}
}

//go:embed geometries.csv
var presetsRawCSV string
var presets map[string]Preset

// GetPreset looks up a predefined geometry by its slug, e.g. "tiny".
func GetPreset(slug string) (Preset, error) {
	preset, ok := presets[slug]
	if ok {
		return preset, nil
	}
	return Preset{}, errors.ErrArgumentOutOfRange.WithMessage(
		fmt.Sprintf(
			"no predefined geometry named %q; expected one of %s",
			slug,
			strings.Join(PresetSlugs(), ", "),
		),
	)
}

// PresetSlugs lists the slugs of all predefined geometries in sorted order.
func PresetSlugs() []string {
	slugs := make([]string, 0, len(presets))
	for slug := range presets {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

func init() {
	csvReader := csv.NewReader(strings.NewReader(presetsRawCSV))
	csvReader.Comma = '|'

	var rows []Preset
	if err := gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		panic(fmt.Errorf("failed to decode geometry presets: %w", err))
	}

	presets = make(map[string]Preset, len(rows))
	for i, row := range rows {
		if _, exists := presets[row.Slug]; exists {
			panic(fmt.Errorf("duplicate geometry preset %q on row %d", row.Slug, i+1))
		}
		if err := row.Geometry().Validate(); err != nil {
			panic(fmt.Errorf("geometry preset %q is invalid: %w", row.Slug, err))
		}
		presets[row.Slug] = row
	}
}
