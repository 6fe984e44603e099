package hcs

import (
	"fmt"
	"sort"

	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

// ImageXpressSource assembles Molecular Devices ImageXpress acquisitions:
// one 2-D plane per file, positioned independently in the well.
type ImageXpressSource struct{}

// Name implements Source.
func (ImageXpressSource) Name() string { return "imagexpress" }

// Axes implements Source.
func (ImageXpressSource) Axes(records []FieldRecord) []string {
	return axesFor(records, anyAboveZero(records, func(r FieldRecord) int { return r.Z }))
}

// AssembleWell implements Source. Records with an empty path are skipped:
// the instrument never acquired those planes.
func (ImageXpressSource) AssembleWell(records []FieldRecord, opts AssembleOptions) ([]stitching.Tile, error) {
	tiles := make([]stitching.Tile, 0, len(records))
	for _, rec := range records {
		if rec.Path == "" {
			continue
		}
		tiles = append(tiles, planeTile(rec, opts))
	}
	return tiles, nil
}

func planeTile(rec FieldRecord, opts AssembleOptions) *stitching.ImageTile {
	return &stitching.ImageTile{
		Path:       rec.Path,
		PlaneShape: opts.PlaneShape,
		DType:      opts.DType,
		Reader:     opts.Reader,
		Pos: stitching.TilePosition{
			Time:    rec.Time,
			Channel: rec.Channel,
			Z:       rec.Z,
			Y:       rec.Y,
			X:       rec.X,
		},
		BackgroundCorrectionPath:   opts.BackgroundCorrections[rec.Channel],
		IlluminationCorrectionPath: opts.IlluminationCorrections[rec.Channel],
	}
}

// axesFor lists the axis names present in the records. Time and z only
// appear once the acquisition actually uses them; channel, y and x always
// do.
func axesFor(records []FieldRecord, withZ bool) []string {
	axes := make([]string, 0, 5)
	if anyAboveZero(records, func(r FieldRecord) int { return r.Time }) {
		axes = append(axes, "t")
	}
	axes = append(axes, "c")
	if withZ {
		axes = append(axes, "z")
	}
	return append(axes, "y", "x")
}

func anyAboveZero(records []FieldRecord, get func(FieldRecord) int) bool {
	for _, rec := range records {
		if get(rec) > 0 {
			return true
		}
	}
	return false
}

// stackGroup keys the planes of one stacked acquisition unit.
type stackGroup struct {
	time    int
	channel int
	field   int
}

// groupStacks splits a well's records into z-stacks keyed by time, channel
// and field, preserving first-seen group order. All planes of a group must
// share one stage position.
func groupStacks(records []FieldRecord) ([]stackGroup, map[stackGroup][]FieldRecord, error) {
	var order []stackGroup
	groups := make(map[stackGroup][]FieldRecord)
	for _, rec := range records {
		key := stackGroup{time: rec.Time, channel: rec.Channel, field: rec.Field}
		if prev, ok := groups[key]; ok {
			if prev[0].Y != rec.Y || prev[0].X != rec.X {
				return nil, nil, fmt.Errorf("field %d channel %d: planes disagree on stage position", rec.Field, rec.Channel)
			}
		} else {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}
	for _, recs := range groups {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Z < recs[j].Z })
	}
	return order, groups, nil
}
