package hcs

import (
	"fmt"

	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

// VisiViewSource assembles VisiView stage-position acquisitions. Fields are
// complete z-stacks; a gap in a stack is a data-consistency error, unlike
// CellVoyagerSource which tolerates skipped planes.
type VisiViewSource struct{}

// Name implements Source.
func (VisiViewSource) Name() string { return "visiview" }

// Axes implements Source.
func (VisiViewSource) Axes(records []FieldRecord) []string {
	return axesFor(records, stackDepth(records) > 1)
}

// AssembleWell implements Source.
func (VisiViewSource) AssembleWell(records []FieldRecord, opts AssembleOptions) ([]stitching.Tile, error) {
	order, groups, err := groupStacks(records)
	if err != nil {
		return nil, err
	}
	depth := stackDepth(records)

	tiles := make([]stitching.Tile, 0, len(order))
	for _, key := range order {
		recs := groups[key]
		planes := make([]*stitching.ImageTile, depth)
		for _, rec := range recs {
			if rec.Path == "" {
				return nil, fmt.Errorf("field %d channel %d z %d: missing plane in stack", key.field, key.channel, rec.Z)
			}
			planes[rec.Z] = planeTile(rec, opts)
		}
		for z, plane := range planes {
			if plane == nil {
				return nil, fmt.Errorf("field %d channel %d: stack has no plane at z %d", key.field, key.channel, z)
			}
		}
		tiles = append(tiles, &stitching.StackedTile{
			Tiles:      planes,
			PlaneShape: opts.PlaneShape,
			DType:      opts.DType,
			Pos: stitching.TilePosition{
				Time:    key.time,
				Channel: key.channel,
				Z:       0,
				Y:       recs[0].Y,
				X:       recs[0].X,
			},
		})
	}
	return tiles, nil
}
