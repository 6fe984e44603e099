package hcs

import (
	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

// CellVoyagerSource assembles Yokogawa CellVoyager acquisitions. Fields are
// z-stacks; the instrument may skip planes, which degrade to zero data with
// a false mask instead of failing the well.
type CellVoyagerSource struct{}

// Name implements Source.
func (CellVoyagerSource) Name() string { return "cellvoyager" }

// Axes implements Source. Stacked wells always carry a z axis.
func (CellVoyagerSource) Axes(records []FieldRecord) []string {
	return axesFor(records, stackDepth(records) > 1)
}

// AssembleWell implements Source.
func (CellVoyagerSource) AssembleWell(records []FieldRecord, opts AssembleOptions) ([]stitching.Tile, error) {
	order, groups, err := groupStacks(records)
	if err != nil {
		return nil, err
	}
	depth := stackDepth(records)

	tiles := make([]stitching.Tile, 0, len(order))
	for _, key := range order {
		recs := groups[key]
		planes := make([]*stitching.ImageTile, depth)
		acquired := 0
		for _, rec := range recs {
			if rec.Path == "" {
				continue
			}
			planes[rec.Z] = planeTile(rec, opts)
			acquired++
		}
		if acquired == 0 {
			continue
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

func stackDepth(records []FieldRecord) int {
	depth := 1
	for _, rec := range records {
		if rec.Z+1 > depth {
			depth = rec.Z + 1
		}
	}
	return depth
}
