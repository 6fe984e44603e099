package stitching

import (
	"fmt"
	"math"
	"sort"
)

// Alignment selects how tile positions are normalized before stitching.
type Alignment string

const (
	// StageAlignment keeps the raw stage positions.
	StageAlignment Alignment = "stage"
	// GridAlignment snaps tiles onto a regular grid with the tile shape as
	// pitch, discarding sub-tile stage jitter and overlap.
	GridAlignment Alignment = "grid"
)

// ParseAlignment maps a config name to an Alignment.
func ParseAlignment(name string) (Alignment, error) {
	switch name {
	case "stage", "":
		return StageAlignment, nil
	case "grid":
		return GridAlignment, nil
	default:
		return "", fmt.Errorf("unknown alignment option: %s", name)
	}
}

// AlignTiles shifts tiles to the origin and applies the chosen alignment.
// The input tiles are never mutated.
func AlignTiles(alignment Alignment, tiles []Tile) ([]Tile, error) {
	shifted := ShiftToOrigin(tiles)
	switch alignment {
	case StageAlignment:
		return shifted, nil
	case GridAlignment:
		return alignToGrid(shifted)
	default:
		return nil, fmt.Errorf("unknown alignment option: %s", alignment)
	}
}

// alignToGrid quantizes Y/X positions to multiples of the tile shape. All
// tiles must share the same YX shape. Output order is row-major over the
// grid, preserving input order within a grid cell.
func alignToGrid(tiles []Tile) ([]Tile, error) {
	shape := tiles[0].Shape()
	tileY, tileX := shape[len(shape)-2], shape[len(shape)-1]

	type cell struct{ y, x int }
	cells := make(map[cell][]Tile)
	ySet := make(map[int]struct{})
	xSet := make(map[int]struct{})
	for _, tile := range tiles {
		s := tile.Shape()
		if s[len(s)-2] != tileY || s[len(s)-1] != tileX {
			return nil, fmt.Errorf("all tiles must have the same YX shape: (%d, %d) <=> (%d, %d)",
				s[len(s)-2], s[len(s)-1], tileY, tileX)
		}
		p := tile.Position()
		c := cell{
			y: int(math.Round(float64(p.Y) / float64(tileY))),
			x: int(math.Round(float64(p.X) / float64(tileX))),
		}
		cells[c] = append(cells[c], tile)
		ySet[c.y] = struct{}{}
		xSet[c.x] = struct{}{}
	}

	ys := sortedKeys(ySet)
	xs := sortedKeys(xSet)
	aligned := make([]Tile, 0, len(tiles))
	for _, y := range ys {
		for _, x := range xs {
			for _, tile := range cells[cell{y, x}] {
				p := tile.Position()
				p.Y = y * tileY
				p.X = x * tileX
				aligned = append(aligned, tile.WithPosition(p))
			}
		}
	}
	return aligned, nil
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
