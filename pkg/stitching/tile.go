package stitching

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// TilePosition locates a tile in the shared 5-D coordinate space. Z is a
// plane index, Y and X are pixel offsets. Acquisition sources normalize
// unset time/channel indices to zero before tiles reach the stitcher.
type TilePosition struct {
	Time    int
	Channel int
	Z       int
	Y       int
	X       int
}

// Vector returns the position as a (t, c, z, y, x) tuple.
func (p TilePosition) Vector() [5]int {
	return [5]int{p.Time, p.Channel, p.Z, p.Y, p.X}
}

// ZYX returns the spatial part of the position.
func (p TilePosition) ZYX() [3]int {
	return [3]int{p.Z, p.Y, p.X}
}

func (p TilePosition) String() string {
	return fmt.Sprintf("TilePosition(time=%d, channel=%d, z=%d, y=%d, x=%d)", p.Time, p.Channel, p.Z, p.Y, p.X)
}

// ImageReader loads pixel data and correction matrices from a tile's backing
// source. Implementations must be safe for concurrent use: tiles are read
// independently by parallel chunk computations.
type ImageReader interface {
	// ReadImage decodes a single 2-D grayscale plane.
	ReadImage(path string) (*Stack, error)
	// ReadMatrix decodes a 2-D correction matrix as floats.
	ReadMatrix(path string) (*mat.Dense, error)
}

// Tile is one source image tagged with its position. Implementations are
// immutable; WithPosition returns a repositioned copy and never mutates the
// receiver, so tile lists can be shared across concurrent stitches.
type Tile interface {
	// Position returns the tile origin in the shared 5-D space.
	Position() TilePosition
	// Shape returns the declared pixel shape, (y, x) or (z, y, x).
	Shape() []int
	// LoadData reads pixel data from the backing source. No caching: each
	// call re-reads, callers control buffer lifetime.
	LoadData() (*Stack, error)
	// LoadDataMask returns the presence mask of the tile's shape.
	LoadDataMask() *Mask
	// WithPosition returns a copy of the tile at a new position.
	WithPosition(pos TilePosition) Tile
}

// ImageTile is a single 2-D plane backed by one image file, with optional
// background and illumination correction matrices applied at load time.
type ImageTile struct {
	Path                       string
	PlaneShape                 [2]int
	Pos                        TilePosition
	DType                      DType
	BackgroundCorrectionPath   string
	IlluminationCorrectionPath string
	Reader                     ImageReader
}

// Position implements Tile.
func (t *ImageTile) Position() TilePosition { return t.Pos }

// Shape implements Tile.
func (t *ImageTile) Shape() []int { return []int{t.PlaneShape[0], t.PlaneShape[1]} }

// WithPosition implements Tile.
func (t *ImageTile) WithPosition(pos TilePosition) Tile {
	c := *t
	c.Pos = pos
	return &c
}

func (t *ImageTile) String() string {
	return fmt.Sprintf("Tile(path='%s', shape=%v, position=%s)", t.Path, t.Shape(), t.Pos)
}

// LoadData reads the plane, then applies background subtraction and
// illumination division in that order, clipping to the dtype range.
func (t *ImageTile) LoadData() (*Stack, error) {
	data, err := t.Reader.ReadImage(t.Path)
	if err != nil {
		return nil, fmt.Errorf("read tile %s: %w", t.Path, err)
	}
	if data.Shape[1] != t.PlaneShape[0] || data.Shape[2] != t.PlaneShape[1] {
		return nil, fmt.Errorf("tile %s: image shape (%d, %d) does not match declared shape (%d, %d)",
			t.Path, data.Shape[1], data.Shape[2], t.PlaneShape[0], t.PlaneShape[1])
	}
	data.DType = t.DType
	if err := t.applyBackgroundCorrection(data); err != nil {
		return nil, err
	}
	if err := t.applyIlluminationCorrection(data); err != nil {
		return nil, err
	}
	return data, nil
}

// LoadDataMask returns an all-true mask: an ImageTile fully covers its
// declared shape.
func (t *ImageTile) LoadDataMask() *Mask {
	return Filled([3]int{1, t.PlaneShape[0], t.PlaneShape[1]}, true)
}

func (t *ImageTile) applyBackgroundCorrection(data *Stack) error {
	if t.BackgroundCorrectionPath == "" {
		return nil
	}
	bg, err := t.loadCorrection(t.BackgroundCorrectionPath, data)
	if err != nil {
		return err
	}
	maxVal := float64(data.DType.MaxValue())
	for y := 0; y < data.Shape[1]; y++ {
		for x := 0; x < data.Shape[2]; x++ {
			v := float64(data.At(0, y, x)) - bg.At(y, x)
			data.Set(0, y, x, clipSample(v, maxVal))
		}
	}
	return nil
}

func (t *ImageTile) applyIlluminationCorrection(data *Stack) error {
	if t.IlluminationCorrectionPath == "" {
		return nil
	}
	icm, err := t.loadCorrection(t.IlluminationCorrectionPath, data)
	if err != nil {
		return err
	}
	maxVal := float64(data.DType.MaxValue())
	for y := 0; y < data.Shape[1]; y++ {
		for x := 0; x < data.Shape[2]; x++ {
			v := float64(data.At(0, y, x)) / icm.At(y, x)
			data.Set(0, y, x, clipSample(v, maxVal))
		}
	}
	return nil
}

func (t *ImageTile) loadCorrection(path string, data *Stack) (*mat.Dense, error) {
	m, err := t.Reader.ReadMatrix(path)
	if err != nil {
		return nil, fmt.Errorf("read correction matrix %s: %w", path, err)
	}
	rows, cols := m.Dims()
	if rows != data.Shape[1] || cols != data.Shape[2] {
		return nil, fmt.Errorf("correction matrix %s shape (%d, %d) does not match image shape (%d, %d)",
			path, rows, cols, data.Shape[1], data.Shape[2])
	}
	return m, nil
}

func clipSample(v, maxVal float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > maxVal {
		return uint16(maxVal)
	}
	return uint16(v)
}

// StackedTile is an ordered z-stack of optional plane tiles forming one
// stacked acquisition unit. Nil entries mark planes that were never acquired;
// they load as zero data with a false mask.
type StackedTile struct {
	Tiles      []*ImageTile
	PlaneShape [2]int
	DType      DType
	Pos        TilePosition
}

// Position implements Tile.
func (t *StackedTile) Position() TilePosition { return t.Pos }

// Shape implements Tile. The leading axis is the plane count.
func (t *StackedTile) Shape() []int {
	return []int{len(t.Tiles), t.PlaneShape[0], t.PlaneShape[1]}
}

// WithPosition implements Tile.
func (t *StackedTile) WithPosition(pos TilePosition) Tile {
	c := *t
	c.Pos = pos
	return &c
}

// LoadData loads every present plane into a (n, y, x) stack. Missing planes
// stay zero.
func (t *StackedTile) LoadData() (*Stack, error) {
	stack := NewStack([3]int{len(t.Tiles), t.PlaneShape[0], t.PlaneShape[1]}, t.DType)
	planeLen := t.PlaneShape[0] * t.PlaneShape[1]
	for i, plane := range t.Tiles {
		if plane == nil {
			continue
		}
		data, err := plane.LoadData()
		if err != nil {
			return nil, err
		}
		copy(stack.Data[i*planeLen:(i+1)*planeLen], data.Data)
	}
	return stack, nil
}

// LoadDataMask marks planes backed by an acquired file.
func (t *StackedTile) LoadDataMask() *Mask {
	mask := NewMask([3]int{len(t.Tiles), t.PlaneShape[0], t.PlaneShape[1]})
	planeLen := t.PlaneShape[0] * t.PlaneShape[1]
	for i, plane := range t.Tiles {
		if plane == nil {
			continue
		}
		for j := i * planeLen; j < (i+1)*planeLen; j++ {
			mask.Data[j] = true
		}
	}
	return mask
}

// ShiftToOrigin returns repositioned copies of tiles such that the
// element-wise minimum position becomes (0, 0, 0, 0, 0). Input tiles are not
// mutated.
func ShiftToOrigin(tiles []Tile) []Tile {
	if len(tiles) == 0 {
		return nil
	}
	minPos := tiles[0].Position().Vector()
	for _, t := range tiles[1:] {
		p := t.Position().Vector()
		for i := range minPos {
			if p[i] < minPos[i] {
				minPos[i] = p[i]
			}
		}
	}
	shifted := make([]Tile, len(tiles))
	for i, t := range tiles {
		p := t.Position()
		shifted[i] = t.WithPosition(TilePosition{
			Time:    p.Time - minPos[0],
			Channel: p.Channel - minPos[1],
			Z:       p.Z - minPos[2],
			Y:       p.Y - minPos[3],
			X:       p.X - minPos[4],
		})
	}
	return shifted
}
