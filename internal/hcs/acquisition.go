package hcs

import (
	"fmt"

	"github.com/fmi-faim/hcs-ngff/internal/ngff"
	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

// AssembleOptions carries the shared per-plate tile parameters into a
// Source. Correction maps are keyed by channel index.
type AssembleOptions struct {
	PlaneShape              [2]int
	DType                   stitching.DType
	Reader                  stitching.ImageReader
	BackgroundCorrections   map[int]string
	IlluminationCorrections map[int]string
}

// Source assembles the tiles of one well from its field records. Each
// supported instrument family has one Source variant; the surrounding
// Plate handles alignment, well grouping and shape bookkeeping for all
// of them.
type Source interface {
	// Name returns the instrument family name.
	Name() string
	// Axes returns the axis names carried by this acquisition, an ordered
	// subset of t, c, z, y, x.
	Axes(records []FieldRecord) []string
	// AssembleWell builds the tiles of a single well, in a deterministic
	// order that order-dependent fusion policies can rely on.
	AssembleWell(records []FieldRecord, opts AssembleOptions) ([]stitching.Tile, error)
}

// NewSource returns the Source variant for an instrument family name.
func NewSource(name string) (Source, error) {
	switch name {
	case "imagexpress":
		return ImageXpressSource{}, nil
	case "cellvoyager":
		return CellVoyagerSource{}, nil
	case "visiview":
		return VisiViewSource{}, nil
	default:
		return nil, fmt.Errorf("unknown acquisition source: %s", name)
	}
}

// Well is a single well of a plate acquisition: its aligned tiles plus the
// calibration needed to write NGFF metadata.
type Well struct {
	name      string
	tiles     []stitching.Tile
	axes      []string
	dtype     stitching.DType
	yxSpacing [2]float64
	zSpacing  float64
}

// Name returns the well name, e.g. "C03".
func (w *Well) Name() string { return w.name }

// Tiles returns the aligned tiles in assembly order.
func (w *Well) Tiles() []stitching.Tile { return w.tiles }

// DType returns the sample type of the well's tiles.
func (w *Well) DType() stitching.DType { return w.dtype }

// Axes returns the axis names of the well image, an ordered subset of
// t, c, z, y, x.
func (w *Well) Axes() []string { return w.axes }

// YXSpacing returns the pixel spacing in micrometers.
func (w *Well) YXSpacing() [2]float64 { return w.yxSpacing }

// ZSpacing returns the plane spacing in micrometers, 0 for 2-D wells.
func (w *Well) ZSpacing() float64 { return w.zSpacing }

// RowCol splits the well name into plate row and column.
func (w *Well) RowCol() (string, string) {
	return w.name[:1], w.name[1:]
}

// Shape computes the stitched (t, c, z, y, x) extent of the well.
func (w *Well) Shape() [5]int {
	var shape [5]int
	for _, tile := range w.tiles {
		pos := tile.Position().Vector()
		s := tile.Shape()
		for d := 0; d < 5; d++ {
			extent := pos[d] + 1
			if trailing := d - (5 - len(s)); trailing >= 0 {
				extent = pos[d] + s[trailing]
			}
			if extent > shape[d] {
				shape[d] = extent
			}
		}
	}
	return shape
}

// CoordinateTransformations returns the per-level scale transforms of the
// well's resolution pyramid. ndim is the stored dimensionality after
// dropping axes absent from Axes().
func (w *Well) CoordinateTransformations(maxLayer, yxBinning, ndim int) [][]ngff.ScaleTransform {
	out := make([][]ngff.ScaleTransform, 0, maxLayer+1)
	for level := 0; level <= maxLayer; level++ {
		factor := float64(yxBinning) * float64(int(1)<<level)
		var scale []float64
		if w.zSpacing > 0 {
			scale = ones(ndim - 3)
			scale = append(scale, w.zSpacing)
		} else {
			scale = ones(ndim - 2)
		}
		scale = append(scale, w.yxSpacing[0]*factor, w.yxSpacing[1]*factor)
		out = append(out, []ngff.ScaleTransform{{Type: "scale", Scale: scale}})
	}
	return out
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// Plate is a parsed plate acquisition: its wells in field-index order plus
// the channel metadata shared by all of them.
type Plate struct {
	wells    []*Well
	channels []ChannelMetadata
}

// PlateOptions configures plate assembly.
type PlateOptions struct {
	Alignment               stitching.Alignment
	YXSpacing               [2]float64
	ZSpacing                float64
	Channels                []ChannelMetadata
	BackgroundCorrections   map[int]string
	IlluminationCorrections map[int]string
	Reader                  stitching.ImageReader
	// Wells restricts assembly to the named wells; empty means all.
	Wells []string
}

// BuildPlate assembles every selected well from the field records. The
// first referenced image is probed once for the common plane shape and
// sample type.
func BuildPlate(records []FieldRecord, source Source, opts PlateOptions) (*Plate, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("an image reader is required")
	}
	records = selectWells(records, opts.Wells)
	if len(records) == 0 {
		return nil, fmt.Errorf("no field records match the well selection %v", opts.Wells)
	}

	planeShape, dtype, err := probePlaneShape(records, opts.Reader)
	if err != nil {
		return nil, err
	}

	assemble := AssembleOptions{
		PlaneShape:              planeShape,
		DType:                   dtype,
		Reader:                  opts.Reader,
		BackgroundCorrections:   opts.BackgroundCorrections,
		IlluminationCorrections: opts.IlluminationCorrections,
	}

	order, byWell := groupByWell(records)
	wells := make([]*Well, 0, len(order))
	for _, name := range order {
		wellRecords := byWell[name]
		tiles, err := source.AssembleWell(wellRecords, assemble)
		if err != nil {
			return nil, fmt.Errorf("well %s: %w", name, err)
		}
		if len(tiles) == 0 {
			return nil, fmt.Errorf("well %s has no acquired tiles", name)
		}
		aligned, err := stitching.AlignTiles(opts.Alignment, tiles)
		if err != nil {
			return nil, fmt.Errorf("well %s: %w", name, err)
		}

		zSpacing := opts.ZSpacing
		axes := source.Axes(wellRecords)
		if !contains(axes, "z") {
			zSpacing = 0
		}
		wells = append(wells, &Well{
			name:      name,
			tiles:     aligned,
			axes:      axes,
			dtype:     dtype,
			yxSpacing: opts.YXSpacing,
			zSpacing:  zSpacing,
		})
	}

	channels := opts.Channels
	if len(channels) == 0 {
		channels = defaultChannels(records)
	}
	for i := range channels {
		channels[i].Index = i
	}
	return &Plate{wells: wells, channels: channels}, nil
}

// Wells returns the plate's wells in field-index order.
func (p *Plate) Wells() []*Well { return p.wells }

// Channels returns the channel metadata, indexed by channel.
func (p *Plate) Channels() []ChannelMetadata { return p.channels }

// CommonWellShape computes the maximum well extent such that every well is
// covered.
func (p *Plate) CommonWellShape() [5]int {
	var common [5]int
	for _, w := range p.wells {
		shape := w.Shape()
		for d := 0; d < 5; d++ {
			if shape[d] > common[d] {
				common[d] = shape[d]
			}
		}
	}
	return common
}

func selectWells(records []FieldRecord, wells []string) []FieldRecord {
	if len(wells) == 0 {
		return records
	}
	keep := make(map[string]struct{}, len(wells))
	for _, w := range wells {
		keep[w] = struct{}{}
	}
	var out []FieldRecord
	for _, rec := range records {
		if _, ok := keep[rec.Well]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func probePlaneShape(records []FieldRecord, reader stitching.ImageReader) ([2]int, stitching.DType, error) {
	for _, rec := range records {
		if rec.Path == "" {
			continue
		}
		stack, err := reader.ReadImage(rec.Path)
		if err != nil {
			return [2]int{}, 0, fmt.Errorf("failed to probe tile shape: %w", err)
		}
		return [2]int{stack.Shape[1], stack.Shape[2]}, stack.DType, nil
	}
	return [2]int{}, 0, fmt.Errorf("field index references no image files")
}

func defaultChannels(records []FieldRecord) []ChannelMetadata {
	maxChannel := 0
	for _, rec := range records {
		if rec.Channel > maxChannel {
			maxChannel = rec.Channel
		}
	}
	channels := make([]ChannelMetadata, maxChannel+1)
	for i := range channels {
		channels[i] = ChannelMetadata{
			Index:        i,
			Name:         fmt.Sprintf("C%02d", i+1),
			DisplayColor: "FFFFFF",
		}
	}
	return channels
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
