package hcs

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/fmi-faim/hcs-ngff/internal/ngff"
	"github.com/fmi-faim/hcs-ngff/pkg/histogram"
	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
	"golang.org/x/sync/errgroup"
)

var axisNames = [5]string{"t", "c", "z", "y", "x"}

// ConvertOptions configures a plate conversion.
type ConvertOptions struct {
	PlateName string
	Layout    int
	OrderName string
	Barcode   string
	// ChunkShape is the stitching chunk shape, (y, x) or (z, y, x).
	ChunkShape []int
	MaxLayer   int
	YXBinning  int
	WarpFunc   stitching.WarpFunc
	FuseFunc   stitching.FuseFunc
	// BuildAcquisitionMask writes a boolean mask instead of the image
	// data, marking where acquired data is present.
	BuildAcquisitionMask bool
	Overwrite            bool
	Workers              int
	// WellSubGroup names the image group inside each well, default "0".
	WellSubGroup string
}

// Converter writes a plate acquisition into an OME-Zarr store: one
// stitched multiscale image per well, channel histograms alongside, plate
// and well metadata on the groups.
type Converter struct {
	store *ngff.Store
	plate *Plate
	opts  ConvertOptions
}

// NewConverter validates the options against the plate.
func NewConverter(store *ngff.Store, plate *Plate, opts ConvertOptions) (*Converter, error) {
	if len(plate.Wells()) == 0 {
		return nil, fmt.Errorf("plate has no wells")
	}
	if n := len(opts.ChunkShape); n < 2 || n > 3 {
		return nil, fmt.Errorf("chunk shape must have 2 or 3 axes, got %d", n)
	}
	tileRank := len(plate.Wells()[0].Tiles()[0].Shape())
	if len(opts.ChunkShape) != tileRank {
		return nil, fmt.Errorf("chunk rank %d does not match tile rank %d", len(opts.ChunkShape), tileRank)
	}
	if opts.YXBinning < 1 {
		return nil, fmt.Errorf("yx binning must be >= 1, got %d", opts.YXBinning)
	}
	cy := opts.ChunkShape[len(opts.ChunkShape)-2]
	cx := opts.ChunkShape[len(opts.ChunkShape)-1]
	if cy%opts.YXBinning != 0 || cx%opts.YXBinning != 0 {
		return nil, fmt.Errorf("yx binning %d must divide the chunk shape (%d, %d)", opts.YXBinning, cy, cx)
	}
	if opts.MaxLayer < 0 {
		return nil, fmt.Errorf("max layer must be >= 0, got %d", opts.MaxLayer)
	}
	if opts.WellSubGroup == "" {
		opts.WellSubGroup = "0"
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Converter{store: store, plate: plate, opts: opts}, nil
}

// Run converts every well of the plate. The store root must not exist
// unless Overwrite is set.
func (c *Converter) Run(ctx context.Context) error {
	root := c.store.Root()
	if _, err := os.Stat(root); err == nil {
		if !c.opts.Overwrite {
			return fmt.Errorf("output %s already exists and overwrite is not requested", root)
		}
		if err := os.RemoveAll(root); err != nil {
			return fmt.Errorf("failed to clear existing output: %w", err)
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := c.writePlateMetadata(); err != nil {
		return err
	}

	commonShape := c.plate.CommonWellShape()
	for _, well := range c.plate.Wells() {
		log.Printf("converting well %s: %d tiles", well.Name(), len(well.Tiles()))
		if err := c.convertWell(ctx, well, commonShape); err != nil {
			return fmt.Errorf("well %s: %w", well.Name(), err)
		}
	}
	return nil
}

func (c *Converter) writePlateMetadata() error {
	rows, cols, err := RowsAndColumns(c.opts.Layout)
	if err != nil {
		return err
	}
	rowIndex := indexOf(rows)
	colIndex := indexOf(cols)

	var wells []ngff.PlateWell
	seenRows := make(map[string]struct{})
	for _, well := range c.plate.Wells() {
		row, col := well.RowCol()
		ri, ok := rowIndex[row]
		if !ok {
			return fmt.Errorf("well %s: row %q not in a %d-well layout", well.Name(), row, c.opts.Layout)
		}
		ci, ok := colIndex[col]
		if !ok {
			return fmt.Errorf("well %s: column %q not in a %d-well layout", well.Name(), col, c.opts.Layout)
		}
		wells = append(wells, ngff.PlateWell{
			Path:        path.Join(row, col),
			RowIndex:    ri,
			ColumnIndex: ci,
		})
		seenRows[row] = struct{}{}
	}

	plate := ngff.Plate{
		Name:         c.opts.PlateName,
		Rows:         plateRows(rows),
		Columns:      plateColumns(cols),
		Wells:        wells,
		Acquisitions: []ngff.PlateAcquisition{{ID: 0, Name: c.opts.PlateName}},
		FieldCount:   1,
	}
	attrs := ngff.PlateAttrs(plate)
	attrs["order_name"] = c.opts.OrderName
	attrs["barcode"] = c.opts.Barcode
	if err := c.store.WriteGroup("", attrs); err != nil {
		return err
	}

	for row := range seenRows {
		if err := c.store.WriteGroup(row, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Converter) convertWell(ctx context.Context, well *Well, commonShape [5]int) error {
	stitcher, err := stitching.NewTileStitcher(well.Tiles(), stitching.StitcherConfig{
		ChunkShape:  c.opts.ChunkShape,
		OutputShape: commonShape,
		DType:       well.DType(),
	})
	if err != nil {
		return err
	}
	stitched := stitcher.Stitched(c.opts.WarpFunc, c.opts.FuseFunc, c.opts.BuildAcquisitionMask)

	layout, err := newWellLayout(stitched, well.Axes(), c.opts.YXBinning)
	if err != nil {
		return err
	}

	row, col := well.RowCol()
	wellPath := path.Join(row, col)
	imagePath := path.Join(wellPath, c.opts.WellSubGroup)
	arrayPath := path.Join(imagePath, "0")

	meta, err := c.store.CreateArray(arrayPath, layout.shape, layout.chunkShape, stitched.DType(), layout.axes)
	if err != nil {
		return err
	}

	var indices []stitching.ChunkIndex
	stitched.EachChunkIndex(func(idx stitching.ChunkIndex) {
		indices = append(indices, idx)
	})

	var mu sync.Mutex
	histograms := make(map[int]*histogram.UIntHistogram)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, idx := range indices {
		idx := idx
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := layout.validExtent(idx); !ok {
				// Binning trimmed this trailing chunk away entirely.
				return nil
			}
			chunk, err := stitched.ComputeChunk(idx)
			if err != nil {
				return err
			}
			binned := layout.binChunk(chunk)

			if !c.opts.BuildAcquisitionMask {
				part := histogram.New()
				part.UpdateUint16(layout.validSamples(binned, idx))
				mu.Lock()
				channel := idx[1]
				if agg, ok := histograms[channel]; ok {
					agg.Combine(part)
				} else {
					histograms[channel] = part
				}
				mu.Unlock()
			}

			return c.store.WriteChunk(arrayPath, meta, layout.chunkIndex(idx), layout.storedChunkData(binned))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := c.store.BuildPyramid(imagePath, c.opts.MaxLayer); err != nil {
		return err
	}
	if !c.opts.BuildAcquisitionMask {
		if err := c.saveHistograms(imagePath, histograms); err != nil {
			return err
		}
	}
	if err := c.writeWellMetadata(well, wellPath, imagePath, layout, histograms); err != nil {
		return err
	}
	log.Printf("well %s written: shape %v", well.Name(), layout.shape)
	return nil
}

func (c *Converter) saveHistograms(imagePath string, histograms map[int]*histogram.UIntHistogram) error {
	for _, ch := range c.plate.Channels() {
		hist, ok := histograms[ch.Index]
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s_%s_histogram.bin", ch.WavelengthID(), ch.Name)
		if err := hist.Save(filepath.Join(c.store.Root(), imagePath, name)); err != nil {
			return fmt.Errorf("failed to save channel %d histogram: %w", ch.Index, err)
		}
	}
	return nil
}

func (c *Converter) writeWellMetadata(well *Well, wellPath, imagePath string, layout *wellLayout, histograms map[int]*histogram.UIntHistogram) error {
	if err := c.store.WriteGroup(wellPath, ngff.WellAttrs([]ngff.WellImage{
		{Path: c.opts.WellSubGroup, Acquisition: 0},
	})); err != nil {
		return err
	}

	datasets := make([]ngff.Dataset, 0, c.opts.MaxLayer+1)
	transforms := well.CoordinateTransformations(c.opts.MaxLayer, c.opts.YXBinning, len(layout.shape))
	for level := 0; level <= c.opts.MaxLayer; level++ {
		datasets = append(datasets, ngff.Dataset{
			Path:                      strconv.Itoa(level),
			CoordinateTransformations: transforms[level],
		})
	}

	axes := make([]ngff.Axis, 0, len(layout.axes))
	for _, name := range layout.axes {
		switch name {
		case "t":
			axes = append(axes, ngff.Axis{Name: "t", Type: "time"})
		case "c":
			axes = append(axes, ngff.Axis{Name: "c", Type: "channel"})
		default:
			axes = append(axes, ngff.SpaceAxis(name))
		}
	}

	var channels []ngff.OmeroChannel
	if !c.opts.BuildAcquisitionMask {
		channels = c.omeroChannels(well, histograms)
	}
	return c.store.WriteGroup(imagePath, ngff.ImageAttrs(well.Name(), axes, datasets, channels))
}

// omeroChannels derives each channel's display window from its intensity
// histogram, clipping to the 1st..99.9th percentile range.
func (c *Converter) omeroChannels(well *Well, histograms map[int]*histogram.UIntHistogram) []ngff.OmeroChannel {
	maxVal := float64(well.DType().MaxValue())
	channels := make([]ngff.OmeroChannel, 0, len(c.plate.Channels()))
	for _, ch := range c.plate.Channels() {
		window := ngff.ChannelWindow{Min: 0, Max: maxVal, Start: 0, End: maxVal}
		if hist, ok := histograms[ch.Index]; ok && !hist.Empty() {
			if start, err := hist.Quantile(0.01); err == nil {
				window.Start = float64(start)
			}
			if end, err := hist.Quantile(0.999); err == nil {
				window.End = float64(end)
			}
		}
		channels = append(channels, ngff.OmeroChannel{
			Active:       true,
			Coefficient:  1,
			Color:        ch.DisplayColor,
			Family:       "linear",
			Label:        ch.Name,
			WavelengthID: ch.WavelengthID(),
			Window:       window,
		})
	}
	return channels
}

func indexOf(names []string) map[string]int {
	out := make(map[string]int, len(names))
	for i, name := range names {
		out[name] = i
	}
	return out
}

func plateRows(names []string) []ngff.PlateRow {
	out := make([]ngff.PlateRow, len(names))
	for i, name := range names {
		out[i] = ngff.PlateRow{Name: name}
	}
	return out
}

func plateColumns(names []string) []ngff.PlateColumn {
	out := make([]ngff.PlateColumn, len(names))
	for i, name := range names {
		out[i] = ngff.PlateColumn{Name: name}
	}
	return out
}
