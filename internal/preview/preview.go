// Package preview renders per-well PNG previews from the coarsest pyramid
// level of a converted plate, using fogleman/gg.
package preview

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/fmi-faim/hcs-ngff/internal/hcs"
	"github.com/fmi-faim/hcs-ngff/internal/ngff"
	"github.com/fmi-faim/hcs-ngff/pkg/colormap"
	"github.com/fmi-faim/hcs-ngff/pkg/histogram"
	"github.com/fogleman/gg"
)

// Config controls preview rendering.
type Config struct {
	// Colormap names the fallback map used when a channel has no display
	// color.
	Colormap string
	// Dir receives the rendered PNGs.
	Dir string
	// Level is the pyramid level to render, normally the coarsest.
	Level int
	// WellSubGroup names the image group inside each well, default "0".
	WellSubGroup string
}

// Renderer renders one PNG per well and channel. Display windows come from
// the persisted channel histograms; pixels are mapped through the channel's
// display color, falling back to the configured colormap.
type Renderer struct {
	store    *ngff.Store
	cfg      Config
	fallback colormap.Colormap
}

// NewRenderer creates a renderer over a converted plate store.
func NewRenderer(store *ngff.Store, cfg Config) (*Renderer, error) {
	fallback, err := colormap.ByName(cfg.Colormap)
	if err != nil {
		return nil, err
	}
	if cfg.WellSubGroup == "" {
		cfg.WellSubGroup = "0"
	}
	return &Renderer{store: store, cfg: cfg, fallback: fallback}, nil
}

// RenderWell renders every channel of a well. Returns the written paths.
func (r *Renderer) RenderWell(wellName string, channels []hcs.ChannelMetadata) ([]string, error) {
	imagePath := path.Join(wellName[:1], wellName[1:], r.cfg.WellSubGroup)
	arrayPath := path.Join(imagePath, strconv.Itoa(r.cfg.Level))
	meta, err := r.store.LoadArrayMeta(arrayPath)
	if err != nil {
		return nil, err
	}
	rank := len(meta.Shape)
	if rank < 2 {
		return nil, fmt.Errorf("well %s: array rank %d too small to render", wellName, rank)
	}

	channelDim := -1
	for d, name := range meta.DimensionNames {
		if name == "c" {
			channelDim = d
		}
	}

	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}

	var written []string
	for _, ch := range channels {
		if channelDim == -1 && ch.Index > 0 {
			break
		}
		plane, height, width, err := r.readChannelPlane(arrayPath, meta, channelDim, ch.Index)
		if err != nil {
			return nil, fmt.Errorf("well %s channel %d: %w", wellName, ch.Index, err)
		}

		window, err := r.displayWindow(imagePath, ch, plane)
		if err != nil {
			return nil, err
		}
		cm := r.channelColormap(ch)

		dc := gg.NewContext(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dc.SetColor(cm.At(normalize(plane[y*width+x], window)))
				dc.SetPixel(x, y)
			}
		}

		out := filepath.Join(r.cfg.Dir, fmt.Sprintf("%s_%s.png", wellName, ch.Name))
		if err := dc.SavePNG(out); err != nil {
			return nil, fmt.Errorf("failed to save preview %s: %w", out, err)
		}
		written = append(written, out)
	}
	return written, nil
}

// readChannelPlane reads one channel at the rendered level, collapsing any
// leading axes to index 0, and returns it with its height and width.
func (r *Renderer) readChannelPlane(arrayPath string, meta *ngff.ArrayMeta, channelDim, channel int) ([]uint16, int, int, error) {
	rank := len(meta.Shape)
	origin := make([]int, rank)
	shape := make([]int, rank)
	for d := 0; d < rank; d++ {
		shape[d] = 1
	}
	if channelDim >= 0 {
		if channel >= meta.Shape[channelDim] {
			return nil, 0, 0, fmt.Errorf("channel %d out of range %d", channel, meta.Shape[channelDim])
		}
		origin[channelDim] = channel
	}
	height, width := meta.Shape[rank-2], meta.Shape[rank-1]
	shape[rank-2], shape[rank-1] = height, width

	plane, err := r.store.ReadRegion(arrayPath, meta, origin, shape)
	if err != nil {
		return nil, 0, 0, err
	}
	return plane, height, width, nil
}

// displayWindow loads the channel's persisted histogram window, falling
// back to the plane's own value range.
func (r *Renderer) displayWindow(imagePath string, ch hcs.ChannelMetadata, plane []uint16) (ngff.ChannelWindow, error) {
	name := fmt.Sprintf("%s_%s_histogram.bin", ch.WavelengthID(), ch.Name)
	histPath := filepath.Join(r.store.Root(), imagePath, name)
	if hist, err := histogram.Load(histPath); err == nil && !hist.Empty() {
		start, err := hist.Quantile(0.01)
		if err != nil {
			return ngff.ChannelWindow{}, err
		}
		end, err := hist.Quantile(0.999)
		if err != nil {
			return ngff.ChannelWindow{}, err
		}
		return ngff.ChannelWindow{Start: float64(start), End: float64(end)}, nil
	}

	lo, hi := plane[0], plane[0]
	for _, v := range plane {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return ngff.ChannelWindow{Start: float64(lo), End: float64(hi)}, nil
}

func (r *Renderer) channelColormap(ch hcs.ChannelMetadata) colormap.Colormap {
	if ch.DisplayColor != "" && ch.DisplayColor != "FFFFFF" {
		if cm, err := colormap.FromHex(ch.DisplayColor); err == nil {
			return cm
		}
	}
	return r.fallback
}

func normalize(v uint16, window ngff.ChannelWindow) float64 {
	if window.End <= window.Start {
		return 0
	}
	t := (float64(v) - window.Start) / (window.End - window.Start)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
