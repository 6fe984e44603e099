// Package main is the entry point for the plate converter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fmi-faim/hcs-ngff/internal/cache"
	"github.com/fmi-faim/hcs-ngff/internal/config"
	"github.com/fmi-faim/hcs-ngff/internal/hcs"
	"github.com/fmi-faim/hcs-ngff/internal/ngff"
	"github.com/fmi-faim/hcs-ngff/internal/preview"
	"github.com/fmi-faim/hcs-ngff/internal/tiffio"
	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/convert.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Converting %s acquisition %s", cfg.Acquisition.Type, cfg.Acquisition.IndexPath)

	ctx := context.Background()

	// Initialize cache manager (shared by correction matrices and the
	// pyramid/preview chunk reads)
	cacheManager, err := cache.NewManager(cache.Config{
		ChunkCacheSizeMB: cfg.Cache.ChunkSizeMB,
		ChunkTTL:         time.Duration(cfg.Cache.ChunkTTLMinutes) * time.Minute,
		MatrixCacheSize:  cfg.Cache.MatrixCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	plate, err := buildPlate(cfg, cacheManager)
	if err != nil {
		log.Fatalf("Failed to assemble plate: %v", err)
	}
	log.Printf("Assembled %d well(s), %d channel(s)", len(plate.Wells()), len(plate.Channels()))

	store, err := ngff.NewStore(filepath.Join(cfg.Output.RootDir, cfg.Output.Name), cacheManager)
	if err != nil {
		log.Fatalf("Failed to open output store: %v", err)
	}
	defer store.Close()

	converter, err := newConverter(cfg, store, plate)
	if err != nil {
		log.Fatalf("Failed to configure conversion: %v", err)
	}
	if err := converter.Run(ctx); err != nil {
		log.Fatalf("Conversion failed: %v", err)
	}
	log.Printf("Plate written to %s", store.Root())

	if cfg.Preview.Enabled && !cfg.Stitching.BuildAcquisitionMask {
		if err := renderPreviews(cfg, store, plate); err != nil {
			log.Fatalf("Preview rendering failed: %v", err)
		}
	}
}

func buildPlate(cfg *config.Config, cacheManager *cache.Manager) (*hcs.Plate, error) {
	records, err := hcs.LoadFieldIndex(cfg.Acquisition.IndexPath)
	if err != nil {
		return nil, err
	}
	source, err := hcs.NewSource(cfg.Acquisition.Type)
	if err != nil {
		return nil, err
	}
	alignment, err := stitching.ParseAlignment(cfg.Acquisition.Alignment)
	if err != nil {
		return nil, err
	}

	channels := make([]hcs.ChannelMetadata, len(cfg.Acquisition.Channels))
	nameToIndex := make(map[string]int)
	for i, ch := range cfg.Acquisition.Channels {
		channels[i] = hcs.ChannelMetadata{
			Index:        i,
			Name:         ch.Name,
			DisplayColor: ch.DisplayColor,
			Wavelength:   ch.Wavelength,
			ExposureMS:   ch.Exposure,
		}
		nameToIndex[ch.Name] = i
	}
	background, err := correctionsByIndex(cfg.Acquisition.BackgroundCorrections, nameToIndex)
	if err != nil {
		return nil, fmt.Errorf("background corrections: %w", err)
	}
	illumination, err := correctionsByIndex(cfg.Acquisition.IlluminationCorrections, nameToIndex)
	if err != nil {
		return nil, fmt.Errorf("illumination corrections: %w", err)
	}

	return hcs.BuildPlate(records, source, hcs.PlateOptions{
		Alignment:               alignment,
		YXSpacing:               cfg.Acquisition.YXSpacing,
		ZSpacing:                cfg.Acquisition.ZSpacing,
		Channels:                channels,
		BackgroundCorrections:   background,
		IlluminationCorrections: illumination,
		Reader:                  tiffio.NewReader(cacheManager),
		Wells:                   cfg.Output.Wells,
	})
}

func newConverter(cfg *config.Config, store *ngff.Store, plate *hcs.Plate) (*hcs.Converter, error) {
	fuse, ok := stitching.FuseByName(cfg.Stitching.Fusion, cfg.Stitching.RandomSeed)
	if !ok {
		return nil, fmt.Errorf("unknown fusion policy: %s", cfg.Stitching.Fusion)
	}
	return hcs.NewConverter(store, plate, hcs.ConvertOptions{
		PlateName:            cfg.Output.Name,
		Layout:               cfg.Output.Layout,
		OrderName:            cfg.Output.OrderName,
		Barcode:              cfg.Output.Barcode,
		ChunkShape:           cfg.Stitching.ChunkShape,
		MaxLayer:             cfg.Output.MaxLayer,
		YXBinning:            cfg.Stitching.YXBinning,
		FuseFunc:             fuse,
		BuildAcquisitionMask: cfg.Stitching.BuildAcquisitionMask,
		Overwrite:            cfg.Output.Overwrite,
		Workers:              cfg.Workers,
	})
}

func renderPreviews(cfg *config.Config, store *ngff.Store, plate *hcs.Plate) error {
	renderer, err := preview.NewRenderer(store, preview.Config{
		Colormap: cfg.Preview.Colormap,
		Dir:      cfg.Preview.Dir,
		Level:    cfg.Output.MaxLayer,
	})
	if err != nil {
		return err
	}
	for _, well := range plate.Wells() {
		written, err := renderer.RenderWell(well.Name(), plate.Channels())
		if err != nil {
			return fmt.Errorf("well %s: %w", well.Name(), err)
		}
		log.Printf("Rendered %d preview(s) for well %s", len(written), well.Name())
	}
	return nil
}

func correctionsByIndex(byName map[string]string, nameToIndex map[string]int) (map[int]string, error) {
	if len(byName) == 0 {
		return nil, nil
	}
	out := make(map[int]string, len(byName))
	for name, path := range byName {
		idx, ok := nameToIndex[name]
		if !ok {
			return nil, fmt.Errorf("channel %q is not declared in acquisition.channels", name)
		}
		out[idx] = path
	}
	return out, nil
}
