package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_FullConfig(t *testing.T) {
	content := `
acquisition:
  type: cellvoyager
  index_path: "/data/exp1/index.csv"
  alignment: grid
  dtype: uint16
  yx_spacing: [0.325, 0.325]
  z_spacing: 3.0
  channels:
    - name: DAPI
      wavelength: 405
      display_color: "0000FF"
      exposure_ms: 20
    - name: GFP
      wavelength: 488
      display_color: "00FF00"
      exposure_ms: 50
  background_corrections:
    DAPI: "/data/corr/bg_dapi.tif"
output:
  root_dir: "/data/out"
  name: "exp1.zarr"
  layout: 384
  order_name: "order-1"
  barcode: "B1234"
  max_layer: 2
  wells: ["A01", "B02"]
stitching:
  chunk_shape: [1, 512, 512]
  fusion: linear
  yx_binning: 2
workers: 8
`
	cfg := loadFromString(t, content)

	if cfg.Acquisition.Type != "cellvoyager" {
		t.Errorf("expected type cellvoyager, got %q", cfg.Acquisition.Type)
	}
	if cfg.Acquisition.Alignment != "grid" {
		t.Errorf("expected alignment grid, got %q", cfg.Acquisition.Alignment)
	}
	if cfg.Acquisition.YXSpacing != [2]float64{0.325, 0.325} {
		t.Errorf("unexpected yx_spacing: %v", cfg.Acquisition.YXSpacing)
	}
	if len(cfg.Acquisition.Channels) != 2 || cfg.Acquisition.Channels[1].Wavelength != 488 {
		t.Errorf("unexpected channels: %+v", cfg.Acquisition.Channels)
	}
	if cfg.Acquisition.BackgroundCorrections["DAPI"] != "/data/corr/bg_dapi.tif" {
		t.Errorf("unexpected background correction: %v", cfg.Acquisition.BackgroundCorrections)
	}
	if cfg.Output.Layout != 384 {
		t.Errorf("expected layout 384, got %d", cfg.Output.Layout)
	}
	if len(cfg.Stitching.ChunkShape) != 3 || cfg.Stitching.ChunkShape[1] != 512 {
		t.Errorf("unexpected chunk_shape: %v", cfg.Stitching.ChunkShape)
	}
	if cfg.Stitching.Fusion != "linear" {
		t.Errorf("expected fusion linear, got %q", cfg.Stitching.Fusion)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Workers)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
acquisition:
  index_path: "/data/exp1/index.csv"
output:
  root_dir: "/data/out"
  name: "exp1.zarr"
`
	cfg := loadFromString(t, content)

	if cfg.Acquisition.Type != "imagexpress" {
		t.Errorf("expected default type imagexpress, got %q", cfg.Acquisition.Type)
	}
	if cfg.Acquisition.Alignment != "stage" {
		t.Errorf("expected default alignment stage, got %q", cfg.Acquisition.Alignment)
	}
	if cfg.Output.Layout != 96 {
		t.Errorf("expected default layout 96, got %d", cfg.Output.Layout)
	}
	if cfg.Output.MaxLayer != 3 {
		t.Errorf("expected default max_layer 3, got %d", cfg.Output.MaxLayer)
	}
	if cfg.Stitching.Fusion != "mean" {
		t.Errorf("expected default fusion mean, got %q", cfg.Stitching.Fusion)
	}
	if cfg.Stitching.YXBinning != 1 {
		t.Errorf("expected default yx_binning 1, got %d", cfg.Stitching.YXBinning)
	}
	if cfg.Cache.ChunkSizeMB != 512 {
		t.Errorf("expected default chunk cache size 512, got %d", cfg.Cache.ChunkSizeMB)
	}
	if cfg.Preview.Colormap != "viridis" {
		t.Errorf("expected default colormap viridis, got %q", cfg.Preview.Colormap)
	}
}

func TestLoad_MissingIndexPath(t *testing.T) {
	content := `
output:
  root_dir: "/data/out"
  name: "exp1.zarr"
`
	_, err := loadFromError(t, content)
	if err == nil || !strings.Contains(err.Error(), "index_path") {
		t.Fatalf("expected index_path error, got %v", err)
	}
}

func TestLoad_BadLayout(t *testing.T) {
	content := `
acquisition:
  index_path: "/data/exp1/index.csv"
output:
  root_dir: "/data/out"
  name: "exp1.zarr"
  layout: 42
`
	_, err := loadFromError(t, content)
	if err == nil || !strings.Contains(err.Error(), "layout") {
		t.Fatalf("expected layout error, got %v", err)
	}
}

func TestLoad_BadChunkShape(t *testing.T) {
	content := `
acquisition:
  index_path: "/data/exp1/index.csv"
output:
  root_dir: "/data/out"
  name: "exp1.zarr"
stitching:
  chunk_shape: [1, 1, 512, 512]
`
	_, err := loadFromError(t, content)
	if err == nil || !strings.Contains(err.Error(), "chunk_shape") {
		t.Fatalf("expected chunk_shape error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	cfg, err := loadFromError(t, content)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func loadFromError(t *testing.T, content string) (*Config, error) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return Load(path)
}
