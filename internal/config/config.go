// Package config handles configuration loading for the plate converter.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents a full conversion run.
type Config struct {
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Output      OutputConfig      `yaml:"output"`
	Stitching   StitchingConfig   `yaml:"stitching"`
	Cache       CacheConfig       `yaml:"cache"`
	Preview     PreviewConfig     `yaml:"preview"`
	Workers     int               `yaml:"workers"`
}

// AcquisitionConfig describes the source plate acquisition.
type AcquisitionConfig struct {
	Type                    string            `yaml:"type"`
	IndexPath               string            `yaml:"index_path"`
	Alignment               string            `yaml:"alignment"`
	DType                   string            `yaml:"dtype"`
	YXSpacing               [2]float64        `yaml:"yx_spacing"`
	ZSpacing                float64           `yaml:"z_spacing"`
	Channels                []ChannelConfig   `yaml:"channels"`
	BackgroundCorrections   map[string]string `yaml:"background_corrections"`
	IlluminationCorrections map[string]string `yaml:"illumination_corrections"`
}

// ChannelConfig carries per-channel metadata recorded alongside the image.
type ChannelConfig struct {
	Name         string  `yaml:"name"`
	Wavelength   int     `yaml:"wavelength"`
	DisplayColor string  `yaml:"display_color"`
	Exposure     float64 `yaml:"exposure_ms"`
}

// OutputConfig describes the plate to write.
type OutputConfig struct {
	RootDir   string   `yaml:"root_dir"`
	Name      string   `yaml:"name"`
	Layout    int      `yaml:"layout"`
	OrderName string   `yaml:"order_name"`
	Barcode   string   `yaml:"barcode"`
	MaxLayer  int      `yaml:"max_layer"`
	Wells     []string `yaml:"wells"`
	Overwrite bool     `yaml:"overwrite"`
}

// StitchingConfig controls how fields are fused into well images.
type StitchingConfig struct {
	ChunkShape           []int  `yaml:"chunk_shape"`
	Fusion               string `yaml:"fusion"`
	RandomSeed           int64  `yaml:"random_seed"`
	YXBinning            int    `yaml:"yx_binning"`
	BuildAcquisitionMask bool   `yaml:"build_acquisition_mask"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ChunkSizeMB     int `yaml:"chunk_size_mb"`
	ChunkTTLMinutes int `yaml:"chunk_ttl_minutes"`
	MatrixCacheSize int `yaml:"matrix_cache_size"`
}

// PreviewConfig controls per-well PNG rendering.
type PreviewConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Colormap string `yaml:"colormap"`
	Dir      string `yaml:"dir"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Acquisition: AcquisitionConfig{
			Type:      "imagexpress",
			Alignment: "stage",
			DType:     "uint16",
			YXSpacing: [2]float64{1, 1},
			ZSpacing:  1,
		},
		Output: OutputConfig{
			Layout:   96,
			MaxLayer: 3,
		},
		Stitching: StitchingConfig{
			ChunkShape: []int{2048, 2048},
			Fusion:     "mean",
			YXBinning:  1,
		},
		Cache: CacheConfig{
			ChunkSizeMB:     512,
			ChunkTTLMinutes: 10,
			MatrixCacheSize: 16,
		},
		Preview: PreviewConfig{
			Colormap: "viridis",
			Dir:      "previews",
		},
		Workers: 0, // 0 means one worker per CPU
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Acquisition.Type == "" {
		cfg.Acquisition.Type = defaults.Acquisition.Type
	}
	if cfg.Acquisition.Alignment == "" {
		cfg.Acquisition.Alignment = defaults.Acquisition.Alignment
	}
	if cfg.Acquisition.DType == "" {
		cfg.Acquisition.DType = defaults.Acquisition.DType
	}
	if cfg.Acquisition.YXSpacing == [2]float64{} {
		cfg.Acquisition.YXSpacing = defaults.Acquisition.YXSpacing
	}
	if cfg.Acquisition.ZSpacing == 0 {
		cfg.Acquisition.ZSpacing = defaults.Acquisition.ZSpacing
	}
	if cfg.Output.Layout == 0 {
		cfg.Output.Layout = defaults.Output.Layout
	}
	if cfg.Output.MaxLayer == 0 {
		cfg.Output.MaxLayer = defaults.Output.MaxLayer
	}
	if len(cfg.Stitching.ChunkShape) == 0 {
		cfg.Stitching.ChunkShape = defaults.Stitching.ChunkShape
	}
	if cfg.Stitching.Fusion == "" {
		cfg.Stitching.Fusion = defaults.Stitching.Fusion
	}
	if cfg.Stitching.YXBinning == 0 {
		cfg.Stitching.YXBinning = defaults.Stitching.YXBinning
	}
	if cfg.Cache.ChunkSizeMB == 0 {
		cfg.Cache.ChunkSizeMB = defaults.Cache.ChunkSizeMB
	}
	if cfg.Cache.ChunkTTLMinutes == 0 {
		cfg.Cache.ChunkTTLMinutes = defaults.Cache.ChunkTTLMinutes
	}
	if cfg.Cache.MatrixCacheSize == 0 {
		cfg.Cache.MatrixCacheSize = defaults.Cache.MatrixCacheSize
	}
	if cfg.Preview.Colormap == "" {
		cfg.Preview.Colormap = defaults.Preview.Colormap
	}
	if cfg.Preview.Dir == "" {
		cfg.Preview.Dir = defaults.Preview.Dir
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	if c.Acquisition.IndexPath == "" {
		return fmt.Errorf("acquisition.index_path is required")
	}
	if c.Output.RootDir == "" {
		return fmt.Errorf("output.root_dir is required")
	}
	if c.Output.Name == "" {
		return fmt.Errorf("output.name is required")
	}
	switch c.Output.Layout {
	case 18, 24, 96, 384:
	default:
		return fmt.Errorf("output.layout must be 18, 24, 96 or 384, got %d", c.Output.Layout)
	}
	if n := len(c.Stitching.ChunkShape); n < 2 || n > 3 {
		return fmt.Errorf("stitching.chunk_shape must have 2 or 3 axes, got %d", n)
	}
	for _, v := range c.Stitching.ChunkShape {
		if v <= 0 {
			return fmt.Errorf("stitching.chunk_shape axes must be positive, got %v", c.Stitching.ChunkShape)
		}
	}
	if c.Stitching.YXBinning < 1 {
		return fmt.Errorf("stitching.yx_binning must be >= 1, got %d", c.Stitching.YXBinning)
	}
	return nil
}
