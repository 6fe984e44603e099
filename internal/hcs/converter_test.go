package hcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmi-faim/hcs-ngff/internal/ngff"
	"github.com/fmi-faim/hcs-ngff/internal/tiffio"
	"github.com/fmi-faim/hcs-ngff/pkg/histogram"
	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

// fixturePlate writes two side-by-side 8x8 tiles for well A01 and assembles
// the plate from them.
func fixturePlate(t *testing.T) *Plate {
	t.Helper()
	dir := t.TempDir()
	left := filepath.Join(dir, "f0.tif")
	right := filepath.Join(dir, "f1.tif")
	writeConstTIFF(t, left, 8, 8, 100)
	writeConstTIFF(t, right, 8, 8, 200)

	records := []FieldRecord{
		{Well: "A01", Field: 0, Channel: 0, Y: 0, X: 0, Path: left},
		{Well: "A01", Field: 1, Channel: 0, Y: 0, X: 8, Path: right},
	}
	plate, err := BuildPlate(records, ImageXpressSource{}, PlateOptions{
		Alignment: stitching.StageAlignment,
		YXSpacing: [2]float64{1, 1},
		Reader:    tiffio.NewReader(nil),
	})
	if err != nil {
		t.Fatalf("BuildPlate: %v", err)
	}
	return plate
}

func writeConstTIFF(t *testing.T, path string, height, width int, value uint16) {
	t.Helper()
	data := make([]uint16, height*width)
	for i := range data {
		data[i] = value
	}
	if err := tiffio.WriteGray16(path, height, width, data); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
}

func newPlateStore(t *testing.T) *ngff.Store {
	t.Helper()
	store, err := ngff.NewStore(filepath.Join(t.TempDir(), "plate.zarr"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestConvertPlate(t *testing.T) {
	plate := fixturePlate(t)
	store := newPlateStore(t)

	conv, err := NewConverter(store, plate, ConvertOptions{
		PlateName:  "sample-plate",
		Layout:     96,
		ChunkShape: []int{8, 8},
		MaxLayer:   1,
		YXBinning:  1,
		FuseFunc:   stitching.FuseMean,
		Workers:    2,
	})
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	if err := conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	root, err := store.LoadGroupMeta("")
	if err != nil {
		t.Fatalf("load plate group: %v", err)
	}
	plateAttrs, ok := root.Attributes["plate"].(map[string]interface{})
	if !ok {
		t.Fatal("plate group carries no plate attributes")
	}
	if plateAttrs["name"] != "sample-plate" {
		t.Fatalf("unexpected plate name: %v", plateAttrs["name"])
	}

	meta, err := store.LoadArrayMeta("A/01/0/0")
	if err != nil {
		t.Fatalf("load well array: %v", err)
	}
	if len(meta.Shape) != 3 || meta.Shape[0] != 1 || meta.Shape[1] != 8 || meta.Shape[2] != 16 {
		t.Fatalf("unexpected array shape: %v", meta.Shape)
	}
	data, err := store.ReadRegion("A/01/0/0", meta, []int{0, 0, 0}, []int{1, 8, 16})
	if err != nil {
		t.Fatalf("read well image: %v", err)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			want := uint16(100)
			if x >= 8 {
				want = 200
			}
			if got := data[y*16+x]; got != want {
				t.Fatalf("pixel (%d, %d): expected %d, got %d", y, x, want, got)
			}
		}
	}

	level1, err := store.LoadArrayMeta("A/01/0/1")
	if err != nil {
		t.Fatalf("load pyramid level: %v", err)
	}
	if level1.Shape[1] != 4 || level1.Shape[2] != 8 {
		t.Fatalf("unexpected level 1 shape: %v", level1.Shape)
	}
	coarse, err := store.ReadRegion("A/01/0/1", level1, []int{0, 0, 0}, []int{1, 4, 8})
	if err != nil {
		t.Fatalf("read pyramid level: %v", err)
	}
	if coarse[0] != 100 || coarse[7] != 200 {
		t.Fatalf("unexpected coarsened values: %d, %d", coarse[0], coarse[7])
	}

	if _, err := store.LoadGroupMeta("A/01"); err != nil {
		t.Fatalf("load well group: %v", err)
	}
	image, err := store.LoadGroupMeta("A/01/0")
	if err != nil {
		t.Fatalf("load image group: %v", err)
	}
	if _, ok := image.Attributes["multiscales"]; !ok {
		t.Fatal("image group carries no multiscales")
	}
	if _, ok := image.Attributes["omero"]; !ok {
		t.Fatal("image group carries no omero channels")
	}

	hist, err := histogram.Load(filepath.Join(store.Root(), "A", "01", "0", "C01_C01_histogram.bin"))
	if err != nil {
		t.Fatalf("load channel histogram: %v", err)
	}
	if hist.Min() != 100 || hist.Max() != 200 {
		t.Fatalf("unexpected histogram range: [%d, %d]", hist.Min(), hist.Max())
	}
}

func TestConvertPlateRefusesExistingOutput(t *testing.T) {
	plate := fixturePlate(t)
	store := newPlateStore(t)

	opts := ConvertOptions{
		PlateName:  "sample-plate",
		Layout:     96,
		ChunkShape: []int{8, 8},
		YXBinning:  1,
	}
	conv, err := NewConverter(store, plate, opts)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	if err := conv.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := conv.Run(context.Background()); err == nil {
		t.Fatal("expected error for existing output without overwrite")
	}

	opts.Overwrite = true
	conv, err = NewConverter(store, plate, opts)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	if err := conv.Run(context.Background()); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
}

func TestConvertAcquisitionMask(t *testing.T) {
	plate := fixturePlate(t)
	store := newPlateStore(t)

	conv, err := NewConverter(store, plate, ConvertOptions{
		PlateName:            "sample-plate",
		Layout:               96,
		ChunkShape:           []int{8, 8},
		YXBinning:            1,
		FuseFunc:             stitching.FuseFW,
		BuildAcquisitionMask: true,
	})
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	if err := conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta, err := store.LoadArrayMeta("A/01/0/0")
	if err != nil {
		t.Fatalf("load mask array: %v", err)
	}
	if meta.DataType != "bool" {
		t.Fatalf("expected bool mask array, got %s", meta.DataType)
	}
	data, err := store.ReadRegion("A/01/0/0", meta, []int{0, 0, 0}, []int{1, 8, 16})
	if err != nil {
		t.Fatalf("read mask: %v", err)
	}
	for i, v := range data {
		if v != 1 {
			t.Fatalf("sample %d: expected fully acquired mask, got %d", i, v)
		}
	}

	if _, err := os.Stat(filepath.Join(store.Root(), "A", "01", "0", "C01_C01_histogram.bin")); !os.IsNotExist(err) {
		t.Fatal("mask conversion must not write histograms")
	}
}

func TestNewConverterValidation(t *testing.T) {
	plate := fixturePlate(t)
	store := newPlateStore(t)

	base := ConvertOptions{Layout: 96, ChunkShape: []int{8, 8}, YXBinning: 1}

	bad := base
	bad.ChunkShape = []int{8}
	if _, err := NewConverter(store, plate, bad); err == nil {
		t.Fatal("expected error for 1-D chunk shape")
	}

	bad = base
	bad.ChunkShape = []int{2, 8, 8}
	if _, err := NewConverter(store, plate, bad); err == nil {
		t.Fatal("expected error for chunk rank above tile rank")
	}

	bad = base
	bad.YXBinning = 3
	if _, err := NewConverter(store, plate, bad); err == nil {
		t.Fatal("expected error for binning not dividing the chunk shape")
	}

	bad = base
	bad.MaxLayer = -1
	if _, err := NewConverter(store, plate, bad); err == nil {
		t.Fatal("expected error for negative max layer")
	}
}
