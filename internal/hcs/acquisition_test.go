package hcs

import (
	"strings"
	"testing"

	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

func TestNewSource(t *testing.T) {
	for _, name := range []string{"imagexpress", "cellvoyager", "visiview"} {
		src, err := NewSource(name)
		if err != nil {
			t.Fatalf("NewSource(%q): %v", name, err)
		}
		if src.Name() != name {
			t.Fatalf("expected %q, got %q", name, src.Name())
		}
	}
	if _, err := NewSource("operetta"); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestImageXpressAssembleWell(t *testing.T) {
	reader := &memReader{images: map[string]*stitching.Stack{
		"f0.tif": plane(4, 4, 1),
		"f1.tif": plane(4, 4, 2),
	}}
	records := []FieldRecord{
		{Well: "A01", Field: 0, Channel: 0, Y: 0, X: 0, Path: "f0.tif"},
		{Well: "A01", Field: 1, Channel: 0, Y: 0, X: 4, Path: "f1.tif"},
		{Well: "A01", Field: 2, Channel: 0, Y: 4, X: 0, Path: ""},
	}
	tiles, err := ImageXpressSource{}.AssembleWell(records, AssembleOptions{
		PlaneShape: [2]int{4, 4},
		Reader:     reader,
	})
	if err != nil {
		t.Fatalf("AssembleWell: %v", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("expected 2 tiles after skipping the empty path, got %d", len(tiles))
	}
	if p := tiles[1].Position(); p.Y != 0 || p.X != 4 {
		t.Fatalf("unexpected tile position: %v", p)
	}
	if got := len(tiles[0].Shape()); got != 2 {
		t.Fatalf("planes must be 2-D tiles, got rank %d", got)
	}
}

func TestAxesDetection(t *testing.T) {
	flat := []FieldRecord{{Well: "A01"}, {Well: "A01", Field: 1}}
	if got := (ImageXpressSource{}).Axes(flat); strings.Join(got, "") != "cyx" {
		t.Fatalf("expected c,y,x for a flat well, got %v", got)
	}
	stacked := []FieldRecord{{Well: "A01"}, {Well: "A01", Z: 2}}
	if got := (ImageXpressSource{}).Axes(stacked); strings.Join(got, "") != "czyx" {
		t.Fatalf("expected c,z,y,x for a stacked well, got %v", got)
	}
	timed := []FieldRecord{{Well: "A01"}, {Well: "A01", Time: 1, Z: 1}}
	if got := (ImageXpressSource{}).Axes(timed); strings.Join(got, "") != "tczyx" {
		t.Fatalf("expected t,c,z,y,x for a timed stack, got %v", got)
	}
}

func TestCellVoyagerToleratesMissingPlanes(t *testing.T) {
	reader := &memReader{images: map[string]*stitching.Stack{
		"z0.tif": plane(2, 2, 1),
		"z2.tif": plane(2, 2, 3),
	}}
	records := []FieldRecord{
		{Well: "A01", Field: 0, Z: 0, Path: "z0.tif"},
		{Well: "A01", Field: 0, Z: 1, Path: ""},
		{Well: "A01", Field: 0, Z: 2, Path: "z2.tif"},
	}
	tiles, err := CellVoyagerSource{}.AssembleWell(records, AssembleOptions{
		PlaneShape: [2]int{2, 2},
		Reader:     reader,
	})
	if err != nil {
		t.Fatalf("AssembleWell: %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("expected one stacked tile, got %d", len(tiles))
	}
	stack := tiles[0].(*stitching.StackedTile)
	if len(stack.Tiles) != 3 {
		t.Fatalf("expected depth 3, got %d", len(stack.Tiles))
	}
	if stack.Tiles[1] != nil {
		t.Fatal("skipped plane must stay nil")
	}
	mask := stack.LoadDataMask()
	if mask.At(0, 0, 0) != true || mask.At(1, 0, 0) != false || mask.At(2, 0, 0) != true {
		t.Fatal("mask must mark only acquired planes")
	}
}

func TestCellVoyagerSkipsEmptyGroups(t *testing.T) {
	records := []FieldRecord{
		{Well: "A01", Field: 0, Z: 0, Path: ""},
		{Well: "A01", Field: 0, Z: 1, Path: ""},
	}
	tiles, err := CellVoyagerSource{}.AssembleWell(records, AssembleOptions{PlaneShape: [2]int{2, 2}})
	if err != nil {
		t.Fatalf("AssembleWell: %v", err)
	}
	if len(tiles) != 0 {
		t.Fatalf("a group with no acquired planes must be skipped, got %d tiles", len(tiles))
	}
}

func TestVisiViewRejectsGaps(t *testing.T) {
	records := []FieldRecord{
		{Well: "A01", Field: 0, Z: 0, Path: "z0.tif"},
		{Well: "A01", Field: 0, Z: 1, Path: ""},
	}
	if _, err := (VisiViewSource{}).AssembleWell(records, AssembleOptions{PlaneShape: [2]int{2, 2}}); err == nil {
		t.Fatal("expected error for a stack gap")
	}

	sparse := []FieldRecord{
		{Well: "A01", Field: 0, Z: 0, Path: "z0.tif"},
		{Well: "A01", Field: 0, Z: 2, Path: "z2.tif"},
	}
	if _, err := (VisiViewSource{}).AssembleWell(sparse, AssembleOptions{PlaneShape: [2]int{2, 2}}); err == nil {
		t.Fatal("expected error for a missing z plane")
	}
}

func TestGroupStacksRejectsInconsistentPositions(t *testing.T) {
	records := []FieldRecord{
		{Well: "A01", Field: 0, Z: 0, Y: 0, X: 0, Path: "a.tif"},
		{Well: "A01", Field: 0, Z: 1, Y: 0, X: 8, Path: "b.tif"},
	}
	if _, _, err := groupStacks(records); err == nil {
		t.Fatal("expected error for planes disagreeing on stage position")
	}
}

func TestBuildPlate(t *testing.T) {
	reader := &memReader{images: map[string]*stitching.Stack{
		"a0.tif": plane(4, 4, 10),
		"a1.tif": plane(4, 4, 20),
		"b0.tif": plane(4, 4, 30),
	}}
	records := []FieldRecord{
		{Well: "A01", Field: 0, Channel: 0, Y: 0, X: 0, Path: "a0.tif"},
		{Well: "A01", Field: 1, Channel: 1, Y: 0, X: 4, Path: "a1.tif"},
		{Well: "B02", Field: 0, Channel: 0, Y: 0, X: 0, Path: "b0.tif"},
	}
	plate, err := BuildPlate(records, ImageXpressSource{}, PlateOptions{
		Alignment: stitching.StageAlignment,
		YXSpacing: [2]float64{1.3, 1.3},
		Reader:    reader,
	})
	if err != nil {
		t.Fatalf("BuildPlate: %v", err)
	}

	wells := plate.Wells()
	if len(wells) != 2 || wells[0].Name() != "A01" || wells[1].Name() != "B02" {
		t.Fatalf("unexpected wells: %v", wells)
	}
	row, col := wells[1].RowCol()
	if row != "B" || col != "02" {
		t.Fatalf("RowCol: expected B 02, got %s %s", row, col)
	}
	if wells[0].Shape() != [5]int{1, 2, 1, 4, 8} {
		t.Fatalf("unexpected A01 shape: %v", wells[0].Shape())
	}
	if plate.CommonWellShape() != [5]int{1, 2, 1, 4, 8} {
		t.Fatalf("unexpected common shape: %v", plate.CommonWellShape())
	}

	channels := plate.Channels()
	if len(channels) != 2 || channels[0].Name != "C01" || channels[1].Name != "C02" {
		t.Fatalf("unexpected default channels: %v", channels)
	}
}

func TestBuildPlateWellSelection(t *testing.T) {
	reader := &memReader{images: map[string]*stitching.Stack{
		"a0.tif": plane(4, 4, 10),
	}}
	records := []FieldRecord{
		{Well: "A01", Path: "a0.tif"},
		{Well: "B02", Path: "a0.tif"},
	}
	plate, err := BuildPlate(records, ImageXpressSource{}, PlateOptions{
		Alignment: stitching.StageAlignment,
		Reader:    reader,
		Wells:     []string{"B02"},
	})
	if err != nil {
		t.Fatalf("BuildPlate: %v", err)
	}
	if len(plate.Wells()) != 1 || plate.Wells()[0].Name() != "B02" {
		t.Fatalf("unexpected selection: %v", plate.Wells())
	}

	if _, err := BuildPlate(records, ImageXpressSource{}, PlateOptions{
		Reader: reader,
		Wells:  []string{"Z99"},
	}); err == nil {
		t.Fatal("expected error when no records match the selection")
	}
}

func TestBuildPlateRequiresImages(t *testing.T) {
	records := []FieldRecord{{Well: "A01", Path: ""}}
	if _, err := BuildPlate(records, ImageXpressSource{}, PlateOptions{
		Reader: &memReader{},
	}); err == nil {
		t.Fatal("expected error for an index without image files")
	}
	if _, err := BuildPlate(records, ImageXpressSource{}, PlateOptions{}); err == nil {
		t.Fatal("expected error for a missing reader")
	}
}

func TestCoordinateTransformations(t *testing.T) {
	well := &Well{
		name:      "A01",
		yxSpacing: [2]float64{1.5, 1.5},
		zSpacing:  3,
	}
	transforms := well.CoordinateTransformations(2, 2, 4)
	if len(transforms) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(transforms))
	}
	level0 := transforms[0][0].Scale
	want0 := []float64{1, 3, 3, 3}
	for i := range want0 {
		if level0[i] != want0[i] {
			t.Fatalf("level 0 scale: expected %v, got %v", want0, level0)
		}
	}
	level2 := transforms[2][0].Scale
	want2 := []float64{1, 3, 12, 12}
	for i := range want2 {
		if level2[i] != want2[i] {
			t.Fatalf("level 2 scale: expected %v, got %v", want2, level2)
		}
	}

	flat := &Well{name: "A01", yxSpacing: [2]float64{2, 2}}
	scale := flat.CoordinateTransformations(0, 1, 3)[0][0].Scale
	wantFlat := []float64{1, 2, 2}
	for i := range wantFlat {
		if scale[i] != wantFlat[i] {
			t.Fatalf("flat scale: expected %v, got %v", wantFlat, scale)
		}
	}
}
