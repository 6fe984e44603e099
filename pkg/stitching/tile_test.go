package stitching

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func grayImage(shape [2]int, values []uint16) *Stack {
	s := NewStack([3]int{1, shape[0], shape[1]}, DTypeUint16)
	copy(s.Data, values)
	return s
}

func TestImageTileLoadData(t *testing.T) {
	reader := &fakeReader{
		images: map[string]*Stack{
			"a.tif": grayImage([2]int{2, 2}, []uint16{100, 200, 10, 50}),
		},
	}
	tile := &ImageTile{Path: "a.tif", PlaneShape: [2]int{2, 2}, Reader: reader}
	data, err := tile.LoadData()
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	for i, want := range []uint16{100, 200, 10, 50} {
		if data.Data[i] != want {
			t.Fatalf("sample %d: expected %d, got %d", i, want, data.Data[i])
		}
	}
	mask := tile.LoadDataMask()
	for i, v := range mask.Data {
		if !v {
			t.Fatalf("mask sample %d: expected full coverage", i)
		}
	}
}

func TestImageTileCorrections(t *testing.T) {
	bg := mat.NewDense(2, 2, []float64{20, 20, 20, 20})
	icm := mat.NewDense(2, 2, []float64{2, 2, 2, 2})
	reader := &fakeReader{
		images: map[string]*Stack{
			"a.tif": grayImage([2]int{2, 2}, []uint16{100, 200, 10, 50}),
		},
		matrices: map[string]*mat.Dense{"bg.tif": bg, "icm.tif": icm},
	}
	tile := &ImageTile{
		Path:                       "a.tif",
		PlaneShape:                 [2]int{2, 2},
		Reader:                     reader,
		BackgroundCorrectionPath:   "bg.tif",
		IlluminationCorrectionPath: "icm.tif",
	}
	data, err := tile.LoadData()
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	// (v - 20) / 2, negatives clipped to zero before division.
	for i, want := range []uint16{40, 90, 0, 15} {
		if data.Data[i] != want {
			t.Fatalf("sample %d: expected %d, got %d", i, want, data.Data[i])
		}
	}
}

func TestImageTileShapeMismatch(t *testing.T) {
	reader := &fakeReader{
		images: map[string]*Stack{
			"a.tif": grayImage([2]int{2, 2}, []uint16{1, 2, 3, 4}),
		},
	}
	tile := &ImageTile{Path: "a.tif", PlaneShape: [2]int{4, 4}, Reader: reader}
	if _, err := tile.LoadData(); err == nil {
		t.Fatal("expected error for declared/decoded shape mismatch")
	}
}

func TestImageTileCorrectionShapeMismatch(t *testing.T) {
	reader := &fakeReader{
		images: map[string]*Stack{
			"a.tif": grayImage([2]int{2, 2}, []uint16{1, 2, 3, 4}),
		},
		matrices: map[string]*mat.Dense{"bg.tif": mat.NewDense(3, 3, nil)},
	}
	tile := &ImageTile{
		Path:                     "a.tif",
		PlaneShape:               [2]int{2, 2},
		Reader:                   reader,
		BackgroundCorrectionPath: "bg.tif",
	}
	if _, err := tile.LoadData(); err == nil {
		t.Fatal("expected error for correction matrix shape mismatch")
	}
}

func TestStackedTileMissingPlanes(t *testing.T) {
	reader := &fakeReader{
		images: map[string]*Stack{
			"z0.tif": grayImage([2]int{2, 2}, []uint16{1, 1, 1, 1}),
			"z2.tif": grayImage([2]int{2, 2}, []uint16{3, 3, 3, 3}),
		},
	}
	tile := &StackedTile{
		Tiles: []*ImageTile{
			{Path: "z0.tif", PlaneShape: [2]int{2, 2}, Reader: reader},
			nil,
			{Path: "z2.tif", PlaneShape: [2]int{2, 2}, Reader: reader},
		},
		PlaneShape: [2]int{2, 2},
	}
	if got := tile.Shape(); got[0] != 3 || got[1] != 2 || got[2] != 2 {
		t.Fatalf("unexpected stack shape: %v", got)
	}

	data, err := tile.LoadData()
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	mask := tile.LoadDataMask()
	for z := 0; z < 3; z++ {
		want := uint16(0)
		acquired := z != 1
		if z == 0 {
			want = 1
		} else if z == 2 {
			want = 3
		}
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				if data.At(z, y, x) != want {
					t.Fatalf("plane %d: expected %d, got %d", z, want, data.At(z, y, x))
				}
				if mask.At(z, y, x) != acquired {
					t.Fatalf("plane %d mask: expected %v", z, acquired)
				}
			}
		}
	}
}

func TestShiftToOrigin(t *testing.T) {
	tiles := []Tile{
		&constTile{pos: TilePosition{Time: 1, Z: 2, Y: 30, X: 40}, shape: []int{10, 10}},
		&constTile{pos: TilePosition{Time: 1, Z: 3, Y: 50, X: 40}, shape: []int{10, 10}},
	}
	shifted := ShiftToOrigin(tiles)

	want := []TilePosition{
		{Time: 0, Z: 0, Y: 0, X: 0},
		{Time: 0, Z: 1, Y: 20, X: 0},
	}
	for i, p := range want {
		if shifted[i].Position() != p {
			t.Fatalf("tile %d: expected %v, got %v", i, p, shifted[i].Position())
		}
	}
	if tiles[0].Position().Y != 30 {
		t.Fatal("input tiles must not be mutated")
	}
}
