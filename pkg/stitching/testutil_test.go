package stitching

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// fakeReader serves images and correction matrices from memory.
type fakeReader struct {
	images   map[string]*Stack
	matrices map[string]*mat.Dense
}

func (r *fakeReader) ReadImage(path string) (*Stack, error) {
	img, ok := r.images[path]
	if !ok {
		return nil, fmt.Errorf("no such image: %s", path)
	}
	cp := NewStack(img.Shape, img.DType)
	copy(cp.Data, img.Data)
	return cp, nil
}

func (r *fakeReader) ReadMatrix(path string) (*mat.Dense, error) {
	m, ok := r.matrices[path]
	if !ok {
		return nil, fmt.Errorf("no such matrix: %s", path)
	}
	return m, nil
}

// constTile is a fully covered tile with a constant sample value.
type constTile struct {
	pos   TilePosition
	shape []int
	value uint16
}

func (t *constTile) Position() TilePosition { return t.pos }

func (t *constTile) Shape() []int { return t.shape }

func (t *constTile) LoadData() (*Stack, error) {
	s := NewStack(zyxShape(t.shape), DTypeUint16)
	for i := range s.Data {
		s.Data[i] = t.value
	}
	return s, nil
}

func (t *constTile) LoadDataMask() *Mask {
	return Filled(zyxShape(t.shape), true)
}

func (t *constTile) WithPosition(pos TilePosition) Tile {
	c := *t
	c.pos = pos
	return &c
}

func zyxShape(shape []int) [3]int {
	if len(shape) == 3 {
		return [3]int{shape[0], shape[1], shape[2]}
	}
	return [3]int{1, shape[0], shape[1]}
}

func constStack(shape [3]int, dtype DType, value uint16) *Stack {
	s := NewStack(shape, dtype)
	for i := range s.Data {
		s.Data[i] = value
	}
	return s
}
