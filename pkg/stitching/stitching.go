// Package stitching assembles position-tagged microscope tiles into a single
// chunked 5-D (time, channel, z, y, x) image without materializing the full
// mosaic in memory. Tiles carry their pixel position in a shared coordinate
// space; the stitcher maps every output chunk to the tiles overlapping it and
// computes chunks on demand by warping tiles into chunk-local coordinates and
// fusing overlaps with a pluggable policy.
package stitching

import "fmt"

// DType identifies the sample type of loaded pixel data. Samples are carried
// as uint16 regardless of DType; the tag fixes the clipping range and the
// on-disk element width.
type DType uint8

const (
	// DTypeUint16 is the default sample type of the supported instruments.
	DTypeUint16 DType = iota
	// DTypeUint8 covers 8-bit acquisitions.
	DTypeUint8
	// DTypeBool tags presence masks (0 or 1 per sample).
	DTypeBool
)

// MaxValue returns the largest representable sample value.
func (d DType) MaxValue() uint16 {
	switch d {
	case DTypeUint8:
		return 255
	case DTypeBool:
		return 1
	default:
		return 65535
	}
}

// BytesPerSample returns the on-disk element width.
func (d DType) BytesPerSample() int {
	if d == DTypeUint16 {
		return 2
	}
	return 1
}

func (d DType) String() string {
	switch d {
	case DTypeUint8:
		return "uint8"
	case DTypeBool:
		return "bool"
	default:
		return "uint16"
	}
}

// ParseDType maps a config/metadata name to a DType.
func ParseDType(name string) (DType, error) {
	switch name {
	case "uint16", "":
		return DTypeUint16, nil
	case "uint8":
		return DTypeUint8, nil
	case "bool":
		return DTypeBool, nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %s", name)
	}
}

// Stack is a dense (z, y, x) sample buffer.
type Stack struct {
	Shape [3]int
	DType DType
	Data  []uint16
}

// NewStack allocates a zero-filled stack.
func NewStack(shape [3]int, dtype DType) *Stack {
	return &Stack{
		Shape: shape,
		DType: dtype,
		Data:  make([]uint16, shape[0]*shape[1]*shape[2]),
	}
}

// At returns the sample at (z, y, x).
func (s *Stack) At(z, y, x int) uint16 {
	return s.Data[(z*s.Shape[1]+y)*s.Shape[2]+x]
}

// Set writes the sample at (z, y, x).
func (s *Stack) Set(z, y, x int, v uint16) {
	s.Data[(z*s.Shape[1]+y)*s.Shape[2]+x] = v
}

// Mask is a dense (z, y, x) presence buffer. True marks samples backed by
// acquired data.
type Mask struct {
	Shape [3]int
	Data  []bool
}

// NewMask allocates an all-false mask.
func NewMask(shape [3]int) *Mask {
	return &Mask{Shape: shape, Data: make([]bool, shape[0]*shape[1]*shape[2])}
}

// Filled allocates a mask with every sample set to v.
func Filled(shape [3]int, v bool) *Mask {
	m := NewMask(shape)
	if v {
		for i := range m.Data {
			m.Data[i] = true
		}
	}
	return m
}

// At returns the presence flag at (z, y, x).
func (m *Mask) At(z, y, x int) bool {
	return m.Data[(z*m.Shape[1]+y)*m.Shape[2]+x]
}

// Weights is a dense (z, y, x) buffer of fusion weights: each tile's
// distance to the nearest edge of its own footprint, warped into chunk
// coordinates. Zero marks samples not backed by acquired data.
type Weights struct {
	Shape [3]int
	Data  []float64
}

// NewWeights allocates a zero-filled weight buffer.
func NewWeights(shape [3]int) *Weights {
	return &Weights{Shape: shape, Data: make([]float64, shape[0]*shape[1]*shape[2])}
}

// At returns the weight at (z, y, x).
func (w *Weights) At(z, y, x int) float64 {
	return w.Data[(z*w.Shape[1]+y)*w.Shape[2]+x]
}

// Array5 is a materialized 5-D (time, channel, z, y, x) image.
type Array5 struct {
	Shape [5]int
	DType DType
	Data  []uint16
}

// NewArray5 allocates a zero-filled 5-D array.
func NewArray5(shape [5]int, dtype DType) *Array5 {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Array5{Shape: shape, DType: dtype, Data: make([]uint16, n)}
}

// At returns the sample at (t, c, z, y, x).
func (a *Array5) At(t, c, z, y, x int) uint16 {
	i := (((t*a.Shape[1]+c)*a.Shape[2]+z)*a.Shape[3]+y)*a.Shape[4] + x
	return a.Data[i]
}

// padShape5 left-pads a 2-D or 3-D shape with ones up to rank 5, so a (y, x)
// tile is treated as (1, 1, 1, y, x).
func padShape5(shape []int) [5]int {
	var out [5]int
	for i := range out {
		out[i] = 1
	}
	copy(out[5-len(shape):], shape)
	return out
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
