// Package ngff reads and writes OME-Zarr (Zarr v3) image stores: chunked
// arrays with zstd-compressed chunks, group attributes for multiscales,
// channel windows and plate layout, and on-demand resolution pyramids.
package ngff

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

// ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	ZarrFormat       int                    `json:"zarr_format"`
	NodeType         string                 `json:"node_type"`
	Shape            []int                  `json:"shape"`
	DataType         string                 `json:"data_type"`
	ChunkGrid        ChunkGrid              `json:"chunk_grid"`
	ChunkKeyEncoding ChunkKeyEncoding       `json:"chunk_key_encoding"`
	FillValue        interface{}            `json:"fill_value"`
	Codecs           []Codec                `json:"codecs"`
	DimensionNames   []string               `json:"dimension_names,omitempty"`
	Attributes       map[string]interface{} `json:"attributes,omitempty"`
}

// ChunkGrid describes the regular chunk grid of an array.
type ChunkGrid struct {
	Name          string `json:"name"`
	Configuration struct {
		ChunkShape []int `json:"chunk_shape"`
	} `json:"configuration"`
}

// ChunkKeyEncoding describes how chunk indices map to store keys.
type ChunkKeyEncoding struct {
	Name          string `json:"name"`
	Configuration struct {
		Separator string `json:"separator"`
	} `json:"configuration"`
}

// Codec is one entry of an array's codec pipeline.
type Codec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// GroupMeta represents Zarr v3 group metadata (zarr.json).
type GroupMeta struct {
	ZarrFormat int                    `json:"zarr_format"`
	NodeType   string                 `json:"node_type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// newArrayMeta builds v3 metadata for a little-endian zstd-compressed array.
func newArrayMeta(shape, chunkShape []int, dtype stitching.DType, dimNames []string) *ArrayMeta {
	meta := &ArrayMeta{
		ZarrFormat:     3,
		NodeType:       "array",
		Shape:          append([]int(nil), shape...),
		DataType:       dtype.String(),
		FillValue:      0,
		DimensionNames: dimNames,
		Codecs: []Codec{
			{Name: "bytes", Configuration: map[string]interface{}{"endian": "little"}},
			{Name: "zstd", Configuration: map[string]interface{}{"level": 3, "checksum": false}},
		},
	}
	meta.ChunkGrid.Name = "regular"
	meta.ChunkGrid.Configuration.ChunkShape = append([]int(nil), chunkShape...)
	meta.ChunkKeyEncoding.Name = "default"
	meta.ChunkKeyEncoding.Configuration.Separator = "/"
	return meta
}

// DType maps the array's data_type back to a sample tag.
func (m *ArrayMeta) DType() (stitching.DType, error) {
	return stitching.ParseDType(m.DataType)
}

// ChunkShape returns the configured chunk shape.
func (m *ArrayMeta) ChunkShape() []int {
	return m.ChunkGrid.Configuration.ChunkShape
}

// NumChunks returns the chunk-grid extent per dimension.
func (m *ArrayMeta) NumChunks() []int {
	n := make([]int, len(m.Shape))
	for d := range m.Shape {
		n[d] = ceilDiv(m.Shape[d], m.ChunkShape()[d])
	}
	return n
}

// validIndex checks a chunk index against the grid extent.
func (m *ArrayMeta) validIndex(index []int) error {
	if len(index) != len(m.Shape) {
		return fmt.Errorf("invalid chunk index: got %d dims, expected %d", len(index), len(m.Shape))
	}
	for d, idx := range index {
		if idx < 0 || idx*m.ChunkShape()[d] >= m.Shape[d] {
			return fmt.Errorf("chunk index out of range at dim %d: index=%d shape=%d", d, idx, m.Shape[d])
		}
	}
	return nil
}

// chunkShapeAt returns the extent of valid data inside a chunk. Trailing
// chunks cover less than the full chunk shape.
func (m *ArrayMeta) chunkShapeAt(index []int) ([]int, error) {
	if err := m.validIndex(index); err != nil {
		return nil, err
	}
	actual := make([]int, len(m.Shape))
	for d := range m.Shape {
		chunkLen := m.ChunkShape()[d]
		remaining := m.Shape[d] - index[d]*chunkLen
		if remaining < chunkLen {
			chunkLen = remaining
		}
		actual[d] = chunkLen
	}
	return actual, nil
}

func (m *ArrayMeta) encodeChunkKey(index []int) string {
	sep := m.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}
	parts := make([]string, len(index))
	for i, idx := range index {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, sep)
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
