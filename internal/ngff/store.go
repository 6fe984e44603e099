package ngff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fmi-faim/hcs-ngff/internal/cache"
	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
	"github.com/klauspost/compress/zstd"
)

// Store is a directory-backed Zarr v3 store. Array and group paths are
// given relative to the store root ("" addresses the root group). Chunks
// are written at full chunk shape, zero-padded past the array edge;
// all-zero chunks are elided and synthesized from the fill value on read.
// Safe for concurrent use.
type Store struct {
	root    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	caches  *cache.Manager
}

// NewStore opens a store rooted at dir. caches may be nil to disable
// chunk caching.
func NewStore(dir string, caches *cache.Manager) (*Store, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Store{root: dir, encoder: encoder, decoder: decoder, caches: caches}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Close releases the codec resources.
func (s *Store) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// WriteGroup writes group metadata at path.
func (s *Store) WriteGroup(path string, attrs map[string]interface{}) error {
	meta := GroupMeta{ZarrFormat: 3, NodeType: "group", Attributes: attrs}
	return s.writeJSON(filepath.Join(s.root, path, "zarr.json"), meta)
}

// CreateArray writes array metadata at path and returns it.
func (s *Store) CreateArray(path string, shape, chunkShape []int, dtype stitching.DType, dimNames []string) (*ArrayMeta, error) {
	if len(shape) == 0 || len(shape) != len(chunkShape) {
		return nil, fmt.Errorf("shape dims (%d) != chunk dims (%d)", len(shape), len(chunkShape))
	}
	for d := range shape {
		if shape[d] <= 0 || chunkShape[d] <= 0 {
			return nil, fmt.Errorf("non-positive extent at dim %d: shape=%v chunks=%v", d, shape, chunkShape)
		}
	}
	meta := newArrayMeta(shape, chunkShape, dtype, dimNames)
	if err := s.writeJSON(filepath.Join(s.root, path, "zarr.json"), meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// LoadArrayMeta reads array metadata from path.
func (s *Store) LoadArrayMeta(path string) (*ArrayMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.root, path, "zarr.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read array metadata at %s: %w", path, err)
	}
	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse array metadata at %s: %w", path, err)
	}
	if meta.NodeType != "array" {
		return nil, fmt.Errorf("node at %s is not an array", path)
	}
	return &meta, nil
}

// LoadGroupMeta reads group metadata from path.
func (s *Store) LoadGroupMeta(path string) (*GroupMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.root, path, "zarr.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read group metadata at %s: %w", path, err)
	}
	var meta GroupMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse group metadata at %s: %w", path, err)
	}
	return &meta, nil
}

// WriteChunk compresses and stores one chunk. data must cover the full
// chunk shape, zero-padded past the array edge. All-zero chunks are not
// written: a missing chunk reads back as fill.
func (s *Store) WriteChunk(path string, meta *ArrayMeta, index []int, data []uint16) error {
	if err := meta.validIndex(index); err != nil {
		return err
	}
	if want := product(meta.ChunkShape()); len(data) != want {
		return fmt.Errorf("chunk %v at %s: got %d samples, expected %d", index, path, len(data), want)
	}

	allZero := true
	for _, v := range data {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil
	}

	dtype, err := meta.DType()
	if err != nil {
		return err
	}
	raw := encodeSamples(data, dtype)
	compressed := s.encoder.EncodeAll(raw, nil)

	chunkPath := filepath.Join(s.root, path, "c", meta.encodeChunkKey(index))
	if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}
	if err := os.WriteFile(chunkPath, compressed, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk %v at %s: %w", index, path, err)
	}
	return nil
}

// ReadChunk returns one chunk at full chunk shape. Missing chunks come
// back filled with zeros.
func (s *Store) ReadChunk(path string, meta *ArrayMeta, index []int) ([]uint16, error) {
	if err := meta.validIndex(index); err != nil {
		return nil, err
	}
	n := product(meta.ChunkShape())
	dtype, err := meta.DType()
	if err != nil {
		return nil, err
	}

	key := cache.ChunkKey(path, index)
	if s.caches != nil {
		if raw, ok := s.caches.GetChunk(key); ok {
			return decodeSamples(raw, n, dtype)
		}
	}

	chunkPath := filepath.Join(s.root, path, "c", meta.encodeChunkKey(index))
	compressed, err := os.ReadFile(chunkPath)
	if os.IsNotExist(err) {
		// Elided chunk: all fill value.
		return make([]uint16, n), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %v at %s: %w", index, path, err)
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed for chunk %v at %s: %w", index, path, err)
	}
	if s.caches != nil {
		if err := s.caches.SetChunk(key, raw); err != nil {
			return nil, fmt.Errorf("failed to cache chunk %v at %s: %w", index, path, err)
		}
	}
	return decodeSamples(raw, n, dtype)
}

// ReadRegion assembles an arbitrary rectangular region from the chunks
// it spans. origin and shape are in array coordinates.
func (s *Store) ReadRegion(path string, meta *ArrayMeta, origin, shape []int) ([]uint16, error) {
	rank := len(meta.Shape)
	if len(origin) != rank || len(shape) != rank {
		return nil, fmt.Errorf("region rank mismatch: array has %d dims", rank)
	}
	for d := 0; d < rank; d++ {
		if origin[d] < 0 || shape[d] <= 0 || origin[d]+shape[d] > meta.Shape[d] {
			return nil, fmt.Errorf("region out of bounds at dim %d: origin=%v shape=%v array=%v", d, origin, shape, meta.Shape)
		}
	}

	out := make([]uint16, product(shape))
	outStrides := rowMajorStrides(shape)
	cs := meta.ChunkShape()
	chunkStrides := rowMajorStrides(cs)

	lo := make([]int, rank)
	hi := make([]int, rank)
	for d := 0; d < rank; d++ {
		lo[d] = origin[d] / cs[d]
		hi[d] = (origin[d] + shape[d] - 1) / cs[d]
	}

	index := append([]int(nil), lo...)
	start := make([]int, rank)
	end := make([]int, rank)
	for {
		chunk, err := s.ReadChunk(path, meta, index)
		if err != nil {
			return nil, err
		}

		for d := 0; d < rank; d++ {
			chunkStart := index[d] * cs[d]
			start[d] = maxInt(origin[d], chunkStart)
			end[d] = minInt(origin[d]+shape[d], chunkStart+cs[d])
		}

		var copyDim func(d, outOff, chunkOff int)
		copyDim = func(d, outOff, chunkOff int) {
			outOff += (start[d] - origin[d]) * outStrides[d]
			chunkOff += (start[d] - index[d]*cs[d]) * chunkStrides[d]
			if d == rank-1 {
				n := end[d] - start[d]
				copy(out[outOff:outOff+n], chunk[chunkOff:chunkOff+n])
				return
			}
			for i := start[d]; i < end[d]; i++ {
				copyDim(d+1, outOff, chunkOff)
				outOff += outStrides[d]
				chunkOff += chunkStrides[d]
			}
		}
		copyDim(0, 0, 0)

		d := rank - 1
		for d >= 0 {
			index[d]++
			if index[d] <= hi[d] {
				break
			}
			index[d] = lo[d]
			d--
		}
		if d < 0 {
			break
		}
	}
	return out, nil
}

func (s *Store) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func encodeSamples(data []uint16, dtype stitching.DType) []byte {
	if dtype == stitching.DTypeUint16 {
		raw := make([]byte, 2*len(data))
		for i, v := range data {
			raw[2*i] = byte(v)
			raw[2*i+1] = byte(v >> 8)
		}
		return raw
	}
	raw := make([]byte, len(data))
	for i, v := range data {
		raw[i] = byte(v)
	}
	return raw
}

func decodeSamples(raw []byte, n int, dtype stitching.DType) ([]uint16, error) {
	if want := n * dtype.BytesPerSample(); len(raw) != want {
		return nil, fmt.Errorf("chunk size mismatch: got %d bytes, expected %d", len(raw), want)
	}
	out := make([]uint16, n)
	if dtype == stitching.DTypeUint16 {
		for i := range out {
			out[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
		}
		return out, nil
	}
	for i := range out {
		out[i] = uint16(raw[i])
	}
	return out, nil
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
