// Package histogram provides an incremental histogram over non-negative
// integer pixel data. It supports merging histograms with partially
// overlapping or disjoint integer ranges, which makes it usable as an
// associative, commutative reduction: workers build partial histograms
// independently and a coordinator combines them in any order.
package histogram

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
)

// UIntHistogram counts integer pixel values with one bin per value.
// frequencies[i] is the count of value offset + i. An empty histogram is the
// identity element for Combine. The covered range never shrinks once grown.
type UIntHistogram struct {
	offset      int
	frequencies []uint64
}

// New returns an empty histogram.
func New() *UIntHistogram {
	return &UIntHistogram{}
}

// FromData builds a histogram of data. Fails on negative values.
func FromData(data []int) (*UIntHistogram, error) {
	h := New()
	if err := h.Update(data); err != nil {
		return nil, err
	}
	return h, nil
}

// Empty reports whether the histogram has seen no data.
func (h *UIntHistogram) Empty() bool { return len(h.frequencies) == 0 }

// Offset returns the smallest covered value.
func (h *UIntHistogram) Offset() int { return h.offset }

// NBins returns the number of covered integer values.
func (h *UIntHistogram) NBins() int { return len(h.frequencies) }

// Frequencies returns a copy of the bin counts.
func (h *UIntHistogram) Frequencies() []uint64 {
	out := make([]uint64, len(h.frequencies))
	copy(out, h.frequencies)
	return out
}

// Update adds data to the histogram, extending the covered range as needed.
// Negative values are a configuration error.
func (h *UIntHistogram) Update(data []int) error {
	if len(data) == 0 {
		return nil
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < 0 {
			return fmt.Errorf("negative data is not supported: %d", v)
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	freq := make([]uint64, hi-lo+1)
	for _, v := range data {
		freq[v-lo]++
	}
	h.aggregate(lo, freq)
	return nil
}

// UpdateUint16 adds unsigned sample data to the histogram.
func (h *UIntHistogram) UpdateUint16(data []uint16) {
	if len(data) == 0 {
		return
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	freq := make([]uint64, int(hi)-int(lo)+1)
	for _, v := range data {
		freq[v-lo]++
	}
	h.aggregate(int(lo), freq)
}

// Combine merges another histogram into this one via range union. Disjoint
// ranges are zero-filled in between. The other histogram is not modified.
func (h *UIntHistogram) Combine(other *UIntHistogram) {
	if other == nil || other.Empty() {
		return
	}
	freq := make([]uint64, len(other.frequencies))
	copy(freq, other.frequencies)
	h.aggregate(other.offset, freq)
}

// aggregate merges (offset, freq) into the histogram. freq may be retained.
func (h *UIntHistogram) aggregate(offset int, freq []uint64) {
	if h.Empty() {
		h.offset = offset
		h.frequencies = freq
		return
	}
	lo := h.offset
	if offset < lo {
		lo = offset
	}
	hi := h.offset + len(h.frequencies)
	if end := offset + len(freq); end > hi {
		hi = end
	}
	if lo == h.offset && hi == h.offset+len(h.frequencies) {
		// New range is covered, add in place.
		for i, f := range freq {
			h.frequencies[offset-lo+i] += f
		}
		return
	}
	merged := make([]uint64, hi-lo)
	copy(merged[h.offset-lo:], h.frequencies)
	for i, f := range freq {
		merged[offset-lo+i] += f
	}
	h.offset = lo
	h.frequencies = merged
}

func (h *UIntHistogram) total() uint64 {
	var n uint64
	for _, f := range h.frequencies {
		n += f
	}
	return n
}

// Mean returns the mean value, 0 for an empty histogram.
func (h *UIntHistogram) Mean() float64 {
	n := h.total()
	if n == 0 {
		return 0
	}
	var sum float64
	for i, f := range h.frequencies {
		sum += float64(h.offset+i) * float64(f)
	}
	return sum / float64(n)
}

// Std returns the population standard deviation, 0 for an empty histogram.
func (h *UIntHistogram) Std() float64 {
	n := h.total()
	if n == 0 {
		return 0
	}
	mean := h.Mean()
	var sum float64
	for i, f := range h.frequencies {
		d := float64(h.offset+i) - mean
		sum += d * d * float64(f)
	}
	return math.Sqrt(sum / float64(n))
}

// Quantile returns the smallest value whose cumulative frequency reaches
// fraction q of the total. q must lie in [0, 1].
func (h *UIntHistogram) Quantile(q float64) (int, error) {
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quantile must be in [0, 1], got %g", q)
	}
	if h.Empty() {
		return 0, nil
	}
	total := float64(h.total())
	var cum uint64
	for i, f := range h.frequencies {
		cum += f
		if float64(cum)/total >= q {
			return h.offset + i, nil
		}
	}
	return h.offset + len(h.frequencies) - 1, nil
}

// Min returns the smallest observed value, 0 for an empty histogram.
func (h *UIntHistogram) Min() int {
	if h.Empty() {
		return 0
	}
	return h.offset
}

// Max returns the largest observed value, 0 for an empty histogram.
func (h *UIntHistogram) Max() int {
	if h.Empty() {
		return 0
	}
	return h.offset + len(h.frequencies) - 1
}

// Equal reports whether two histograms cover the same range with the same
// counts.
func (h *UIntHistogram) Equal(other *UIntHistogram) bool {
	if h.offset != other.offset || len(h.frequencies) != len(other.frequencies) {
		return false
	}
	for i, f := range h.frequencies {
		if other.frequencies[i] != f {
			return false
		}
	}
	return true
}

// histMagic identifies the archive format.
var histMagic = [4]byte{'U', 'I', 'H', '1'}

// Save writes the histogram as a zstd-compressed little-endian record of
// offset and frequencies.
func (h *UIntHistogram) Save(path string) error {
	var payload bytes.Buffer
	payload.Write(histMagic[:])
	if err := binary.Write(&payload, binary.LittleEndian, int64(h.offset)); err != nil {
		return err
	}
	if err := binary.Write(&payload, binary.LittleEndian, int64(len(h.frequencies))); err != nil {
		return err
	}
	if err := binary.Write(&payload, binary.LittleEndian, h.frequencies); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return os.WriteFile(path, enc.EncodeAll(payload.Bytes(), nil), 0o644)
}

// Load reads a histogram written by Save.
func Load(path string) (*UIntHistogram, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress histogram %s: %w", path, err)
	}

	buf := bytes.NewReader(payload)
	var magic [4]byte
	if _, err := buf.Read(magic[:]); err != nil || magic != histMagic {
		return nil, fmt.Errorf("not a histogram archive: %s", path)
	}
	var offset, n int64
	if err := binary.Read(buf, binary.LittleEndian, &offset); err != nil {
		return nil, fmt.Errorf("read histogram offset: %w", err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read histogram length: %w", err)
	}
	h := &UIntHistogram{offset: int(offset)}
	if n > 0 {
		h.frequencies = make([]uint64, n)
		if err := binary.Read(buf, binary.LittleEndian, h.frequencies); err != nil {
			return nil, fmt.Errorf("read histogram frequencies: %w", err)
		}
	}
	return h, nil
}
