package hcs

import (
	"fmt"

	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
)

// wellLayout maps the stitcher's 5-D chunk space onto the stored array:
// Y/X block-mean binning followed by dropping the singleton axes the well
// does not declare. Chunk ordinals are preserved because the binning
// factor divides the chunk shape.
type wellLayout struct {
	axes         []string
	keep         [5]bool
	shape        []int
	chunkShape   []int
	bin          int
	binnedShape5 [5]int
	binnedChunk5 [5]int
	storedZYX    [3]int
}

func newWellLayout(stitched *stitching.StitchedArray, axes []string, bin int) (*wellLayout, error) {
	l := &wellLayout{axes: axes, bin: bin}
	shape5 := stitched.Shape()
	chunk5 := stitched.ChunkShape()

	for d := 0; d < 5; d++ {
		l.binnedShape5[d] = shape5[d]
		l.binnedChunk5[d] = chunk5[d]
	}
	for _, d := range []int{3, 4} {
		l.binnedShape5[d] = shape5[d] / bin
		l.binnedChunk5[d] = chunk5[d] / bin
		if l.binnedShape5[d] == 0 {
			return nil, fmt.Errorf("binning %d exceeds the %s extent %d", bin, axisNames[d], shape5[d])
		}
	}

	for _, name := range axes {
		found := false
		for d, axis := range axisNames {
			if axis == name {
				l.keep[d] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown axis name %q", name)
		}
	}
	if !l.keep[3] || !l.keep[4] {
		return nil, fmt.Errorf("axes %v must include y and x", axes)
	}
	for d := 0; d < 5; d++ {
		if !l.keep[d] && l.binnedShape5[d] != 1 {
			return nil, fmt.Errorf("axis %s has extent %d but is not declared in %v", axisNames[d], l.binnedShape5[d], axes)
		}
		if l.keep[d] {
			l.shape = append(l.shape, l.binnedShape5[d])
			l.chunkShape = append(l.chunkShape, minIntHCS(l.binnedChunk5[d], l.binnedShape5[d]))
		}
	}
	for i, d := range []int{2, 3, 4} {
		l.storedZYX[i] = minIntHCS(l.binnedChunk5[d], l.binnedShape5[d])
	}
	return l, nil
}

// storedChunkData trims a binned chunk buffer to the stored chunk shape.
// The two differ only when the chunk shape exceeds the well extent.
func (l *wellLayout) storedChunkData(binned *stitching.Stack) []uint16 {
	if binned.Shape == l.storedZYX {
		return binned.Data
	}
	sz, sy, sx := l.storedZYX[0], l.storedZYX[1], l.storedZYX[2]
	out := make([]uint16, sz*sy*sx)
	for z := 0; z < sz; z++ {
		for y := 0; y < sy; y++ {
			src := (z*binned.Shape[1] + y) * binned.Shape[2]
			dst := (z*sy + y) * sx
			copy(out[dst:dst+sx], binned.Data[src:src+sx])
		}
	}
	return out
}

// binChunk reduces a full-shape chunk by block mean on Y and X. The result
// keeps the full binned chunk shape, padding included.
func (l *wellLayout) binChunk(chunk *stitching.Stack) *stitching.Stack {
	if l.bin == 1 {
		return chunk
	}
	nz := chunk.Shape[0]
	by := chunk.Shape[1] / l.bin
	bx := chunk.Shape[2] / l.bin
	out := stitching.NewStack([3]int{nz, by, bx}, chunk.DType)
	blockSize := l.bin * l.bin
	for z := 0; z < nz; z++ {
		for y := 0; y < by; y++ {
			for x := 0; x < bx; x++ {
				sum := 0
				for dy := 0; dy < l.bin; dy++ {
					for dx := 0; dx < l.bin; dx++ {
						sum += int(chunk.At(z, y*l.bin+dy, x*l.bin+dx))
					}
				}
				out.Set(z, y, x, uint16(sum/blockSize))
			}
		}
	}
	return out
}

// validExtent returns the (z, y, x) extent of a binned chunk that falls
// inside the stored array. ok is false for chunks entirely past the edge.
func (l *wellLayout) validExtent(idx stitching.ChunkIndex) ([3]int, bool) {
	var valid [3]int
	for i, d := range []int{2, 3, 4} {
		v := l.binnedShape5[d] - idx[d]*l.binnedChunk5[d]
		if v <= 0 {
			return valid, false
		}
		if v > l.binnedChunk5[d] {
			v = l.binnedChunk5[d]
		}
		valid[i] = v
	}
	if idx[0] >= l.binnedShape5[0] || idx[1] >= l.binnedShape5[1] {
		return valid, false
	}
	return valid, true
}

// validSamples collects the samples of a binned chunk that lie inside the
// stored array, for histogram accumulation.
func (l *wellLayout) validSamples(binned *stitching.Stack, idx stitching.ChunkIndex) []uint16 {
	valid, ok := l.validExtent(idx)
	if !ok {
		return nil
	}
	samples := make([]uint16, 0, valid[0]*valid[1]*valid[2])
	for z := 0; z < valid[0]; z++ {
		for y := 0; y < valid[1]; y++ {
			for x := 0; x < valid[2]; x++ {
				samples = append(samples, binned.At(z, y, x))
			}
		}
	}
	return samples
}

// chunkIndex maps a stitcher chunk index to the stored chunk index.
func (l *wellLayout) chunkIndex(idx stitching.ChunkIndex) []int {
	out := make([]int, 0, len(l.shape))
	for d := 0; d < 5; d++ {
		if l.keep[d] {
			out = append(out, idx[d])
		}
	}
	return out
}

func minIntHCS(a, b int) int {
	if a < b {
		return a
	}
	return b
}
