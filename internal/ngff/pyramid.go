package ngff

import (
	"fmt"
	"path"
	"strconv"
)

// BuildPyramid derives resolution levels 1..maxLayer under imagePath from
// the full-resolution array at imagePath/0. Each level halves the two
// trailing (y, x) dimensions by 2x2 block mean; an odd trailing row or
// column is dropped. Levels are built chunk by chunk, reading only the
// source region each chunk needs.
func (s *Store) BuildPyramid(imagePath string, maxLayer int) error {
	for level := 1; level <= maxLayer; level++ {
		srcPath := path.Join(imagePath, strconv.Itoa(level-1))
		dstPath := path.Join(imagePath, strconv.Itoa(level))
		if err := s.coarsenLevel(srcPath, dstPath); err != nil {
			return fmt.Errorf("failed to build level %d of %s: %w", level, imagePath, err)
		}
	}
	return nil
}

func (s *Store) coarsenLevel(srcPath, dstPath string) error {
	srcMeta, err := s.LoadArrayMeta(srcPath)
	if err != nil {
		return err
	}
	dtype, err := srcMeta.DType()
	if err != nil {
		return err
	}

	rank := len(srcMeta.Shape)
	if rank < 2 {
		return fmt.Errorf("array %s has rank %d, need at least 2", srcPath, rank)
	}

	// Downsample factor per dim: 2 on the trailing spatial axes unless
	// they are already collapsed to a single sample.
	factor := make([]int, rank)
	shape := make([]int, rank)
	for d := 0; d < rank; d++ {
		factor[d] = 1
		shape[d] = srcMeta.Shape[d]
	}
	for _, d := range []int{rank - 2, rank - 1} {
		if srcMeta.Shape[d] >= 2 {
			factor[d] = 2
			shape[d] = srcMeta.Shape[d] / 2
		}
	}

	chunkShape := make([]int, rank)
	for d := 0; d < rank; d++ {
		chunkShape[d] = minInt(srcMeta.ChunkShape()[d], shape[d])
	}

	dstMeta, err := s.CreateArray(dstPath, shape, chunkShape, dtype, srcMeta.DimensionNames)
	if err != nil {
		return err
	}

	blockSize := product(factor)
	numChunks := dstMeta.NumChunks()
	index := make([]int, rank)
	for {
		valid, err := dstMeta.chunkShapeAt(index)
		if err != nil {
			return err
		}

		srcOrigin := make([]int, rank)
		srcShape := make([]int, rank)
		for d := 0; d < rank; d++ {
			srcOrigin[d] = index[d] * chunkShape[d] * factor[d]
			srcShape[d] = valid[d] * factor[d]
		}
		region, err := s.ReadRegion(srcPath, srcMeta, srcOrigin, srcShape)
		if err != nil {
			return err
		}

		out := make([]uint16, product(chunkShape))
		outStrides := rowMajorStrides(chunkShape)
		regionStrides := rowMajorStrides(srcShape)

		coord := make([]int, rank)
		for {
			outOff := 0
			regionOff := 0
			for d := 0; d < rank; d++ {
				outOff += coord[d] * outStrides[d]
				regionOff += coord[d] * factor[d] * regionStrides[d]
			}

			sum := 0
			for b := 0; b < blockSize; b++ {
				off := regionOff
				rem := b
				for d := rank - 1; d >= 0; d-- {
					off += (rem % factor[d]) * regionStrides[d]
					rem /= factor[d]
				}
				sum += int(region[off])
			}
			out[outOff] = uint16(sum / blockSize)

			d := rank - 1
			for d >= 0 {
				coord[d]++
				if coord[d] < valid[d] {
					break
				}
				coord[d] = 0
				d--
			}
			if d < 0 {
				break
			}
		}

		if err := s.WriteChunk(dstPath, dstMeta, index, out); err != nil {
			return err
		}

		d := rank - 1
		for d >= 0 {
			index[d]++
			if index[d] < numChunks[d] {
				break
			}
			index[d] = 0
			d--
		}
		if d < 0 {
			break
		}
	}
	return nil
}
