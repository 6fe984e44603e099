package stitching

// WarpFunc translates tiles into a chunk's local coordinate frame. It returns
// one chunk-shaped sample buffer and one chunk-shaped weight buffer per tile.
// Weights are computed on the full tile footprint before cropping, so
// gradient fusion does not depend on the chunk grid. With buildMask set, the
// tile's presence mask is warped in place of its pixel data.
type WarpFunc func(chunkOrigin, chunkShape [3]int, tiles []Tile, buildMask bool) ([]*Stack, []*Weights, error)

// TranslateTiles2D copies the overlapping sub-region of each tile into a
// zero-initialized chunk-shaped buffer at the integer shift
// tile_origin - chunk_origin. Tiles starting before the chunk lose their
// leading edge, tiles extending past it are clipped at the trailing edge.
// Each tile's distance-to-edge weights are computed in the tile's own frame
// and warped with the same shift.
func TranslateTiles2D(chunkOrigin, chunkShape [3]int, tiles []Tile, buildMask bool) ([]*Stack, []*Weights, error) {
	warped := make([]*Stack, len(tiles))
	weights := make([]*Weights, len(tiles))
	for i, tile := range tiles {
		mask := tile.LoadDataMask()
		dist := &Weights{Shape: mask.Shape, Data: distanceWeights(mask)}
		var data *Stack
		if buildMask {
			data = maskToStack(mask)
		} else {
			d, err := tile.LoadData()
			if err != nil {
				return nil, nil, err
			}
			data = d
		}

		tileOrigin := tile.Position().ZYX()
		var shift [3]int
		for a := range shift {
			shift[a] = tileOrigin[a] - chunkOrigin[a]
		}

		warped[i] = NewStack(chunkShape, data.DType)
		weights[i] = NewWeights(chunkShape)
		placeIntoChunk(warped[i], weights[i], data, dist, shift)
	}
	return warped, weights, nil
}

// placeIntoChunk copies the intersection of src (placed at shift) and the
// chunk extent into dst. A negative shift slices the leading edge of the
// tile, a positive one offsets into the chunk; the trailing edge is clipped
// to whichever buffer ends first.
func placeIntoChunk(dst *Stack, dstWeights *Weights, src *Stack, srcWeights *Weights, shift [3]int) {
	var srcStart, dstStart, span [3]int
	for a := 0; a < 3; a++ {
		if shift[a] < 0 {
			srcStart[a] = -shift[a]
			dstStart[a] = 0
		} else {
			srcStart[a] = 0
			dstStart[a] = shift[a]
		}
		span[a] = min(src.Shape[a]-srcStart[a], dst.Shape[a]-dstStart[a])
		if span[a] <= 0 {
			return
		}
	}

	for z := 0; z < span[0]; z++ {
		for y := 0; y < span[1]; y++ {
			srcOff := ((srcStart[0]+z)*src.Shape[1]+srcStart[1]+y)*src.Shape[2] + srcStart[2]
			dstOff := ((dstStart[0]+z)*dst.Shape[1]+dstStart[1]+y)*dst.Shape[2] + dstStart[2]
			copy(dst.Data[dstOff:dstOff+span[2]], src.Data[srcOff:srcOff+span[2]])
			copy(dstWeights.Data[dstOff:dstOff+span[2]], srcWeights.Data[srcOff:srcOff+span[2]])
		}
	}
}

func maskToStack(m *Mask) *Stack {
	s := NewStack(m.Shape, DTypeBool)
	for i, v := range m.Data {
		if v {
			s.Data[i] = 1
		}
	}
	return s
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
