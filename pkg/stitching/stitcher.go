package stitching

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ChunkIndex addresses one chunk in the stitched chunk grid.
type ChunkIndex [5]int

// StitcherConfig configures a TileStitcher.
type StitcherConfig struct {
	// ChunkShape is the chunk shape in (y, x) or (z, y, x).
	ChunkShape []int
	// OutputShape optionally fixes the stitched 5-D shape, e.g. to a common
	// well shape across wells with missing acquisitions. The zero value
	// computes the shape from the tile extents.
	OutputShape [5]int
	// DType of the stitched samples. Defaults to uint16.
	DType DType
}

// TileStitcher maps every chunk of the output grid to the tiles overlapping
// it and exposes the stitched image as a lazily computed chunked array.
// Construction normalizes tile positions to the origin and builds the
// chunk-to-tile index once; the index is read-only afterwards, so any number
// of chunks can be computed concurrently without locking.
type TileStitcher struct {
	tiles      []Tile
	chunkShape [5]int
	shape      [5]int
	dtype      DType
	nChunks    [5]int
	tileMap    map[ChunkIndex][]Tile
}

// NewTileStitcher builds the stitcher and its chunk-to-tile index. No pixel
// data is read.
func NewTileStitcher(tiles []Tile, cfg StitcherConfig) (*TileStitcher, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles to stitch")
	}
	if len(cfg.ChunkShape) < 2 || len(cfg.ChunkShape) > 3 {
		return nil, fmt.Errorf("chunk shape must be (y, x) or (z, y, x), got %v", cfg.ChunkShape)
	}
	for _, c := range cfg.ChunkShape {
		if c <= 0 {
			return nil, fmt.Errorf("chunk shape axes must be positive, got %v", cfg.ChunkShape)
		}
	}

	s := &TileStitcher{
		tiles:      ShiftToOrigin(tiles),
		chunkShape: padShape5(cfg.ChunkShape),
		dtype:      cfg.DType,
	}
	if cfg.OutputShape == ([5]int{}) {
		s.shape = s.computeOutputShape()
	} else {
		s.shape = cfg.OutputShape
	}
	for a := 0; a < 5; a++ {
		s.nChunks[a] = ceilDiv(s.shape[a], s.chunkShape[a])
	}
	s.tileMap = s.computeChunkToTileMap()
	return s, nil
}

// Shape returns the stitched 5-D shape.
func (s *TileStitcher) Shape() [5]int { return s.shape }

// ChunkShape returns the 5-D chunk shape (time and channel extents are 1).
func (s *TileStitcher) ChunkShape() [5]int { return s.chunkShape }

// NumChunks returns the chunk grid extents.
func (s *TileStitcher) NumChunks() [5]int { return s.nChunks }

// computeOutputShape is the element-wise maximum of position + shape over all
// tiles.
func (s *TileStitcher) computeOutputShape() [5]int {
	var out [5]int
	for _, tile := range s.tiles {
		pos := tile.Position().Vector()
		shape := padShape5(tile.Shape())
		for a := 0; a < 5; a++ {
			if e := pos[a] + shape[a]; e > out[a] {
				out[a] = e
			}
		}
	}
	return out
}

// computeChunkToTileMap assigns each chunk the tiles whose bounding boxes
// overlap it. Tiles are first bucketed by their exact (time, channel, z)
// coordinate, so each chunk only tests the tiles sharing its leading
// coordinates instead of scanning the whole tile list.
func (s *TileStitcher) computeChunkToTileMap() map[ChunkIndex][]Tile {
	lut := make(map[[3]int][]Tile)
	for _, tile := range s.tiles {
		p := tile.Position()
		key := [3]int{p.Time, p.Channel, p.Z}
		lut[key] = append(lut[key], tile)
	}

	tileMap := make(map[ChunkIndex][]Tile)
	var idx ChunkIndex
	for idx[0] = 0; idx[0] < s.nChunks[0]; idx[0]++ {
		for idx[1] = 0; idx[1] < s.nChunks[1]; idx[1]++ {
			for idx[2] = 0; idx[2] < s.nChunks[2]; idx[2]++ {
				for idx[3] = 0; idx[3] < s.nChunks[3]; idx[3]++ {
					for idx[4] = 0; idx[4] < s.nChunks[4]; idx[4]++ {
						var pos [5]int
						for a := 0; a < 5; a++ {
							pos[a] = idx[a] * s.chunkShape[a]
						}
						chunkBox := BBoxFromPosAndShape(pos, s.chunkShape)
						candidates := lut[[3]int{pos[0], pos[1], pos[2]}]
						var overlapping []Tile
						for _, tile := range candidates {
							tileBox := BBoxFromPosAndShape(tile.Position().Vector(), padShape5(tile.Shape()))
							if chunkBox.Overlaps(tileBox) {
								overlapping = append(overlapping, tile)
							}
						}
						tileMap[idx] = overlapping
					}
				}
			}
		}
	}
	return tileMap
}

// TilesForChunk returns the tiles overlapping a chunk, in input order.
func (s *TileStitcher) TilesForChunk(idx ChunkIndex) []Tile {
	return s.tileMap[idx]
}

// Stitched returns a lazy handle over the stitched image. No pixel data is
// read until a chunk is computed. With buildMask set, chunks carry the
// acquisition mask (0/1) instead of pixel data.
func (s *TileStitcher) Stitched(warpFunc WarpFunc, fuseFunc FuseFunc, buildMask bool) *StitchedArray {
	if warpFunc == nil {
		warpFunc = TranslateTiles2D
	}
	if fuseFunc == nil {
		fuseFunc = FuseMean
	}
	dtype := s.dtype
	if buildMask {
		dtype = DTypeBool
	}
	return &StitchedArray{
		shape:      s.shape,
		chunkShape: s.chunkShape,
		nChunks:    s.nChunks,
		dtype:      dtype,
		tileMap:    s.tileMap,
		warpFunc:   warpFunc,
		fuseFunc:   fuseFunc,
		buildMask:  buildMask,
	}
}

// GetStitchedImage eagerly materializes the full stitched image, computing
// chunks on a bounded worker pool. Intended for tests and small inputs.
func (s *TileStitcher) GetStitchedImage(ctx context.Context, warpFunc WarpFunc, fuseFunc FuseFunc, buildMask bool) (*Array5, error) {
	return s.Stitched(warpFunc, fuseFunc, buildMask).Materialize(ctx, runtime.NumCPU())
}

// StitchedArray is a lazily evaluated chunked 5-D image. Every chunk is a
// pure function of its index, the shared read-only chunk-to-tile map and the
// warp/fuse functions, so chunks may be computed in any order on any number
// of goroutines.
type StitchedArray struct {
	shape      [5]int
	chunkShape [5]int
	nChunks    [5]int
	dtype      DType
	tileMap    map[ChunkIndex][]Tile
	warpFunc   WarpFunc
	fuseFunc   FuseFunc
	buildMask  bool
}

// Shape returns the stitched 5-D shape.
func (a *StitchedArray) Shape() [5]int { return a.shape }

// ChunkShape returns the 5-D chunk shape.
func (a *StitchedArray) ChunkShape() [5]int { return a.chunkShape }

// NumChunks returns the chunk grid extents.
func (a *StitchedArray) NumChunks() [5]int { return a.nChunks }

// DType returns the sample type of computed chunks.
func (a *StitchedArray) DType() DType { return a.dtype }

// ComputeChunk assembles one chunk. Chunks with no overlapping tiles come
// back all-zero; a single overlapping tile is warped and returned without
// fusion; multiple tiles are warped and fused. Trailing partial chunks are
// zero-padded to the full chunk shape.
func (a *StitchedArray) ComputeChunk(idx ChunkIndex) (*Stack, error) {
	for ax := 0; ax < 5; ax++ {
		if idx[ax] < 0 || idx[ax] >= a.nChunks[ax] {
			return nil, fmt.Errorf("chunk index %v out of range %v", idx, a.nChunks)
		}
	}
	chunkZYX := [3]int{a.chunkShape[2], a.chunkShape[3], a.chunkShape[4]}
	tiles := a.tileMap[idx]
	if len(tiles) == 0 {
		return NewStack(chunkZYX, a.dtype), nil
	}

	origin := [3]int{idx[2] * a.chunkShape[2], idx[3] * a.chunkShape[3], idx[4] * a.chunkShape[4]}
	warped, weights, err := a.warpFunc(origin, chunkZYX, tiles, a.buildMask)
	if err != nil {
		return nil, fmt.Errorf("warp chunk %v: %w", idx, err)
	}
	if len(warped) == 1 {
		warped[0].DType = a.dtype
		return warped[0], nil
	}
	fused, err := a.fuseFunc(warped, weights)
	if err != nil {
		return nil, fmt.Errorf("fuse chunk %v: %w", idx, err)
	}
	fused.DType = a.dtype
	return fused, nil
}

// EachChunkIndex calls fn for every chunk index in row-major order.
func (a *StitchedArray) EachChunkIndex(fn func(idx ChunkIndex)) {
	var idx ChunkIndex
	for idx[0] = 0; idx[0] < a.nChunks[0]; idx[0]++ {
		for idx[1] = 0; idx[1] < a.nChunks[1]; idx[1]++ {
			for idx[2] = 0; idx[2] < a.nChunks[2]; idx[2]++ {
				for idx[3] = 0; idx[3] < a.nChunks[3]; idx[3]++ {
					for idx[4] = 0; idx[4] < a.nChunks[4]; idx[4]++ {
						fn(idx)
					}
				}
			}
		}
	}
}

// Materialize computes every chunk on a bounded worker pool and assembles the
// full image, trimming chunk padding at the array edges.
func (a *StitchedArray) Materialize(ctx context.Context, workers int) (*Array5, error) {
	if workers < 1 {
		workers = 1
	}
	out := NewArray5(a.shape, a.dtype)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	a.EachChunkIndex(func(idx ChunkIndex) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := a.ComputeChunk(idx)
			if err != nil {
				return err
			}
			a.copyChunk(out, idx, chunk)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// copyChunk copies the in-range region of a chunk into the output buffer.
// Chunks never overlap, so concurrent copies touch disjoint slices.
func (a *StitchedArray) copyChunk(out *Array5, idx ChunkIndex, chunk *Stack) {
	t, c := idx[0]*a.chunkShape[0], idx[1]*a.chunkShape[1]
	z0, y0, x0 := idx[2]*a.chunkShape[2], idx[3]*a.chunkShape[3], idx[4]*a.chunkShape[4]
	zSpan := min(a.chunkShape[2], a.shape[2]-z0)
	ySpan := min(a.chunkShape[3], a.shape[3]-y0)
	xSpan := min(a.chunkShape[4], a.shape[4]-x0)
	for z := 0; z < zSpan; z++ {
		for y := 0; y < ySpan; y++ {
			src := (z*chunk.Shape[1]+y)*chunk.Shape[2] + 0
			dst := (((t*a.shape[1]+c)*a.shape[2]+z0+z)*a.shape[3]+y0+y)*a.shape[4] + x0
			copy(out.Data[dst:dst+xSpan], chunk.Data[src:src+xSpan])
		}
	}
}
