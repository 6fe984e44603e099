package stitching

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// FuseFunc combines warped, chunk-aligned tiles into one chunk buffer. The
// output has the per-chunk shape and the input tile dtype. A weight of zero
// marks samples the tile does not cover. Every policy returns a single tile
// unchanged.
type FuseFunc func(warpedTiles []*Stack, warpedWeights []*Weights) (*Stack, error)

// FuseMean averages overlapping pixels over the tiles covering them. Pixels
// covered by no tile stay zero.
func FuseMean(warpedTiles []*Stack, warpedWeights []*Weights) (*Stack, error) {
	if len(warpedTiles) == 1 {
		return warpedTiles[0], nil
	}
	n := len(warpedTiles[0].Data)
	acc := make([]float64, n)
	counts := make([]float64, n)
	for k, tile := range warpedTiles {
		floats.Add(acc, coveredFloats(tile, warpedWeights[k]))
		floats.Add(counts, coverage(warpedWeights[k]))
	}
	out := NewStack(warpedTiles[0].Shape, warpedTiles[0].DType)
	maxVal := float64(out.DType.MaxValue())
	for i := range acc {
		if counts[i] > 0 {
			out.Data[i] = clipSample(acc[i]/counts[i], maxVal)
		}
	}
	return out, nil
}

// FuseLinear blends overlapping pixels with weights proportional to each
// tile's distance to the nearest edge of its own footprint, so tiles dominate
// toward the center of their footprint and overlap seams fade linearly. The
// weights come from the warp step and are independent of the chunk grid.
func FuseLinear(warpedTiles []*Stack, warpedWeights []*Weights) (*Stack, error) {
	if len(warpedTiles) == 1 {
		return warpedTiles[0], nil
	}
	n := len(warpedTiles[0].Data)
	denominator := make([]float64, n)
	for _, w := range warpedWeights {
		floats.Add(denominator, w.Data)
	}

	acc := make([]float64, n)
	for k, tile := range warpedTiles {
		w := warpedWeights[k].Data
		for i, v := range tile.Data {
			if w[i] > 0 {
				acc[i] += float64(v) * w[i]
			}
		}
	}
	out := NewStack(warpedTiles[0].Shape, warpedTiles[0].DType)
	maxVal := float64(out.DType.MaxValue())
	for i := range acc {
		if denominator[i] > 0 {
			out.Data[i] = clipSample(acc[i]/denominator[i], maxVal)
		}
	}
	return out, nil
}

// FuseSum adds overlapping pixels across all tiles regardless of coverage,
// clipping to the dtype range. Used for acquisition-count chunks.
func FuseSum(warpedTiles []*Stack, warpedWeights []*Weights) (*Stack, error) {
	if len(warpedTiles) == 1 {
		return warpedTiles[0], nil
	}
	n := len(warpedTiles[0].Data)
	acc := make([]float64, n)
	for _, tile := range warpedTiles {
		for i, v := range tile.Data {
			acc[i] += float64(v)
		}
	}
	out := NewStack(warpedTiles[0].Shape, warpedTiles[0].DType)
	maxVal := float64(out.DType.MaxValue())
	for i := range acc {
		out.Data[i] = clipSample(acc[i], maxVal)
	}
	return out, nil
}

// FuseFW overwrites overlaps with the tile that comes later in the input
// order.
func FuseFW(warpedTiles []*Stack, warpedWeights []*Weights) (*Stack, error) {
	if len(warpedTiles) == 1 {
		return warpedTiles[0], nil
	}
	out := NewStack(warpedTiles[0].Shape, warpedTiles[0].DType)
	for k, tile := range warpedTiles {
		w := warpedWeights[k]
		for i, v := range tile.Data {
			if w.Data[i] > 0 {
				out.Data[i] = v
			}
		}
	}
	return out, nil
}

// FuseRev overwrites overlaps with the tile that comes earlier in the input
// order.
func FuseRev(warpedTiles []*Stack, warpedWeights []*Weights) (*Stack, error) {
	if len(warpedTiles) == 1 {
		return warpedTiles[0], nil
	}
	out := NewStack(warpedTiles[0].Shape, warpedTiles[0].DType)
	for k := len(warpedTiles) - 1; k >= 0; k-- {
		w := warpedWeights[k]
		for i, v := range warpedTiles[k].Data {
			if w.Data[i] > 0 {
				out.Data[i] = v
			}
		}
	}
	return out, nil
}

// FuseRandomGradient returns a policy that picks, per overlapping pixel, one
// tile at random with probability proportional to the same edge-distance
// weights FuseLinear uses. Every invocation of the returned policy draws from
// a fresh stream seeded with seed, so chunk results are reproducible
// regardless of evaluation order and no state is shared between chunks.
func FuseRandomGradient(seed int64) FuseFunc {
	return func(warpedTiles []*Stack, warpedWeights []*Weights) (*Stack, error) {
		if len(warpedTiles) == 1 {
			return warpedTiles[0], nil
		}
		n := len(warpedTiles[0].Data)
		denominator := make([]float64, n)
		for _, w := range warpedWeights {
			floats.Add(denominator, w.Data)
		}

		rng := rand.New(rand.NewSource(seed))
		out := NewStack(warpedTiles[0].Shape, warpedTiles[0].DType)
		for i := 0; i < n; i++ {
			r := rng.Float64()
			if denominator[i] <= 0 {
				continue
			}
			cum := 0.0
			for k := range warpedTiles {
				cum += warpedWeights[k].Data[i] / denominator[i]
				if r < cum {
					out.Data[i] = warpedTiles[k].Data[i]
					break
				}
			}
		}
		return out, nil
	}
}

// FuseByName resolves a configured policy name.
func FuseByName(name string, randomSeed int64) (FuseFunc, bool) {
	switch name {
	case "mean", "":
		return FuseMean, true
	case "linear":
		return FuseLinear, true
	case "sum":
		return FuseSum, true
	case "fw":
		return FuseFW, true
	case "rev":
		return FuseRev, true
	case "random-gradient":
		return FuseRandomGradient(randomSeed), true
	default:
		return nil, false
	}
}

// distanceWeights computes, per z plane, the taxicab distance from every
// masked pixel to the nearest unmasked pixel, treating everything outside the
// plane as unmasked. Border pixels of a footprint get weight 1, growing
// inward.
func distanceWeights(mask *Mask) []float64 {
	nz, ny, nx := mask.Shape[0], mask.Shape[1], mask.Shape[2]
	d := make([]float64, nz*ny*nx)
	for z := 0; z < nz; z++ {
		plane := d[z*ny*nx : (z+1)*ny*nx]
		maskPlane := mask.Data[z*ny*nx : (z+1)*ny*nx]

		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				i := y*nx + x
				if !maskPlane[i] {
					plane[i] = 0
					continue
				}
				best := math.Inf(1)
				if y > 0 {
					best = plane[i-nx] + 1
				} else {
					best = 1
				}
				if x > 0 {
					best = math.Min(best, plane[i-1]+1)
				} else {
					best = math.Min(best, 1)
				}
				plane[i] = best
			}
		}
		for y := ny - 1; y >= 0; y-- {
			for x := nx - 1; x >= 0; x-- {
				i := y*nx + x
				if !maskPlane[i] {
					continue
				}
				best := plane[i]
				if y < ny-1 {
					best = math.Min(best, plane[i+nx]+1)
				} else {
					best = math.Min(best, 1)
				}
				if x < nx-1 {
					best = math.Min(best, plane[i+1]+1)
				} else {
					best = math.Min(best, 1)
				}
				plane[i] = best
			}
		}
	}
	return d
}

func coveredFloats(s *Stack, w *Weights) []float64 {
	out := make([]float64, len(s.Data))
	for i, v := range s.Data {
		if w.Data[i] > 0 {
			out[i] = float64(v)
		}
	}
	return out
}

func coverage(w *Weights) []float64 {
	out := make([]float64, len(w.Data))
	for i, v := range w.Data {
		if v > 0 {
			out[i] = 1
		}
	}
	return out
}
