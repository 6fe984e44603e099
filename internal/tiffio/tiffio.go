// Package tiffio decodes grayscale TIFF planes into stitching stacks and
// correction matrices.
package tiffio

import (
	"fmt"
	"image"
	"os"

	"github.com/fmi-faim/hcs-ngff/internal/cache"
	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

// Reader decodes TIFF files. Pixel planes are read fresh on every call;
// correction matrices go through the shared matrix cache because every tile
// of a channel references the same file. Safe for concurrent use.
type Reader struct {
	caches *cache.Manager
}

// NewReader creates a reader. caches may be nil, in which case matrices are
// decoded on every call.
func NewReader(caches *cache.Manager) *Reader {
	return &Reader{caches: caches}
}

// ReadImage decodes a single grayscale plane as a (1, y, x) stack. 8-bit
// images are tagged uint8, 16-bit images uint16.
func (r *Reader) ReadImage(path string) (*stitching.Stack, error) {
	img, err := decode(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()

	switch im := img.(type) {
	case *image.Gray16:
		stack := stitching.NewStack([3]int{1, h, w}, stitching.DTypeUint16)
		for y := 0; y < h; y++ {
			row := im.Pix[y*im.Stride : y*im.Stride+2*w]
			for x := 0; x < w; x++ {
				// Gray16 stores big-endian samples.
				stack.Data[y*w+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
			}
		}
		return stack, nil
	case *image.Gray:
		stack := stitching.NewStack([3]int{1, h, w}, stitching.DTypeUint8)
		for y := 0; y < h; y++ {
			row := im.Pix[y*im.Stride : y*im.Stride+w]
			for x := 0; x < w; x++ {
				stack.Data[y*w+x] = uint16(row[x])
			}
		}
		return stack, nil
	default:
		return nil, fmt.Errorf("%s: unsupported pixel format %T, expected grayscale", path, img)
	}
}

// ReadMatrix decodes a grayscale plane as a float matrix.
func (r *Reader) ReadMatrix(path string) (*mat.Dense, error) {
	if r.caches != nil {
		if m, ok := r.caches.GetMatrix(path); ok {
			return m, nil
		}
	}

	stack, err := r.ReadImage(path)
	if err != nil {
		return nil, err
	}

	h, w := stack.Shape[1], stack.Shape[2]
	data := make([]float64, h*w)
	for i, v := range stack.Data {
		data[i] = float64(v)
	}
	m := mat.NewDense(h, w, data)

	if r.caches != nil {
		r.caches.SetMatrix(path, m)
	}
	return m, nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// WriteGray16 encodes a (y, x) uint16 plane as an uncompressed TIFF. Used by
// correction-matrix tooling and test fixtures.
func WriteGray16(path string, height, width int, data []uint16) error {
	if len(data) != height*width {
		return fmt.Errorf("data length %d does not match %dx%d", len(data), height, width)
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := data[y*width+x]
			img.Pix[y*img.Stride+2*x] = byte(v >> 8)
			img.Pix[y*img.Stride+2*x+1] = byte(v)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := tiff.Encode(f, img, nil); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
