package hcs

import (
	"fmt"

	"github.com/fmi-faim/hcs-ngff/pkg/stitching"
	"gonum.org/v1/gonum/mat"
)

// memReader serves tile planes from memory.
type memReader struct {
	images map[string]*stitching.Stack
}

func (r *memReader) ReadImage(path string) (*stitching.Stack, error) {
	img, ok := r.images[path]
	if !ok {
		return nil, fmt.Errorf("no such image: %s", path)
	}
	cp := stitching.NewStack(img.Shape, img.DType)
	copy(cp.Data, img.Data)
	return cp, nil
}

func (r *memReader) ReadMatrix(path string) (*mat.Dense, error) {
	return nil, fmt.Errorf("no such matrix: %s", path)
}

// plane builds a 2-D image filled with a constant value.
func plane(height, width int, value uint16) *stitching.Stack {
	s := stitching.NewStack([3]int{1, height, width}, stitching.DTypeUint16)
	for i := range s.Data {
		s.Data[i] = value
	}
	return s
}
