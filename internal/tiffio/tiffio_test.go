package tiffio

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fmi-faim/hcs-ngff/internal/cache"
)

func TestReadImageGray16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plane.tif")
	data := []uint16{0, 100, 200, 300, 40000, 65535}
	if err := WriteGray16(path, 2, 3, data); err != nil {
		t.Fatalf("WriteGray16: %v", err)
	}

	r := NewReader(nil)
	stack, err := r.ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if stack.Shape != [3]int{1, 2, 3} {
		t.Fatalf("expected shape [1 2 3], got %v", stack.Shape)
	}
	for i, want := range data {
		if stack.Data[i] != want {
			t.Fatalf("sample %d: expected %d, got %d", i, want, stack.Data[i])
		}
	}
}

func TestReadImageMissingFile(t *testing.T) {
	r := NewReader(nil)
	if _, err := r.ReadImage(filepath.Join(t.TempDir(), "absent.tif")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corr.tif")
	if err := WriteGray16(path, 2, 2, []uint16{10, 20, 30, 40}); err != nil {
		t.Fatalf("WriteGray16: %v", err)
	}

	caches, err := cache.NewManager(cache.Config{
		ChunkCacheSizeMB: 8,
		ChunkTTL:         time.Minute,
		MatrixCacheSize:  4,
	})
	if err != nil {
		t.Fatalf("cache.NewManager: %v", err)
	}
	defer caches.Close()

	r := NewReader(caches)
	m, err := r.ReadMatrix(path)
	if err != nil {
		t.Fatalf("ReadMatrix: %v", err)
	}
	if rows, cols := m.Dims(); rows != 2 || cols != 2 {
		t.Fatalf("expected 2x2 matrix, got %dx%d", rows, cols)
	}
	if m.At(1, 1) != 40 {
		t.Fatalf("expected 40, got %v", m.At(1, 1))
	}

	// Second read must come out of the cache as the same decoded matrix.
	again, err := r.ReadMatrix(path)
	if err != nil {
		t.Fatalf("ReadMatrix (cached): %v", err)
	}
	if again != m {
		t.Fatal("expected cached matrix on second read")
	}
}

func TestWriteGray16LengthMismatch(t *testing.T) {
	err := WriteGray16(filepath.Join(t.TempDir(), "bad.tif"), 2, 2, []uint16{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for mismatched data length")
	}
}
