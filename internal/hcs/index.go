package hcs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// FieldRecord is one row of a field index: a single acquired plane, located
// by well, field, time point, channel and z index, with its pixel position
// in the well coordinate space. An empty Path marks a plane the instrument
// skipped.
type FieldRecord struct {
	Well    string
	Field   int
	Time    int
	Channel int
	Z       int
	Y       int
	X       int
	Path    string
}

var indexColumns = []string{"well", "field", "time", "channel", "z", "y", "x", "path"}

// LoadFieldIndex reads a field index CSV. Relative image paths are resolved
// against the index file's directory.
func LoadFieldIndex(path string) ([]FieldRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open field index: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read field index header: %w", err)
	}
	if len(header) != len(indexColumns) {
		return nil, fmt.Errorf("field index has %d columns, expected %d (%v)", len(header), len(indexColumns), indexColumns)
	}
	for i, want := range indexColumns {
		if header[i] != want {
			return nil, fmt.Errorf("field index column %d is %q, expected %q", i, header[i], want)
		}
	}

	baseDir := filepath.Dir(path)
	var records []FieldRecord
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read field index: %w", err)
		}
		line++

		rec := FieldRecord{Well: row[0], Path: row[7]}
		ints := []struct {
			dst  *int
			name string
			val  string
		}{
			{&rec.Field, "field", row[1]},
			{&rec.Time, "time", row[2]},
			{&rec.Channel, "channel", row[3]},
			{&rec.Z, "z", row[4]},
			{&rec.Y, "y", row[5]},
			{&rec.X, "x", row[6]},
		}
		for _, c := range ints {
			v, err := strconv.Atoi(c.val)
			if err != nil {
				return nil, fmt.Errorf("field index line %d: bad %s value %q", line, c.name, c.val)
			}
			if v < 0 {
				return nil, fmt.Errorf("field index line %d: negative %s value %d", line, c.name, v)
			}
			*c.dst = v
		}
		if rec.Well == "" {
			return nil, fmt.Errorf("field index line %d: empty well", line)
		}
		if rec.Path != "" && !filepath.IsAbs(rec.Path) {
			rec.Path = filepath.Join(baseDir, rec.Path)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("field index %s contains no records", path)
	}
	return records, nil
}

// groupByWell splits records by well, preserving first-seen well order and
// record order inside each well.
func groupByWell(records []FieldRecord) ([]string, map[string][]FieldRecord) {
	var order []string
	byWell := make(map[string][]FieldRecord)
	for _, rec := range records {
		if _, ok := byWell[rec.Well]; !ok {
			order = append(order, rec.Well)
		}
		byWell[rec.Well] = append(byWell[rec.Well], rec)
	}
	return order, byWell
}
