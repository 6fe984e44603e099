// Package hcs models high-content-screening plate acquisitions: a field
// index listing every acquired image, vendor-specific tile assembly, and
// the conversion of whole plates into an OME-Zarr store.
package hcs

import "fmt"

// ChannelMetadata describes one acquisition channel.
type ChannelMetadata struct {
	Index        int
	Name         string
	DisplayColor string
	Wavelength   int
	ExposureMS   float64
}

// WavelengthID returns the OME-style channel identifier, "C01" for the
// first channel.
func (c ChannelMetadata) WavelengthID() string {
	return fmt.Sprintf("C%02d", c.Index+1)
}

// RowsAndColumns returns the row and column names of a plate layout.
func RowsAndColumns(layout int) ([]string, []string, error) {
	var rows []string
	var nCols int
	switch layout {
	case 18:
		rows, nCols = splitLetters("ABC"), 6
	case 24:
		rows, nCols = splitLetters("ABCD"), 6
	case 96:
		rows, nCols = splitLetters("ABCDEFGH"), 12
	case 384:
		rows, nCols = splitLetters("ABCDEFGHIJKLMNOP"), 24
	default:
		return nil, nil, fmt.Errorf("unsupported plate layout: %d", layout)
	}
	cols := make([]string, nCols)
	for i := range cols {
		cols[i] = fmt.Sprintf("%02d", i+1)
	}
	return rows, cols, nil
}

func splitLetters(s string) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i : i+1]
	}
	return out
}
