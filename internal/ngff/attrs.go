package ngff

// NGFF group attributes. The structures below marshal into the "ome"
// attribute blocks consumed by OME-Zarr viewers: multiscales on image
// groups, omero channel windows alongside them, plate on the root group
// and well on each well group.

// Axis names one dimension of a multiscale image.
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

// SpaceAxis returns a spatial axis in micrometers.
func SpaceAxis(name string) Axis {
	return Axis{Name: name, Type: "space", Unit: "micrometer"}
}

// ScaleTransform maps dataset coordinates to physical coordinates.
type ScaleTransform struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

// Dataset is one resolution level of a multiscale image.
type Dataset struct {
	Path                      string           `json:"path"`
	CoordinateTransformations []ScaleTransform `json:"coordinateTransformations"`
}

// Multiscale describes the resolution pyramid of an image group.
type Multiscale struct {
	Name     string    `json:"name"`
	Axes     []Axis    `json:"axes"`
	Datasets []Dataset `json:"datasets"`
	Version  string    `json:"version"`
}

// ChannelWindow is the display range of one channel.
type ChannelWindow struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// OmeroChannel is the rendering description of one channel.
type OmeroChannel struct {
	Active       bool          `json:"active"`
	Coefficient  float64       `json:"coefficient"`
	Color        string        `json:"color"`
	Family       string        `json:"family"`
	Inverted     bool          `json:"inverted"`
	Label        string        `json:"label"`
	WavelengthID string        `json:"wavelength_id"`
	Window       ChannelWindow `json:"window"`
}

// Omero wraps the channel rendering block.
type Omero struct {
	Channels []OmeroChannel `json:"channels"`
}

// ImageAttrs builds the attribute block of an image group.
func ImageAttrs(name string, axes []Axis, datasets []Dataset, channels []OmeroChannel) map[string]interface{} {
	attrs := map[string]interface{}{
		"multiscales": []Multiscale{{
			Name:     name,
			Axes:     axes,
			Datasets: datasets,
			Version:  "0.4",
		}},
	}
	if len(channels) > 0 {
		attrs["omero"] = Omero{Channels: channels}
	}
	return attrs
}

// PlateRow names a plate row.
type PlateRow struct {
	Name string `json:"name"`
}

// PlateColumn names a plate column.
type PlateColumn struct {
	Name string `json:"name"`
}

// PlateWell locates one well group inside the plate.
type PlateWell struct {
	Path        string `json:"path"`
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
}

// PlateAcquisition identifies one acquisition run.
type PlateAcquisition struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Plate is the root-group plate layout.
type Plate struct {
	Name         string             `json:"name"`
	Rows         []PlateRow         `json:"rows"`
	Columns      []PlateColumn      `json:"columns"`
	Wells        []PlateWell        `json:"wells"`
	Acquisitions []PlateAcquisition `json:"acquisitions"`
	FieldCount   int                `json:"field_count"`
	Version      string             `json:"version"`
}

// PlateAttrs builds the attribute block of the plate root group.
func PlateAttrs(plate Plate) map[string]interface{} {
	if plate.Version == "" {
		plate.Version = "0.4"
	}
	return map[string]interface{}{"plate": plate}
}

// WellImage locates one acquisition image inside a well group.
type WellImage struct {
	Path        string `json:"path"`
	Acquisition int    `json:"acquisition"`
}

// WellAttrs builds the attribute block of a well group.
func WellAttrs(images []WellImage) map[string]interface{} {
	return map[string]interface{}{
		"well": map[string]interface{}{
			"images":  images,
			"version": "0.4",
		},
	}
}
