package stitching

// BoundingBox5D is an axis-aligned integer box in (time, channel, z, y, x)
// space. Intervals are half-open: start inclusive, end exclusive.
type BoundingBox5D struct {
	TimeStart, TimeEnd       int
	ChannelStart, ChannelEnd int
	ZStart, ZEnd             int
	YStart, YEnd             int
	XStart, XEnd             int
}

// BBoxFromPosAndShape constructs a box with end = start + shape on every
// axis.
func BBoxFromPosAndShape(position, shape [5]int) BoundingBox5D {
	return BoundingBox5D{
		TimeStart:    position[0],
		TimeEnd:      position[0] + shape[0],
		ChannelStart: position[1],
		ChannelEnd:   position[1] + shape[1],
		ZStart:       position[2],
		ZEnd:         position[2] + shape[2],
		YStart:       position[3],
		YEnd:         position[3] + shape[3],
		XStart:       position[4],
		XEnd:         position[4] + shape[4],
	}
}

func (b BoundingBox5D) overlapsInTime(o BoundingBox5D) bool {
	return b.TimeStart < o.TimeEnd && o.TimeStart < b.TimeEnd
}

func (b BoundingBox5D) overlapsInChannel(o BoundingBox5D) bool {
	return b.ChannelStart < o.ChannelEnd && o.ChannelStart < b.ChannelEnd
}

func (b BoundingBox5D) overlapsInZ(o BoundingBox5D) bool {
	return b.ZStart < o.ZEnd && o.ZStart < b.ZEnd
}

func (b BoundingBox5D) overlapsInY(o BoundingBox5D) bool {
	return b.YStart < o.YEnd && o.YStart < b.YEnd
}

func (b BoundingBox5D) overlapsInX(o BoundingBox5D) bool {
	return b.XStart < o.XEnd && o.XStart < b.XEnd
}

// Overlaps reports whether the two boxes intersect in a region of non-zero
// volume. Boxes sharing only a boundary do not overlap. The predicate is
// symmetric: b.Overlaps(o) == o.Overlaps(b).
func (b BoundingBox5D) Overlaps(o BoundingBox5D) bool {
	return b.overlapsInTime(o) &&
		b.overlapsInChannel(o) &&
		b.overlapsInZ(o) &&
		b.overlapsInY(o) &&
		b.overlapsInX(o)
}
