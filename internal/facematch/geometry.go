// Package facematch provides face geometry and cross-detector matching utilities.
package facematch

// Rect is a face bounding rectangle in pixel space.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the rectangle area, zero for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// ToBox converts a rectangle to [x1, y1, x2, y2] corner coordinates.
func ToBox(r Rect) (x1, y1, x2, y2 float64) {
	return r.Left, r.Top, r.Left + r.Width, r.Top + r.Height
}

// CornerBBox returns the rectangle as a [x1, y1, x2, y2] slice for ComputeIoU.
func (r Rect) CornerBBox() []float64 {
	x1, y1, x2, y2 := ToBox(r)
	return []float64{x1, y1, x2, y2}
}

// IoU calculates Intersection over Union between two rectangles.
// Returns 0 when they do not overlap or the union is empty.
func IoU(a, b Rect) float64 {
	return ComputeIoU(a.CornerBBox(), b.CornerBBox())
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// RectFromCorners builds a rectangle from corner coordinates, normalizing swapped corners.
func RectFromCorners(x1, y1, x2, y2 float64) Rect {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Rect{Top: y1, Left: x1, Width: x2 - x1, Height: y2 - y1}
}
