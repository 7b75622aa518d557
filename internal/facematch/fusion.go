package facematch

// Detection is a face found by one detector together with that detector's attributes.
type Detection[T any] struct {
	Rect       Rect `json:"position"`
	Attributes T    `json:"attributes"`
}

// Fused is a primary detection with the attributes of the matched secondary detection.
// Secondary is nil when no secondary face overlapped enough.
type Fused[P, S any] struct {
	Rect      Rect    `json:"position"`
	Primary   P       `json:"primary"`
	Secondary *S      `json:"secondary"`
	MatchIoU  float64 `json:"match_iou"`
}

// Matched reports whether a secondary detection was attached.
func (f Fused[P, S]) Matched() bool {
	return f.Secondary != nil
}

// Fuse merges two detectors' outputs by spatial overlap. Matching is greedy in primary
// order: each primary takes the unused secondary with the strictly highest IoU (first wins
// on ties) when that IoU reaches iouThreshold. A secondary face is used at most once and
// secondary-only faces are dropped.
func Fuse[P, S any](primary []Detection[P], secondary []Detection[S], iouThreshold float64) []Fused[P, S] {
	fused := make([]Fused[P, S], 0, len(primary))
	used := make([]bool, len(secondary))

	for _, p := range primary {
		bestIdx := -1
		bestIoU := 0.0
		for j, s := range secondary {
			if used[j] {
				continue
			}
			if iou := IoU(p.Rect, s.Rect); iou > bestIoU {
				bestIoU = iou
				bestIdx = j
			}
		}

		entry := Fused[P, S]{Rect: p.Rect, Primary: p.Attributes, MatchIoU: bestIoU}
		if bestIdx >= 0 && bestIoU >= iouThreshold {
			used[bestIdx] = true
			attrs := secondary[bestIdx].Attributes
			entry.Secondary = &attrs
		}
		fused = append(fused, entry)
	}

	return fused
}
