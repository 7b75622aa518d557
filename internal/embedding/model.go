package embedding

import "image"

// Face is one detection from a FaceModel, in the coordinates of the image it was given.
type Face struct {
	Rect       image.Rectangle
	Descriptor []float32
}

// FaceModel is a detector and recognizer pair operating on JPEG bytes.
type FaceModel interface {
	Recognize(jpegData []byte) ([]Face, error)
	Close()
}

// LoaderFunc builds a FaceModel. It is called at most once per Extractor.
type LoaderFunc func() (FaceModel, error)

// SelectionPolicy picks the authenticating face when several are detected.
type SelectionPolicy string

const (
	// LargestArea picks the face with the biggest bounding box, first one on ties.
	LargestArea SelectionPolicy = "largest"
	// FirstDetected picks the first face in detector order.
	FirstDetected SelectionPolicy = "first"
)

// ParseSelectionPolicy maps a config value to a policy, defaulting to LargestArea.
func ParseSelectionPolicy(s string) SelectionPolicy {
	if SelectionPolicy(s) == FirstDetected {
		return FirstDetected
	}
	return LargestArea
}

// selectFace returns the index of the face chosen by policy, or -1 when faces is empty.
func selectFace(faces []Face, policy SelectionPolicy) int {
	if len(faces) == 0 {
		return -1
	}
	if policy == FirstDetected {
		return 0
	}

	best := 0
	bestArea := area(faces[0].Rect)
	for i := 1; i < len(faces); i++ {
		if a := area(faces[i].Rect); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

func area(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}
