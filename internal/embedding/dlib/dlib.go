// Package dlib provides the dlib-backed face model (go-face) for the embedding extractor.
// It needs cgo and the dlib libraries at build time.
package dlib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Kagami/go-face"
	"github.com/kozaktomas/face-auth/internal/embedding"
)

// requiredModels are the files face.NewRecognizer expects in the models directory.
var requiredModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// Model wraps a go-face recognizer.
type Model struct {
	rec *face.Recognizer
}

// Loader returns a LoaderFunc that loads the dlib models from modelsDir.
func Loader(modelsDir string) embedding.LoaderFunc {
	return func() (embedding.FaceModel, error) {
		if err := checkModels(modelsDir); err != nil {
			return nil, err
		}
		rec, err := face.NewRecognizer(modelsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load models: %w", err)
		}
		return &Model{rec: rec}, nil
	}
}

func checkModels(dir string) error {
	var missing []error
	for _, name := range requiredModels {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, fmt.Errorf("model file %s: %w", name, err))
		}
	}
	return errors.Join(missing...)
}

// Recognize detects faces in JPEG data and computes their descriptors.
func (m *Model) Recognize(jpegData []byte) ([]embedding.Face, error) {
	faces, err := m.rec.Recognize(jpegData)
	if err != nil {
		var loadErr face.ImageLoadError
		if errors.As(err, &loadErr) {
			return nil, fmt.Errorf("%w: %v", embedding.ErrInvalidImage, err)
		}
		return nil, err
	}

	out := make([]embedding.Face, len(faces))
	for i, f := range faces {
		descriptor := make([]float32, len(f.Descriptor))
		copy(descriptor, f.Descriptor[:])
		out[i] = embedding.Face{Rect: f.Rectangle, Descriptor: descriptor}
	}
	return out, nil
}

// Close releases the native recognizer.
func (m *Model) Close() {
	if m.rec != nil {
		m.rec.Close()
		m.rec = nil
	}
}
