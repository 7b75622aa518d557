// Package embedding turns face photos into L2-normalized descriptors without any network call.
package embedding

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/logger"
	"go.uber.org/zap"
)

const normEpsilon = 1e-12

// Options configures an Extractor.
type Options struct {
	Policy       SelectionPolicy
	MaxImageSize int
	// Dim is the expected descriptor length. Zero accepts any length.
	Dim    int
	Logger *zap.Logger
}

// Extractor computes face embeddings with a lazily loaded FaceModel.
// The model is loaded once on first use; inference calls are serialized.
type Extractor struct {
	load    LoaderFunc
	policy  SelectionPolicy
	maxSize int
	dim     int
	log     *zap.Logger

	loadMu  sync.Mutex
	model   FaceModel
	loadErr error

	inferMu sync.Mutex
}

// NewExtractor creates an extractor. Nothing is loaded until the first call.
func NewExtractor(load LoaderFunc, opts Options) *Extractor {
	if opts.Policy == "" {
		opts.Policy = LargestArea
	}
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = constants.MaxImageSize
	}
	return &Extractor{
		load:    load,
		policy:  opts.Policy,
		maxSize: opts.MaxImageSize,
		dim:     opts.Dim,
		log:     logger.OrNop(opts.Logger),
	}
}

// getModel returns the loaded model, loading it on first use.
// A failed load is remembered and returned to every later caller.
func (e *Extractor) getModel() (FaceModel, error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.model != nil || e.loadErr != nil {
		return e.model, e.loadErr
	}

	e.log.Info("loading face model")
	model, err := e.load()
	if err != nil {
		e.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		e.log.Error("face model load failed", zap.Error(err))
		return nil, e.loadErr
	}
	e.model = model
	e.log.Info("face model loaded")
	return e.model, nil
}

// Warmup loads the model ahead of the first request.
func (e *Extractor) Warmup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.getModel()
	return err
}

// Close waits for a running inference, releases the model if it was loaded and
// makes every later call fail with ErrExtractorClosed.
func (e *Extractor) Close() {
	e.inferMu.Lock()
	defer e.inferMu.Unlock()
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.model != nil {
		e.model.Close()
		e.model = nil
	}
	e.loadErr = ErrExtractorClosed
}

// recognize prepares data and runs the model, returning faces in original pixel coordinates.
func (e *Extractor) recognize(ctx context.Context, data []byte) ([]Face, error) {
	prepared, err := prepareImage(data, e.maxSize)
	if err != nil {
		return nil, err
	}

	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	model, err := e.getModel()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	faces, err := model.Recognize(prepared.JPEG)
	if err != nil {
		return nil, fmt.Errorf("face recognition failed: %w", err)
	}

	if prepared.Scale != 1 {
		for i := range faces {
			faces[i].Rect = scaleRect(faces[i].Rect, prepared.Scale)
		}
	}
	return faces, nil
}

// Embed returns the normalized descriptor of the selected face, or nil when no face is found.
func (e *Extractor) Embed(ctx context.Context, data []byte) ([]float32, error) {
	faces, err := e.recognize(ctx, data)
	if err != nil {
		return nil, err
	}

	idx := selectFace(faces, e.policy)
	if idx < 0 {
		return nil, nil
	}
	if len(faces) > 1 {
		e.log.Debug("multiple faces detected", zap.Int("faces", len(faces)), zap.Int("selected", idx))
	}
	if d := len(faces[idx].Descriptor); e.dim > 0 && d != e.dim {
		return nil, fmt.Errorf("%w: descriptor has %d dimensions, want %d", ErrModelUnavailable, d, e.dim)
	}
	return Normalize(faces[idx].Descriptor), nil
}

// Detect returns the bounding rectangles of every face in data.
func (e *Extractor) Detect(ctx context.Context, data []byte) ([]facematch.Rect, error) {
	faces, err := e.recognize(ctx, data)
	if err != nil {
		return nil, err
	}
	rects := make([]facematch.Rect, len(faces))
	for i, f := range faces {
		rects[i] = facematch.RectFromCorners(
			float64(f.Rect.Min.X), float64(f.Rect.Min.Y), float64(f.Rect.Max.X), float64(f.Rect.Max.Y),
		)
	}
	return rects, nil
}

// Normalize returns v / (||v|| + 1e-12) as a new slice.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func scaleRect(r image.Rectangle, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Round(float64(r.Min.X)*scale)),
		int(math.Round(float64(r.Min.Y)*scale)),
		int(math.Round(float64(r.Max.X)*scale)),
		int(math.Round(float64(r.Max.Y)*scale)),
	)
}
