package embedding

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeModel struct {
	faces []Face
	err   error
	calls atomic.Int32
}

func (m *fakeModel) Recognize(jpegData []byte) ([]Face, error) {
	m.calls.Add(1)
	if len(jpegData) == 0 {
		return nil, errors.New("empty jpeg")
	}
	out := make([]Face, len(m.faces))
	copy(out, m.faces)
	return out, m.err
}

func (m *fakeModel) Close() {}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func loaderFor(m FaceModel) LoaderFunc {
	return func() (FaceModel, error) { return m, nil }
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbed_SelectsLargestFace(t *testing.T) {
	model := &fakeModel{faces: []Face{
		{Rect: image.Rect(0, 0, 10, 10), Descriptor: []float32{1, 0, 0}},
		{Rect: image.Rect(0, 0, 30, 30), Descriptor: []float32{0, 3, 4}},
		{Rect: image.Rect(5, 5, 35, 35), Descriptor: []float32{9, 9, 9}},
	}}
	e := NewExtractor(loaderFor(model), Options{})

	got, err := e.Embed(context.Background(), testPNG(t, 64, 64))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0, 0.6, 0.8}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("Embed = %v, want %v (largest face, first on ties)", got, want)
		}
	}
}

func TestEmbed_FirstDetectedPolicy(t *testing.T) {
	model := &fakeModel{faces: []Face{
		{Rect: image.Rect(0, 0, 10, 10), Descriptor: []float32{2, 0, 0}},
		{Rect: image.Rect(0, 0, 30, 30), Descriptor: []float32{0, 3, 4}},
	}}
	e := NewExtractor(loaderFor(model), Options{Policy: FirstDetected})

	got, err := e.Embed(context.Background(), testPNG(t, 32, 32))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if math.Abs(float64(got[0])-1) > 1e-5 {
		t.Errorf("expected first face descriptor, got %v", got)
	}
}

func TestEmbed_UnitNorm(t *testing.T) {
	model := &fakeModel{faces: []Face{{Rect: image.Rect(0, 0, 10, 10), Descriptor: []float32{0.3, -1.7, 12.5, 0.001}}}}
	e := NewExtractor(loaderFor(model), Options{})

	got, err := e.Embed(context.Background(), testPNG(t, 16, 16))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if n := norm(got); math.Abs(n-1) > 1e-5 {
		t.Errorf("||embedding|| = %v, want 1", n)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	model := &fakeModel{faces: []Face{{Rect: image.Rect(0, 0, 10, 10), Descriptor: []float32{1, 2, 3}}}}
	e := NewExtractor(loaderFor(model), Options{Dim: 128})

	_, err := e.Embed(context.Background(), testPNG(t, 16, 16))
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestEmbed_NoFaceReturnsNil(t *testing.T) {
	e := NewExtractor(loaderFor(&fakeModel{}), Options{})

	got, err := e.Embed(context.Background(), testPNG(t, 16, 16))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil embedding, got %v", got)
	}
}

func TestEmbed_InvalidImage(t *testing.T) {
	e := NewExtractor(loaderFor(&fakeModel{}), Options{})

	for name, data := range map[string][]byte{"empty": nil, "garbage": []byte("not an image at all")} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Embed(context.Background(), data)
			if !errors.Is(err, ErrInvalidImage) {
				t.Errorf("expected ErrInvalidImage, got %v", err)
			}
		})
	}
}

func TestEmbed_ModelUnavailableIsSticky(t *testing.T) {
	var loads atomic.Int32
	e := NewExtractor(func() (FaceModel, error) {
		loads.Add(1)
		return nil, errors.New("shape_predictor_5_face_landmarks.dat: no such file")
	}, Options{})

	for range 3 {
		_, err := e.Embed(context.Background(), testPNG(t, 8, 8))
		if !errors.Is(err, ErrModelUnavailable) {
			t.Fatalf("expected ErrModelUnavailable, got %v", err)
		}
	}
	if loads.Load() != 1 {
		t.Errorf("loader called %d times, want 1", loads.Load())
	}
}

func TestEmbed_AfterCloseDoesNotReload(t *testing.T) {
	var loads atomic.Int32
	model := &fakeModel{faces: []Face{{Rect: image.Rect(0, 0, 4, 4), Descriptor: []float32{1, 0}}}}
	e := NewExtractor(func() (FaceModel, error) {
		loads.Add(1)
		return model, nil
	}, Options{})
	img := testPNG(t, 8, 8)

	if _, err := e.Embed(context.Background(), img); err != nil {
		t.Fatalf("Embed before Close: %v", err)
	}
	e.Close()

	for range 2 {
		_, err := e.Embed(context.Background(), img)
		if !errors.Is(err, ErrExtractorClosed) || !errors.Is(err, ErrModelUnavailable) {
			t.Fatalf("expected ErrExtractorClosed, got %v", err)
		}
	}
	if _, err := e.Detect(context.Background(), img); !errors.Is(err, ErrExtractorClosed) {
		t.Errorf("Detect after Close: expected ErrExtractorClosed, got %v", err)
	}
	if err := e.Warmup(context.Background()); !errors.Is(err, ErrExtractorClosed) {
		t.Errorf("Warmup after Close: expected ErrExtractorClosed, got %v", err)
	}
	if loads.Load() != 1 {
		t.Errorf("loader called %d times, want 1", loads.Load())
	}
	if model.calls.Load() != 1 {
		t.Errorf("model used %d times after Close", model.calls.Load()-1)
	}
}

func TestClose_BeforeFirstUse(t *testing.T) {
	var loads atomic.Int32
	e := NewExtractor(func() (FaceModel, error) {
		loads.Add(1)
		return &fakeModel{}, nil
	}, Options{})
	e.Close()

	if _, err := e.Embed(context.Background(), testPNG(t, 8, 8)); !errors.Is(err, ErrExtractorClosed) {
		t.Errorf("expected ErrExtractorClosed, got %v", err)
	}
	if loads.Load() != 0 {
		t.Errorf("loader called %d times after Close, want 0", loads.Load())
	}
}

func TestEmbed_ConcurrentFirstUseLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	model := &fakeModel{faces: []Face{{Rect: image.Rect(0, 0, 4, 4), Descriptor: []float32{1, 1}}}}
	e := NewExtractor(func() (FaceModel, error) {
		loads.Add(1)
		return model, nil
	}, Options{})
	img := testPNG(t, 8, 8)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if _, err := e.Embed(context.Background(), img); err != nil {
				t.Errorf("Embed: %v", err)
			}
		})
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("loader called %d times, want 1", loads.Load())
	}
	if model.calls.Load() != 16 {
		t.Errorf("model called %d times, want 16", model.calls.Load())
	}
}

func TestDetect_ScalesBackToOriginalPixels(t *testing.T) {
	model := &fakeModel{faces: []Face{{Rect: image.Rect(10, 20, 30, 40)}}}
	e := NewExtractor(loaderFor(model), Options{MaxImageSize: 50})

	rects, err := e.Detect(context.Background(), testPNG(t, 100, 50))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(rects) != 1 {
		t.Fatalf("expected 1 face, got %d", len(rects))
	}
	r := rects[0]
	if r.Left != 20 || r.Top != 40 || r.Width != 40 || r.Height != 40 {
		t.Errorf("unexpected rect %+v", r)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	got := Normalize([]float32{0, 0, 0})
	for _, x := range got {
		if x != 0 || math.IsNaN(float64(x)) {
			t.Fatalf("expected zeros, got %v", got)
		}
	}
}

func TestParseSelectionPolicy(t *testing.T) {
	if ParseSelectionPolicy("first") != FirstDetected {
		t.Error("expected FirstDetected")
	}
	if ParseSelectionPolicy("largest") != LargestArea || ParseSelectionPolicy("") != LargestArea {
		t.Error("expected LargestArea default")
	}
}
