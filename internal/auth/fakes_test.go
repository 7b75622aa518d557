package auth

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-auth/internal/attributes"
	"github.com/kozaktomas/face-auth/internal/database/mock"
	"github.com/kozaktomas/face-auth/internal/embedding"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/kozaktomas/face-auth/internal/storage"
	"go.uber.org/zap/zaptest"
)

// fakeRemote is a scripted RemoteFaces. By default every image contains one face whose
// ID is "face-" + image bytes, and Verify reports no match.
type fakeRemote struct {
	mu       sync.Mutex
	supports bool
	calls    map[string]int

	detect func(image []byte) ([]faceapi.DetectedFace, error)
	verify func(liveID, refID string) (*faceapi.VerifyResult, error)

	ensureErr error
	trainErr  error
	nextID    int
	faces     map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{supports: true, calls: make(map[string]int), faces: make(map[string]int)}
}

func (f *fakeRemote) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeRemote) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) SupportsIdentity() bool { return f.supports }

func (f *fakeRemote) Detect(_ context.Context, image []byte) ([]faceapi.DetectedFace, error) {
	f.count("detect")
	if f.detect != nil {
		return f.detect(image)
	}
	return []faceapi.DetectedFace{{FaceID: "face-" + string(image), Rect: facematch.Rect{Width: 10, Height: 10}}}, nil
}

func (f *fakeRemote) Verify(_ context.Context, liveID, refID string) (*faceapi.VerifyResult, error) {
	f.count("verify")
	if f.verify != nil {
		return f.verify(liveID, refID)
	}
	return &faceapi.VerifyResult{}, nil
}

func (f *fakeRemote) EnsureGroup(context.Context) error {
	f.count("ensure_group")
	return f.ensureErr
}

func (f *fakeRemote) CreateIdentity(_ context.Context, name, _ string) (string, error) {
	f.count("create_identity")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return name + "-person", nil
}

func (f *fakeRemote) AddReferenceFace(_ context.Context, personID string, _ []byte) (string, error) {
	f.count("add_face")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[personID]++
	return "persisted", nil
}

func (f *fakeRemote) DeleteIdentity(context.Context, string) error {
	f.count("delete_identity")
	return nil
}

func (f *fakeRemote) Train(context.Context) error {
	f.count("train")
	return f.trainErr
}

func (f *fakeRemote) TrainAndWait(context.Context, time.Duration, time.Duration) error {
	f.count("train_wait")
	return f.trainErr
}

func (f *fakeRemote) ListIdentities(context.Context) ([]faceapi.Identity, error) {
	f.count("list")
	return []faceapi.Identity{{PersonID: "alice-person", Name: "alice"}}, nil
}

// fakeEmbedder returns the vector registered for the exact image bytes. Unknown images
// have no face; "corrupt" is undecodable.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *fakeEmbedder) Embed(_ context.Context, data []byte) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if string(data) == "corrupt" {
		return nil, embedding.ErrInvalidImage
	}
	return e.vectors[string(data)], nil
}

func (e *fakeEmbedder) Detect(_ context.Context, data []byte) ([]facematch.Rect, error) {
	if string(data) == "corrupt" {
		return nil, embedding.ErrInvalidImage
	}
	if _, ok := e.vectors[string(data)]; !ok {
		return []facematch.Rect{}, nil
	}
	return []facematch.Rect{{Top: 1, Left: 2, Width: 30, Height: 40}}, nil
}

// memStore is an in-memory ObjectStore handing out sequential locators.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	n       int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, owner string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	loc := "users/" + owner + "/" + string(rune('a'+s.n-1)) + ".jpg"
	s.objects[loc] = data
	return loc, nil
}

func (s *memStore) Get(_ context.Context, locator string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[locator]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (s *memStore) Delete(_ context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, locator)
	return nil
}

func (s *memStore) set(locator string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[locator] = data
}

type fakeAttributes struct {
	faces []attributes.Face
	err   error
}

func (a *fakeAttributes) Name() string               { return "fake" }
func (a *fakeAttributes) GetUsage() attributes.Usage { return attributes.Usage{} }
func (a *fakeAttributes) DetectFaces(context.Context, []byte) ([]attributes.Face, error) {
	return a.faces, a.err
}

type harness struct {
	svc         *Service
	remote      *fakeRemote
	embedder    *fakeEmbedder
	embeddings  *mock.MockEmbeddingStore
	enrollments *mock.MockEnrollmentStore
	store       *memStore
}

type harnessOption func(*Deps)

func withoutRemote() harnessOption {
	return func(d *Deps) { d.Remote = nil }
}

func withAttributes(p attributes.Provider) harnessOption {
	return func(d *Deps) { d.Attributes = p }
}

func withMetrics(m *metrics.Metrics) harnessOption {
	return func(d *Deps) { d.Metrics = m }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		remote:      newFakeRemote(),
		embedder:    &fakeEmbedder{vectors: make(map[string][]float32)},
		embeddings:  mock.NewMockEmbeddingStore(),
		enrollments: mock.NewMockEnrollmentStore(),
		store:       newMemStore(),
	}
	deps := Deps{
		Remote:      h.remote,
		Embedder:    h.embedder,
		Embeddings:  h.embeddings,
		Enrollments: h.enrollments,
		Store:       h.store,
		Logger:      zaptest.NewLogger(t),
	}
	for _, o := range opts {
		o(&deps)
	}
	svc, err := NewService(deps, Settings{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

// enroll registers reference photos for owner directly in the stores.
func (h *harness) enroll(t *testing.T, owner string, refs map[string]string, embeddings map[string][]float32) {
	t.Helper()
	locators := make([]string, 0, len(refs))
	for _, loc := range slices.Sorted(maps.Keys(refs)) {
		h.store.set(loc, []byte(refs[loc]))
		locators = append(locators, loc)
	}
	if _, err := h.enrollments.AddLocators(context.Background(), owner, locators); err != nil {
		t.Fatal(err)
	}
	for loc, v := range embeddings {
		if _, err := h.embeddings.Upsert(context.Background(), owner, loc, v); err != nil {
			t.Fatal(err)
		}
	}
}

var errTimeout = errors.New("context deadline exceeded (Client.Timeout exceeded while awaiting headers)")
