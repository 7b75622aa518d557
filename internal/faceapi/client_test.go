package faceapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

const testGroup = "test_group"

// callCounter counts requests per route pattern.
type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *callCounter) inc(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[pattern]++
}

func (c *callCounter) get(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[pattern]
}

func (c *callCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// setupMockServer creates a mock face service. Every handler is wrapped with a call
// counter and a subscription key check.
func setupMockServer(t *testing.T, handlers map[string]http.HandlerFunc) (*httptest.Server, *callCounter) {
	t.Helper()

	counter := &callCounter{calls: make(map[string]int)}
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			counter.inc(pattern)
			if r.Header.Get("Ocp-Apim-Subscription-Key") != "test-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			handler(w, r)
		})
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, counter
}

func newTestClient(t *testing.T, server *httptest.Server, detectionOnly bool, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := New(Config{
		Endpoint:      server.URL,
		Key:           "test-key",
		GroupID:       testGroup,
		DetectionOnly: detectionOnly,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func forbidden(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error": map[string]string{"code": "UnsupportedFeature", "message": "Feature is not supported"},
	})
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing endpoint", Config{Key: "k"}},
		{"missing key", Config{Endpoint: "https://face.example.com"}},
		{"bad scheme", Config{Endpoint: "ftp://face.example.com", Key: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_DefaultGroupID(t *testing.T) {
	c, err := New(Config{Endpoint: "https://face.example.com", Key: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.GroupID() != "face_auth_group" {
		t.Errorf("GroupID = %q, want face_auth_group", c.GroupID())
	}
}

func TestDetect(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/detect": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("returnFaceId") != "true" {
				t.Errorf("expected returnFaceId=true, got %q", r.URL.RawQuery)
			}
			if r.URL.Query().Get("recognitionModel") != "recognition_04" {
				t.Errorf("unexpected recognitionModel %q", r.URL.Query().Get("recognitionModel"))
			}
			if r.URL.Query().Get("faceIdTimeToLive") != "300" {
				t.Errorf("unexpected faceIdTimeToLive %q", r.URL.Query().Get("faceIdTimeToLive"))
			}
			if r.Header.Get("Content-Type") != "application/octet-stream" {
				t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != "jpeg-bytes" {
				t.Errorf("unexpected body %q", body)
			}
			writeJSON(w, http.StatusOK, []map[string]any{
				{"faceId": "f1", "faceRectangle": map[string]int{"top": 10, "left": 20, "width": 30, "height": 40}},
				{"faceId": "f2", "faceRectangle": map[string]int{"top": 1, "left": 2, "width": 3, "height": 4}},
			})
		},
	})
	c := newTestClient(t, server, false)

	faces, err := c.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].FaceID != "f1" || faces[0].Rect.Top != 10 || faces[0].Rect.Left != 20 ||
		faces[0].Rect.Width != 30 || faces[0].Rect.Height != 40 {
		t.Errorf("unexpected first face %+v", faces[0])
	}
}

func TestDetect_NoFaces(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/detect": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []any{})
		},
	})
	c := newTestClient(t, server, false)

	faces, err := c.Detect(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if faces == nil || len(faces) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", faces)
	}
}

func TestDetectURL(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/detect": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["url"] != "https://img.example.com/a.jpg" {
				t.Errorf("unexpected body %v", body)
			}
			writeJSON(w, http.StatusOK, []map[string]any{
				{"faceId": "f1", "faceRectangle": map[string]int{"top": 1, "left": 1, "width": 1, "height": 1}},
			})
		},
	})
	c := newTestClient(t, server, false)

	faces, err := c.DetectURL(context.Background(), "https://img.example.com/a.jpg")
	if err != nil {
		t.Fatalf("DetectURL: %v", err)
	}
	if len(faces) != 1 {
		t.Errorf("expected 1 face, got %d", len(faces))
	}
}

func TestDetect_ServerError(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/detect": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		},
	})
	c := newTestClient(t, server, false)

	_, err := c.Detect(context.Background(), []byte("img"))
	var rse *RemoteServiceError
	if !errors.As(err, &rse) {
		t.Fatalf("expected RemoteServiceError, got %v", err)
	}
	if rse.StatusCode != 500 || rse.Body != "boom" {
		t.Errorf("unexpected error %+v", rse)
	}
}

func TestVerify(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/verify": func(w http.ResponseWriter, r *http.Request) {
			var req verifyRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.FaceID1 != "live" || req.FaceID2 != "ref" {
				t.Errorf("unexpected verify request %+v", req)
			}
			writeJSON(w, http.StatusOK, map[string]any{"isIdentical": true, "confidence": 0.91})
		},
	})
	c := newTestClient(t, server, false)

	res, err := c.Verify(context.Background(), "live", "ref")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.IsIdentical || res.Confidence != 0.91 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerify_ForbiddenDoesNotDegrade(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/verify": forbidden,
	})
	c := newTestClient(t, server, false)

	_, err := c.Verify(context.Background(), "a", "b")
	if !IsAuthDenied(err) {
		t.Fatalf("expected auth denied error, got %v", err)
	}
	if errors.Is(err, ErrIdentificationUnavailable) {
		t.Error("verify is not part of the degradable group")
	}
	if !c.SupportsIdentity() {
		t.Error("verify 403 must not degrade the client")
	}
}

func TestEnsureGroup_AcceptsConflict(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusAccepted, http.StatusConflict} {
		server, _ := setupMockServer(t, map[string]http.HandlerFunc{
			"PUT /face/v1.0/persongroups/test_group": func(w http.ResponseWriter, r *http.Request) {
				var req personGroupRequest
				json.NewDecoder(r.Body).Decode(&req)
				if req.RecognitionModel != "recognition_04" {
					t.Errorf("unexpected recognition model %q", req.RecognitionModel)
				}
				w.WriteHeader(status)
			},
		})
		c := newTestClient(t, server, false)
		if err := c.EnsureGroup(context.Background()); err != nil {
			t.Errorf("status %d: unexpected error %v", status, err)
		}
	}
}

func TestPersonGroupOperations(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/persongroups/test_group/persons": func(w http.ResponseWriter, r *http.Request) {
			var req createPersonRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Name != "alice" {
				t.Errorf("unexpected name %q", req.Name)
			}
			writeJSON(w, http.StatusOK, map[string]string{"personId": "p-1"})
		},
		"POST /face/v1.0/persongroups/test_group/persons/p-1/persistedFaces": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"persistedFaceId": "pf-1"})
		},
		"GET /face/v1.0/persongroups/test_group/persons": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]any{{"personId": "p-1", "name": "alice"}})
		},
		"POST /face/v1.0/identify": func(w http.ResponseWriter, r *http.Request) {
			var req identifyRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.PersonGroupID != testGroup || req.MaxNumOfCandidatesReturned != 1 || req.ConfidenceThreshold != 0.65 {
				t.Errorf("unexpected identify request %+v", req)
			}
			writeJSON(w, http.StatusOK, []map[string]any{
				{"faceId": "f1", "candidates": []map[string]any{{"personId": "p-1", "confidence": 0.8}}},
			})
		},
	})
	c := newTestClient(t, server, false)
	ctx := context.Background()

	personID, err := c.CreateIdentity(ctx, "alice", "alice")
	if err != nil || personID != "p-1" {
		t.Fatalf("CreateIdentity = %q, %v", personID, err)
	}
	faceID, err := c.AddReferenceFace(ctx, personID, []byte("img"))
	if err != nil || faceID != "pf-1" {
		t.Fatalf("AddReferenceFace = %q, %v", faceID, err)
	}
	people, err := c.ListIdentities(ctx)
	if err != nil || len(people) != 1 || people[0].Name != "alice" {
		t.Fatalf("ListIdentities = %+v, %v", people, err)
	}
	results, err := c.Identify(ctx, []string{"f1"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(results) != 1 || results[0].Candidates[0].PersonID != "p-1" {
		t.Errorf("unexpected identify results %+v", results)
	}
}

func TestCapabilityDegradesOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}

	server, counter := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/identify":                        forbidden,
		"POST /face/v1.0/persongroups/test_group/train":   forbidden,
		"GET /face/v1.0/persongroups/test_group/training": forbidden,
		"PUT /face/v1.0/persongroups/test_group":          forbidden,
		"GET /face/v1.0/persongroups/test_group/persons":  forbidden,
		"POST /face/v1.0/persongroups/test_group/persons": forbidden,
		"POST /face/v1.0/verify": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"isIdentical": false, "confidence": 0.1})
		},
		"POST /face/v1.0/detect": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []any{})
		},
	})
	c := newTestClient(t, server, false, WithMetrics(m))
	ctx := context.Background()

	_, err = c.Identify(ctx, []string{"f1"})
	if !errors.Is(err, ErrIdentificationUnavailable) {
		t.Fatalf("expected ErrIdentificationUnavailable, got %v", err)
	}
	if !IsAuthDenied(err) {
		t.Errorf("first failure should still expose the 403: %v", err)
	}
	if c.SupportsIdentity() {
		t.Fatal("expected capability to be disabled")
	}
	if counter.total() != 1 {
		t.Fatalf("expected 1 network call, got %d", counter.total())
	}

	// Every degradable operation now fails fast without touching the network.
	checks := map[string]func() error{
		"identify":        func() error { _, err := c.Identify(ctx, []string{"f1"}); return err },
		"train":           func() error { return c.Train(ctx) },
		"training_status": func() error { _, err := c.TrainingStatus(ctx); return err },
		"ensure_group":    func() error { return c.EnsureGroup(ctx) },
		"create_identity": func() error { _, err := c.CreateIdentity(ctx, "bob", ""); return err },
		"add_face":        func() error { _, err := c.AddReferenceFace(ctx, "p", []byte("x")); return err },
		"delete_identity": func() error { return c.DeleteIdentity(ctx, "p") },
		"train_and_wait":  func() error { return c.TrainAndWait(ctx, time.Millisecond, time.Second) },
	}
	for name, call := range checks {
		if err := call(); !errors.Is(err, ErrIdentificationUnavailable) {
			t.Errorf("%s: expected ErrIdentificationUnavailable, got %v", name, err)
		}
	}
	if counter.total() != 1 {
		t.Errorf("degraded calls reached the network: %d calls", counter.total())
	}

	people, err := c.ListIdentities(ctx)
	if err != nil || len(people) != 0 || people == nil {
		t.Errorf("ListIdentities = %#v, %v; want empty list", people, err)
	}

	// Detection and verification keep working.
	if _, err := c.Verify(ctx, "a", "b"); err != nil {
		t.Errorf("Verify after degrade: %v", err)
	}
	if _, err := c.Detect(ctx, []byte("img")); err != nil {
		t.Errorf("Detect after degrade: %v", err)
	}
	if counter.get("POST /face/v1.0/persongroups/test_group/train") != 0 {
		t.Error("train endpoint should never have been called")
	}
	if got := testutil.ToFloat64(m.CapabilityDegraded); got != 1 {
		t.Errorf("capability gauge = %v, want 1", got)
	}
}

func TestCapabilityDegrade_ConcurrentCallers(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/persongroups/test_group/train": forbidden,
	})
	c := newTestClient(t, server, false)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if err := c.Train(context.Background()); !errors.Is(err, ErrIdentificationUnavailable) {
				t.Errorf("expected ErrIdentificationUnavailable, got %v", err)
			}
		})
	}
	wg.Wait()

	if c.SupportsIdentity() {
		t.Error("expected capability to be disabled")
	}
}

func TestDetectionOnlyConfig(t *testing.T) {
	server, counter := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/identify": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []any{})
		},
	})
	c := newTestClient(t, server, true)

	if c.SupportsIdentity() {
		t.Fatal("detection-only client must start degraded")
	}
	if _, err := c.Identify(context.Background(), []string{"f"}); !errors.Is(err, ErrIdentificationUnavailable) {
		t.Errorf("expected ErrIdentificationUnavailable, got %v", err)
	}
	if counter.total() != 0 {
		t.Errorf("expected no network calls, got %d", counter.total())
	}
}

func TestIdentify_NoFaces(t *testing.T) {
	server, counter := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/identify": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []any{})
		},
	})
	ctx := context.Background()

	got, err := newTestClient(t, server, false).Identify(ctx, nil)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("Identify(nil) = %#v, %v; want empty result", got, err)
	}

	// A degraded client reports the capability even when there is nothing to identify.
	degraded := newTestClient(t, server, true)
	for _, ids := range [][]string{nil, {}} {
		if _, err := degraded.Identify(ctx, ids); !errors.Is(err, ErrIdentificationUnavailable) {
			t.Errorf("Identify(%#v) on degraded client: expected ErrIdentificationUnavailable, got %v", ids, err)
		}
	}
	if counter.total() != 0 {
		t.Errorf("expected no network calls, got %d", counter.total())
	}
}

func TestNonAuthErrorKeepsCapability(t *testing.T) {
	server, _ := setupMockServer(t, map[string]http.HandlerFunc{
		"POST /face/v1.0/persongroups/test_group/train": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
	})
	c := newTestClient(t, server, false)

	err := c.Train(context.Background())
	var rse *RemoteServiceError
	if !errors.As(err, &rse) || rse.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 RemoteServiceError, got %v", err)
	}
	if errors.Is(err, ErrIdentificationUnavailable) {
		t.Error("429 must not be reported as unavailable")
	}
	if !c.SupportsIdentity() {
		t.Error("non-auth errors must not degrade the client")
	}
}

func TestTrainAndWait(t *testing.T) {
	tests := []struct {
		name     string
		statuses []TrainingStatus
		timeout  time.Duration
		check    func(t *testing.T, err error)
	}{
		{
			name:     "succeeds after polling",
			statuses: []TrainingStatus{{Status: TrainingNotStarted}, {Status: TrainingRunning}, {Status: TrainingSucceeded}},
			timeout:  5 * time.Second,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("expected success, got %v", err)
				}
			},
		},
		{
			name:     "reports failure detail",
			statuses: []TrainingStatus{{Status: TrainingRunning}, {Status: TrainingFailed, Message: "no faces"}},
			timeout:  5 * time.Second,
			check: func(t *testing.T, err error) {
				var tfe *TrainingFailedError
				if !errors.As(err, &tfe) || tfe.Message != "no faces" {
					t.Errorf("expected TrainingFailedError, got %v", err)
				}
			},
		},
		{
			name:     "times out",
			statuses: []TrainingStatus{{Status: TrainingRunning}},
			timeout:  50 * time.Millisecond,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrTrainingTimeout) {
					t.Errorf("expected ErrTrainingTimeout, got %v", err)
				}
				var tfe *TrainingFailedError
				if errors.As(err, &tfe) {
					t.Error("timeout must be distinct from training failure")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			polls := 0
			server, counter := setupMockServer(t, map[string]http.HandlerFunc{
				"POST /face/v1.0/persongroups/test_group/train": func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusAccepted)
				},
				"GET /face/v1.0/persongroups/test_group/training": func(w http.ResponseWriter, r *http.Request) {
					mu.Lock()
					idx := min(polls, len(tt.statuses)-1)
					polls++
					mu.Unlock()
					writeJSON(w, http.StatusOK, tt.statuses[idx])
				},
			})
			c := newTestClient(t, server, false)

			err := c.TrainAndWait(context.Background(), 5*time.Millisecond, tt.timeout)
			tt.check(t, err)
			if counter.get("POST /face/v1.0/persongroups/test_group/train") != 1 {
				t.Errorf("expected exactly one train call")
			}
		})
	}
}
