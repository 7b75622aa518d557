package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/faceapi"
)

// fakeAuthenticator records its inputs and returns canned results.
type fakeAuthenticator struct {
	err error

	enrollOwner  string
	enrollImages [][]byte
	enrollResult *auth.EnrollResult

	loginOwner      string
	loginImage      []byte
	loginThresholds auth.Thresholds
	outcome         *auth.Outcome

	detected []auth.DetectedFace
	fused    []auth.FusedFace
	iou      float64

	identities []faceapi.Identity
	owners     []string
	enrollment *database.Enrollment
	removed    string
	trained    int
}

func (f *fakeAuthenticator) Enroll(_ context.Context, owner string, images [][]byte) (*auth.EnrollResult, error) {
	f.enrollOwner, f.enrollImages = owner, images
	if f.err != nil {
		return nil, f.err
	}
	return f.enrollResult, nil
}

func (f *fakeAuthenticator) Login(_ context.Context, owner string, live []byte, th auth.Thresholds) (*auth.Outcome, error) {
	f.loginOwner, f.loginImage, f.loginThresholds = owner, live, th
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func (f *fakeAuthenticator) DetectOnly(context.Context, []byte) ([]auth.DetectedFace, error) {
	return f.detected, f.err
}

func (f *fakeAuthenticator) Analyze(_ context.Context, _ []byte, iou float64) ([]auth.FusedFace, error) {
	f.iou = iou
	return f.fused, f.err
}

func (f *fakeAuthenticator) ListIdentities(context.Context) ([]faceapi.Identity, error) {
	return f.identities, f.err
}

func (f *fakeAuthenticator) ListOwners(context.Context) ([]string, error) {
	return f.owners, f.err
}

func (f *fakeAuthenticator) Enrollment(_ context.Context, owner string) (*database.Enrollment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.enrollment, nil
}

func (f *fakeAuthenticator) RemoveIdentity(_ context.Context, owner string) (*auth.RemovalResult, error) {
	f.removed = owner
	if f.err != nil {
		return nil, f.err
	}
	return &auth.RemovalResult{OwnerKey: owner, LocatorsRemoved: 2, EmbeddingsRemoved: 2}, nil
}

func (f *fakeAuthenticator) Train(context.Context) error {
	f.trained++
	return f.err
}

// multipartRequest builds a multipart request with form fields and files, keyed by field name.
func multipartRequest(t *testing.T, method, path string, fields map[string]string, files map[string][]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for field, contents := range files {
		for _, content := range contents {
			part, err := writer.CreateFormFile(field, "face.jpg")
			if err != nil {
				t.Fatalf("failed to create form file: %v", err)
			}
			part.Write([]byte(content))
		}
	}
	writer.Close()

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
