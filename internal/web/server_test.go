package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/kozaktomas/face-auth/internal/web/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

// stubService answers the read-only calls; anything else panics.
type stubService struct {
	handlers.Authenticator
	removed []string
}

func (s *stubService) ListIdentities(context.Context) ([]faceapi.Identity, error) {
	return []faceapi.Identity{}, nil
}

func (s *stubService) ListOwners(context.Context) ([]string, error) {
	return []string{"alice"}, nil
}

func (s *stubService) RemoveIdentity(_ context.Context, owner string) (*auth.RemovalResult, error) {
	s.removed = append(s.removed, owner)
	return &auth.RemovalResult{OwnerKey: owner}, nil
}

func newTestServer(t *testing.T, svc handlers.Authenticator) (*Server, *prometheus.Registry) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Web.AdminToken = "s3cret"
	cfg.Web.AllowedOrigins = []string{"https://app.example.com"}
	reg := prometheus.NewRegistry()
	return NewServer(cfg, svc, reg, zaptest.NewLogger(t)), reg
}

func TestServer_Routes(t *testing.T) {
	svc := &stubService{}
	s, _ := newTestServer(t, svc)

	tests := []struct {
		name       string
		method     string
		path       string
		header     map[string]string
		wantStatus int
		wantBody   string
	}{
		{"health", "GET", "/api/v1/health", nil, http.StatusOK, `"ok"`},
		{"identities", "GET", "/api/v1/identities", nil, http.StatusOK, `"alice"`},
		{"delete without token", "DELETE", "/api/v1/identities/alice", nil, http.StatusUnauthorized, "unauthorized"},
		{
			"delete with token", "DELETE", "/api/v1/identities/alice",
			map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK, `"owner_key":"alice"`,
		},
		{"train without token", "POST", "/api/v1/identities/train", nil, http.StatusUnauthorized, "unauthorized"},
		{"unknown route", "GET", "/api/v1/nope", nil, http.StatusNotFound, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			recorder := httptest.NewRecorder()

			s.Router().ServeHTTP(recorder, req)

			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d\nBody: %s", tc.wantStatus, recorder.Code, recorder.Body.String())
			}
			if tc.wantBody != "" && !strings.Contains(recorder.Body.String(), tc.wantBody) {
				t.Errorf("body %q does not contain %q", recorder.Body.String(), tc.wantBody)
			}
		})
	}

	if len(svc.removed) != 1 || svc.removed[0] != "alice" {
		t.Errorf("removed = %v, want [alice]", svc.removed)
	}
}

func TestServer_Metrics(t *testing.T) {
	s, reg := newTestServer(t, &stubService{})
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	m.ObserveLogin(auth.StrategyRemoteVerify, true)

	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	want := `faceauth_login_total{result="success",strategy="remote-verify"} 1`
	if !strings.Contains(recorder.Body.String(), want) {
		t.Errorf("metrics output does not contain %q:\n%s", want, recorder.Body.String())
	}
}

func TestServer_CORS(t *testing.T) {
	s, _ := newTestServer(t, &stubService{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
