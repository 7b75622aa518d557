// Package handlers provides HTTP handlers for the face authentication API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/logger"
	"go.uber.org/zap"
)

// Authenticator is the part of auth.Service the handlers use.
type Authenticator interface {
	Enroll(ctx context.Context, ownerKey string, images [][]byte) (*auth.EnrollResult, error)
	Login(ctx context.Context, ownerKey string, live []byte, th auth.Thresholds) (*auth.Outcome, error)
	DetectOnly(ctx context.Context, image []byte) ([]auth.DetectedFace, error)
	Analyze(ctx context.Context, image []byte, iouThreshold float64) ([]auth.FusedFace, error)
	ListIdentities(ctx context.Context) ([]faceapi.Identity, error)
	ListOwners(ctx context.Context) ([]string, error)
	Enrollment(ctx context.Context, ownerKey string) (*database.Enrollment, error)
	RemoveIdentity(ctx context.Context, ownerKey string) (*auth.RemovalResult, error)
	Train(ctx context.Context) error
}

var _ Authenticator = (*auth.Service)(nil)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var rse *faceapi.RemoteServiceError
	switch {
	case errors.Is(err, auth.ErrOwnerRequired), errors.Is(err, auth.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auth.ErrIdentityNotEnrolled):
		return http.StatusNotFound
	case errors.Is(err, faceapi.ErrIdentificationUnavailable):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrAttributesUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, faceapi.ErrTrainingTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &rse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError maps err to a status code. Server-side failures are logged and
// answered with a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.WithContext(r.Context()).Error(op+" failed", zap.Int("status", status), zap.Error(err))
	}
	switch status {
	case http.StatusInternalServerError:
		respondError(w, status, op+" failed")
	case http.StatusBadGateway:
		respondError(w, status, "face service error")
	default:
		respondError(w, status, err.Error())
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
