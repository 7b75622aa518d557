// Package auth authenticates users by face. A login first compares the live photo with
// the enrolled reference photos through the remote face service and falls back to local
// embeddings and the vector store when the remote path is unavailable or inconclusive.
package auth

import (
	"errors"
	"time"

	"github.com/kozaktomas/face-auth/internal/attributes"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/kozaktomas/face-auth/internal/storage"
	"go.uber.org/zap"
)

// Deps are the collaborators of a Service. Remote and Attributes are optional.
type Deps struct {
	Remote      RemoteFaces
	Embedder    Embedder
	Embeddings  database.EmbeddingWriter
	Enrollments database.EnrollmentWriter
	Store       storage.ObjectStore
	Attributes  attributes.Provider
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Settings tune a Service. Zero values use the package defaults.
type Settings struct {
	Thresholds        Thresholds
	TopK              int
	TrainPollInterval time.Duration
	TrainTimeout      time.Duration
}

// Service implements enrollment, login and detection.
type Service struct {
	remote      RemoteFaces
	embedder    Embedder
	embeddings  database.EmbeddingWriter
	enrollments database.EnrollmentWriter
	store       storage.ObjectStore
	attributes  attributes.Provider
	metrics     *metrics.Metrics
	log         *zap.Logger
	settings    Settings
}

// NewService validates deps and builds a Service.
func NewService(deps Deps, settings Settings) (*Service, error) {
	var errs []error
	if deps.Embedder == nil {
		errs = append(errs, errors.New("embedder is required"))
	}
	if deps.Embeddings == nil {
		errs = append(errs, errors.New("embedding store is required"))
	}
	if deps.Enrollments == nil {
		errs = append(errs, errors.New("enrollment store is required"))
	}
	if deps.Store == nil {
		errs = append(errs, errors.New("object store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	settings.Thresholds = settings.Thresholds.withDefaults(Thresholds{
		RemoteConfidence: constants.DefaultRemoteConfidenceThreshold,
		LocalDistance:    constants.DefaultLocalDistanceThreshold,
	})
	if settings.TopK <= 0 {
		settings.TopK = constants.DefaultLocalTopK
	}

	return &Service{
		remote:      deps.Remote,
		embedder:    deps.Embedder,
		embeddings:  deps.Embeddings,
		enrollments: deps.Enrollments,
		store:       deps.Store,
		attributes:  deps.Attributes,
		metrics:     deps.Metrics,
		log:         logger.OrNop(deps.Logger),
		settings:    settings,
	}, nil
}

// Thresholds returns the default thresholds of the service.
func (s *Service) Thresholds() Thresholds {
	return s.settings.Thresholds
}

// RemoteEnabled reports whether a remote face service is configured.
func (s *Service) RemoteEnabled() bool {
	return s.remote != nil
}

// largestFace returns the index of the face with the largest area, first on ties,
// or -1 for an empty list.
func largestFace(rects []facematch.Rect) int {
	best := -1
	bestArea := -1.0
	for i, r := range rects {
		if a := r.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

// pickRemoteFace selects the largest remotely detected face.
func pickRemoteFace(faces []faceapi.DetectedFace) (faceapi.DetectedFace, bool) {
	rects := make([]facematch.Rect, len(faces))
	for i, f := range faces {
		rects[i] = f.Rect
	}
	idx := largestFace(rects)
	if idx < 0 {
		return faceapi.DetectedFace{}, false
	}
	return faces[idx], true
}
