package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kozaktomas/face-auth/internal/attributes"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/embedding"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"go.uber.org/zap"
)

// maxCosineDistance is reported when the local path found no candidate at all.
const maxCosineDistance = 2.0

// loginAttempt is the state of one login as it moves through the cascade.
type loginAttempt struct {
	owner      string
	live       []byte
	thresholds Thresholds
	enrollment *database.Enrollment
	log        *zap.Logger

	// liveFaceID is the remote handle of the live face; empty disables the remote loop.
	liveFaceID string

	embedding   []float32
	embedded    bool
	localFailed bool

	remoteTried int
	remoteBest  float64 // highest confidence among identical remote comparisons
	localRan    bool
	localBest   *database.Neighbor
}

// Login decides whether live shows the enrolled identity ownerKey.
//
// The remote loop compares the live face with every reference photo in enrollment order
// and stops at the first identical comparison reaching th.RemoteConfidence. Any remote
// failure ends the loop and the attempt continues with the local path: the nearest stored
// embedding must belong to ownerKey and lie within th.LocalDistance.
//
// Errors are returned only for invalid input (ErrOwnerRequired, ErrInvalidImage),
// ErrIdentityNotEnrolled, ErrNoFaceDetected and context cancellation. Every other
// failure produces an Outcome with IsMatch false.
func (s *Service) Login(ctx context.Context, ownerKey string, live []byte, th Thresholds) (*Outcome, error) {
	if ownerKey == "" {
		return nil, ErrOwnerRequired
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	enrollment, err := s.enrollments.GetEnrollment(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment == nil || len(enrollment.Locators) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotEnrolled, ownerKey)
	}

	a := &loginAttempt{
		owner:      ownerKey,
		live:       live,
		thresholds: th.withDefaults(s.settings.Thresholds),
		enrollment: enrollment,
		log:        s.log.With(zap.String("owner", ownerKey)),
	}

	if err := s.detectLive(ctx, a); err != nil {
		return nil, err
	}

	if a.liveFaceID != "" {
		out, err := s.verifyRemote(ctx, a)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return s.finish(ctx, a, out), nil
		}
	}

	out, err := s.verifyLocal(ctx, a)
	if err != nil {
		return nil, err
	}
	if out != nil {
		return s.finish(ctx, a, out), nil
	}

	return s.finish(ctx, a, a.failure()), nil
}

// detectLive finds the live face. The remote handle is preferred; the local embedding is
// computed here only when the remote service found nothing or could not be asked.
func (s *Service) detectLive(ctx context.Context, a *loginAttempt) error {
	remoteRan := false
	if s.remote != nil {
		faces, err := s.remote.Detect(ctx, a.live)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			a.log.Warn("remote detection failed, continuing with local embeddings", zap.Error(err))
		default:
			remoteRan = true
			if f, ok := pickRemoteFace(faces); ok {
				a.liveFaceID = f.FaceID
				return nil
			}
		}
	}

	if err := s.embedLive(ctx, a); err != nil {
		return err
	}
	if a.embedding != nil {
		return nil
	}
	// Every detector that looked at the image found nothing.
	if remoteRan || !a.localFailed {
		return ErrNoFaceDetected
	}
	return nil
}

// embedLive computes the live embedding once. A missing model is logged and disables the
// local path; an undecodable image is a request error.
func (s *Service) embedLive(ctx context.Context, a *loginAttempt) error {
	if a.embedded {
		return nil
	}
	a.embedded = true

	emb, err := s.embedder.Embed(ctx, a.live)
	switch {
	case errors.Is(err, embedding.ErrInvalidImage):
		return fmt.Errorf("%w: %w", ErrInvalidImage, err)
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Error("local embedding unavailable", zap.Error(err))
		a.localFailed = true
	default:
		a.embedding = emb
	}
	return nil
}

func (s *Service) verifyRemote(ctx context.Context, a *loginAttempt) (*Outcome, error) {
	for _, locator := range a.enrollment.Locators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref, err := s.store.Get(ctx, locator)
		if err != nil {
			a.log.Warn("reference photo unavailable, skipping", zap.String("locator", locator), zap.Error(err))
			continue
		}

		refFaces, err := s.remote.Detect(ctx, ref)
		if isBadReference(err) {
			a.log.Warn("reference photo rejected by face service, skipping", zap.String("locator", locator), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, s.abandonRemote(ctx, a, err)
		}
		refFace, ok := pickRemoteFace(refFaces)
		if !ok {
			a.log.Debug("no face in reference photo", zap.String("locator", locator))
			continue
		}

		a.remoteTried++
		res, err := s.remote.Verify(ctx, a.liveFaceID, refFace.FaceID)
		if err != nil {
			return nil, s.abandonRemote(ctx, a, err)
		}
		if !res.IsIdentical {
			continue
		}
		a.remoteBest = max(a.remoteBest, res.Confidence)
		if res.Confidence >= a.thresholds.RemoteConfidence {
			return a.remoteOutcome(true, res.Confidence), nil
		}
	}
	return nil, nil
}

// abandonRemote ends the remote loop for this attempt. Only cancellation is an error.
func (s *Service) abandonRemote(ctx context.Context, a *loginAttempt, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.log.Warn("remote verification abandoned, falling back to local embeddings",
		zap.Error(err), zap.Bool("auth_denied", faceapi.IsAuthDenied(err)))
	return nil
}

// isBadReference reports a 400 for a reference photo, which says nothing about the service.
func isBadReference(err error) bool {
	var rse *faceapi.RemoteServiceError
	return errors.As(err, &rse) && rse.StatusCode == http.StatusBadRequest
}

func (s *Service) verifyLocal(ctx context.Context, a *loginAttempt) (*Outcome, error) {
	if err := s.embedLive(ctx, a); err != nil {
		// The remote service already accepted the image, only the local decoder cannot read it.
		if errors.Is(err, ErrInvalidImage) && a.liveFaceID != "" {
			a.log.Warn("live image not decodable locally", zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	if a.embedding == nil {
		return nil, nil
	}

	neighbors, err := s.embeddings.TopK(ctx, a.embedding, s.settings.TopK, a.owner)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.log.Error("vector store query failed", zap.Error(err))
		return nil, nil
	}
	a.localRan = true
	if len(neighbors) == 0 {
		return nil, nil
	}

	best := neighbors[0]
	a.localBest = &best
	if best.OwnerKey == a.owner && best.Distance <= a.thresholds.LocalDistance {
		return a.localOutcome(true), nil
	}
	return nil, nil
}

func (a *loginAttempt) remoteOutcome(match bool, confidence float64) *Outcome {
	return &Outcome{
		IsMatch:              match,
		Confidence:           confidence,
		Strategy:             StrategyRemoteVerify,
		DistanceOrConfidence: confidence,
		ThresholdUsed:        a.thresholds.RemoteConfidence,
	}
}

func (a *loginAttempt) localOutcome(match bool) *Outcome {
	return &Outcome{
		IsMatch:              match,
		Confidence:           localConfidence(a.localBest.Distance),
		Strategy:             StrategyLocalEmbedding,
		DistanceOrConfidence: a.localBest.Distance,
		ThresholdUsed:        a.thresholds.LocalDistance,
	}
}

// failure reports the best score observed and the strategy that produced it.
func (a *loginAttempt) failure() *Outcome {
	var out *Outcome
	switch {
	case a.localBest != nil && (a.remoteTried == 0 || localConfidence(a.localBest.Distance) >= a.remoteBest):
		out = a.localOutcome(false)
		out.Reason = ReasonBelowThreshold
	case a.remoteTried > 0:
		out = a.remoteOutcome(false, a.remoteBest)
		out.Reason = ReasonBelowThreshold
	case a.localRan:
		out = &Outcome{
			Strategy:             StrategyLocalEmbedding,
			DistanceOrConfidence: maxCosineDistance,
			ThresholdUsed:        a.thresholds.LocalDistance,
			Reason:               ReasonNoCandidates,
		}
	default:
		out = &Outcome{Reason: ReasonUnavailable}
	}
	return out
}

func localConfidence(distance float64) float64 {
	return min(max(1-distance, 0), 1)
}

func (s *Service) finish(ctx context.Context, a *loginAttempt, out *Outcome) *Outcome {
	out.ReferencesTried = a.remoteTried
	if s.attributes != nil {
		out.Emotion = s.liveEmotion(ctx, a)
	}

	strategy := out.Strategy
	if strategy == "" {
		strategy = "none"
	}
	s.metrics.ObserveLogin(strategy, out.IsMatch)
	a.log.Info("login attempt",
		zap.Bool("match", out.IsMatch),
		zap.String("strategy", strategy),
		zap.Float64("score", out.DistanceOrConfidence),
		zap.Float64("threshold", out.ThresholdUsed),
		zap.Int("references_tried", out.ReferencesTried),
		zap.String("reason", out.Reason),
	)
	return out
}

// liveEmotion returns the dominant emotion of the largest face, or nil.
func (s *Service) liveEmotion(ctx context.Context, a *loginAttempt) *attributes.Emotion {
	faces, err := s.attributes.DetectFaces(ctx, a.live)
	if err != nil {
		a.log.Warn("face attributes unavailable", zap.String("provider", s.attributes.Name()), zap.Error(err))
		return nil
	}
	rects := make([]facematch.Rect, len(faces))
	for i, f := range faces {
		rects[i] = f.Rect
	}
	idx := largestFace(rects)
	if idx < 0 {
		return nil
	}
	e := faces[idx].BestEmotion
	return &e
}
