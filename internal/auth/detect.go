package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-auth/internal/attributes"
	"github.com/kozaktomas/face-auth/internal/embedding"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/facematch"
)

// DetectOnly finds faces in image with the remote service, or with the local detector
// when no remote service is configured. Remote errors are returned as they are; there
// is no fallback for pure detection.
func (s *Service) DetectOnly(ctx context.Context, image []byte) ([]DetectedFace, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	if s.remote != nil {
		faces, err := s.remote.Detect(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("remote detection: %w", err)
		}
		out := make([]DetectedFace, len(faces))
		for i, f := range faces {
			out[i] = DetectedFace{FaceID: f.FaceID, Rect: f.Rect, Confidence: f.Confidence, Source: SourceRemote}
		}
		return out, nil
	}

	rects, err := s.embedder.Detect(ctx, image)
	if errors.Is(err, embedding.ErrInvalidImage) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if err != nil {
		return nil, fmt.Errorf("local detection: %w", err)
	}
	out := make([]DetectedFace, len(rects))
	for i, r := range rects {
		out[i] = DetectedFace{Rect: r, Source: SourceLocal}
	}
	return out, nil
}

// FuseDetections attaches attribute faces to detected faces by bounding-box overlap.
// The detected faces are primary: their order decides matching priority and faces
// found only by the attributes provider are dropped.
func (s *Service) FuseDetections(primary []DetectedFace, secondary []attributes.Face, iouThreshold float64) []FusedFace {
	p := make([]facematch.Detection[DetectedFace], len(primary))
	for i, f := range primary {
		p[i] = facematch.Detection[DetectedFace]{Rect: f.Rect, Attributes: f}
	}
	sec := make([]facematch.Detection[attributes.Face], len(secondary))
	for i, f := range secondary {
		sec[i] = facematch.Detection[attributes.Face]{Rect: f.Rect, Attributes: f}
	}
	return facematch.Fuse(p, sec, iouThreshold)
}

// Analyze detects faces and fuses them with the emotions reported by the attributes
// provider.
func (s *Service) Analyze(ctx context.Context, image []byte, iouThreshold float64) ([]FusedFace, error) {
	if s.attributes == nil {
		return nil, ErrAttributesUnavailable
	}

	detected, err := s.DetectOnly(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(detected) == 0 {
		return []FusedFace{}, nil
	}

	faces, err := s.attributes.DetectFaces(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%s attributes: %w", s.attributes.Name(), err)
	}
	return s.FuseDetections(detected, faces, iouThreshold), nil
}

// ListIdentities returns the identities registered in the remote person group. It is
// empty without a remote service or when identification is unavailable.
func (s *Service) ListIdentities(ctx context.Context) ([]faceapi.Identity, error) {
	if s.remote == nil {
		return []faceapi.Identity{}, nil
	}
	ids, err := s.remote.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote identities: %w", err)
	}
	return ids, nil
}

// Train trains the remote person group and waits for the result.
func (s *Service) Train(ctx context.Context) error {
	if s.remote == nil {
		return fmt.Errorf("train: %w", faceapi.ErrIdentificationUnavailable)
	}
	poll, timeout := s.settings.TrainPollInterval, s.settings.TrainTimeout
	if poll <= 0 {
		poll = time.Second
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if err := s.remote.TrainAndWait(ctx, poll, timeout); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	return nil
}
