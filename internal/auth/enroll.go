package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/embedding"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/storage"
	"go.uber.org/zap"
)

// Enroll stores reference photos for ownerKey and appends them to its enrollment.
//
// Every photo is embedded locally first, so an undecodable photo rejects the whole call
// before anything is stored. Photos without a face are still enrolled for the remote
// path. When the remote service supports identification the photos are also registered
// as persisted faces of the owner's remote identity; remote failures are only logged.
func (s *Service) Enroll(ctx context.Context, ownerKey string, images [][]byte) (*EnrollResult, error) {
	if ownerKey == "" {
		return nil, ErrOwnerRequired
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images", ErrInvalidImage)
	}
	for i, img := range images {
		if len(img) == 0 {
			return nil, fmt.Errorf("%w: image %d is empty", ErrInvalidImage, i)
		}
	}

	log := s.log.With(zap.String("owner", ownerKey))

	embeddings := make([][]float32, len(images))
	localAvailable := true
	for i, img := range images {
		emb, err := s.embedder.Embed(ctx, img)
		switch {
		case errors.Is(err, embedding.ErrInvalidImage):
			return nil, fmt.Errorf("%w: image %d: %w", ErrInvalidImage, i, err)
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Remote-only enrollment still works without the local model.
			log.Error("local embedding unavailable, enrolling without embeddings", zap.Error(err))
			localAvailable = false
		case emb == nil:
			log.Warn("no face found in reference photo", zap.Int("image", i))
		default:
			embeddings[i] = emb
		}
		if !localAvailable {
			break
		}
	}

	result := &EnrollResult{Locators: make([]string, 0, len(images))}
	for i, img := range images {
		locator, err := s.store.Put(ctx, ownerKey, img, storage.DetectMIMEType(img))
		if err != nil {
			s.discardReferences(ctx, log, ownerKey, result.Locators)
			return nil, fmt.Errorf("store reference photo %d: %w", i, err)
		}
		result.Locators = append(result.Locators, locator)

		if embeddings[i] == nil {
			continue
		}
		if _, err := s.embeddings.Upsert(ctx, ownerKey, locator, embeddings[i]); err != nil {
			s.discardReferences(ctx, log, ownerKey, result.Locators)
			return nil, fmt.Errorf("store embedding of %s: %w", locator, err)
		}
		result.Embedded++
	}

	added, err := s.enrollments.AddLocators(ctx, ownerKey, result.Locators)
	if err != nil {
		s.discardReferences(ctx, log, ownerKey, result.Locators)
		return nil, fmt.Errorf("update enrollment: %w", err)
	}
	result.AddedCount = added

	if s.remote != nil && s.remote.SupportsIdentity() {
		result.RemoteRegistered = s.registerRemote(ctx, log, ownerKey, images)
	}

	log.Info("enrolled reference photos",
		zap.Int("added", result.AddedCount),
		zap.Int("embedded", result.Embedded),
		zap.Int("remote_registered", result.RemoteRegistered),
	)
	return result, nil
}

// discardReferences removes the photos and embeddings stored by a failed Enroll call.
// Locators are fresh per upload, so nothing referenced by the enrollment is touched.
func (s *Service) discardReferences(ctx context.Context, log *zap.Logger, ownerKey string, locators []string) {
	ctx = context.WithoutCancel(ctx)
	for _, locator := range locators {
		if err := s.embeddings.DeleteByLocator(ctx, ownerKey, locator); err != nil {
			log.Warn("discard embedding failed", zap.String("locator", locator), zap.Error(err))
		}
		if err := s.store.Delete(ctx, locator); err != nil {
			log.Warn("discard reference photo failed", zap.String("locator", locator), zap.Error(err))
		}
	}
}

// registerRemote adds images to the owner's remote identity, creating it on first use,
// and starts training without waiting. It returns how many faces were registered.
func (s *Service) registerRemote(ctx context.Context, log *zap.Logger, ownerKey string, images [][]byte) int {
	logRemote := func(msg string, err error) {
		if errors.Is(err, faceapi.ErrIdentificationUnavailable) {
			log.Info(msg+", identification unavailable", zap.Error(err))
			return
		}
		log.Warn(msg, zap.Error(err))
	}

	if err := s.remote.EnsureGroup(ctx); err != nil {
		logRemote("ensure person group failed", err)
		return 0
	}

	personID, err := s.remoteIdentity(ctx, ownerKey)
	if err != nil {
		logRemote("remote identity unavailable", err)
		return 0
	}

	registered := 0
	for i, img := range images {
		if _, err := s.remote.AddReferenceFace(ctx, personID, img); err != nil {
			if errors.Is(err, faceapi.ErrIdentificationUnavailable) {
				logRemote("add reference face failed", err)
				return registered
			}
			log.Warn("add reference face failed", zap.Int("image", i), zap.Error(err))
			continue
		}
		registered++
	}

	if registered > 0 {
		if err := s.remote.Train(ctx); err != nil {
			logRemote("start training failed", err)
		}
	}
	return registered
}

func (s *Service) remoteIdentity(ctx context.Context, ownerKey string) (string, error) {
	enrollment, err := s.enrollments.GetEnrollment(ctx, ownerKey)
	if err != nil {
		return "", fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment != nil && enrollment.RemoteIdentityID != "" {
		return enrollment.RemoteIdentityID, nil
	}

	personID, err := s.remote.CreateIdentity(ctx, ownerKey, ownerKey)
	if err != nil {
		return "", err
	}
	if err := s.enrollments.SetRemoteIdentity(ctx, ownerKey, personID); err != nil {
		return "", fmt.Errorf("save remote identity: %w", err)
	}
	return personID, nil
}

// RemoveIdentity deletes the enrollment of ownerKey together with its embeddings,
// stored reference photos and remote identity. Missing photos are ignored.
func (s *Service) RemoveIdentity(ctx context.Context, ownerKey string) (*RemovalResult, error) {
	if ownerKey == "" {
		return nil, ErrOwnerRequired
	}

	enrollment, err := s.enrollments.GetEnrollment(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotEnrolled, ownerKey)
	}

	log := s.log.With(zap.String("owner", ownerKey))
	result := &RemovalResult{OwnerKey: ownerKey}

	removed, err := s.embeddings.DeleteByOwner(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("delete embeddings: %w", err)
	}
	result.EmbeddingsRemoved = removed

	for _, locator := range enrollment.Locators {
		if err := s.store.Delete(ctx, locator); err != nil {
			log.Warn("delete reference photo failed", zap.String("locator", locator), zap.Error(err))
			continue
		}
		result.LocatorsRemoved++
	}

	if enrollment.RemoteIdentityID != "" && s.remote != nil && s.remote.SupportsIdentity() {
		if err := s.remote.DeleteIdentity(ctx, enrollment.RemoteIdentityID); err != nil {
			log.Warn("delete remote identity failed", zap.Error(err))
		} else {
			result.RemoteRemoved = true
		}
	}

	if err := s.enrollments.DeleteEnrollment(ctx, ownerKey); err != nil {
		return nil, fmt.Errorf("delete enrollment: %w", err)
	}

	log.Info("identity removed",
		zap.Int("embeddings", result.EmbeddingsRemoved),
		zap.Int("photos", result.LocatorsRemoved),
		zap.Bool("remote", result.RemoteRemoved),
	)
	return result, nil
}

// ListOwners returns the locally enrolled owner keys.
func (s *Service) ListOwners(ctx context.Context) ([]string, error) {
	owners, err := s.enrollments.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

// Enrollment returns the enrollment record of ownerKey.
func (s *Service) Enrollment(ctx context.Context, ownerKey string) (*database.Enrollment, error) {
	e, err := s.enrollments.GetEnrollment(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotEnrolled, ownerKey)
	}
	return e, nil
}
