package auth

import "errors"

var (
	// ErrInvalidImage is returned for empty or undecodable images.
	ErrInvalidImage = errors.New("invalid image")
	// ErrNoFaceDetected is returned when no detector finds a face in a well-formed image.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrIdentityNotEnrolled is returned when the claimed identity has no reference photos.
	ErrIdentityNotEnrolled = errors.New("identity not enrolled")
	// ErrOwnerRequired is returned when a request has no owner key.
	ErrOwnerRequired = errors.New("owner key is required")
	// ErrAttributesUnavailable is returned by Analyze when no attributes provider is configured.
	ErrAttributesUnavailable = errors.New("face attributes provider not configured")
)
