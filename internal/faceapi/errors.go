package faceapi

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentificationUnavailable is returned by the person group operations once the
	// service has refused them for this client.
	ErrIdentificationUnavailable = errors.New("identification capability unavailable")

	// ErrTrainingTimeout is returned by TrainAndWait when training does not finish in time.
	ErrTrainingTimeout = errors.New("person group training timed out")
)

// RemoteServiceError is a non-2xx response from the face service.
type RemoteServiceError struct {
	StatusCode int
	Body       string
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("face API error (status %d): %s", e.StatusCode, e.Body)
}

// TrainingFailedError carries the service's reason for a failed training run.
type TrainingFailedError struct {
	Message string
}

func (e *TrainingFailedError) Error() string {
	if e.Message == "" {
		return "person group training failed"
	}
	return "person group training failed: " + e.Message
}

// IsAuthDenied reports whether err is a 403 from the service.
func IsAuthDenied(err error) bool {
	var rse *RemoteServiceError
	return errors.As(err, &rse) && rse.StatusCode == 403
}
