package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidImage is returned for empty or undecodable image bytes.
	ErrInvalidImage = errors.New("invalid image")

	// ErrModelUnavailable is returned when the detector/recognizer pair cannot be loaded.
	// It is a configuration problem and is not retried.
	ErrModelUnavailable = errors.New("face model unavailable")

	// ErrExtractorClosed is returned by every call made after Close.
	ErrExtractorClosed = fmt.Errorf("%w: extractor closed", ErrModelUnavailable)
)
