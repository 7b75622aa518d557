// Package storage keeps enrolled reference photos and resolves them by locator.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists for a locator.
var ErrNotFound = errors.New("object not found")

// ErrInvalidLocator is returned for locators that escape the store.
var ErrInvalidLocator = errors.New("invalid locator")

// ObjectStore stores bytes by owner and returns an opaque locator for later retrieval.
type ObjectStore interface {
	Put(ctx context.Context, ownerKey string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}
