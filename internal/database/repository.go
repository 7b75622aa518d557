package database

import (
	"context"
)

// EmbeddingReader provides read-only access to face embeddings
type EmbeddingReader interface {
	// TopK returns the k nearest records to query, ascending by cosine distance.
	// An empty ownerKey searches every partition.
	TopK(ctx context.Context, query []float32, k int, ownerKey string) ([]Neighbor, error)
	// Count returns the total number of embeddings stored
	Count(ctx context.Context) (int, error)
}

// EmbeddingWriter provides write access to face embeddings
type EmbeddingWriter interface {
	EmbeddingReader

	// Upsert stores an embedding and returns its deterministic record ID
	Upsert(ctx context.Context, ownerKey, referenceLocator string, embedding []float32) (string, error)
	// DeleteByLocator removes the embedding derived from one reference photo
	DeleteByLocator(ctx context.Context, ownerKey, referenceLocator string) error
	// DeleteByOwner removes every embedding of an identity and returns how many were removed
	DeleteByOwner(ctx context.Context, ownerKey string) (int, error)
}

// EnrollmentReader provides read-only access to enrollment records
type EnrollmentReader interface {
	// GetEnrollment returns the record for ownerKey, or nil if the identity is not enrolled
	GetEnrollment(ctx context.Context, ownerKey string) (*Enrollment, error)
	// ListOwners returns every enrolled owner key, sorted
	ListOwners(ctx context.Context) ([]string, error)
}

// EnrollmentWriter provides write access to enrollment records
type EnrollmentWriter interface {
	EnrollmentReader

	// AddLocators appends reference locators (deduplicated, order preserved), creating the
	// record on first use. Returns the number of locators actually added.
	AddLocators(ctx context.Context, ownerKey string, locators []string) (int, error)
	// SetRemoteIdentity records the remote person ID of an enrolled identity
	SetRemoteIdentity(ctx context.Context, ownerKey, personID string) error
	// DeleteEnrollment removes the record. Administrative only.
	DeleteEnrollment(ctx context.Context, ownerKey string) error
}
