// Package database stores enrollment records and face embeddings and answers
// nearest-neighbor queries over them.
package database

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// recordNamespace scopes the name-based UUIDs of embedding records.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("face-auth:face_embeddings"))

// EmbeddingRecord is a face embedding derived from one enrolled reference photo.
type EmbeddingRecord struct {
	ID               string
	OwnerKey         string
	ReferenceLocator string
	Embedding        []float32 // L2-normalized
	Dim              int
	CreatedAt        time.Time
}

// Neighbor is one result of a nearest-neighbor query.
type Neighbor struct {
	RecordID         string  `json:"record_id"`
	OwnerKey         string  `json:"owner_key"`
	ReferenceLocator string  `json:"reference_locator"`
	Distance         float64 `json:"distance"` // cosine distance, 0 = same direction
}

// Enrollment is the set of reference photos registered for one identity.
type Enrollment struct {
	OwnerKey         string
	Locators         []string // deduplicated, in enrollment order
	RemoteIdentityID string   // person ID in the remote face service, empty when not registered
	UpdatedAt        time.Time
}

// RecordID derives the embedding record ID from its owner and full reference locator, so
// storing the same reference twice overwrites the first record. The owner is length
// prefixed so distinct pairs never hash the same name.
func RecordID(ownerKey, referenceLocator string) string {
	name := strconv.Itoa(len(ownerKey)) + ":" + ownerKey + "\x00" + referenceLocator
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// MergeLocators appends the locators not already present in existing, keeping order.
// It returns the merged slice and the number of locators added.
func MergeLocators(existing, add []string) ([]string, int) {
	seen := make(map[string]struct{}, len(existing)+len(add))
	merged := make([]string, 0, len(existing)+len(add))
	for _, l := range existing {
		if _, ok := seen[l]; ok || l == "" {
			continue
		}
		seen[l] = struct{}{}
		merged = append(merged, l)
	}
	before := len(merged)
	for _, l := range add {
		if _, ok := seen[l]; ok || l == "" {
			continue
		}
		seen[l] = struct{}{}
		merged = append(merged, l)
	}
	return merged, len(merged) - before
}
