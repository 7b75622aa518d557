// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-auth/internal/database"
)

// MockEmbeddingStore is a mock implementation of database.EmbeddingWriter.
// TopK ranks every stored record exactly by cosine distance.
type MockEmbeddingStore struct {
	mu      sync.RWMutex
	records map[string]database.EmbeddingRecord

	// Error injection
	TopKError   error
	CountError  error
	UpsertError error
	DeleteError error

	// TopKCalls counts TopK invocations
	TopKCalls int
}

// NewMockEmbeddingStore creates a new mock embedding store
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{
		records: make(map[string]database.EmbeddingRecord),
	}
}

// TopK returns the k nearest stored records
func (m *MockEmbeddingStore) TopK(ctx context.Context, query []float32, k int, ownerKey string) ([]database.Neighbor, error) {
	m.mu.Lock()
	m.TopKCalls++
	m.mu.Unlock()

	if m.TopKError != nil {
		return nil, m.TopKError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]database.EmbeddingRecord, 0, len(m.records))
	for _, id := range slices.Sorted(maps.Keys(m.records)) {
		records = append(records, m.records[id])
	}
	return database.RankByCosine(records, database.Query{Embedding: query, K: k, OwnerKey: ownerKey}), nil
}

// Count returns the total number of embeddings
func (m *MockEmbeddingStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Upsert stores an embedding
func (m *MockEmbeddingStore) Upsert(ctx context.Context, ownerKey, referenceLocator string, embedding []float32) (string, error) {
	if m.UpsertError != nil {
		return "", m.UpsertError
	}
	id := database.RecordID(ownerKey, referenceLocator)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = database.EmbeddingRecord{
		ID:               id,
		OwnerKey:         ownerKey,
		ReferenceLocator: referenceLocator,
		Embedding:        slices.Clone(embedding),
		Dim:              len(embedding),
		CreatedAt:        time.Now(),
	}
	return id, nil
}

// DeleteByLocator removes one embedding
func (m *MockEmbeddingStore) DeleteByLocator(ctx context.Context, ownerKey, referenceLocator string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, database.RecordID(ownerKey, referenceLocator))
	return nil
}

// DeleteByOwner removes every embedding of an owner
func (m *MockEmbeddingStore) DeleteByOwner(ctx context.Context, ownerKey string) (int, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, rec := range m.records {
		if rec.OwnerKey == ownerKey {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}

// Records returns a copy of all stored records, sorted by ID
func (m *MockEmbeddingStore) Records() []database.EmbeddingRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.EmbeddingRecord, 0, len(m.records))
	for _, id := range slices.Sorted(maps.Keys(m.records)) {
		out = append(out, m.records[id])
	}
	return out
}

// MockEnrollmentStore is a mock implementation of database.EnrollmentWriter
type MockEnrollmentStore struct {
	mu          sync.RWMutex
	enrollments map[string]*database.Enrollment

	// Error injection
	GetError    error
	ListError   error
	AddError    error
	SetError    error
	DeleteError error
}

// NewMockEnrollmentStore creates a new mock enrollment store
func NewMockEnrollmentStore() *MockEnrollmentStore {
	return &MockEnrollmentStore{
		enrollments: make(map[string]*database.Enrollment),
	}
}

// SetEnrollment replaces the enrollment of its owner
func (m *MockEnrollmentStore) SetEnrollment(e database.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Locators = slices.Clone(e.Locators)
	m.enrollments[e.OwnerKey] = &e
}

// GetEnrollment returns a copy of the enrollment, or nil
func (m *MockEnrollmentStore) GetEnrollment(ctx context.Context, ownerKey string) (*database.Enrollment, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[ownerKey]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Locators = slices.Clone(e.Locators)
	return &cp, nil
}

// ListOwners returns the enrolled owners, sorted
func (m *MockEnrollmentStore) ListOwners(ctx context.Context) ([]string, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.enrollments)), nil
}

// AddLocators appends locators, creating the enrollment if needed
func (m *MockEnrollmentStore) AddLocators(ctx context.Context, ownerKey string, locators []string) (int, error) {
	if m.AddError != nil {
		return 0, m.AddError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[ownerKey]
	if !ok {
		e = &database.Enrollment{OwnerKey: ownerKey}
		m.enrollments[ownerKey] = e
	}
	merged, added := database.MergeLocators(e.Locators, locators)
	e.Locators = merged
	e.UpdatedAt = time.Now()
	return added, nil
}

// SetRemoteIdentity records the remote person ID
func (m *MockEnrollmentStore) SetRemoteIdentity(ctx context.Context, ownerKey, personID string) error {
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enrollments[ownerKey]; ok {
		e.RemoteIdentityID = personID
	}
	return nil
}

// DeleteEnrollment removes an enrollment
func (m *MockEnrollmentStore) DeleteEnrollment(ctx context.Context, ownerKey string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.enrollments, ownerKey)
	return nil
}

// Verify interface compliance
var (
	_ database.EmbeddingWriter  = (*MockEmbeddingStore)(nil)
	_ database.EnrollmentWriter = (*MockEnrollmentStore)(nil)
	_ database.EmbeddingWriter  = (*database.MemoryStore)(nil)
	_ database.EnrollmentWriter = (*database.MemoryStore)(nil)
)
