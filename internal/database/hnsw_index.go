package database

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-auth/internal/constants"
	"go.uber.org/zap"
)

// HNSWIndexMetadata is written next to a snapshot for staleness checks.
type HNSWIndexMetadata struct {
	RecordCount int       `json:"record_count"`
	OwnerCount  int       `json:"owner_count"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}

const hnswMetadataVersion = 1

// partition is one HNSW graph. Graphs never mix owners or dimensions.
type partition struct {
	owner string
	dim   int
}

// snapshot is the gob-encoded on-disk form of a MemoryStore.
type snapshot struct {
	Records     []EmbeddingRecord
	Enrollments []Enrollment
}

// MemoryStore keeps embeddings in per-partition HNSW graphs and enrollment records
// in a map. It implements EmbeddingWriter and EnrollmentWriter.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]*EmbeddingRecord
	graphs      map[partition]*hnsw.Graph[string]
	enrollments map[string]*Enrollment
	cascade     *QueryCascade
	path        string
	now         func() time.Time
}

// NewMemoryStore creates an empty store. onServed receives the name of the strategy
// that answered each TopK query and may be nil.
func NewMemoryStore(log *zap.Logger, onServed func(string)) *MemoryStore {
	s := &MemoryStore{
		records:     make(map[string]*EmbeddingRecord),
		graphs:      make(map[partition]*hnsw.Graph[string]),
		enrollments: make(map[string]*Enrollment),
		now:         time.Now,
	}
	s.cascade = NewQueryCascade(log, onServed, s.Strategies()...)
	return s
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Strategies returns the query strategies of the in-memory backend in cascade order.
// Aliased subqueries have no meaning here and report ErrStrategyUnsupported.
func (s *MemoryStore) Strategies() []Strategy {
	unsupported := func(context.Context, Query) ([]Neighbor, error) {
		return nil, fmt.Errorf("in-memory index: %w", ErrStrategyUnsupported)
	}
	return []Strategy{
		{Name: StrategyNative, Scope: ScopeOwner, Run: s.searchOwner},
		{Name: StrategySubquery, Scope: ScopeOwner, Run: unsupported},
		{Name: StrategyNativeGlobal, Scope: ScopeGlobal, Run: s.searchGlobal},
		{Name: StrategySubqueryGlobal, Scope: ScopeGlobal, Run: unsupported},
		{Name: StrategyScan, Scope: ScopeAny, Run: s.scan},
	}
}

// Upsert stores embedding under a deterministic record ID, replacing any previous
// embedding of the same reference photo.
func (s *MemoryStore) Upsert(_ context.Context, ownerKey, referenceLocator string, embedding []float32) (string, error) {
	if ownerKey == "" {
		return "", errors.New("owner key is required")
	}
	if len(embedding) == 0 {
		return "", errors.New("embedding is empty")
	}

	id := RecordID(ownerKey, referenceLocator)
	rec := &EmbeddingRecord{
		ID:               id,
		OwnerKey:         ownerKey,
		ReferenceLocator: referenceLocator,
		Embedding:        slices.Clone(embedding),
		Dim:              len(embedding),
		CreatedAt:        s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, replaced := s.records[id]
	s.records[id] = rec
	if !replaced {
		s.addToGraph(rec)
		return id, nil
	}
	s.rebuildPartition(partition{owner: old.OwnerKey, dim: old.Dim})
	if old.Dim != rec.Dim {
		s.rebuildPartition(partition{owner: rec.OwnerKey, dim: rec.Dim})
	}
	return id, nil
}

func (s *MemoryStore) addToGraph(rec *EmbeddingRecord) {
	p := partition{owner: rec.OwnerKey, dim: rec.Dim}
	g, ok := s.graphs[p]
	if !ok {
		g = newGraph()
		s.graphs[p] = g
	}
	g.Add(hnsw.MakeNode(rec.ID, rec.Embedding))
}

// rebuildPartition replaces the graph of p with one built from the current records.
// coder/hnsw cannot delete nodes safely, so replaced and deleted records are dropped
// by rebuilding instead.
func (s *MemoryStore) rebuildPartition(p partition) {
	var nodes []hnsw.Node[string]
	for _, id := range slices.Sorted(maps.Keys(s.records)) {
		rec := s.records[id]
		if rec.OwnerKey == p.owner && rec.Dim == p.dim {
			nodes = append(nodes, hnsw.MakeNode(rec.ID, rec.Embedding))
		}
	}
	if len(nodes) == 0 {
		delete(s.graphs, p)
		return
	}
	g := newGraph()
	g.Add(nodes...)
	s.graphs[p] = g
}

// TopK runs the query cascade.
func (s *MemoryStore) TopK(ctx context.Context, query []float32, k int, ownerKey string) ([]Neighbor, error) {
	results, _, err := s.cascade.Run(ctx, Query{Embedding: query, K: k, OwnerKey: ownerKey})
	return results, err
}

// Count returns the number of stored embeddings.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// DeleteByLocator removes the embedding of one reference photo. Missing records are ignored.
func (s *MemoryStore) DeleteByLocator(_ context.Context, ownerKey, referenceLocator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := RecordID(ownerKey, referenceLocator)
	if rec, ok := s.records[id]; ok {
		delete(s.records, id)
		s.rebuildPartition(partition{owner: rec.OwnerKey, dim: rec.Dim})
	}
	return nil
}

// DeleteByOwner removes every embedding of ownerKey.
func (s *MemoryStore) DeleteByOwner(_ context.Context, ownerKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.OwnerKey != ownerKey {
			continue
		}
		delete(s.records, id)
		removed++
	}
	for p := range s.graphs {
		if p.owner == ownerKey {
			delete(s.graphs, p)
		}
	}
	return removed, nil
}

func (s *MemoryStore) toNeighbors(query []float32, nodes []hnsw.Node[string]) []Neighbor {
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		rec, ok := s.records[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			RecordID:         rec.ID,
			OwnerKey:         rec.OwnerKey,
			ReferenceLocator: rec.ReferenceLocator,
			Distance:         CosineDistance(query, rec.Embedding),
		})
	}
	return out
}

func (s *MemoryStore) searchOwner(_ context.Context, q Query) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[partition{owner: q.OwnerKey, dim: len(q.Embedding)}]
	if !ok || g.Len() == 0 {
		return []Neighbor{}, nil
	}
	return s.toNeighbors(q.Embedding, g.Search(q.Embedding, q.K)), nil
}

func (s *MemoryStore) searchGlobal(_ context.Context, q Query) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Neighbor
	for p, g := range s.graphs {
		if p.dim != len(q.Embedding) || g.Len() == 0 {
			continue
		}
		out = append(out, s.toNeighbors(q.Embedding, g.Search(q.Embedding, q.K))...)
	}
	if out == nil {
		out = []Neighbor{}
	}
	return out, nil
}

// scan ranks up to ScanLimit(k) candidates of the query dimension without using the graphs.
func (s *MemoryStore) scan(_ context.Context, q Query) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := ScanLimit(q.K)
	candidates := make([]EmbeddingRecord, 0, min(limit, len(s.records)))
	for _, id := range slices.Sorted(maps.Keys(s.records)) {
		rec := s.records[id]
		if rec.Dim != len(q.Embedding) {
			continue
		}
		if q.OwnerKey != "" && rec.OwnerKey != q.OwnerKey {
			continue
		}
		candidates = append(candidates, *rec)
		if len(candidates) == limit {
			break
		}
	}
	return RankByCosine(candidates, q), nil
}

// GetEnrollment returns a copy of the enrollment of ownerKey, or nil.
func (s *MemoryStore) GetEnrollment(_ context.Context, ownerKey string) (*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.enrollments[ownerKey]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Locators = slices.Clone(e.Locators)
	return &cp, nil
}

// ListOwners returns the enrolled owner keys, sorted.
func (s *MemoryStore) ListOwners(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.enrollments)), nil
}

// AddLocators appends locators to the enrollment of ownerKey, creating it when needed.
func (s *MemoryStore) AddLocators(_ context.Context, ownerKey string, locators []string) (int, error) {
	if ownerKey == "" {
		return 0, errors.New("owner key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[ownerKey]
	if !ok {
		e = &Enrollment{OwnerKey: ownerKey}
	}
	merged, added := MergeLocators(e.Locators, locators)
	if added == 0 && ok {
		return 0, nil
	}
	e.Locators = merged
	e.UpdatedAt = s.now()
	s.enrollments[ownerKey] = e
	return added, nil
}

// SetRemoteIdentity records the remote person ID of an existing enrollment.
func (s *MemoryStore) SetRemoteIdentity(_ context.Context, ownerKey, personID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[ownerKey]
	if !ok {
		return fmt.Errorf("enrollment %q not found", ownerKey)
	}
	e.RemoteIdentityID = personID
	e.UpdatedAt = s.now()
	return nil
}

// DeleteEnrollment removes the enrollment of ownerKey. Missing records are ignored.
func (s *MemoryStore) DeleteEnrollment(_ context.Context, ownerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enrollments, ownerKey)
	return nil
}

// SetPath sets the snapshot path used by Save.
func (s *MemoryStore) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

// Save writes a gob snapshot of all records to the configured path, plus a .meta file.
// Without a path it does nothing.
func (s *MemoryStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.path == "" {
		return nil
	}

	snap := snapshot{
		Records:     make([]EmbeddingRecord, 0, len(s.records)),
		Enrollments: make([]Enrollment, 0, len(s.enrollments)),
	}
	for _, id := range slices.Sorted(maps.Keys(s.records)) {
		snap.Records = append(snap.Records, *s.records[id])
	}
	for _, owner := range slices.Sorted(maps.Keys(s.enrollments)) {
		snap.Enrollments = append(snap.Enrollments, *s.enrollments[owner])
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	metaData, err := json.Marshal(HNSWIndexMetadata{
		RecordCount: len(snap.Records),
		OwnerCount:  len(snap.Enrollments),
		BuildTime:   s.now(),
		Version:     hnswMetadataVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load replaces the store content with the snapshot at path and rebuilds the graphs.
// A missing file leaves the store empty. The path is remembered for Save.
func (s *MemoryStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.path = path

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	s.records = make(map[string]*EmbeddingRecord, len(snap.Records))
	s.graphs = make(map[partition]*hnsw.Graph[string])
	for i := range snap.Records {
		rec := &snap.Records[i]
		s.records[rec.ID] = rec
		s.addToGraph(rec)
	}
	s.enrollments = make(map[string]*Enrollment, len(snap.Enrollments))
	for i := range snap.Enrollments {
		e := &snap.Enrollments[i]
		s.enrollments[e.OwnerKey] = e
	}
	return nil
}

// LoadHNSWMetadata reads the .meta file written next to a snapshot.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

var (
	_ EmbeddingWriter  = (*MemoryStore)(nil)
	_ EnrollmentWriter = (*MemoryStore)(nil)
)
