package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kozaktomas/face-auth/internal/constants"
	"go.uber.org/zap"
)

var (
	// ErrStrategyUnsupported signals that a backend cannot run a query strategy.
	// The cascade moves on to the next strategy; any other error stops it.
	ErrStrategyUnsupported = errors.New("query strategy not supported by backend")

	// ErrVectorStoreUnavailable is returned when no strategy could answer a query.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable: no query strategy succeeded")
)

// Scope limits which queries a strategy serves.
type Scope int

const (
	// ScopeOwner strategies run only for queries with an owner key.
	ScopeOwner Scope = iota
	// ScopeGlobal strategies run only for cross-partition queries.
	ScopeGlobal
	// ScopeAny strategies run for both.
	ScopeAny
)

// Query is a k-nearest-neighbor request.
type Query struct {
	Embedding []float32
	K         int
	OwnerKey  string // empty for a cross-partition query
}

// Strategy is one way of answering a Query.
type Strategy struct {
	Name  string
	Scope Scope
	Run   func(ctx context.Context, q Query) ([]Neighbor, error)
}

func (s Strategy) applies(q Query) bool {
	switch s.Scope {
	case ScopeOwner:
		return q.OwnerKey != ""
	case ScopeGlobal:
		return q.OwnerKey == ""
	default:
		return true
	}
}

// QueryCascade tries strategies in order until one answers.
type QueryCascade struct {
	strategies []Strategy
	log        *zap.Logger
	onServed   func(strategy string)
}

// NewQueryCascade builds a cascade. onServed, when set, is called with the name of the
// strategy that answered each query.
func NewQueryCascade(log *zap.Logger, onServed func(string), strategies ...Strategy) *QueryCascade {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryCascade{strategies: strategies, log: log, onServed: onServed}
}

// Run answers q with the first applicable strategy that supports it. Results are sorted
// ascending by distance (record ID on ties) and truncated to q.K.
func (c *QueryCascade) Run(ctx context.Context, q Query) ([]Neighbor, string, error) {
	if len(q.Embedding) == 0 {
		return nil, "", errors.New("empty query embedding")
	}
	if q.K <= 0 {
		return []Neighbor{}, "", nil
	}

	for _, s := range c.strategies {
		if !s.applies(q) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		results, err := s.Run(ctx, q)
		if errors.Is(err, ErrStrategyUnsupported) {
			c.log.Debug("vector strategy unsupported, trying next", zap.String("strategy", s.Name), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, s.Name, fmt.Errorf("vector strategy %s: %w", s.Name, err)
		}

		SortNeighbors(results)
		if len(results) > q.K {
			results = results[:q.K]
		}
		if c.onServed != nil {
			c.onServed(s.Name)
		}
		return results, s.Name, nil
	}

	return nil, "", ErrVectorStoreUnavailable
}

// SortNeighbors orders neighbors by ascending distance, then record ID.
func SortNeighbors(n []Neighbor) {
	slices.SortStableFunc(n, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordID, b.RecordID)
	})
}

// ScanLimit is the number of candidates the local scan strategy fetches for k.
func ScanLimit(k int) int {
	return max(constants.MinScanCandidates, k)
}

// RankByCosine computes distances for records in process. Records of another dimension,
// or of another owner when q is scoped, are skipped. The result is sorted and truncated.
func RankByCosine(records []EmbeddingRecord, q Query) []Neighbor {
	out := make([]Neighbor, 0, min(len(records), q.K))
	for _, r := range records {
		if len(r.Embedding) != len(q.Embedding) {
			continue
		}
		if q.OwnerKey != "" && r.OwnerKey != q.OwnerKey {
			continue
		}
		out = append(out, Neighbor{
			RecordID:         r.ID,
			OwnerKey:         r.OwnerKey,
			ReferenceLocator: r.ReferenceLocator,
			Distance:         CosineDistance(q.Embedding, r.Embedding),
		})
	}
	SortNeighbors(out)
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out
}
