package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// SQLSTATE codes meaning the server lacks a feature a strategy needs (pgvector missing,
// unsupported syntax or cast), as opposed to a data or connection error.
var unsupportedCodes = map[pq.ErrorCode]bool{
	"42883": true, // undefined_function
	"42704": true, // undefined_object
	"0A000": true, // feature_not_supported
	"42601": true, // syntax_error
	"42846": true, // cannot_coerce
	"42804": true, // datatype_mismatch
}

// classify marks capability errors with database.ErrStrategyUnsupported.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && unsupportedCodes[pqErr.Code] {
		return fmt.Errorf("%w: %w", database.ErrStrategyUnsupported, err)
	}
	return err
}

// EmbeddingRepository stores face embeddings in a pgvector column.
type EmbeddingRepository struct {
	pool    *Pool
	cascade *database.QueryCascade
}

// NewEmbeddingRepository creates a repository. onServed receives the name of the strategy
// that answered each TopK query and may be nil.
func NewEmbeddingRepository(pool *Pool, log *zap.Logger, onServed func(string)) *EmbeddingRepository {
	r := &EmbeddingRepository{pool: pool}
	r.cascade = database.NewQueryCascade(log, onServed, r.Strategies()...)
	return r
}

// Strategies returns the query strategies in cascade order.
func (r *EmbeddingRepository) Strategies() []database.Strategy {
	return []database.Strategy{
		{Name: database.StrategyNative, Scope: database.ScopeOwner, Run: r.nativeQuery(false)},
		{Name: database.StrategySubquery, Scope: database.ScopeOwner, Run: r.subquery(false)},
		{Name: database.StrategyNativeGlobal, Scope: database.ScopeGlobal, Run: r.nativeQuery(true)},
		{Name: database.StrategySubqueryGlobal, Scope: database.ScopeGlobal, Run: r.subquery(true)},
		{Name: database.StrategyScan, Scope: database.ScopeAny, Run: r.scan},
	}
}

// Upsert stores an embedding, replacing the one derived from the same reference photo.
func (r *EmbeddingRepository) Upsert(ctx context.Context, ownerKey, referenceLocator string, embedding []float32) (string, error) {
	if ownerKey == "" {
		return "", errors.New("owner key is required")
	}
	if len(embedding) == 0 {
		return "", errors.New("embedding is empty")
	}

	id := database.RecordID(ownerKey, referenceLocator)
	query := `
		INSERT INTO face_embeddings (id, owner_key, reference_locator, embedding, dim, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			reference_locator = EXCLUDED.reference_locator,
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			created_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, id, ownerKey, referenceLocator, pgvector.NewVector(embedding), len(embedding)); err != nil {
		return "", fmt.Errorf("upsert embedding: %w", err)
	}
	return id, nil
}

// TopK runs the query cascade.
func (r *EmbeddingRepository) TopK(ctx context.Context, query []float32, k int, ownerKey string) ([]database.Neighbor, error) {
	results, _, err := r.cascade.Run(ctx, database.Query{Embedding: query, K: k, OwnerKey: ownerKey})
	return results, err
}

// Count returns the total number of embeddings stored
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// DeleteByLocator removes the embedding of one reference photo.
func (r *EmbeddingRepository) DeleteByLocator(ctx context.Context, ownerKey, referenceLocator string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM face_embeddings WHERE id = $1", database.RecordID(ownerKey, referenceLocator)); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

// DeleteByOwner removes every embedding of ownerKey.
func (r *EmbeddingRepository) DeleteByOwner(ctx context.Context, ownerKey string) (int, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM face_embeddings WHERE owner_key = $1", ownerKey)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// nativeQuery orders by the distance expression directly so the partial HNSW index
// for the query dimension can be used.
func (r *EmbeddingRepository) nativeQuery(global bool) func(context.Context, database.Query) ([]database.Neighbor, error) {
	return func(ctx context.Context, q database.Query) ([]database.Neighbor, error) {
		dim := len(q.Embedding)
		distance := fmt.Sprintf("embedding::vector(%d) <=> $1", dim)
		query := fmt.Sprintf(`
			SELECT id, owner_key, reference_locator, %[1]s AS distance
			FROM face_embeddings
			WHERE dim = $2 %[2]s
			ORDER BY %[1]s
			LIMIT $3
		`, distance, ownerFilter(global))
		return r.runDistanceQuery(ctx, query, q, global)
	}
}

// subquery computes the distance in a derived table and orders by its alias.
func (r *EmbeddingRepository) subquery(global bool) func(context.Context, database.Query) ([]database.Neighbor, error) {
	return func(ctx context.Context, q database.Query) ([]database.Neighbor, error) {
		query := fmt.Sprintf(`
			SELECT id, owner_key, reference_locator, distance FROM (
				SELECT id, owner_key, reference_locator, embedding::vector(%d) <=> $1 AS distance
				FROM face_embeddings
				WHERE dim = $2 %s
			) AS candidates
			ORDER BY distance
			LIMIT $3
		`, len(q.Embedding), ownerFilter(global))
		return r.runDistanceQuery(ctx, query, q, global)
	}
}

func ownerFilter(global bool) string {
	if global {
		return ""
	}
	return "AND owner_key = $4"
}

func (r *EmbeddingRepository) runDistanceQuery(ctx context.Context, query string, q database.Query, global bool) ([]database.Neighbor, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, classify(fmt.Errorf("set ef_search: %w", err))
	}

	args := []any{pgvector.NewVector(q.Embedding), len(q.Embedding), q.K}
	if !global {
		args = append(args, q.OwnerKey)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("query nearest embeddings: %w", err))
	}
	defer rows.Close()

	results := []database.Neighbor{}
	for rows.Next() {
		var n database.Neighbor
		if err := rows.Scan(&n.RecordID, &n.OwnerKey, &n.ReferenceLocator, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate neighbors: %w", err))
	}
	return results, nil
}

// scan fetches a bounded number of candidates of the query dimension and ranks them
// in process. It needs no vector operators on the server.
func (r *EmbeddingRepository) scan(ctx context.Context, q database.Query) ([]database.Neighbor, error) {
	query := `
		SELECT id, owner_key, reference_locator, embedding, dim, created_at
		FROM face_embeddings
		WHERE dim = $1 AND ($2::text = '' OR owner_key = $2)
		ORDER BY id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, len(q.Embedding), q.OwnerKey, database.ScanLimit(q.K))
	if err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}
	defer rows.Close()

	var records []database.EmbeddingRecord
	for rows.Next() {
		var rec database.EmbeddingRecord
		var vec pgvector.Vector
		if err := rows.Scan(&rec.ID, &rec.OwnerKey, &rec.ReferenceLocator, &vec, &rec.Dim, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		rec.Embedding = vec.Slice()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return database.RankByCosine(records, q), nil
}

// Verify interface compliance
var _ database.EmbeddingWriter = (*EmbeddingRepository)(nil)
