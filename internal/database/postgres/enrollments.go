package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/lib/pq"
)

// EnrollmentRepository stores enrollment records.
type EnrollmentRepository struct {
	pool *Pool
}

// NewEnrollmentRepository creates a new PostgreSQL enrollment repository
func NewEnrollmentRepository(pool *Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// GetEnrollment returns the enrollment of ownerKey, nil if not enrolled
func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, ownerKey string) (*database.Enrollment, error) {
	query := `
		SELECT owner_key, locators, remote_identity_id, updated_at
		FROM enrollments
		WHERE owner_key = $1
	`

	var e database.Enrollment
	err := r.pool.QueryRow(ctx, query, ownerKey).Scan(&e.OwnerKey, pq.Array(&e.Locators), &e.RemoteIdentityID, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query enrollment: %w", err)
	}
	return &e, nil
}

// ListOwners returns every enrolled owner key, sorted
func (r *EnrollmentRepository) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT owner_key FROM enrollments ORDER BY owner_key")
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return owners, nil
}

// AddLocators merges locators into the enrollment under a row lock so concurrent
// enrollments of the same owner do not lose updates.
func (r *EnrollmentRepository) AddLocators(ctx context.Context, ownerKey string, locators []string) (int, error) {
	if ownerKey == "" {
		return 0, errors.New("owner key is required")
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO enrollments (owner_key) VALUES ($1) ON CONFLICT (owner_key) DO NOTHING", ownerKey); err != nil {
		return 0, fmt.Errorf("create enrollment: %w", err)
	}

	var existing []string
	if err := tx.QueryRowContext(ctx,
		"SELECT locators FROM enrollments WHERE owner_key = $1 FOR UPDATE", ownerKey).Scan(pq.Array(&existing)); err != nil {
		return 0, fmt.Errorf("lock enrollment: %w", err)
	}

	merged, added := database.MergeLocators(existing, locators)
	if added > 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE enrollments SET locators = $2, updated_at = NOW() WHERE owner_key = $1",
			ownerKey, pq.Array(merged)); err != nil {
			return 0, fmt.Errorf("update enrollment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enrollment: %w", err)
	}
	return added, nil
}

// SetRemoteIdentity records the remote person ID of an enrolled identity
func (r *EnrollmentRepository) SetRemoteIdentity(ctx context.Context, ownerKey, personID string) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE enrollments SET remote_identity_id = $2, updated_at = NOW() WHERE owner_key = $1", ownerKey, personID)
	if err != nil {
		return fmt.Errorf("update remote identity: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("enrollment %q not found", ownerKey)
	}
	return nil
}

// DeleteEnrollment removes the enrollment record
func (r *EnrollmentRepository) DeleteEnrollment(ctx context.Context, ownerKey string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM enrollments WHERE owner_key = $1", ownerKey); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ database.EnrollmentWriter = (*EnrollmentRepository)(nil)
