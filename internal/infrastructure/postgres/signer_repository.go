package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.SignerRepository = (*SignerRepo)(nil)

// SignerRepo firmadores y asignaciones emisor → firmador.
type SignerRepo struct {
	q Querier
}

// NewSignerRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSignerRepository(q Querier) *SignerRepo {
	return &SignerRepo{q: q}
}

const signerColumns = `
	id, name, certificate_ref, endpoint_url, is_active, max_concurrent_signs, current_load, priority,
	health_status, consecutive_failures, total_signed, avg_response_ms, response_samples, last_error,
	last_used_at, last_checked_at, created_at, updated_at`

func (r *SignerRepo) Create(ctx context.Context, s *entity.Signer) error {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	query := `
		INSERT INTO signers (` + signerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.q.Exec(ctx, query, signerArgs(s)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: firmador %s", domain.ErrDuplicate, s.ID)
		}
		return fmt.Errorf("insert signer: %w", err)
	}
	return nil
}

func (r *SignerRepo) Update(ctx context.Context, s *entity.Signer) error {
	s.UpdatedAt = time.Now()
	query := `
		UPDATE signers
		SET name = $2, certificate_ref = $3, endpoint_url = $4, is_active = $5, max_concurrent_signs = $6,
		    current_load = $7, priority = $8, health_status = $9, consecutive_failures = $10,
		    total_signed = $11, avg_response_ms = $12, response_samples = $13, last_error = $14,
		    last_used_at = $15, last_checked_at = $16, updated_at = $17
		WHERE id = $1`
	args := signerArgs(s)
	args = append(args[:16], s.UpdatedAt)
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update signer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: firmador %s", domain.ErrNotFound, s.ID)
	}
	return nil
}

// signerArgs en el orden de signerColumns.
func signerArgs(s *entity.Signer) []any {
	return []any{
		s.ID, s.Name, nullIfEmpty(s.CertificateRef), s.EndpointURL, s.IsActive, s.MaxConcurrentSigns,
		s.CurrentLoad, s.Priority, string(s.HealthStatus), s.ConsecutiveFailures, s.TotalSigned,
		s.AvgResponseMs, s.ResponseSamples, nullIfEmpty(s.LastError),
		nullTime(s.LastUsedAt), nullTime(s.LastCheckedAt), s.CreatedAt, s.UpdatedAt,
	}
}

func (r *SignerRepo) GetByID(ctx context.Context, id string) (*entity.Signer, error) {
	s, err := scanSigner(r.q.QueryRow(ctx, `SELECT `+signerColumns+` FROM signers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get signer: %w", err)
	}
	return s, nil
}

func (r *SignerRepo) List(ctx context.Context) ([]*entity.Signer, error) {
	rows, err := r.q.Query(ctx, `SELECT `+signerColumns+` FROM signers ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list signers: %w", err)
	}
	defer rows.Close()
	var list []*entity.Signer
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signer: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// SaveAssignment registra o actualiza la asignación; un nuevo primario desplaza al anterior.
func (r *SignerRepo) SaveAssignment(ctx context.Context, a *entity.SignerAssignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.IsPrimary {
		if _, err := r.q.Exec(ctx,
			`UPDATE signer_assignments SET is_primary = FALSE WHERE user_id = $1 AND signer_id <> $2 AND is_primary`,
			a.UserID, a.SignerID); err != nil {
			return fmt.Errorf("clear primary assignment: %w", err)
		}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO signer_assignments (user_id, signer_id, is_primary, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, signer_id) DO UPDATE SET is_primary = EXCLUDED.is_primary`,
		a.UserID, a.SignerID, a.IsPrimary, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save assignment: %w", err)
	}
	return nil
}

func (r *SignerRepo) ListAssignments(ctx context.Context) ([]*entity.SignerAssignment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id, signer_id, is_primary, created_at
		FROM signer_assignments ORDER BY user_id, signer_id`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var list []*entity.SignerAssignment
	for rows.Next() {
		var a entity.SignerAssignment
		if err := rows.Scan(&a.UserID, &a.SignerID, &a.IsPrimary, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func scanSigner(row pgx.Row) (*entity.Signer, error) {
	var s entity.Signer
	var health string
	var certRef, lastErr *string
	var lastUsed, lastChecked *time.Time
	err := row.Scan(
		&s.ID, &s.Name, &certRef, &s.EndpointURL, &s.IsActive, &s.MaxConcurrentSigns, &s.CurrentLoad, &s.Priority,
		&health, &s.ConsecutiveFailures, &s.TotalSigned, &s.AvgResponseMs, &s.ResponseSamples, &lastErr,
		&lastUsed, &lastChecked, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.HealthStatus = entity.HealthStatus(health)
	s.CertificateRef, s.LastError = derefStr(certRef), derefStr(lastErr)
	if lastUsed != nil {
		s.LastUsedAt = *lastUsed
	}
	if lastChecked != nil {
		s.LastCheckedAt = *lastChecked
	}
	return &s, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
