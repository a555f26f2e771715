package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.TransmissionRepository = (*TransmissionRepo)(nil)

// TransmissionRepo bitácora de envíos al MH (solo inserción).
type TransmissionRepo struct {
	q Querier
}

// NewTransmissionRepository construye el adaptador. Pasar pool o tx (Querier).
func NewTransmissionRepository(q Querier) *TransmissionRepo {
	return &TransmissionRepo{q: q}
}

func (r *TransmissionRepo) Record(ctx context.Context, a *entity.TransmissionAttempt) error {
	query := `
		INSERT INTO dte_transmissions (document_id, dte_id, attempt, outcome, http_status, authority_code,
			message, reception_stamp, raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		a.DocumentID, a.DTEID, a.Attempt, string(a.Outcome), a.HTTPStatus, nullIfEmpty(a.AuthorityCode),
		nullIfEmpty(a.Message), nullIfEmpty(a.ReceptionStamp), nullIfEmpty(a.RawResponse), a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert transmission: %w", err)
	}
	return nil
}

func (r *TransmissionRepo) ListByDocument(ctx context.Context, documentID int64) ([]*entity.TransmissionAttempt, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, document_id, dte_id, attempt, outcome, http_status, authority_code, message,
		       reception_stamp, raw_response, created_at
		FROM dte_transmissions WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list transmissions: %w", err)
	}
	defer rows.Close()
	var list []*entity.TransmissionAttempt
	for rows.Next() {
		var a entity.TransmissionAttempt
		var outcome string
		var code, msg, stamp, raw *string
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.DTEID, &a.Attempt, &outcome, &a.HTTPStatus,
			&code, &msg, &stamp, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transmission: %w", err)
		}
		a.Outcome = entity.TransmissionOutcome(outcome)
		a.AuthorityCode, a.Message, a.ReceptionStamp, a.RawResponse = derefStr(code), derefStr(msg), derefStr(stamp), derefStr(raw)
		list = append(list, &a)
	}
	return list, rows.Err()
}
