package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.SequenceRepository = (*SequenceRepo)(nil)

// SequenceRepo correlativos por ámbito (emisor, establecimiento, punto de venta, tipo).
type SequenceRepo struct {
	q Querier
}

// NewSequenceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSequenceRepository(q Querier) *SequenceRepo {
	return &SequenceRepo{q: q}
}

// Next incrementa y devuelve el correlativo. El upsert toma un lock de fila que dura
// hasta el fin de la transacción: dos emisiones concurrentes del mismo ámbito se
// serializan y un rollback devuelve el valor.
func (r *SequenceRepo) Next(ctx context.Context, scope entity.SequenceScope) (int64, error) {
	query := `
		INSERT INTO dte_sequences (user_id, establishment_code, pos_code, document_type, last_value, updated_at)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (user_id, establishment_code, pos_code, document_type)
		DO UPDATE SET last_value = dte_sequences.last_value + 1, updated_at = now()
		RETURNING last_value`
	var next int64
	err := r.q.QueryRow(ctx, query, scope.UserID, scope.EstablishmentCode, scope.POSCode, string(scope.Type)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", scope, err)
	}
	return next, nil
}

// Advance sube last_value hasta atLeast sin retrocederlo nunca.
func (r *SequenceRepo) Advance(ctx context.Context, scope entity.SequenceScope, atLeast int64) error {
	query := `
		INSERT INTO dte_sequences (user_id, establishment_code, pos_code, document_type, last_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, establishment_code, pos_code, document_type)
		DO UPDATE SET last_value = GREATEST(dte_sequences.last_value, EXCLUDED.last_value), updated_at = now()`
	if _, err := r.q.Exec(ctx, query, scope.UserID, scope.EstablishmentCode, scope.POSCode, string(scope.Type), atLeast); err != nil {
		return fmt.Errorf("advance sequence %s: %w", scope, err)
	}
	return nil
}
