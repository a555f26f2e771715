package repository

import (
	"context"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// DTERepository define el puerto de persistencia para DTEDocument.
// Los documentos nunca se eliminan.
type DTERepository interface {
	// Create inserta el documento y asigna ID. Devuelve *domain.SequenceConflict si el
	// número de control ya existe en su ámbito.
	Create(ctx context.Context, doc *entity.DTEDocument) error
	GetByID(ctx context.Context, id int64) (*entity.DTEDocument, error)
	GetByDTEID(ctx context.Context, dteID string) (*entity.DTEDocument, error)
	// LockByDTEID igual que GetByDTEID pero bloquea la fila hasta el fin de la transacción.
	LockByDTEID(ctx context.Context, dteID string) (*entity.DTEDocument, error)
	// UpdateState persiste estado y campos de proceso solo si el estado almacenado es from;
	// de lo contrario devuelve domain.ErrConflict.
	UpdateState(ctx context.Context, doc *entity.DTEDocument, from entity.DTEStatus) error
	// ListByStatus documentos en alguno de los estados con updated_at anterior a before.
	ListByStatus(ctx context.Context, statuses []entity.DTEStatus, before time.Time, limit int) ([]*entity.DTEDocument, error)
	// ListInvalidations invalidaciones vinculadas a un original.
	ListInvalidations(ctx context.Context, originalDTEID string) ([]*entity.DTEDocument, error)
}

// TransmissionRepository bitácora de envíos al MH.
type TransmissionRepository interface {
	Record(ctx context.Context, attempt *entity.TransmissionAttempt) error
	ListByDocument(ctx context.Context, documentID int64) ([]*entity.TransmissionAttempt, error)
}

// SequenceRepository asigna correlativos de número de control.
type SequenceRepository interface {
	// Next incrementa atómicamente y devuelve el siguiente valor del ámbito (el primero es 1).
	Next(ctx context.Context, scope entity.SequenceScope) (int64, error)
	// Advance lleva el último valor del ámbito a atLeast si está por debajo.
	Advance(ctx context.Context, scope entity.SequenceScope, atLeast int64) error
}
