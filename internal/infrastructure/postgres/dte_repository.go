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

var _ repository.DTERepository = (*DTERepo)(nil)

// DTERepo implementación de DTERepository (usable con pool o tx).
type DTERepo struct {
	q Querier
}

// NewDTERepository construye el adaptador. Pasar pool o tx (Querier).
func NewDTERepository(q Querier) *DTERepo {
	return &DTERepo{q: q}
}

const dteColumns = `
	id, dte_id, user_id, user_name, client_id, document_type, generation_type, operation_type,
	environment, control_number, sequence, establishment_code, pos_code, total_amount, status,
	payload, signed_payload, signer_id, reception_stamp, authority_code, authority_message,
	raw_response, last_error, related_dte_id, replacement_dte_id, send_to_authority, attempts,
	issued_at, processed_at, created_at, updated_at`

// Create inserta el documento. Un número de control repetido en su ámbito es un SequenceConflict.
func (r *DTERepo) Create(ctx context.Context, d *entity.DTEDocument) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	query := `
		INSERT INTO dte_documents (
			dte_id, user_id, user_name, client_id, document_type, generation_type, operation_type,
			environment, control_number, sequence, establishment_code, pos_code, total_amount, status,
			payload, signed_payload, signer_id, reception_stamp, authority_code, authority_message,
			raw_response, last_error, related_dte_id, replacement_dte_id, send_to_authority, attempts,
			issued_at, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		d.DTEID, d.UserID, nullIfEmpty(d.UserName), nullIfEmpty(d.ClientID), string(d.Type), d.GenerationType, d.OperationType,
		d.Environment, d.ControlNumber, d.Sequence, d.EstablishmentCode, d.POSCode, d.TotalAmount, string(d.Status),
		d.Payload, nullIfEmpty(d.SignedPayload), nullIfEmpty(d.SignerID), nullIfEmpty(d.ReceptionStamp),
		nullIfEmpty(d.AuthorityCode), nullIfEmpty(d.AuthorityMessage), nullIfEmpty(d.RawResponse), nullIfEmpty(d.LastError),
		nullIfEmpty(d.RelatedDTEID), nullIfEmpty(d.ReplacementDTEID), d.SendToAuthority, d.Attempts,
		d.IssuedAt, d.ProcessedAt, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID)
	if err != nil {
		if isUniqueViolation(err) {
			switch constraintName(err) {
			case "dte_documents_dte_id_key":
				return fmt.Errorf("%w: dte %s", domain.ErrDuplicate, d.DTEID)
			case "dte_documents_open_invalidation_key":
				return &domain.InvalidationError{Field: "documento.codigoGeneracion", Message: "ya existe una invalidación en curso para " + d.RelatedDTEID}
			}
			return &domain.SequenceConflict{Scope: d.Scope().String(), ControlNumber: d.ControlNumber, Err: domain.ErrDuplicate}
		}
		return fmt.Errorf("insert dte: %w", err)
	}
	return nil
}

// GetByID obtiene un documento por su ID interno; nil si no existe.
func (r *DTERepo) GetByID(ctx context.Context, id int64) (*entity.DTEDocument, error) {
	return r.getOne(ctx, `SELECT `+dteColumns+` FROM dte_documents WHERE id = $1`, id)
}

// GetByDTEID obtiene un documento por codigoGeneracion; nil si no existe.
func (r *DTERepo) GetByDTEID(ctx context.Context, dteID string) (*entity.DTEDocument, error) {
	return r.getOne(ctx, `SELECT `+dteColumns+` FROM dte_documents WHERE dte_id = $1`, dteID)
}

// LockByDTEID toma el documento con SELECT ... FOR UPDATE. Solo tiene efecto dentro de una tx.
func (r *DTERepo) LockByDTEID(ctx context.Context, dteID string) (*entity.DTEDocument, error) {
	return r.getOne(ctx, `SELECT `+dteColumns+` FROM dte_documents WHERE dte_id = $1 FOR UPDATE`, dteID)
}

func (r *DTERepo) getOne(ctx context.Context, query string, arg any) (*entity.DTEDocument, error) {
	d, err := scanDTE(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dte: %w", err)
	}
	return d, nil
}

// UpdateState persiste estado y campos de proceso si el estado almacenado sigue siendo from.
// Identidad, correlativo y payload no se tocan.
func (r *DTERepo) UpdateState(ctx context.Context, d *entity.DTEDocument, from entity.DTEStatus) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	query := `
		UPDATE dte_documents
		SET status            = $3,
		    signed_payload    = $4,
		    signer_id         = $5,
		    reception_stamp   = $6,
		    authority_code    = $7,
		    authority_message = $8,
		    raw_response      = $9,
		    last_error        = $10,
		    attempts          = $11,
		    processed_at      = $12,
		    updated_at        = $13
		WHERE id = $1 AND status = $2`
	tag, err := r.q.Exec(ctx, query,
		d.ID, string(from), string(d.Status),
		nullIfEmpty(d.SignedPayload), nullIfEmpty(d.SignerID), nullIfEmpty(d.ReceptionStamp),
		nullIfEmpty(d.AuthorityCode), nullIfEmpty(d.AuthorityMessage), nullIfEmpty(d.RawResponse),
		nullIfEmpty(d.LastError), d.Attempts, d.ProcessedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update dte: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := r.q.QueryRow(ctx, `SELECT status FROM dte_documents WHERE id = $1`, d.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: dte %d", domain.ErrNotFound, d.ID)
		}
		return fmt.Errorf("%w: dte %s está en %s, se esperaba %s", domain.ErrConflict, d.DTEID, current, from)
	}
	return nil
}

// ListByStatus documentos en alguno de los estados con updated_at <= before, más antiguos primero.
func (r *DTERepo) ListByStatus(ctx context.Context, statuses []entity.DTEStatus, before time.Time, limit int) ([]*entity.DTEDocument, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `SELECT `+dteColumns+`
		FROM dte_documents
		WHERE status = ANY($1) AND updated_at <= $2
		ORDER BY id
		LIMIT $3`, names, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list dte by status: %w", err)
	}
	return collectDTEs(rows)
}

// ListInvalidations eventos de invalidación de un original.
func (r *DTERepo) ListInvalidations(ctx context.Context, originalDTEID string) ([]*entity.DTEDocument, error) {
	rows, err := r.q.Query(ctx, `SELECT `+dteColumns+`
		FROM dte_documents
		WHERE document_type = $1 AND related_dte_id = $2
		ORDER BY id`, string(entity.DocumentTypeInvalidation), originalDTEID)
	if err != nil {
		return nil, fmt.Errorf("list invalidations: %w", err)
	}
	return collectDTEs(rows)
}

func collectDTEs(rows pgx.Rows) ([]*entity.DTEDocument, error) {
	defer rows.Close()
	var list []*entity.DTEDocument
	for rows.Next() {
		d, err := scanDTE(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dte: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func scanDTE(row pgx.Row) (*entity.DTEDocument, error) {
	var d entity.DTEDocument
	var docType, status string
	var userName, clientID, signed, signerID, stamp, code, msg, raw, lastErr, related, replacement *string
	err := row.Scan(
		&d.ID, &d.DTEID, &d.UserID, &userName, &clientID, &docType, &d.GenerationType, &d.OperationType,
		&d.Environment, &d.ControlNumber, &d.Sequence, &d.EstablishmentCode, &d.POSCode, &d.TotalAmount, &status,
		&d.Payload, &signed, &signerID, &stamp, &code, &msg,
		&raw, &lastErr, &related, &replacement, &d.SendToAuthority, &d.Attempts,
		&d.IssuedAt, &d.ProcessedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Type = entity.DocumentType(docType)
	d.Status = entity.DTEStatus(status)
	d.UserName, d.ClientID = derefStr(userName), derefStr(clientID)
	d.SignedPayload, d.SignerID, d.ReceptionStamp = derefStr(signed), derefStr(signerID), derefStr(stamp)
	d.AuthorityCode, d.AuthorityMessage = derefStr(code), derefStr(msg)
	d.RawResponse, d.LastError = derefStr(raw), derefStr(lastErr)
	d.RelatedDTEID, d.ReplacementDTEID = derefStr(related), derefStr(replacement)
	return &d, nil
}
