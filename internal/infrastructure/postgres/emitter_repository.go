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

var _ repository.EmitterRepository = (*EmitterRepo)(nil)

// EmitterRepo directorio de emisores.
type EmitterRepo struct {
	q Querier
}

// NewEmitterRepository construye el adaptador. Pasar pool o tx (Querier).
func NewEmitterRepository(q Querier) *EmitterRepo {
	return &EmitterRepo{q: q}
}

const emitterColumns = `
	id, name, trade_name, nit, nrc, economic_activity_code, economic_activity_desc, establishment_type,
	department, municipality, address_complement, phone, email, hacienda_user, hacienda_password_enc,
	private_key_password_enc, control_number_includes_year, created_at, updated_at`

func (r *EmitterRepo) Create(ctx context.Context, e *entity.Emitter) error {
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	query := `
		INSERT INTO emitters (` + emitterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := r.q.Exec(ctx, query,
		e.ID, e.Name, nullIfEmpty(e.TradeName), e.NIT, e.NRC, e.EconomicActivityCode, e.EconomicActivityDesc,
		e.EstablishmentType, e.Department, e.Municipality, e.AddressComplement, e.Phone, e.Email,
		nullIfEmpty(e.HaciendaUser), e.HaciendaPasswordEnc, e.PrivateKeyPasswordEnc, e.ControlNumberIncludesYear,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: emisor %s", domain.ErrDuplicate, e.ID)
		}
		return fmt.Errorf("insert emitter: %w", err)
	}
	return nil
}

func (r *EmitterRepo) GetByID(ctx context.Context, id string) (*entity.Emitter, error) {
	return r.getOne(ctx, `SELECT `+emitterColumns+` FROM emitters WHERE id = $1`, id)
}

func (r *EmitterRepo) GetByNIT(ctx context.Context, nit string) (*entity.Emitter, error) {
	return r.getOne(ctx, `SELECT `+emitterColumns+` FROM emitters WHERE nit = $1`, nit)
}

func (r *EmitterRepo) getOne(ctx context.Context, query string, arg any) (*entity.Emitter, error) {
	var e entity.Emitter
	var tradeName, haciendaUser *string
	err := r.q.QueryRow(ctx, query, arg).Scan(
		&e.ID, &e.Name, &tradeName, &e.NIT, &e.NRC, &e.EconomicActivityCode, &e.EconomicActivityDesc,
		&e.EstablishmentType, &e.Department, &e.Municipality, &e.AddressComplement, &e.Phone, &e.Email,
		&haciendaUser, &e.HaciendaPasswordEnc, &e.PrivateKeyPasswordEnc, &e.ControlNumberIncludesYear,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get emitter: %w", err)
	}
	e.TradeName, e.HaciendaUser = derefStr(tradeName), derefStr(haciendaUser)
	return &e, nil
}
