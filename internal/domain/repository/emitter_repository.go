package repository

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// EmitterRepository define el puerto hacia el directorio de emisores (datos de
// identidad y registro tributario). La implementación vive en infrastructure.
type EmitterRepository interface {
	Create(ctx context.Context, e *entity.Emitter) error
	GetByID(ctx context.Context, id string) (*entity.Emitter, error)
	GetByNIT(ctx context.Context, nit string) (*entity.Emitter, error)
}
