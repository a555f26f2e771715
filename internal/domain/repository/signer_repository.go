package repository

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// SignerRepository persistencia de firmadores y asignaciones.
type SignerRepository interface {
	Create(ctx context.Context, s *entity.Signer) error
	Update(ctx context.Context, s *entity.Signer) error
	GetByID(ctx context.Context, id string) (*entity.Signer, error)
	List(ctx context.Context) ([]*entity.Signer, error)
	SaveAssignment(ctx context.Context, a *entity.SignerAssignment) error
	ListAssignments(ctx context.Context) ([]*entity.SignerAssignment, error)
}
