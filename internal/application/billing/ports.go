package billing

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// DTETxRunner ejecuta una función dentro de una transacción que incluye documentos,
// correlativos y bitácora de transmisiones. Si fn retorna error se hace rollback.
type DTETxRunner interface {
	RunDTE(ctx context.Context, fn func(
		docs repository.DTERepository,
		seqs repository.SequenceRepository,
		txs repository.TransmissionRepository,
	) error) error
}

// SecretOpener descifra credenciales guardadas cifradas (contraseña MH, passwordPri).
type SecretOpener interface {
	Open(sealed string) (string, error)
}
