package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// SignRequest documento a firmar y credenciales del certificado custodiado por el firmador.
type SignRequest struct {
	NIT                string
	PrivateKeyPassword string
	CertificateRef     string // si viene vacío se usa el del firmador seleccionado
	Document           json.RawMessage
}

// SignResult documento firmado (JWS compacto) devuelto por el firmador.
type SignResult struct {
	SignerID       string
	SignedDocument string
	Raw            string
	Duration       time.Duration
	Attempts       int
}

// SignatureClient invoca un firmador concreto. Sign reintenta una vez en el mismo
// firmador ante fallos de red; los rechazos del firmador vuelven como
// *domain.SigningError con Definitive=true.
type SignatureClient interface {
	Sign(ctx context.Context, signer *entity.Signer, req SignRequest) (*SignResult, error)
	// Ping sondeo liviano usado por el prober de salud.
	Ping(ctx context.Context, signer *entity.Signer) error
}

// DocumentSigner firma un documento eligiendo firmador del pool con failover.
type DocumentSigner interface {
	Sign(ctx context.Context, userID string, req SignRequest) (*SignResult, error)
}
