package ports

import (
	"context"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// TokenProvider entrega el token bearer del MH por emisor y ambiente.
type TokenProvider interface {
	GetToken(ctx context.Context, userID, environment string) (*entity.HaciendaCredential, error)
	// Invalidate descarta el token cacheado solo si sigue siendo staleToken, de modo que
	// un 401 tardío no borre un token recién renovado por otra goroutine.
	Invalidate(ctx context.Context, userID, environment, staleToken string) error
}

// SubmissionKind endpoint de destino.
type SubmissionKind int

const (
	SubmitReception    SubmissionKind = iota // /fesv/recepciondte
	SubmitInvalidation                       // /fesv/anulardte
)

// Submission documento firmado listo para transmitir.
type Submission struct {
	Kind           SubmissionKind
	Environment    string // ambiente CAT-001 ("00" | "01")
	SendID         int64  // idEnvio
	Version        int
	TipoDte        string
	GenerationCode string
	SignedDocument string
}

// SubmissionResult respuesta del MH ya clasificada.
type SubmissionResult struct {
	Outcome        entity.TransmissionOutcome
	HTTPStatus     int
	Code           string // codigoMsg, tal cual
	Message        string // descripcionMsg + observaciones, tal cual
	ReceptionStamp string
	ProcessedAt    *time.Time
	Raw            string
	Attempts       int
}

// ConsultRequest consulta de un DTE por código de generación.
type ConsultRequest struct {
	Environment    string
	NIT            string
	TipoDte        string
	GenerationCode string
}

// Submitter cliente de recepción del MH. Submit solo devuelve error cuando el resultado
// es desconocido (cancelación del llamador o fallo no clasificable); todo resultado
// clasificado vuelve en SubmissionResult.
type Submitter interface {
	Submit(ctx context.Context, cred *entity.HaciendaCredential, s Submission) (*SubmissionResult, error)
	// Consult devuelve found=false cuando el MH no tiene registro del documento.
	Consult(ctx context.Context, cred *entity.HaciendaCredential, req ConsultRequest) (res *SubmissionResult, found bool, err error)
}
