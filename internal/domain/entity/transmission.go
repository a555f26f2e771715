package entity

import "time"

// TransmissionOutcome clasificación de una respuesta del MH.
type TransmissionOutcome string

const (
	OutcomeAccepted               TransmissionOutcome = "ACCEPTED"
	OutcomeRejected               TransmissionOutcome = "REJECTED"
	OutcomeContingencyUnavailable TransmissionOutcome = "CONTINGENCY_UNAVAILABLE"
	OutcomeTransientError         TransmissionOutcome = "TRANSIENT_ERROR"
	OutcomeUnauthorized           TransmissionOutcome = "UNAUTHORIZED"
)

// TargetStatus estado del documento que corresponde a un resultado de transmisión.
// Un transitorio con reintentos agotados queda como contingencia y lo resuelve la conciliación.
func (o TransmissionOutcome) TargetStatus() DTEStatus {
	switch o {
	case OutcomeAccepted:
		return DTEStatusAccepted
	case OutcomeRejected:
		return DTEStatusRejected
	default:
		return DTEStatusContingencyPending
	}
}

// TransmissionAttempt bitácora de cada envío al MH; se persiste en la misma transacción
// que el cambio de estado del documento.
type TransmissionAttempt struct {
	ID             int64
	DocumentID     int64
	DTEID          string
	Attempt        int
	Outcome        TransmissionOutcome
	HTTPStatus     int
	AuthorityCode  string
	Message        string
	ReceptionStamp string
	RawResponse    string
	CreatedAt      time.Time
}
