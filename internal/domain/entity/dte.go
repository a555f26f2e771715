package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// DocumentType tipo de DTE manejado por el pipeline.
type DocumentType string

const (
	DocumentTypeInvoice          DocumentType = "invoice"      // Factura (01)
	DocumentTypeFiscalCreditNote DocumentType = "ccf"          // Comprobante de crédito fiscal (03)
	DocumentTypeCreditNote       DocumentType = "credit_note"  // Nota de crédito (05)
	DocumentTypeInvalidation     DocumentType = "invalidation" // Anulación (evento, sin tipoDte propio)
)

// Code devuelve el tipoDte del catálogo CAT-002; vacío para invalidaciones.
func (t DocumentType) Code() string {
	switch t {
	case DocumentTypeInvoice:
		return mh.TipoDteFactura
	case DocumentTypeFiscalCreditNote:
		return mh.TipoDteCCF
	case DocumentTypeCreditNote:
		return mh.TipoDteNotaCredito
	}
	return ""
}

// Version versión del esquema JSON que se transmite.
func (t DocumentType) Version() int {
	switch t {
	case DocumentTypeInvoice:
		return mh.VersionFactura
	case DocumentTypeFiscalCreditNote:
		return mh.VersionCCF
	case DocumentTypeCreditNote:
		return mh.VersionNotaCredito
	case DocumentTypeInvalidation:
		return mh.VersionAnulacion
	}
	return 0
}

// Issuable indica si el tipo puede emitirse por la vía de emisión normal.
func (t DocumentType) Issuable() bool {
	return t == DocumentTypeInvoice || t == DocumentTypeFiscalCreditNote || t == DocumentTypeCreditNote
}

// DocumentTypeFromCode resuelve el tipo interno desde el tipoDte del MH.
func DocumentTypeFromCode(code string) (DocumentType, bool) {
	switch code {
	case mh.TipoDteFactura:
		return DocumentTypeInvoice, true
	case mh.TipoDteCCF:
		return DocumentTypeFiscalCreditNote, true
	case mh.TipoDteNotaCredito:
		return DocumentTypeCreditNote, true
	}
	return "", false
}

// DTEStatus estado del ciclo de vida de un DTE.
type DTEStatus string

const (
	DTEStatusDraft              DTEStatus = "DRAFT"
	DTEStatusBuilt              DTEStatus = "BUILT"               // Payload canónico + número de control asignado
	DTEStatusSigned             DTEStatus = "SIGNED"              // JWS devuelto por el firmador
	DTEStatusTransmitting       DTEStatus = "TRANSMITTING"        // Enviado al MH, resultado pendiente
	DTEStatusAccepted           DTEStatus = "ACCEPTED"            // Sello de recepción otorgado
	DTEStatusRejected           DTEStatus = "REJECTED"            // Rechazo de negocio del MH (terminal)
	DTEStatusContingencyPending DTEStatus = "CONTINGENCY_PENDING" // MH no disponible; reintento diferido
	DTEStatusInvalidated        DTEStatus = "INVALIDATED"         // Original anulado por un evento aceptado
)

var dteTransitions = map[DTEStatus][]DTEStatus{
	DTEStatusDraft:              {DTEStatusBuilt},
	DTEStatusBuilt:              {DTEStatusSigned},
	DTEStatusSigned:             {DTEStatusTransmitting},
	DTEStatusTransmitting:       {DTEStatusAccepted, DTEStatusRejected, DTEStatusContingencyPending},
	DTEStatusContingencyPending: {DTEStatusTransmitting},
	DTEStatusAccepted:           {DTEStatusInvalidated},
}

// CanTransitionTo indica si la transición es válida en la máquina de estados.
func (s DTEStatus) CanTransitionTo(next DTEStatus) bool {
	for _, allowed := range dteTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal estados sin transiciones automáticas posteriores.
func (s DTEStatus) Terminal() bool {
	return s == DTEStatusRejected || s == DTEStatusInvalidated
}

// DTEDocument registro persistido de un documento tributario electrónico. Nunca se elimina.
type DTEDocument struct {
	ID                int64
	DTEID             string // codigoGeneracion (UUID en mayúsculas), único global
	UserID            string // emisor propietario
	UserName          string
	ClientID          string
	Type              DocumentType
	GenerationType    int    // tipoModelo (CAT-003)
	OperationType     int    // tipoOperacion (CAT-004)
	Environment       string // ambiente (CAT-001)
	ControlNumber     string
	Sequence          int64
	EstablishmentCode string
	POSCode           string
	TotalAmount       decimal.Decimal
	Status            DTEStatus
	Payload           []byte // JSON canónico sin firmar
	SignedPayload     string // JWS devuelto por el firmador
	SignerID          string
	ReceptionStamp    string // selloRecibido
	AuthorityCode     string // codigoMsg tal cual lo devolvió el MH
	AuthorityMessage  string // descripcionMsg + observaciones
	RawResponse       string // última respuesta cruda de firmador o MH
	LastError         string
	RelatedDTEID      string // invalidaciones: codigoGeneracion del original
	ReplacementDTEID  string // invalidaciones: codigoGeneracionR
	SendToAuthority   bool
	Attempts          int
	IssuedAt          time.Time
	ProcessedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transition aplica el cambio de estado si la máquina lo permite.
func (d *DTEDocument) Transition(next DTEStatus, now time.Time) error {
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (dte %s)", domain.ErrInvalidTransition, d.Status, next, d.DTEID)
	}
	d.Status = next
	d.UpdatedAt = now
	return nil
}

// Scope ámbito del correlativo del documento.
func (d *DTEDocument) Scope() SequenceScope {
	return SequenceScope{UserID: d.UserID, EstablishmentCode: d.EstablishmentCode, POSCode: d.POSCode, Type: d.Type}
}

// SequenceScope ámbito en el que el número de control es estrictamente creciente y sin huecos.
type SequenceScope struct {
	UserID            string
	EstablishmentCode string
	POSCode           string
	Type              DocumentType
}

func (s SequenceScope) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", s.UserID, s.EstablishmentCode, s.POSCode, s.Type)
}
