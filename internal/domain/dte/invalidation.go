package dte

import (
	"strings"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// ValidateInvalidationReason aplica las reglas del motivo de anulación (CAT-024).
// Es puramente local: no consulta almacén ni servicios externos.
func ValidateInvalidationReason(r entity.InvalidationReason) *domain.InvalidationError {
	if !mh.ValidInvalidationType(r.Type) {
		return &domain.InvalidationError{Field: "motivo.tipoAnulacion", Message: "debe ser 1, 2 o 3"}
	}
	if r.Type == mh.AnulacionOtro && strings.TrimSpace(r.Reason) == "" {
		return &domain.InvalidationError{Field: "motivo.motivoAnulacion", Message: "requerido para invalidación tipo 3"}
	}
	required := []struct{ field, value string }{
		{"motivo.nombreResponsable", r.ResponsibleName},
		{"motivo.tipDocResponsable", r.ResponsibleDocType},
		{"motivo.numDocResponsable", r.ResponsibleDocNumber},
		{"motivo.nombreSolicita", r.RequestorName},
		{"motivo.tipDocSolicita", r.RequestorDocType},
		{"motivo.numDocSolicita", r.RequestorDocNumber},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &domain.InvalidationError{Field: f.field, Message: "requerido"}
		}
	}
	if err := mh.ValidateReceiverDocument(r.ResponsibleDocType, r.ResponsibleDocNumber); err != nil {
		return &domain.InvalidationError{Field: "motivo.numDocResponsable", Message: err.Error()}
	}
	if err := mh.ValidateReceiverDocument(r.RequestorDocType, r.RequestorDocNumber); err != nil {
		return &domain.InvalidationError{Field: "motivo.numDocSolicita", Message: err.Error()}
	}
	return nil
}
