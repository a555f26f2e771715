package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// InvalidationEngine anula documentos aceptados. Todas las reglas se verifican antes de
// asignar correlativo o llamar a servicios externos; el evento resultante recorre el
// mismo camino de firma y transmisión que un documento normal.
type InvalidationEngine struct {
	docs     repository.DTERepository
	builder  *DocumentBuilder
	issuance *IssuanceService
	rules    InvalidationRules
	log      zerolog.Logger
}

// InvalidationRules reglas configurables además de las del motivo.
type InvalidationRules struct {
	// StrictReplacement aplica CAT-024 al documento de reemplazo: tipo 1 (error en la
	// información) lo exige y tipo 2 (rescindir la operación) no lo admite. Sin esta
	// regla el reemplazo es opcional para cualquier tipo.
	StrictReplacement bool
}

// NewInvalidationEngine construye el motor de invalidación.
func NewInvalidationEngine(docs repository.DTERepository, builder *DocumentBuilder, issuance *IssuanceService, rules InvalidationRules, log zerolog.Logger) *InvalidationEngine {
	return &InvalidationEngine{docs: docs, builder: builder, issuance: issuance, rules: rules, log: log}
}

// Invalidate devuelve el documento de invalidación en su último estado persistido. El
// original solo pasa a INVALIDATED cuando el MH acepta el evento.
func (e *InvalidationEngine) Invalidate(ctx context.Context, req entity.InvalidationRequest) (*entity.DTEDocument, error) {
	if err := dte.ValidateInvalidationReason(req.Reason); err != nil {
		return nil, err
	}
	req.ReplacementDTEID = strings.ToUpper(strings.TrimSpace(req.ReplacementDTEID))
	if e.rules.StrictReplacement {
		if err := strictReplacement(req); err != nil {
			return nil, err
		}
	}
	if req.ReplacementDTEID != "" && !dte.ValidGenerationCode(req.ReplacementDTEID) {
		return nil, &domain.InvalidationError{Field: "documento.codigoGeneracionR", Message: "código de generación inválido"}
	}

	original, err := e.docs.GetByDTEID(ctx, strings.ToUpper(strings.TrimSpace(req.OriginalDTEID)))
	if err != nil {
		return nil, fmt.Errorf("billing: obtener original: %w", err)
	}
	if original == nil {
		return nil, fmt.Errorf("%w: dte %s", domain.ErrNotFound, req.OriginalDTEID)
	}
	if original.UserID != req.UserID {
		return nil, domain.ErrForbidden
	}
	if original.Type == entity.DocumentTypeInvalidation {
		return nil, &domain.InvalidationError{Field: "documento.codigoGeneracion", Message: "un evento de invalidación no puede invalidarse"}
	}
	if err := invalidableStatus(original); err != nil {
		return nil, err
	}
	if req.Environment != "" {
		if code, ok := EnvironmentCode(req.Environment); !ok || code != original.Environment {
			return nil, &domain.InvalidationError{Field: "environment", Message: "no coincide con el ambiente del documento original"}
		}
	}

	if req.ReplacementDTEID != "" {
		if req.ReplacementDTEID == original.DTEID {
			return nil, &domain.InvalidationError{Field: "documento.codigoGeneracionR", Message: "el reemplazo no puede ser el mismo documento"}
		}
		repl, err := e.docs.GetByDTEID(ctx, req.ReplacementDTEID)
		if err != nil {
			return nil, fmt.Errorf("billing: obtener reemplazo: %w", err)
		}
		if repl == nil || repl.UserID != original.UserID {
			return nil, &domain.InvalidationError{Field: "documento.codigoGeneracionR", Message: "documento de reemplazo no encontrado"}
		}
	}

	emitter, err := e.issuance.emitter(ctx, original.UserID)
	if err != nil {
		return nil, err
	}
	inv, err := e.builder.BuildInvalidation(ctx, emitter, original, req)
	if err != nil {
		return nil, err
	}
	e.issuance.metrics.IncrementBuilt(string(inv.Type))
	e.log.Info().Str("dte_id", original.DTEID).Str("invalidation_id", inv.DTEID).
		Int("reason_type", req.Reason.Type).Msg("invalidación solicitada")
	return e.issuance.process(ctx, emitter, inv)
}

func strictReplacement(req entity.InvalidationRequest) error {
	switch req.Reason.Type {
	case mh.AnulacionErrorInformacion:
		if req.ReplacementDTEID == "" {
			return &domain.InvalidationError{Field: "documento.codigoGeneracionR", Message: "requerido para invalidación tipo 1"}
		}
	case mh.AnulacionRescindir:
		if req.ReplacementDTEID != "" {
			return &domain.InvalidationError{Field: "documento.codigoGeneracionR", Message: "no aplica para invalidación tipo 2"}
		}
	}
	return nil
}

func invalidableStatus(original *entity.DTEDocument) error {
	switch original.Status {
	case entity.DTEStatusAccepted:
		return nil
	case entity.DTEStatusInvalidated:
		return &domain.InvalidationError{Field: "documento.codigoGeneracion", Message: "el documento ya fue invalidado"}
	}
	return &domain.InvalidationError{Field: "documento.codigoGeneracion", Message: fmt.Sprintf("solo un documento aceptado puede invalidarse (estado actual %s)", original.Status)}
}

// checkInvalidable corre dentro de la transacción que inserta el evento: bloquea el
// original y rechaza si ya tiene una invalidación que no fue rechazada.
func checkInvalidable(ctx context.Context, docs repository.DTERepository, originalDTEID string) error {
	original, err := docs.LockByDTEID(ctx, originalDTEID)
	if err != nil {
		return fmt.Errorf("billing: bloquear original: %w", err)
	}
	if original == nil {
		return fmt.Errorf("%w: dte %s", domain.ErrNotFound, originalDTEID)
	}
	if err := invalidableStatus(original); err != nil {
		return err
	}
	prior, err := docs.ListInvalidations(ctx, originalDTEID)
	if err != nil {
		return fmt.Errorf("billing: listar invalidaciones: %w", err)
	}
	for _, p := range prior {
		if p.Status != entity.DTEStatusRejected {
			return &domain.InvalidationError{
				Field:   "documento.codigoGeneracion",
				Message: fmt.Sprintf("ya existe la invalidación %s en estado %s; use reintento", p.DTEID, p.Status),
			}
		}
	}
	return nil
}
