package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// writeError traduce errores de dominio a status + ErrorResponse. Si el documento ya
// existía cuando ocurrió el fallo se incluye, para que el cliente conozca su codigoGeneracion.
func writeError(c *fiber.Ctx, err error, doc *entity.DTEDocument) error {
	status, body := mapError(err)
	if doc != nil && doc.ID != 0 {
		r := dto.NewDTEResponse(doc)
		body.Document = &r
	}
	return c.Status(status).JSON(body)
}

func mapError(err error) (int, dto.DTEErrorResponse) {
	var (
		verr  *domain.ValidationError
		ierr  *domain.InvalidationError
		terr  *domain.TransmissionError
		aerr  *domain.AuthError
		serr  *domain.SigningError
		sqerr *domain.SequenceConflict
	)
	resp := func(code, msg string) dto.DTEErrorResponse {
		return dto.DTEErrorResponse{ErrorResponse: dto.ErrorResponse{Code: code, Message: msg}}
	}
	switch {
	case errors.As(err, &verr):
		r := resp("VALIDATION", "datos inválidos")
		for _, f := range verr.Fields {
			r.Details = append(r.Details, dto.ErrorDetail{Field: f.Field, Message: f.Message})
		}
		return fiber.StatusBadRequest, r
	case errors.As(err, &ierr):
		r := resp("INVALIDATION_RULE", ierr.Message)
		if ierr.Field != "" {
			r.Details = []dto.ErrorDetail{{Field: ierr.Field, Message: ierr.Message}}
		}
		return fiber.StatusBadRequest, r
	case errors.As(err, &terr) && terr.Permanent:
		r := resp("REJECTED", "documento rechazado por el Ministerio de Hacienda")
		r.Details = []dto.ErrorDetail{{Field: terr.Code, Message: terr.Message}}
		return fiber.StatusUnprocessableEntity, r
	case errors.As(err, &terr):
		return fiber.StatusServiceUnavailable, resp("TRANSMISSION", terr.Error())
	case errors.As(err, &aerr):
		return fiber.StatusBadGateway, resp("HACIENDA_AUTH", aerr.Error())
	case errors.Is(err, domain.ErrNoSignerAvailable):
		return fiber.StatusServiceUnavailable, resp("NO_SIGNER", "no hay firmador disponible")
	case errors.As(err, &serr):
		return fiber.StatusBadGateway, resp("SIGNING_FAILED", serr.Error())
	case errors.As(err, &sqerr):
		return fiber.StatusConflict, resp("SEQUENCE_CONFLICT", sqerr.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, resp("NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, resp("FORBIDDEN", "acceso denegado")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrDuplicate):
		return fiber.StatusConflict, resp("CONFLICT", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest, resp("VALIDATION", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// el documento quedó en su último estado persistido y admite reintento
		return fiber.StatusServiceUnavailable, resp("INTERRUPTED", "operación interrumpida antes de completarse; reintente")
	}
	return fiber.StatusInternalServerError, resp("INTERNAL", err.Error())
}

// statusFor código HTTP para un documento procesado sin error.
func statusFor(doc *entity.DTEDocument) int {
	switch doc.Status {
	case entity.DTEStatusContingencyPending, entity.DTEStatusTransmitting:
		return fiber.StatusAccepted
	}
	return fiber.StatusCreated
}
