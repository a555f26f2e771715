package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
)

// DTEHandler emisión, consulta, reintento, PDF e invalidación de DTE (protegido).
type DTEHandler struct {
	issuance      *billing.IssuanceService
	invalidations *billing.InvalidationEngine
	pdf           *billing.PDFUseCase
}

// NewDTEHandler construye el handler.
func NewDTEHandler(issuance *billing.IssuanceService, invalidations *billing.InvalidationEngine, pdf *billing.PDFUseCase) *DTEHandler {
	return &DTEHandler{issuance: issuance, invalidations: invalidations, pdf: pdf}
}

// Issue construye, firma y transmite un DTE.
// POST /api/dte
func (h *DTEHandler) Issue(c *fiber.Ctx) error {
	userID := GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.IssuanceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	in.UserID = userID

	doc, err := h.issuance.Issue(c.Context(), in)
	if err != nil && !errors.Is(err, domain.ErrOutcomeUnknown) {
		return writeError(c, err, doc)
	}
	return c.Status(statusFor(doc)).JSON(dto.NewDTEResponse(doc))
}

// GetByID estado y payload de un documento.
// GET /api/dte/:id
func (h *DTEHandler) GetByID(c *fiber.Ctx) error {
	id, ok := docID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	doc, err := h.issuance.Get(c.Context(), GetUserID(c), id)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(dto.NewDTEResponse(doc))
}

// Retry reanuda un documento detenido (firma fallida, token no disponible o contingencia).
// POST /api/dte/:id/retry
func (h *DTEHandler) Retry(c *fiber.Ctx) error {
	id, ok := docID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	doc, err := h.issuance.Retry(c.Context(), GetUserID(c), id)
	if err != nil && !errors.Is(err, domain.ErrOutcomeUnknown) {
		return writeError(c, err, doc)
	}
	return c.Status(fiber.StatusOK).JSON(dto.NewDTEResponse(doc))
}

// PDF representación gráfica con QR a la consulta pública.
// GET /api/dte/:id/pdf
func (h *DTEHandler) PDF(c *fiber.Ctx) error {
	id, ok := docID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	out, filename, err := h.pdf.Download(c.Context(), GetUserID(c), id)
	if err != nil {
		return writeError(c, err, nil)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(out)
}

// Invalidate anula un DTE aceptado mediante el evento de invalidación.
// POST /api/dte/invalidations
func (h *DTEHandler) Invalidate(c *fiber.Ctx) error {
	userID := GetUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.InvalidationRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	doc, err := h.invalidations.Invalidate(c.Context(), in.ToEntity(userID))
	if err != nil && !errors.Is(err, domain.ErrOutcomeUnknown) {
		return writeError(c, err, doc)
	}
	return c.Status(statusFor(doc)).JSON(dto.NewDTEResponse(doc))
}

func docID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	return id, err == nil && id > 0
}
