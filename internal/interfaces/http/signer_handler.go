package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/signing"
)

// SignerHandler administración del pool de firmadores (rol admin).
type SignerHandler struct {
	uc *signing.AdminUseCase
}

// NewSignerHandler construye el handler.
func NewSignerHandler(uc *signing.AdminUseCase) *SignerHandler {
	return &SignerHandler{uc: uc}
}

// Register da de alta un firmador.
// POST /api/signers
func (h *SignerHandler) Register(c *fiber.Ctx) error {
	var in dto.RegisterSignerRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	out, err := h.uc.Register(c.Context(), in)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// List firmadores con carga y salud.
// GET /api/signers
func (h *SignerHandler) List(c *fiber.Ctx) error {
	return c.JSON(h.uc.List(c.Context()))
}

// Stats agregados del pool.
// GET /api/signers/stats
func (h *SignerHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.uc.Stats(c.Context()))
}

// HealthCheck sondea un firmador ahora.
// POST /api/signers/:id/health-check
func (h *SignerHandler) HealthCheck(c *fiber.Ctx) error {
	out, err := h.uc.HealthCheck(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(out)
}

// UpdateLoad ajuste manual de carga.
// PATCH /api/signers/:id/load
func (h *SignerHandler) UpdateLoad(c *fiber.Ctx) error {
	var in dto.LoadUpdateRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	out, err := h.uc.UpdateLoad(c.Context(), c.Params("id"), in)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(out)
}

// Assign firmador preferido de un emisor.
// POST /api/signers/assignments
func (h *SignerHandler) Assign(c *fiber.Ctx) error {
	var in dto.AssignmentRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if err := h.uc.Assign(c.Context(), in); err != nil {
		return writeError(c, err, nil)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
