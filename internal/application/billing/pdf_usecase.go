package billing

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// PrintableDTE datos que necesita la representación gráfica.
type PrintableDTE struct {
	Document  *entity.DTEDocument
	Payload   *dte.Document
	LookupURL string // destino del QR (consulta pública del MH)
}

// DTEPDFGenerator genera la representación gráfica de un DTE.
type DTEPDFGenerator interface {
	GenerateDTEPDF(ctx context.Context, p PrintableDTE) ([]byte, error)
}

// PDFUseCase representación gráfica (PDF) de un DTE emitido.
type PDFUseCase struct {
	issuance  *IssuanceService
	generator DTEPDFGenerator
}

// NewPDFUseCase construye el caso de uso.
func NewPDFUseCase(issuance *IssuanceService, generator DTEPDFGenerator) *PDFUseCase {
	return &PDFUseCase{issuance: issuance, generator: generator}
}

// Download genera el PDF del documento del emisor.
//
// Retorna:
//   - domain.ErrNotFound     si el documento no existe.
//   - domain.ErrForbidden    si pertenece a otro emisor.
//   - domain.ErrInvalidInput si es una invalidación, fue rechazado o aún no está firmado.
func (uc *PDFUseCase) Download(ctx context.Context, userID string, id int64) (pdfBytes []byte, filename string, err error) {
	doc, err := uc.issuance.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	switch {
	case doc.Type == entity.DocumentTypeInvalidation:
		return nil, "", fmt.Errorf("%w: los eventos de invalidación no tienen representación gráfica", domain.ErrInvalidInput)
	case doc.Status == entity.DTEStatusRejected, doc.Status == entity.DTEStatusDraft, doc.Status == entity.DTEStatusBuilt:
		return nil, "", fmt.Errorf("%w: el dte está en estado %s", domain.ErrInvalidInput, doc.Status)
	}

	payload, err := dte.Decode(doc.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: payload ilegible: %w", err)
	}
	p := PrintableDTE{
		Document:  doc,
		Payload:   payload,
		LookupURL: mh.PublicLookupURL(payload.Identificacion.Ambiente, doc.DTEID, payload.Identificacion.FecEmi),
	}
	pdfBytes, err = uc.generator.GenerateDTEPDF(ctx, p)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generación fallida: %w", err)
	}
	return pdfBytes, doc.ControlNumber + ".pdf", nil
}
