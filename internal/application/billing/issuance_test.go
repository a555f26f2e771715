package billing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// ── Issue ────────────────────────────────────────────────────────────────────

func TestIssue_AceptadoConSello(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeAccepted))

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusAccepted, doc.Status)
	assert.Equal(t, "2024SELLO0001", doc.ReceptionStamp)
	assert.NotNil(t, doc.ProcessedAt)

	stored := h.stored(t, doc.ID)
	assert.Equal(t, entity.DTEStatusAccepted, stored.Status)
	assert.Equal(t, "s1", stored.SignerID)
	assert.NotEmpty(t, stored.SignedPayload)

	sent := h.submitter.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ports.SubmitReception, sent[0].Kind)
	assert.Equal(t, doc.DTEID, sent[0].GenerationCode)
	assert.Equal(t, mh.TipoDteFactura, sent[0].TipoDte)
	assert.Equal(t, doc.ID, sent[0].SendID)

	rows := h.attempts(t, doc.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, entity.OutcomeAccepted, rows[0].Outcome)
}

func TestIssue_SinEnvioQuedaFirmado(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.SendToAuthority = false

	doc, err := h.issuance.Issue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusSigned, doc.Status)
	assert.Empty(t, h.submitter.Sent())
	assert.Equal(t, 0, h.tokens.Gets())
}

func TestIssue_RechazoEsTerminalYConservaCodigo(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeRejected))

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	var te *domain.TransmissionError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Permanent)
	assert.Equal(t, "004", te.Code)
	assert.Equal(t, "[identificacion.numeroControl] YA EXISTE UN REGISTRO CON ESE VALOR", te.Message)

	stored := h.stored(t, doc.ID)
	assert.Equal(t, entity.DTEStatusRejected, stored.Status)
	assert.Equal(t, "004", stored.AuthorityCode)
	assert.Equal(t, `{"estado":"RECHAZADO","codigoMsg":"004"}`, stored.RawResponse)

	_, err = h.issuance.Retry(context.Background(), userID, doc.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "un rechazo no se reintenta")
}

func TestIssue_ContingenciaConservaNumeroYUUID(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeContingencyUnavailable))

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusContingencyPending, doc.Status)
	controlNumber, dteID := doc.ControlNumber, doc.DTEID

	// El MH no conoce el documento: se reenvía tal cual.
	h.submitter.pushConsult(consultReply{found: false})
	h.submitter.push(outcome(entity.OutcomeAccepted))
	retried, err := h.issuance.Retry(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusAccepted, retried.Status)
	assert.Equal(t, controlNumber, retried.ControlNumber)
	assert.Equal(t, dteID, retried.DTEID)

	sent := h.submitter.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].GenerationCode, sent[1].GenerationCode)
	assert.Equal(t, sent[0].SignedDocument, sent[1].SignedDocument)
	assert.Equal(t, 1, h.signer.Calls(), "no se vuelve a firmar")
	assert.Len(t, h.attempts(t, doc.ID), 2)
}

func TestIssue_TransitorioAgotadoQuedaEnContingencia(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeTransientError))

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusContingencyPending, doc.Status)
}

func TestIssue_FirmaFallidaQuedaBuiltYSeReintenta(t *testing.T) {
	h := newHarness(t)
	h.signer.errs = []error{&domain.SigningError{SignerID: "s2", Message: "sin firmadores restantes", Raw: "503 Service Unavailable"}}

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	var se *domain.SigningError
	require.True(t, errors.As(err, &se))
	require.NotNil(t, doc)

	stored := h.stored(t, doc.ID)
	assert.Equal(t, entity.DTEStatusBuilt, stored.Status)
	assert.Equal(t, "503 Service Unavailable", stored.RawResponse)
	assert.NotEmpty(t, stored.LastError)
	assert.Empty(t, h.submitter.Sent())

	retried, err := h.issuance.Retry(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusAccepted, retried.Status)
	assert.Equal(t, doc.ControlNumber, retried.ControlNumber)
}

func TestIssue_401RenuevaTokenUnaVez(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeUnauthorized), outcome(entity.OutcomeAccepted))

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusAccepted, doc.Status)
	assert.Equal(t, []string{"tok-0"}, h.tokens.invalidated)
	assert.Equal(t, 2, h.tokens.Gets())
	assert.Equal(t, []string{"tok-0", "tok-1"}, h.submitter.tokens)
}

func TestIssue_Doble401EsAuthErrorYContingencia(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeUnauthorized), outcome(entity.OutcomeUnauthorized))

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	var ae *domain.AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, entity.DTEStatusContingencyPending, h.stored(t, doc.ID).Status)
	assert.Len(t, h.submitter.Sent(), 2, "un solo reintento tras renovar")
}

func TestIssue_ResultadoDesconocidoNoEscribeEstado(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(reply{err: fmt.Errorf("%w: %v", domain.ErrOutcomeUnknown, context.Canceled)})

	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	assert.ErrorIs(t, err, domain.ErrOutcomeUnknown)
	assert.Equal(t, entity.DTEStatusTransmitting, h.stored(t, doc.ID).Status)
	assert.Empty(t, h.attempts(t, doc.ID))
}

func TestIssue_EmisorDesconocido(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.UserID = "nadie"

	_, err := h.issuance.Issue(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGet_OtroEmisorEsForbidden(t *testing.T) {
	h := newHarness(t)
	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)

	_, err = h.issuance.Get(context.Background(), "otro", doc.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// ── Invalidación ─────────────────────────────────────────────────────────────

func acceptedInvoice(t *testing.T, h *harness) *entity.DTEDocument {
	t.Helper()
	h.submitter.push(outcome(entity.OutcomeAccepted))
	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)
	require.Equal(t, entity.DTEStatusAccepted, doc.Status)
	return doc
}

func TestInvalidate_Tipo3SinMotivoNoLlamaAServicios(t *testing.T) {
	h := newHarness(t)
	original := acceptedInvoice(t, h)
	signs, sent, gets := h.signer.Calls(), len(h.submitter.Sent()), h.tokens.Gets()

	_, err := h.engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionOtro))
	var ie *domain.InvalidationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "motivo.motivoAnulacion", ie.Field)

	assert.Equal(t, signs, h.signer.Calls())
	assert.Len(t, h.submitter.Sent(), sent)
	assert.Equal(t, gets, h.tokens.Gets())
	assert.Equal(t, entity.DTEStatusAccepted, h.stored(t, original.ID).Status)
}

func TestInvalidate_AceptadaInvalidaElOriginal(t *testing.T) {
	h := newHarness(t)
	original := acceptedInvoice(t, h)
	h.submitter.push(outcome(entity.OutcomeAccepted))

	inv, err := h.engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionRescindir))
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentTypeInvalidation, inv.Type)
	assert.Equal(t, entity.DTEStatusAccepted, inv.Status)
	assert.Equal(t, original.DTEID, inv.RelatedDTEID)
	assert.Regexp(t, `^ANU-M001P001-`, inv.ControlNumber)

	assert.Equal(t, entity.DTEStatusInvalidated, h.stored(t, original.ID).Status)

	sent := h.submitter.Sent()
	assert.Equal(t, ports.SubmitInvalidation, sent[len(sent)-1].Kind)
	assert.Equal(t, mh.VersionAnulacion, sent[len(sent)-1].Version)

	// Reinvalidar se rechaza sin llamar a servicios.
	before := len(h.submitter.Sent())
	_, err = h.engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionRescindir))
	var ie *domain.InvalidationError
	require.True(t, errors.As(err, &ie))
	assert.Len(t, h.submitter.Sent(), before)
}

func TestInvalidate_RechazadaDejaElOriginalAceptado(t *testing.T) {
	h := newHarness(t)
	original := acceptedInvoice(t, h)
	h.submitter.push(outcome(entity.OutcomeRejected))

	inv, err := h.engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionRescindir))
	var te *domain.TransmissionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, entity.DTEStatusRejected, inv.Status)
	assert.Equal(t, entity.DTEStatusAccepted, h.stored(t, original.ID).Status)

	// Una invalidación rechazada no bloquea un nuevo intento.
	h.submitter.push(outcome(entity.OutcomeAccepted))
	_, err = h.engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionRescindir))
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusInvalidated, h.stored(t, original.ID).Status)
}

func TestInvalidate_EnCursoBloqueaOtraSolicitud(t *testing.T) {
	h := newHarness(t)
	original := acceptedInvoice(t, h)
	h.submitter.push(outcome(entity.OutcomeContingencyUnavailable))

	inv, err := h.engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionRescindir))
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusContingencyPending, inv.Status)

	_, err = h.engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionRescindir))
	var ie *domain.InvalidationError
	assert.True(t, errors.As(err, &ie))
}

func TestInvalidate_SoloDocumentosAceptados(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.SendToAuthority = false
	signed, err := h.issuance.Issue(context.Background(), req)
	require.NoError(t, err)

	_, err = h.engine.Invalidate(context.Background(), invalidationRequest(signed.DTEID, mh.AnulacionRescindir))
	var ie *domain.InvalidationError
	assert.True(t, errors.As(err, &ie))
}

func TestInvalidate_ReglasDeReemplazo(t *testing.T) {
	h := newHarness(t)
	original := acceptedInvoice(t, h)
	replacement := acceptedInvoice(t, h)

	tipo1 := invalidationRequest(original.DTEID, mh.AnulacionErrorInformacion)
	_, err := h.engine.Invalidate(context.Background(), tipo1)
	var ie *domain.InvalidationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "documento.codigoGeneracionR", ie.Field)

	tipo2 := invalidationRequest(original.DTEID, mh.AnulacionRescindir)
	tipo2.ReplacementDTEID = replacement.DTEID
	_, err = h.engine.Invalidate(context.Background(), tipo2)
	require.True(t, errors.As(err, &ie))

	tipo1.ReplacementDTEID = replacement.DTEID
	h.submitter.push(outcome(entity.OutcomeAccepted))
	inv, err := h.engine.Invalidate(context.Background(), tipo1)
	require.NoError(t, err)
	assert.Equal(t, replacement.DTEID, inv.ReplacementDTEID)
}

func TestInvalidate_OtroEmisorEsForbidden(t *testing.T) {
	h := newHarness(t)
	original := acceptedInvoice(t, h)
	req := invalidationRequest(original.DTEID, mh.AnulacionRescindir)
	req.UserID = "otro"

	_, err := h.engine.Invalidate(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// ── Conciliación ─────────────────────────────────────────────────────────────

func TestReconcile_TransmittingSeConsultaAntesDeReenviar(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(reply{err: fmt.Errorf("%w: %v", domain.ErrOutcomeUnknown, context.DeadlineExceeded)})
	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.ErrorIs(t, err, domain.ErrOutcomeUnknown)

	found := outcome(entity.OutcomeAccepted)
	h.submitter.pushConsult(consultReply{res: found.res, found: true})
	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved[billing.ActionConsulted])

	stored := h.stored(t, doc.ID)
	assert.Equal(t, entity.DTEStatusAccepted, stored.Status)
	assert.Equal(t, "2024SELLO0001", stored.ReceptionStamp)
	assert.Len(t, h.submitter.Sent(), 1, "no se reenvía un documento que el MH ya registró")
	require.Len(t, h.submitter.queried, 1)
	assert.Equal(t, doc.DTEID, h.submitter.queried[0].GenerationCode)
	assert.Equal(t, "06141234567890", h.submitter.queried[0].NIT)
}

func TestReconcile_ContingenciaNoEncontradaSeReenvia(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeContingencyUnavailable))
	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)

	h.submitter.push(outcome(entity.OutcomeAccepted))
	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Resolved[billing.ActionResubmitted])
	assert.Equal(t, entity.DTEStatusAccepted, h.stored(t, doc.ID).Status)
}

func TestReconcile_TransmittingNoEncontradoAbreNuevoIntento(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(reply{err: fmt.Errorf("%w: %v", domain.ErrOutcomeUnknown, context.DeadlineExceeded)})
	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.ErrorIs(t, err, domain.ErrOutcomeUnknown)
	require.Equal(t, 1, h.stored(t, doc.ID).Attempts)

	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved[billing.ActionResubmitted])

	stored := h.stored(t, doc.ID)
	assert.Equal(t, entity.DTEStatusAccepted, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	rows := h.attempts(t, doc.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Attempt)
}

func TestReconcile_ConsultaFallidaDejaPendiente(t *testing.T) {
	h := newHarness(t)
	h.submitter.push(outcome(entity.OutcomeContingencyUnavailable))
	doc, err := h.issuance.Issue(context.Background(), invoiceRequest())
	require.NoError(t, err)

	h.submitter.pushConsult(consultReply{err: errors.New("hacienda: consulta no disponible (HTTP 503)")})
	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, entity.DTEStatusContingencyPending, h.stored(t, doc.ID).Status)
	assert.Len(t, h.submitter.Sent(), 1)
}

func TestReconcile_FirmadoSinEnvioSeIgnora(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.SendToAuthority = false
	_, err := h.issuance.Issue(context.Background(), req)
	require.NoError(t, err)

	report, err := h.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}
