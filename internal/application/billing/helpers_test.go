package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/memory"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// ── fixtures ─────────────────────────────────────────────────────────────────

const userID = "u1"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testEmitter() *entity.Emitter {
	return &entity.Emitter{
		ID:                    userID,
		Name:                  "Comercial El Pino S.A. de C.V.",
		TradeName:             "El Pino",
		NIT:                   "06141234567890",
		NRC:                   "123456",
		EconomicActivityCode:  "47190",
		EconomicActivityDesc:  "Venta al por menor",
		EstablishmentType:     mh.EstablecimientoCasaMatriz,
		Department:            "06",
		Municipality:          "14",
		AddressComplement:     "Colonia Escalón, San Salvador",
		Phone:                 "22223333",
		Email:                 "facturacion@elpino.com.sv",
		HaciendaPasswordEnc:   "mh-secret",
		PrivateKeyPasswordEnc: "key-secret",
	}
}

// invoiceRequest dos ítems {1 x 10.00} y {2 x 5.00}, sin descuentos.
func invoiceRequest() dto.IssuanceRequest {
	return dto.IssuanceRequest{
		Type:              entity.DocumentTypeInvoice,
		UserID:            userID,
		ClientID:          "c1",
		Environment:       dto.EnvironmentTest,
		SendToAuthority:   true,
		EstablishmentCode: "M001",
		POSCode:           "P001",
		Items: []dto.ItemInput{
			{Type: mh.ItemBienes, Description: "Cuaderno", Quantity: dec("1"), UnitOfMeasure: mh.UnidadUnidad, UnitPrice: dec("10.00"), TaxedSale: dec("10.00")},
			{Type: mh.ItemBienes, Description: "Lápiz", Quantity: dec("2"), UnitOfMeasure: mh.UnidadUnidad, UnitPrice: dec("5.00"), TaxedSale: dec("10.00")},
		},
		Summary: dto.SummaryInput{
			TotalTaxed:       dec("20.00"),
			SubTotalSales:    dec("20.00"),
			SubTotal:         dec("20.00"),
			TotalOperation:   dec("20.00"),
			TotalToPay:       dec("20.00"),
			PaymentCondition: mh.CondicionContado,
			Payments:         []dto.PaymentInput{{Code: mh.PagoBilletesMonedas, Amount: dec("20.00")}},
		},
	}
}

func invalidationRequest(original string, reasonType int) entity.InvalidationRequest {
	return entity.InvalidationRequest{
		UserID:        userID,
		OriginalDTEID: original,
		Reason: entity.InvalidationReason{
			Type:                 reasonType,
			ResponsibleName:      "Ana Pérez",
			ResponsibleDocType:   mh.DocDUI,
			ResponsibleDocNumber: "01234567-8",
			RequestorName:        "Luis Gómez",
			RequestorDocType:     mh.DocDUI,
			RequestorDocNumber:   "07654321-0",
		},
	}
}

// ── fakes ────────────────────────────────────────────────────────────────────

type plainSecrets struct{}

func (plainSecrets) Open(sealed string) (string, error) { return sealed, nil }

type fakeSigner struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakeSigner) Sign(_ context.Context, _ string, req ports.SignRequest) (*ports.SignResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ports.SignResult{SignerID: "s1", SignedDocument: fmt.Sprintf("jws.%d.%s", len(req.Document), req.NIT), Attempts: 1}, nil
}

func (f *fakeSigner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTokens struct {
	mu          sync.Mutex
	version     int
	gets        int
	invalidated []string
}

func (f *fakeTokens) GetToken(_ context.Context, user, env string) (*entity.HaciendaCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return &entity.HaciendaCredential{UserID: user, Environment: env, Token: fmt.Sprintf("tok-%d", f.version), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTokens) Invalidate(_ context.Context, _, _ string, stale string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, stale)
	if stale == fmt.Sprintf("tok-%d", f.version) {
		f.version++
	}
	return nil
}

func (f *fakeTokens) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type reply struct {
	res *ports.SubmissionResult
	err error
}

type consultReply struct {
	res   *ports.SubmissionResult
	found bool
	err   error
}

type fakeSubmitter struct {
	mu       sync.Mutex
	replies  []reply
	consults []consultReply
	sent     []ports.Submission
	tokens   []string
	queried  []ports.ConsultRequest
}

func outcome(o entity.TransmissionOutcome) reply {
	res := &ports.SubmissionResult{Outcome: o, HTTPStatus: 200, Attempts: 1}
	switch o {
	case entity.OutcomeAccepted:
		res.ReceptionStamp = "2024SELLO0001"
		res.Code = "001"
		res.Message = "RECIBIDO"
	case entity.OutcomeRejected:
		res.HTTPStatus = 400
		res.Code = "004"
		res.Message = "[identificacion.numeroControl] YA EXISTE UN REGISTRO CON ESE VALOR"
		res.Raw = `{"estado":"RECHAZADO","codigoMsg":"004"}`
	case entity.OutcomeContingencyUnavailable:
		res.HTTPStatus = 503
	case entity.OutcomeUnauthorized:
		res.HTTPStatus = 401
	}
	return reply{res: res}
}

func (f *fakeSubmitter) push(r ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r...)
}

func (f *fakeSubmitter) pushConsult(r ...consultReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consults = append(f.consults, r...)
}

func (f *fakeSubmitter) Submit(_ context.Context, cred *entity.HaciendaCredential, s ports.Submission) (*ports.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	f.tokens = append(f.tokens, cred.Token)
	if len(f.replies) == 0 {
		r := outcome(entity.OutcomeAccepted)
		return r.res, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.res != nil {
		cp := *r.res
		return &cp, r.err
	}
	return nil, r.err
}

func (f *fakeSubmitter) Consult(_ context.Context, _ *entity.HaciendaCredential, req ports.ConsultRequest) (*ports.SubmissionResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, req)
	if len(f.consults) == 0 {
		return nil, false, nil
	}
	r := f.consults[0]
	f.consults = f.consults[1:]
	return r.res, r.found, r.err
}

func (f *fakeSubmitter) Sent() []ports.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.Submission(nil), f.sent...)
}

// ── harness ──────────────────────────────────────────────────────────────────

type harness struct {
	store      *memory.Store
	builder    *billing.DocumentBuilder
	issuance   *billing.IssuanceService
	engine     *billing.InvalidationEngine
	reconciler *billing.Reconciler
	signer     *fakeSigner
	tokens     *fakeTokens
	submitter  *fakeSubmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Emitters().Create(context.Background(), testEmitter()))

	h := &harness{store: store, signer: &fakeSigner{}, tokens: &fakeTokens{}, submitter: &fakeSubmitter{}}
	log := zerolog.Nop()
	h.builder = billing.NewDocumentBuilder(store, log)
	h.issuance = billing.NewIssuanceService(store.Emitters(), store.DTEs(), store, h.builder,
		h.signer, h.tokens, h.submitter, plainSecrets{}, log, nil)
	h.engine = billing.NewInvalidationEngine(store.DTEs(), h.builder, h.issuance, billing.InvalidationRules{StrictReplacement: true}, log)
	h.reconciler = billing.NewReconciler(billing.ReconcileConfig{StaleAfter: time.Nanosecond, Concurrency: 2},
		store.DTEs(), h.issuance, log, nil)
	return h
}

func (h *harness) stored(t *testing.T, id int64) *entity.DTEDocument {
	t.Helper()
	doc, err := h.store.DTEs().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func (h *harness) attempts(t *testing.T, id int64) []*entity.TransmissionAttempt {
	t.Helper()
	list, err := h.store.Transmissions().ListByDocument(context.Background(), id)
	require.NoError(t, err)
	return list
}
