package billing_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/internal/infrastructure/memory"
	"github.com/jhoicas/dte-api/pkg/mh"
)

func TestBuild_DosItemsSumanVeinte(t *testing.T) {
	h := newHarness(t)

	doc, err := h.builder.Build(context.Background(), testEmitter(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DTEStatusBuilt, doc.Status)
	assert.Equal(t, "DTE-01-M001P001-000000000000001", doc.ControlNumber)
	assert.True(t, dte.ValidGenerationCode(doc.DTEID))
	assert.True(t, doc.TotalAmount.Equal(dec("20")))

	payload, err := dte.Decode(doc.Payload)
	require.NoError(t, err)
	require.Len(t, payload.CuerpoDocumento, 2)
	assert.Equal(t, "10.00", payload.CuerpoDocumento[0].VentaGravada.StringFixed(2))
	assert.Equal(t, "10.00", payload.CuerpoDocumento[1].VentaGravada.StringFixed(2))
	assert.Equal(t, "20.00", payload.Resumen.SubTotalVentas.StringFixed(2))
	assert.Equal(t, "1.15", payload.CuerpoDocumento[0].IvaItem.StringFixed(2), "IVA incluido derivado")
	assert.Equal(t, "2.30", payload.Resumen.TotalIva.StringFixed(2))
	assert.Equal(t, doc.DTEID, payload.Identificacion.CodigoGeneracion)
	assert.Equal(t, doc.ControlNumber, payload.Identificacion.NumeroControl)
	assert.Equal(t, mh.AmbientePruebas, payload.Identificacion.Ambiente)
	assert.NotEmpty(t, payload.Resumen.TotalLetras)

	again, err := dte.Encode(payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc.Payload), string(again))
}

func TestBuild_ReportaTodasLasViolaciones(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.POSCode = "p-1"
	req.Items[0].TaxedSale = dec("9.00")
	req.Items[1].UnitOfMeasure = 0
	req.Summary.TotalToPay = dec("25.00")

	_, err := h.builder.Build(context.Background(), testEmitter(), req)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.True(t, verr.Has("emisor.codPuntoVenta"))
	assert.True(t, verr.Has("cuerpoDocumento[0].ventaGravada"))
	assert.True(t, verr.Has("cuerpoDocumento[1].uniMedida"))
	assert.True(t, verr.Has("resumen.totalPagar"))

	// Nada se asignó: el siguiente documento válido toma el correlativo 1.
	doc, err := h.builder.Build(context.Background(), testEmitter(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Sequence)
}

func TestBuild_TipoInvalido(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.Type = "receipt"

	_, err := h.builder.Build(context.Background(), testEmitter(), req)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("type"))
}

func TestBuild_CCFRequiereReceptorConNIT(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.Type = entity.DocumentTypeFiscalCreditNote

	_, err := h.builder.Build(context.Background(), testEmitter(), req)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("receptor"))
}

func TestBuild_CCFValido(t *testing.T) {
	h := newHarness(t)
	req := invoiceRequest()
	req.Type = entity.DocumentTypeFiscalCreditNote
	req.Receiver = &dto.ReceiverInput{
		NIT: "06149876543210", NRC: "765432", Name: "Distribuidora Sol", ActivityCode: "46900",
		ActivityDescription: "Venta al por mayor", Email: "compras@sol.com.sv",
		Address: &dto.AddressInput{Department: "05", Municipality: "01", Complement: "Santa Tecla"},
	}
	req.Summary.Taxes = []dto.TaxInput{{Code: mh.TributoIVA, Amount: dec("2.60")}}
	req.Summary.TotalOperation = dec("22.60")
	req.Summary.TotalToPay = dec("22.60")
	req.Summary.Payments[0].Amount = dec("22.60")

	doc, err := h.builder.Build(context.Background(), testEmitter(), req)
	require.NoError(t, err)
	assert.Equal(t, "DTE-03-M001P001-000000000000001", doc.ControlNumber)

	payload, err := dte.Decode(doc.Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{mh.TributoIVA}, payload.CuerpoDocumento[0].Tributos)
	assert.Nil(t, payload.CuerpoDocumento[0].IvaItem)
	require.NotNil(t, payload.Resumen.IvaPerci1)
	assert.Equal(t, mh.TributoDescriptions[mh.TributoIVA], payload.Resumen.Tributos[0].Descripcion)
}

func TestBuild_AnioEnNumeroDeControl(t *testing.T) {
	h := newHarness(t)
	e := testEmitter()
	e.ControlNumberIncludesYear = true

	doc, err := h.builder.Build(context.Background(), e, invoiceRequest())
	require.NoError(t, err)
	assert.True(t, mh.ValidControlNumber(doc.ControlNumber))
	assert.Regexp(t, `^DTE-01-M001P001-20[0-9]{2}00000000001$`, doc.ControlNumber)
}

func TestBuild_CorrelativosConcurrentesContiguos(t *testing.T) {
	h := newHarness(t)
	const n = 40

	var wg sync.WaitGroup
	seqs := make([]int64, n)
	numbers := make(map[string]bool)
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := h.builder.Build(context.Background(), testEmitter(), invoiceRequest())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seqs[i] = doc.Sequence
			numbers[doc.ControlNumber] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}
	assert.Len(t, numbers, n)
}

func TestBuild_AmbitosIndependientes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.builder.Build(ctx, testEmitter(), invoiceRequest())
	require.NoError(t, err)
	req := invoiceRequest()
	req.POSCode = "P002"
	b, err := h.builder.Build(ctx, testEmitter(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Sequence)
	assert.Equal(t, int64(1), b.Sequence)
	assert.NotEqual(t, a.DTEID, b.DTEID)
}

// conflictTx delega en el store en memoria, pero los primeros Create devuelven un
// SequenceConflict como si el número de control ya existiera.
type conflictTx struct {
	store *memory.Store

	mu        sync.Mutex
	conflicts int
	creates   int
}

func (c *conflictTx) RunDTE(ctx context.Context, fn func(
	docs repository.DTERepository,
	seqs repository.SequenceRepository,
	txs repository.TransmissionRepository,
) error) error {
	return c.store.RunDTE(ctx, func(docs repository.DTERepository, seqs repository.SequenceRepository, txs repository.TransmissionRepository) error {
		return fn(conflictDocs{DTERepository: docs, tx: c}, seqs, txs)
	})
}

func (c *conflictTx) Creates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

type conflictDocs struct {
	repository.DTERepository
	tx *conflictTx
}

func (d conflictDocs) Create(ctx context.Context, doc *entity.DTEDocument) error {
	d.tx.mu.Lock()
	d.tx.creates++
	conflict := d.tx.conflicts > 0
	if conflict {
		d.tx.conflicts--
	}
	d.tx.mu.Unlock()
	if conflict {
		return &domain.SequenceConflict{Scope: doc.Scope().String(), ControlNumber: doc.ControlNumber, Err: domain.ErrDuplicate}
	}
	return d.DTERepository.Create(ctx, doc)
}

func TestBuild_ConflictoDeCorrelativoSeReintentaUnaVez(t *testing.T) {
	store := memory.NewStore()
	tx := &conflictTx{store: store, conflicts: 1}
	builder := billing.NewDocumentBuilder(tx, zerolog.Nop())

	doc, err := builder.Build(context.Background(), testEmitter(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, tx.Creates())
	assert.Equal(t, int64(2), doc.Sequence, "el reintento salta el número que chocó")
	assert.Equal(t, "DTE-01-M001P001-000000000000002", doc.ControlNumber)

	stored, err := store.DTEs().GetByDTEID(context.Background(), doc.DTEID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	next, err := builder.Build(context.Background(), testEmitter(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Sequence)
}

func TestBuild_SegundoConflictoSeDevuelve(t *testing.T) {
	tx := &conflictTx{store: memory.NewStore(), conflicts: 2}
	builder := billing.NewDocumentBuilder(tx, zerolog.Nop())

	_, err := builder.Build(context.Background(), testEmitter(), invoiceRequest())
	var conflict *domain.SequenceConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 2, tx.Creates(), "un solo reintento")
}
