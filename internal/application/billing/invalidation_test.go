package billing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// gatedDocs retiene cada lectura del original hasta que todas las solicitudes la hicieron,
// así ambas ven el documento ACCEPTED antes de construir su evento.
type gatedDocs struct {
	repository.DTERepository
	gate *sync.WaitGroup
}

func (g gatedDocs) GetByDTEID(ctx context.Context, dteID string) (*entity.DTEDocument, error) {
	doc, err := g.DTERepository.GetByDTEID(ctx, dteID)
	g.gate.Done()
	g.gate.Wait()
	return doc, err
}

func TestInvalidate_ConcurrentesSoloUnaLlegaAlMH(t *testing.T) {
	h := newHarness(t)
	original := acceptedInvoice(t, h)
	before := len(h.submitter.Sent())

	const n = 2
	var gate sync.WaitGroup
	gate.Add(n)
	engine := billing.NewInvalidationEngine(gatedDocs{DTERepository: h.store.DTEs(), gate: &gate},
		h.builder, h.issuance, billing.InvalidationRules{StrictReplacement: true}, zerolog.Nop())

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Invalidate(context.Background(), invalidationRequest(original.DTEID, mh.AnulacionRescindir))
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		var ie *domain.InvalidationError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &ie):
			rejected++
		default:
			t.Fatalf("error inesperado: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Len(t, h.submitter.Sent(), before+1, "un solo evento enviado al MH")

	events, err := h.store.DTEs().ListInvalidations(context.Background(), original.DTEID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entity.DTEStatusAccepted, events[0].Status)
	assert.Equal(t, entity.DTEStatusInvalidated, h.stored(t, original.ID).Status)
}

func TestInvalidate_AceptadaSobreOriginalYaInvalidadoQuedaRegistrada(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	original := acceptedInvoice(t, h)

	h.submitter.push(reply{err: fmt.Errorf("%w: %v", domain.ErrOutcomeUnknown, context.DeadlineExceeded)})
	inv, err := h.engine.Invalidate(ctx, invalidationRequest(original.DTEID, mh.AnulacionRescindir))
	require.ErrorIs(t, err, domain.ErrOutcomeUnknown)
	require.Equal(t, entity.DTEStatusTransmitting, h.stored(t, inv.ID).Status)

	// Otro evento anuló el original mientras este quedaba pendiente.
	stored := h.stored(t, original.ID)
	require.NoError(t, stored.Transition(entity.DTEStatusInvalidated, time.Now()))
	require.NoError(t, h.store.DTEs().UpdateState(ctx, stored, entity.DTEStatusAccepted))

	report, err := h.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Resolved[billing.ActionResubmitted])

	got := h.stored(t, inv.ID)
	assert.Equal(t, entity.DTEStatusAccepted, got.Status)
	assert.Equal(t, "2024SELLO0001", got.ReceptionStamp)
	assert.Equal(t, 2, got.Attempts)

	rows := h.attempts(t, inv.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, entity.OutcomeAccepted, rows[0].Outcome)
	assert.Equal(t, 2, rows[0].Attempt)
	assert.Equal(t, entity.DTEStatusInvalidated, h.stored(t, original.ID).Status)

	// Un segundo pase ya no encuentra nada pendiente.
	report, err = h.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestInvalidate_ReemplazoLibreSinReglaEstricta(t *testing.T) {
	h := newHarness(t)
	engine := billing.NewInvalidationEngine(h.store.DTEs(), h.builder, h.issuance, billing.InvalidationRules{}, zerolog.Nop())

	first := acceptedInvoice(t, h)
	inv, err := engine.Invalidate(context.Background(), invalidationRequest(first.DTEID, mh.AnulacionErrorInformacion))
	require.NoError(t, err)
	assert.Empty(t, inv.ReplacementDTEID)

	second := acceptedInvoice(t, h)
	replacement := acceptedInvoice(t, h)
	req := invalidationRequest(second.DTEID, mh.AnulacionRescindir)
	req.ReplacementDTEID = replacement.DTEID
	inv, err = engine.Invalidate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, replacement.DTEID, inv.ReplacementDTEID)
}
