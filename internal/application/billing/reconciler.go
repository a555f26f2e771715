package billing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/metrics"
)

// ReconcileConfig parámetros de la conciliación.
type ReconcileConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration // antigüedad mínima de un TRANSMITTING o SIGNED para tratarlo como abandonado
	Concurrency int
	BatchSize   int
}

// ReconcileReport resumen de una pasada.
type ReconcileReport struct {
	Scanned  int
	Resolved map[string]int // por acción
	Failed   int
}

// Reconciler resuelve documentos en contingencia o con resultado desconocido. Antes de
// reenviar consulta al MH por codigoGeneracion, de modo que un documento ya registrado
// nunca se presenta dos veces.
type Reconciler struct {
	cfg      ReconcileConfig
	docs     repository.DTERepository
	issuance *IssuanceService
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReconciler construye el conciliador.
func NewReconciler(cfg ReconcileConfig, docs repository.DTERepository, issuance *IssuanceService, log zerolog.Logger, m *metrics.Metrics) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{cfg: cfg, docs: docs, issuance: issuance, log: log, metrics: m, now: time.Now}
}

// RunOnce ejecuta una pasada. Los fallos por documento se registran y no detienen la pasada.
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	now := r.now()
	pending, err := r.docs.ListByStatus(ctx, []entity.DTEStatus{entity.DTEStatusContingencyPending}, now, r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	stale, err := r.docs.ListByStatus(ctx,
		[]entity.DTEStatus{entity.DTEStatusTransmitting, entity.DTEStatusSigned}, now.Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, d := range stale {
		if d.Status == entity.DTEStatusTransmitting || d.SendToAuthority {
			pending = append(pending, d)
		}
	}

	report := &ReconcileReport{Scanned: len(pending), Resolved: make(map[string]int)}
	results := make([]string, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, doc := range pending {
		g.Go(func() error {
			action, err := r.issuance.Resolve(gctx, doc)
			if err != nil {
				var te *domain.TransmissionError
				if errors.As(err, &te) && te.Permanent {
					// rechazo de negocio: el documento quedó en estado terminal
					results[i] = action
					r.metrics.IncrementReconciled(action)
					return nil
				}
				r.log.Warn().Err(err).Str("dte_id", doc.DTEID).Str("status", string(doc.Status)).
					Msg("conciliación pendiente")
				return nil
			}
			results[i] = action
			r.metrics.IncrementReconciled(action)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	for _, a := range results {
		if a == "" {
			report.Failed++
			continue
		}
		report.Resolved[a]++
	}
	if report.Scanned > 0 {
		r.log.Info().Int("scanned", report.Scanned).Int("failed", report.Failed).
			Interface("resolved", report.Resolved).Msg("pasada de conciliación")
	}
	return report, ctx.Err()
}

// Run repite RunOnce cada Interval hasta que ctx termina.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("conciliación fallida")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
