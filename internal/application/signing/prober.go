package signing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// ProbeResult resultado de un sondeo de salud.
type ProbeResult struct {
	Signer    entity.Signer
	Healthy   bool
	Duration  time.Duration
	Message   string
	CheckedAt time.Time
}

// Prober sondea periódicamente los firmadores, independiente del tráfico de firma.
type Prober struct {
	pool        *Pool
	client      ports.SignatureClient
	repo        repository.SignerRepository
	log         zerolog.Logger
	timeout     time.Duration
	concurrency int
}

// NewProber construye el prober. repo puede ser nil (sin persistencia de la instantánea).
func NewProber(pool *Pool, client ports.SignatureClient, repo repository.SignerRepository, log zerolog.Logger, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{pool: pool, client: client, repo: repo, log: log, timeout: timeout, concurrency: 4}
}

// Probe sondea un firmador y aplica el resultado al pool.
func (p *Prober) Probe(ctx context.Context, id string) (ProbeResult, error) {
	s, ok := p.pool.Get(id)
	if !ok {
		return ProbeResult{}, fmt.Errorf("%w: firmador %s", domain.ErrNotFound, id)
	}
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.client.Ping(pctx, &s)
	elapsed := time.Since(start)

	msg := "OK"
	if err != nil {
		msg = err.Error()
	}
	updated, recErr := p.pool.RecordProbe(id, err == nil, elapsed, msg)
	if recErr != nil {
		return ProbeResult{}, recErr
	}
	if err != nil {
		p.log.Warn().Err(err).Str("signer_id", id).Int("consecutive_failures", updated.ConsecutiveFailures).
			Str("health", string(updated.HealthStatus)).Msg("sondeo de firmador fallido")
	}
	p.persist(ctx, &updated)
	return ProbeResult{
		Signer:    updated,
		Healthy:   err == nil,
		Duration:  elapsed,
		Message:   msg,
		CheckedAt: updated.LastCheckedAt,
	}, nil
}

// ProbeAll sondea en paralelo todos los firmadores activos.
func (p *Prober) ProbeAll(ctx context.Context) []ProbeResult {
	var (
		mu      sync.Mutex
		results []ProbeResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, s := range p.pool.Snapshot() {
		if !s.IsActive {
			continue
		}
		id := s.ID
		g.Go(func() error {
			res, err := p.Probe(gctx, id)
			if err != nil {
				p.log.Error().Err(err).Str("signer_id", id).Msg("sondeo no aplicado")
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run sondea cada interval hasta que ctx termine.
func (p *Prober) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

func (p *Prober) persist(ctx context.Context, s *entity.Signer) {
	if p.repo == nil {
		return
	}
	if err := p.repo.Update(ctx, s); err != nil {
		p.log.Error().Err(err).Str("signer_id", s.ID).Msg("no se pudo persistir estado del firmador")
	}
}
