// Package bootstrap arma el grafo de dependencias compartido por la API y dtectl.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/signing"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/internal/infrastructure/hacienda"
	"github.com/jhoicas/dte-api/internal/infrastructure/memory"
	infrapdf "github.com/jhoicas/dte-api/internal/infrastructure/pdf"
	"github.com/jhoicas/dte-api/internal/infrastructure/postgres"
	"github.com/jhoicas/dte-api/internal/infrastructure/signer"
	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/metrics"
	"github.com/jhoicas/dte-api/pkg/secrets"
)

// Stores repositorios del backend elegido (postgres o memoria).
type Stores struct {
	Emitters      repository.EmitterRepository
	DTEs          repository.DTERepository
	Transmissions repository.TransmissionRepository
	Signers       repository.SignerRepository
	Tx            billing.DTETxRunner
}

// Services componentes listos para usar.
type Services struct {
	Stores        Stores
	Registry      *prometheus.Registry
	Secrets       *secrets.Box
	Pool          *signing.Pool
	Prober        *signing.Prober
	SignerAdmin   *signing.AdminUseCase
	Issuance      *billing.IssuanceService
	Invalidations *billing.InvalidationEngine
	PDF           *billing.PDFUseCase
	Reconciler    *billing.Reconciler

	closers []func()
}

// Close libera conexiones en orden inverso de apertura.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// New conecta almacenamiento y clientes externos y carga el pool de firmadores.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Services, error) {
	box, err := secrets.New(cfg.Secrets.Key)
	if err != nil {
		return nil, fmt.Errorf("llave de secretos: %w", err)
	}
	s := &Services{Secrets: box, Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(s.Registry)

	if err := s.openStores(ctx, cfg, log); err != nil {
		s.Close()
		return nil, err
	}

	tokens, err := s.tokenStore(cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	urls := hacienda.BaseURLs{Test: cfg.Hacienda.TestURL, Production: cfg.Hacienda.ProductionURL}
	auth := hacienda.NewAuthManager(hacienda.AuthConfig{
		URLs:         urls,
		TokenTTL:     cfg.Hacienda.TokenTTL,
		LoginTimeout: cfg.Hacienda.LoginTimeout,
	}, hacienda.NewEmitterCredentials(s.Stores.Emitters, box), tokens, log, m)
	transmitter := hacienda.NewTransmitter(hacienda.TransmitterConfig{
		URLs:           urls,
		MaxAttempts:    cfg.Hacienda.MaxAttempts,
		InitialBackoff: cfg.Hacienda.InitialBackoff,
		MaxBackoff:     cfg.Hacienda.MaxBackoff,
		Timeout:        cfg.Hacienda.Timeout,
		Classifier: hacienda.ClassifierConfig{
			ContingencyStatuses: cfg.Hacienda.ContingencyStatuses,
			TransientCodes:      cfg.Hacienda.TransientCodes,
			ContingencyCodes:    cfg.Hacienda.ContingencyCodes,
		},
	}, log)

	client := signer.NewClient(cfg.Signer.Timeout, cfg.Signer.RetryWait)
	s.Pool = signing.NewPool(cfg.Signer.FailureThreshold, m)
	s.Prober = signing.NewProber(s.Pool, client, s.Stores.Signers, log, cfg.Signer.ProbeTimeout)
	s.SignerAdmin = signing.NewAdminUseCase(s.Stores.Signers, s.Pool, s.Prober, log)
	if err := s.SignerAdmin.Reload(ctx); err != nil {
		s.Close()
		return nil, err
	}

	builder := billing.NewDocumentBuilder(s.Stores.Tx, log)
	s.Issuance = billing.NewIssuanceService(s.Stores.Emitters, s.Stores.DTEs, s.Stores.Tx, builder,
		signing.NewService(s.Pool, client, log, m), auth, transmitter, box, log, m)
	s.Invalidations = billing.NewInvalidationEngine(s.Stores.DTEs, builder, s.Issuance,
		billing.InvalidationRules{StrictReplacement: cfg.Invalidation.StrictReplacement}, log)
	s.PDF = billing.NewPDFUseCase(s.Issuance, infrapdf.NewMarotoPDFGenerator())
	s.Reconciler = billing.NewReconciler(billing.ReconcileConfig{
		Interval:    cfg.Reconcile.Interval,
		StaleAfter:  cfg.Reconcile.StaleAfter,
		Concurrency: cfg.Reconcile.Concurrency,
		BatchSize:   cfg.Reconcile.BatchSize,
	}, s.Stores.DTEs, s.Issuance, log, m)
	return s, nil
}

func (s *Services) openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.App.StoreDriver == "memory" {
		log.Warn().Msg("almacenamiento en memoria: los documentos se pierden al reiniciar")
		store := memory.NewStore()
		s.Stores = Stores{
			Emitters:      store.Emitters(),
			DTEs:          store.DTEs(),
			Transmissions: store.Transmissions(),
			Signers:       store.Signers(),
			Tx:            store,
		}
		return nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("conexión a PostgreSQL: %w", err)
	}
	s.closers = append(s.closers, pool.Close)
	if err := postgres.Migrate(ctx, pool, log); err != nil {
		return err
	}
	s.Stores = Stores{
		Emitters:      postgres.NewEmitterRepository(pool),
		DTEs:          postgres.NewDTERepository(pool),
		Transmissions: postgres.NewTransmissionRepository(pool),
		Signers:       postgres.NewSignerRepository(pool),
		Tx:            postgres.NewTxRunner(pool),
	}
	return nil
}

func (s *Services) tokenStore(cfg *config.Config, log zerolog.Logger) (hacienda.TokenStore, error) {
	if cfg.Redis.URL == "" {
		return hacienda.NewMemoryTokenStore(), nil
	}
	rs, err := hacienda.NewRedisTokenStore(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = rs.Close() })
	log.Info().Msg("tokens del MH compartidos en Redis")
	return rs, nil
}
