package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/pkg/metrics"
)

// Service firma documentos con failover entre firmadores del pool. Implementa ports.DocumentSigner.
type Service struct {
	pool    *Pool
	client  ports.SignatureClient
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewService construye el servicio de firma.
func NewService(pool *Pool, client ports.SignatureClient, log zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{pool: pool, client: client, log: log, metrics: m}
}

// Sign intenta como máximo una vez por firmador elegible. Un rechazo definitivo se devuelve
// sin probar otro firmador; el agotamiento se reporta como *domain.SigningError.
func (s *Service) Sign(ctx context.Context, userID string, req ports.SignRequest) (*ports.SignResult, error) {
	tried := make(map[string]bool)
	var lastErr error
	limit := s.pool.Len()
	for attempt := 0; attempt < limit; attempt++ {
		lease, err := s.pool.Acquire(userID, tried)
		if err != nil {
			if lastErr == nil {
				return nil, err
			}
			break
		}
		tried[lease.Signer.ID] = true

		res, err := s.signWith(ctx, lease, req)
		if err == nil {
			res.Attempts = attempt + 1
			return res, nil
		}
		var se *domain.SigningError
		if errors.As(err, &se) && se.Definitive {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("firma cancelada: %w", ctxErr)
		}
		lastErr = err
		s.log.Warn().Err(err).Str("signer_id", lease.Signer.ID).Str("user_id", userID).
			Msg("firmador falló, probando el siguiente")
	}
	if lastErr == nil {
		return nil, domain.ErrNoSignerAvailable
	}
	out := &domain.SigningError{Message: "sin firmadores restantes", Attempts: len(tried), Err: lastErr}
	var se *domain.SigningError
	if errors.As(lastErr, &se) {
		out.SignerID, out.Code, out.Raw = se.SignerID, se.Code, se.Raw
	}
	return nil, out
}

// signWith firma con el firmador reservado; la reserva se libera en todo camino de salida.
func (s *Service) signWith(ctx context.Context, lease *Lease, req ports.SignRequest) (*ports.SignResult, error) {
	success := false
	defer func() { lease.Release(success) }()

	signer := lease.Signer
	res, err := s.client.Sign(ctx, &signer, req)
	if err != nil {
		var se *domain.SigningError
		s.metrics.IncrementSignFailure(signer.ID, errors.As(err, &se) && se.Definitive)
		return nil, err
	}
	success = true
	res.SignerID = signer.ID
	s.metrics.ObserveSign(signer.ID, res.Duration)
	return res, nil
}
