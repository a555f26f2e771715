package signing

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// AdminUseCase administración de firmadores: alta, asignaciones, carga manual y estadísticas.
type AdminUseCase struct {
	repo   repository.SignerRepository
	pool   *Pool
	prober *Prober
	log    zerolog.Logger
}

// NewAdminUseCase construye el caso de uso.
func NewAdminUseCase(repo repository.SignerRepository, pool *Pool, prober *Prober, log zerolog.Logger) *AdminUseCase {
	return &AdminUseCase{repo: repo, pool: pool, prober: prober, log: log}
}

// Reload carga firmadores y asignaciones desde el almacén al pool.
func (uc *AdminUseCase) Reload(ctx context.Context) error {
	signers, err := uc.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listar firmadores: %w", err)
	}
	assignments, err := uc.repo.ListAssignments(ctx)
	if err != nil {
		return fmt.Errorf("listar asignaciones: %w", err)
	}
	uc.pool.Load(signers, assignments)
	uc.log.Info().Int("signers", len(signers)).Int("assignments", len(assignments)).Msg("pool de firmadores cargado")
	return nil
}

// Register da de alta un firmador.
func (uc *AdminUseCase) Register(ctx context.Context, in dto.RegisterSignerRequest) (*dto.SignerResponse, error) {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "requerido")
	}
	if strings.TrimSpace(in.CertificateRef) == "" {
		verr.Add("certificate_ref", "requerido")
	}
	if u, err := url.Parse(in.EndpointURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		verr.Add("endpoint_url", "URL http(s) inválida")
	}
	if in.MaxConcurrentSigns <= 0 {
		verr.Add("max_concurrent_signs", "debe ser mayor que cero")
	}
	if in.Priority < 1 {
		verr.Add("priority", "debe ser 1 o mayor")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	now := time.Now()
	s := &entity.Signer{
		ID:                 uuid.New().String(),
		Name:               strings.TrimSpace(in.Name),
		CertificateRef:     strings.TrimSpace(in.CertificateRef),
		EndpointURL:        strings.TrimRight(in.EndpointURL, "/"),
		IsActive:           active,
		MaxConcurrentSigns: in.MaxConcurrentSigns,
		Priority:           in.Priority,
		HealthStatus:       entity.HealthHealthy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := uc.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	uc.pool.Upsert(s)
	out := dto.NewSignerResponse(s)
	return &out, nil
}

// List firmadores con su estado en proceso.
func (uc *AdminUseCase) List(_ context.Context) []dto.SignerResponse {
	snap := uc.pool.Snapshot()
	out := make([]dto.SignerResponse, 0, len(snap))
	for i := range snap {
		out = append(out, dto.NewSignerResponse(&snap[i]))
	}
	return out
}

// Stats agregados del pool.
func (uc *AdminUseCase) Stats(_ context.Context) dto.SignerStatsResponse {
	var st dto.SignerStatsResponse
	var weighted float64
	var samples int64
	for _, s := range uc.pool.Snapshot() {
		st.Total++
		if s.IsActive {
			st.Active++
		}
		switch s.HealthStatus {
		case entity.HealthHealthy:
			st.Healthy++
		case entity.HealthDegraded:
			st.Degraded++
		case entity.HealthUnhealthy:
			st.Unhealthy++
		}
		st.TotalLoad += s.CurrentLoad
		st.TotalCapacity += s.MaxConcurrentSigns
		st.TotalSigned += s.TotalSigned
		weighted += s.AvgResponseMs * float64(s.ResponseSamples)
		samples += s.ResponseSamples
	}
	if samples > 0 {
		st.AvgResponseMs = weighted / float64(samples)
	}
	return st
}

// HealthCheck sondeo inmediato de un firmador.
func (uc *AdminUseCase) HealthCheck(ctx context.Context, id string) (*dto.HealthCheckResponse, error) {
	res, err := uc.prober.Probe(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.HealthCheckResponse{
		SignerID:       res.Signer.ID,
		Healthy:        res.Healthy,
		ResponseTimeMs: res.Duration.Milliseconds(),
		Status:         string(res.Signer.HealthStatus),
		Message:        res.Message,
		CheckedAt:      res.CheckedAt,
	}, nil
}

// UpdateLoad ajuste manual de la carga (recuperación operativa).
func (uc *AdminUseCase) UpdateLoad(ctx context.Context, id string, in dto.LoadUpdateRequest) (*dto.SignerResponse, error) {
	if in.Load < 0 {
		return nil, fmt.Errorf("%w: load no puede ser negativo", domain.ErrInvalidInput)
	}
	s, err := uc.pool.SetLoad(id, in.Operation, in.Load)
	if err != nil {
		return nil, err
	}
	if err := uc.repo.Update(ctx, &s); err != nil {
		uc.log.Error().Err(err).Str("signer_id", id).Msg("no se pudo persistir carga")
	}
	uc.log.Warn().Str("signer_id", id).Str("operation", in.Operation).Int("load", s.CurrentLoad).Msg("carga ajustada manualmente")
	out := dto.NewSignerResponse(&s)
	return &out, nil
}

// Assign vincula un emisor con un firmador preferido.
func (uc *AdminUseCase) Assign(ctx context.Context, in dto.AssignmentRequest) error {
	if in.UserID == "" || in.SignerID == "" {
		return fmt.Errorf("%w: user_id y signer_id son requeridos", domain.ErrInvalidInput)
	}
	if _, ok := uc.pool.Get(in.SignerID); !ok {
		return fmt.Errorf("%w: firmador %s", domain.ErrNotFound, in.SignerID)
	}
	a := &entity.SignerAssignment{UserID: in.UserID, SignerID: in.SignerID, IsPrimary: in.IsPrimary, CreatedAt: time.Now()}
	if err := uc.repo.SaveAssignment(ctx, a); err != nil {
		return err
	}
	uc.pool.Assign(a)
	return nil
}
