package entity

import "time"

// HealthStatus salud de un firmador según el prober.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Signer servicio externo de firma (firmador) que custodia certificados y devuelve el DTE firmado.
type Signer struct {
	ID                  string
	Name                string
	CertificateRef      string
	EndpointURL         string
	IsActive            bool
	MaxConcurrentSigns  int
	CurrentLoad         int // 0 <= CurrentLoad <= MaxConcurrentSigns
	Priority            int // 1 = mayor prioridad
	HealthStatus        HealthStatus
	ConsecutiveFailures int
	TotalSigned         int64
	AvgResponseMs       float64
	ResponseSamples     int64
	LastError           string
	LastUsedAt          time.Time // cero = nunca usado
	LastCheckedAt       time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Eligible activo, con capacidad libre y no marcado como unhealthy.
func (s *Signer) Eligible() bool {
	return s.IsActive && s.CurrentLoad < s.MaxConcurrentSigns && s.HealthStatus != HealthUnhealthy
}

// ObserveResponse incorpora una muestra al promedio acumulado de tiempo de respuesta.
func (s *Signer) ObserveResponse(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.AvgResponseMs = (s.AvgResponseMs*float64(s.ResponseSamples) + ms) / float64(s.ResponseSamples+1)
	s.ResponseSamples++
}

// SignerAssignment vincula un emisor con su firmador preferido (orientativo, no exclusivo).
type SignerAssignment struct {
	UserID    string
	SignerID  string
	IsPrimary bool
	CreatedAt time.Time
}
