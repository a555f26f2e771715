package dto

import (
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// RegisterSignerRequest alta de un firmador.
type RegisterSignerRequest struct {
	Name               string `json:"name"`
	CertificateRef     string `json:"certificate_ref"`
	EndpointURL        string `json:"endpoint_url"`
	IsActive           *bool  `json:"is_active,omitempty"` // por defecto true
	MaxConcurrentSigns int    `json:"max_concurrent_signs"`
	Priority           int    `json:"priority"`
}

// Operaciones de actualización de carga.
const (
	LoadIncrement = "increment"
	LoadDecrement = "decrement"
	LoadSet       = "set"
)

// LoadUpdateRequest ajuste manual de carga.
type LoadUpdateRequest struct {
	Load      int    `json:"load"`
	Operation string `json:"operation"` // increment | decrement | set
}

// AssignmentRequest asigna un firmador preferido a un emisor.
type AssignmentRequest struct {
	UserID    string `json:"user_id"`
	SignerID  string `json:"signer_id"`
	IsPrimary bool   `json:"is_primary"`
}

// SignerResponse vista de un firmador.
type SignerResponse struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	CertificateRef     string    `json:"certificate_ref"`
	EndpointURL        string    `json:"endpoint_url"`
	IsActive           bool      `json:"is_active"`
	MaxConcurrentSigns int       `json:"max_concurrent_signs"`
	CurrentLoad        int       `json:"current_load"`
	Priority           int       `json:"priority"`
	HealthStatus       string    `json:"health_status"`
	TotalSigned        int64     `json:"total_signed"`
	AvgResponseMs      float64   `json:"avg_response_ms"`
	LastUsedAt         time.Time `json:"last_used_at"`
}

// NewSignerResponse proyecta el firmador.
func NewSignerResponse(s *entity.Signer) SignerResponse {
	return SignerResponse{
		ID:                 s.ID,
		Name:               s.Name,
		CertificateRef:     s.CertificateRef,
		EndpointURL:        s.EndpointURL,
		IsActive:           s.IsActive,
		MaxConcurrentSigns: s.MaxConcurrentSigns,
		CurrentLoad:        s.CurrentLoad,
		Priority:           s.Priority,
		HealthStatus:       string(s.HealthStatus),
		TotalSigned:        s.TotalSigned,
		AvgResponseMs:      s.AvgResponseMs,
		LastUsedAt:         s.LastUsedAt,
	}
}

// HealthCheckResponse resultado de un sondeo de salud.
type HealthCheckResponse struct {
	SignerID       string    `json:"signer_id"`
	Healthy        bool      `json:"healthy"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	CheckedAt      time.Time `json:"checked_at"`
}

// SignerStatsResponse agregados del pool.
type SignerStatsResponse struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Healthy       int     `json:"healthy"`
	Degraded      int     `json:"degraded"`
	Unhealthy     int     `json:"unhealthy"`
	TotalLoad     int     `json:"total_load"`
	TotalCapacity int     `json:"total_capacity"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	TotalSigned   int64   `json:"total_signed"`
}
