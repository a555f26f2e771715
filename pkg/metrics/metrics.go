// Package metrics expone los contadores Prometheus del pipeline DTE.
// Todos los métodos aceptan receptor nil para que los componentes funcionen sin métricas.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	DocumentsBuilt       *prometheus.CounterVec
	TransmissionOutcomes *prometheus.CounterVec
	SignDuration         *prometheus.HistogramVec
	SignFailures         *prometheus.CounterVec
	SignerLoad           *prometheus.GaugeVec
	SignerHealthy        *prometheus.GaugeVec
	HaciendaLogins       *prometheus.CounterVec
	Reconciled           *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DocumentsBuilt: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_documents_built_total",
			Help: "Documentos construidos con número de control asignado",
		}, []string{"type"}),
		TransmissionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_transmission_outcomes_total",
			Help: "Resultados de transmisión al MH por clasificación",
		}, []string{"outcome"}),
		SignDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dte_sign_duration_seconds",
			Help:    "Latencia de firma por firmador",
			Buckets: prometheus.DefBuckets,
		}, []string{"signer"}),
		SignFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_sign_failures_total",
			Help: "Fallos de firma por firmador",
		}, []string{"signer", "definitive"}),
		SignerLoad: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dte_signer_current_load",
			Help: "Firmas en curso por firmador",
		}, []string{"signer"}),
		SignerHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dte_signer_healthy",
			Help: "1 healthy, 0.5 degraded, 0 unhealthy",
		}, []string{"signer"}),
		HaciendaLogins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_hacienda_logins_total",
			Help: "Logins contra la API del MH",
		}, []string{"result"}),
		Reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_reconciled_total",
			Help: "Documentos resueltos por la conciliación",
		}, []string{"action"}),
	}
}

func (m *Metrics) IncrementBuilt(docType string) {
	if m == nil {
		return
	}
	m.DocumentsBuilt.WithLabelValues(docType).Inc()
}

func (m *Metrics) IncrementOutcome(outcome string) {
	if m == nil {
		return
	}
	m.TransmissionOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSign(signerID string, d time.Duration) {
	if m == nil {
		return
	}
	m.SignDuration.WithLabelValues(signerID).Observe(d.Seconds())
}

func (m *Metrics) IncrementSignFailure(signerID string, definitive bool) {
	if m == nil {
		return
	}
	label := "false"
	if definitive {
		label = "true"
	}
	m.SignFailures.WithLabelValues(signerID, label).Inc()
}

func (m *Metrics) SetSignerLoad(signerID string, load int) {
	if m == nil {
		return
	}
	m.SignerLoad.WithLabelValues(signerID).Set(float64(load))
}

// SetSignerHealth recibe el HealthStatus como texto para no acoplar el paquete al dominio.
func (m *Metrics) SetSignerHealth(signerID, status string) {
	if m == nil {
		return
	}
	v := 0.0
	switch status {
	case "healthy":
		v = 1
	case "degraded":
		v = 0.5
	}
	m.SignerHealthy.WithLabelValues(signerID).Set(v)
}

func (m *Metrics) IncrementLogin(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.HaciendaLogins.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementReconciled(action string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(action).Inc()
}
