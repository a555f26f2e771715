// Package signing administra el pool de firmadores: selección por prioridad y carga,
// control de concurrencia por firmador, salud y failover.
package signing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/metrics"
)

// DefaultFailureThreshold fallos consecutivos de sondeo tras los cuales un firmador queda unhealthy.
const DefaultFailureThreshold = 3

// Operaciones de ajuste manual de carga.
const (
	LoadIncrement = "increment"
	LoadDecrement = "decrement"
	LoadSet       = "set"
)

// Pool estado en proceso de los firmadores. Selección e incremento de carga ocurren bajo
// el mismo mutex, de modo que dos Acquire concurrentes nunca exceden la capacidad.
type Pool struct {
	mu        sync.Mutex
	signers   map[string]*entity.Signer
	primary   map[string]string // userID -> signerID
	threshold int
	now       func() time.Time
	metrics   *metrics.Metrics
}

// NewPool crea un pool vacío. threshold <= 0 usa DefaultFailureThreshold.
func NewPool(threshold int, m *metrics.Metrics) *Pool {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Pool{
		signers:   make(map[string]*entity.Signer),
		primary:   make(map[string]string),
		threshold: threshold,
		now:       time.Now,
		metrics:   m,
	}
}

// Load reemplaza la configuración desde el almacén. La carga en curso de firmadores ya
// conocidos se conserva: el contador en proceso es la fuente de verdad.
func (p *Pool) Load(signers []*entity.Signer, assignments []*entity.SignerAssignment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make(map[string]*entity.Signer, len(signers))
	for _, s := range signers {
		cp := *s
		if cur, ok := p.signers[s.ID]; ok {
			cp.CurrentLoad = cur.CurrentLoad
		} else {
			cp.CurrentLoad = 0
		}
		if cp.HealthStatus == "" {
			cp.HealthStatus = entity.HealthHealthy
		}
		next[s.ID] = &cp
	}
	p.signers = next
	p.primary = make(map[string]string)
	for _, a := range assignments {
		if a.IsPrimary {
			p.primary[a.UserID] = a.SignerID
		}
	}
}

// Upsert agrega o actualiza un firmador conservando su carga en curso.
func (p *Pool) Upsert(s *entity.Signer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *s
	if cur, ok := p.signers[s.ID]; ok {
		cp.CurrentLoad = cur.CurrentLoad
	}
	if cp.HealthStatus == "" {
		cp.HealthStatus = entity.HealthHealthy
	}
	p.signers[s.ID] = &cp
}

// Assign registra la asignación; solo las primarias influyen en la selección.
func (p *Pool) Assign(a *entity.SignerAssignment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.IsPrimary {
		p.primary[a.UserID] = a.SignerID
	} else if p.primary[a.UserID] == a.SignerID {
		delete(p.primary, a.UserID)
	}
}

// Len cantidad de firmadores registrados.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signers)
}

// Get copia del estado de un firmador.
func (p *Pool) Get(id string) (entity.Signer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.signers[id]
	if !ok {
		return entity.Signer{}, false
	}
	return *s, true
}

// Snapshot copia de todos los firmadores ordenados por prioridad.
func (p *Pool) Snapshot() []entity.Signer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entity.Signer, 0, len(p.signers))
	for _, s := range p.signers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Acquire elige un firmador para el usuario e incrementa su carga. exclude contiene los
// firmadores ya intentados en este failover. Sin candidatos devuelve domain.ErrNoSignerAvailable.
func (p *Pool) Acquire(userID string, exclude map[string]bool) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var chosen *entity.Signer
	if id, ok := p.primary[userID]; ok && !exclude[id] {
		if s, ok := p.signers[id]; ok && s.Eligible() {
			chosen = s
		}
	}
	if chosen == nil {
		candidates := make([]*entity.Signer, 0, len(p.signers))
		for id, s := range p.signers {
			if !exclude[id] && s.Eligible() {
				candidates = append(candidates, s)
			}
		}
		if len(candidates) == 0 {
			return nil, domain.ErrNoSignerAvailable
		}
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if a.CurrentLoad != b.CurrentLoad {
				return a.CurrentLoad < b.CurrentLoad
			}
			if !a.LastUsedAt.Equal(b.LastUsedAt) {
				return a.LastUsedAt.Before(b.LastUsedAt)
			}
			return a.ID < b.ID
		})
		chosen = candidates[0]
	}

	now := p.now()
	chosen.CurrentLoad++
	chosen.LastUsedAt = now
	p.metrics.SetSignerLoad(chosen.ID, chosen.CurrentLoad)
	return &Lease{pool: p, Signer: *chosen, acquiredAt: now}, nil
}

// release decrementa la carga (nunca por debajo de cero) y, si hubo éxito, actualiza estadísticas.
func (p *Pool) release(id string, success bool, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.signers[id]
	if !ok {
		return
	}
	if s.CurrentLoad > 0 {
		s.CurrentLoad--
	}
	if success {
		s.TotalSigned++
		s.ObserveResponse(elapsed)
	}
	s.UpdatedAt = p.now()
	p.metrics.SetSignerLoad(id, s.CurrentLoad)
}

// RecordProbe aplica el resultado de un sondeo. Un éxito restablece healthy de inmediato;
// los fallos consecutivos degradan y al llegar al umbral marcan unhealthy.
func (p *Pool) RecordProbe(id string, ok bool, elapsed time.Duration, errMsg string) (entity.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, found := p.signers[id]
	if !found {
		return entity.Signer{}, fmt.Errorf("%w: firmador %s", domain.ErrNotFound, id)
	}
	now := p.now()
	s.LastCheckedAt = now
	s.UpdatedAt = now
	if ok {
		s.ConsecutiveFailures = 0
		s.HealthStatus = entity.HealthHealthy
		s.LastError = ""
		s.ObserveResponse(elapsed)
	} else {
		s.ConsecutiveFailures++
		s.LastError = errMsg
		if s.ConsecutiveFailures >= p.threshold {
			s.HealthStatus = entity.HealthUnhealthy
		} else {
			s.HealthStatus = entity.HealthDegraded
		}
	}
	p.metrics.SetSignerHealth(id, string(s.HealthStatus))
	return *s, nil
}

// SetLoad ajuste administrativo de la carga, acotado a [0, MaxConcurrentSigns].
func (p *Pool) SetLoad(id, op string, value int) (entity.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.signers[id]
	if !ok {
		return entity.Signer{}, fmt.Errorf("%w: firmador %s", domain.ErrNotFound, id)
	}
	load := s.CurrentLoad
	switch op {
	case LoadIncrement:
		load += value
	case LoadDecrement:
		load -= value
	case LoadSet:
		load = value
	default:
		return entity.Signer{}, fmt.Errorf("%w: operación de carga %q", domain.ErrInvalidInput, op)
	}
	if load < 0 {
		load = 0
	}
	if load > s.MaxConcurrentSigns {
		load = s.MaxConcurrentSigns
	}
	s.CurrentLoad = load
	s.UpdatedAt = p.now()
	p.metrics.SetSignerLoad(id, load)
	return *s, nil
}

// Lease firmador reservado. Release debe llamarse exactamente una vez en todo camino
// de salida; llamadas adicionales no tienen efecto.
type Lease struct {
	pool       *Pool
	Signer     entity.Signer
	acquiredAt time.Time
	once       sync.Once
}

// Release libera la capacidad reservada.
func (l *Lease) Release(success bool) {
	l.once.Do(func() {
		l.pool.release(l.Signer.ID, success, l.pool.now().Sub(l.acquiredAt))
	})
}
