// Package memory implementa los puertos de persistencia en memoria. Se usa en pruebas
// y en modo local (STORE_DRIVER=memory); las transacciones se serializan y se revierten
// restaurando una copia del estado.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// Store estado compartido de todos los repositorios en memoria.
type Store struct {
	mu sync.Mutex

	nextDocID      int64
	docs           map[int64]entity.DTEDocument
	byDTEID        map[string]int64
	controlNumbers map[string]int64
	seqs           map[string]int64

	nextAttemptID int64
	transmissions []entity.TransmissionAttempt

	signers     map[string]entity.Signer
	assignments map[string]entity.SignerAssignment
	emitters    map[string]entity.Emitter
}

// NewStore crea un almacén vacío.
func NewStore() *Store {
	return &Store{
		docs:           make(map[int64]entity.DTEDocument),
		byDTEID:        make(map[string]int64),
		controlNumbers: make(map[string]int64),
		seqs:           make(map[string]int64),
		signers:        make(map[string]entity.Signer),
		assignments:    make(map[string]entity.SignerAssignment),
		emitters:       make(map[string]entity.Emitter),
	}
}

// Repositorios fuera de transacción.
func (s *Store) DTEs() repository.DTERepository                   { return dteRepo{s: s} }
func (s *Store) Transmissions() repository.TransmissionRepository { return txRepo{s: s} }
func (s *Store) Sequences() repository.SequenceRepository         { return seqRepo{s: s} }
func (s *Store) Signers() repository.SignerRepository             { return signerRepo{s: s} }
func (s *Store) Emitters() repository.EmitterRepository           { return emitterRepo{s: s} }

type snapshot struct {
	nextDocID      int64
	docs           map[int64]entity.DTEDocument
	byDTEID        map[string]int64
	controlNumbers map[string]int64
	seqs           map[string]int64
	nextAttemptID  int64
	transmissions  int
}

// RunDTE ejecuta fn con repositorios atados a una transacción exclusiva. Si fn devuelve
// error se restaura el estado previo.
func (s *Store) RunDTE(ctx context.Context, fn func(
	docs repository.DTERepository,
	seqs repository.SequenceRepository,
	txs repository.TransmissionRepository,
) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		nextDocID:      s.nextDocID,
		docs:           maps.Clone(s.docs),
		byDTEID:        maps.Clone(s.byDTEID),
		controlNumbers: maps.Clone(s.controlNumbers),
		seqs:           maps.Clone(s.seqs),
		nextAttemptID:  s.nextAttemptID,
		transmissions:  len(s.transmissions),
	}
	if err := fn(dteRepo{s: s, tx: true}, seqRepo{s: s, tx: true}, txRepo{s: s, tx: true}); err != nil {
		s.nextDocID = snap.nextDocID
		s.docs = snap.docs
		s.byDTEID = snap.byDTEID
		s.controlNumbers = snap.controlNumbers
		s.seqs = snap.seqs
		s.nextAttemptID = snap.nextAttemptID
		s.transmissions = s.transmissions[:snap.transmissions]
		return err
	}
	return nil
}

func (s *Store) lock(tx bool) func() {
	if tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// ── Documentos ───────────────────────────────────────────────────────────────

type dteRepo struct {
	s  *Store
	tx bool
}

func controlKey(d *entity.DTEDocument) string {
	return d.Scope().String() + "#" + d.ControlNumber
}

func (r dteRepo) Create(_ context.Context, doc *entity.DTEDocument) error {
	defer r.s.lock(r.tx)()
	if _, ok := r.s.byDTEID[doc.DTEID]; ok {
		return fmt.Errorf("%w: dte %s", domain.ErrDuplicate, doc.DTEID)
	}
	key := controlKey(doc)
	if _, ok := r.s.controlNumbers[key]; ok {
		return &domain.SequenceConflict{Scope: doc.Scope().String(), ControlNumber: doc.ControlNumber, Err: domain.ErrDuplicate}
	}
	r.s.nextDocID++
	doc.ID = r.s.nextDocID
	r.s.docs[doc.ID] = *doc
	r.s.byDTEID[doc.DTEID] = doc.ID
	r.s.controlNumbers[key] = doc.ID
	return nil
}

func (r dteRepo) GetByID(_ context.Context, id int64) (*entity.DTEDocument, error) {
	defer r.s.lock(r.tx)()
	d, ok := r.s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r dteRepo) GetByDTEID(_ context.Context, dteID string) (*entity.DTEDocument, error) {
	defer r.s.lock(r.tx)()
	id, ok := r.s.byDTEID[dteID]
	if !ok {
		return nil, nil
	}
	d := r.s.docs[id]
	return &d, nil
}

func (r dteRepo) UpdateState(_ context.Context, doc *entity.DTEDocument, from entity.DTEStatus) error {
	defer r.s.lock(r.tx)()
	cur, ok := r.s.docs[doc.ID]
	if !ok {
		return fmt.Errorf("%w: dte %d", domain.ErrNotFound, doc.ID)
	}
	if cur.Status != from {
		return fmt.Errorf("%w: dte %s está en %s, se esperaba %s", domain.ErrConflict, cur.DTEID, cur.Status, from)
	}
	// identidad, correlativo y payload son inmutables
	next := *doc
	next.DTEID, next.ControlNumber, next.Sequence, next.Payload = cur.DTEID, cur.ControlNumber, cur.Sequence, cur.Payload
	next.CreatedAt = cur.CreatedAt
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now()
	}
	r.s.docs[doc.ID] = next
	return nil
}

func (r dteRepo) ListByStatus(_ context.Context, statuses []entity.DTEStatus, before time.Time, limit int) ([]*entity.DTEDocument, error) {
	defer r.s.lock(r.tx)()
	want := make(map[entity.DTEStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*entity.DTEDocument
	for _, d := range r.s.docs {
		if want[d.Status] && !d.UpdatedAt.After(before) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LockByDTEID dentro de RunDTE el store completo ya está bloqueado.
func (r dteRepo) LockByDTEID(ctx context.Context, dteID string) (*entity.DTEDocument, error) {
	return r.GetByDTEID(ctx, dteID)
}

func (r dteRepo) ListInvalidations(_ context.Context, originalDTEID string) ([]*entity.DTEDocument, error) {
	defer r.s.lock(r.tx)()
	var out []*entity.DTEDocument
	for _, d := range r.s.docs {
		if d.Type == entity.DocumentTypeInvalidation && d.RelatedDTEID == originalDTEID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Correlativos ─────────────────────────────────────────────────────────────

type seqRepo struct {
	s  *Store
	tx bool
}

func (r seqRepo) Next(_ context.Context, scope entity.SequenceScope) (int64, error) {
	defer r.s.lock(r.tx)()
	key := scope.String()
	r.s.seqs[key]++
	return r.s.seqs[key], nil
}

func (r seqRepo) Advance(_ context.Context, scope entity.SequenceScope, atLeast int64) error {
	defer r.s.lock(r.tx)()
	key := scope.String()
	if r.s.seqs[key] < atLeast {
		r.s.seqs[key] = atLeast
	}
	return nil
}

// ── Bitácora de transmisiones ────────────────────────────────────────────────

type txRepo struct {
	s  *Store
	tx bool
}

func (r txRepo) Record(_ context.Context, a *entity.TransmissionAttempt) error {
	defer r.s.lock(r.tx)()
	r.s.nextAttemptID++
	a.ID = r.s.nextAttemptID
	r.s.transmissions = append(r.s.transmissions, *a)
	return nil
}

func (r txRepo) ListByDocument(_ context.Context, documentID int64) ([]*entity.TransmissionAttempt, error) {
	defer r.s.lock(r.tx)()
	var out []*entity.TransmissionAttempt
	for _, a := range r.s.transmissions {
		if a.DocumentID == documentID {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

// ── Firmadores ───────────────────────────────────────────────────────────────

type signerRepo struct{ s *Store }

func (r signerRepo) Create(_ context.Context, sg *entity.Signer) error {
	defer r.s.lock(false)()
	if _, ok := r.s.signers[sg.ID]; ok {
		return fmt.Errorf("%w: firmador %s", domain.ErrDuplicate, sg.ID)
	}
	r.s.signers[sg.ID] = *sg
	return nil
}

func (r signerRepo) Update(_ context.Context, sg *entity.Signer) error {
	defer r.s.lock(false)()
	if _, ok := r.s.signers[sg.ID]; !ok {
		return fmt.Errorf("%w: firmador %s", domain.ErrNotFound, sg.ID)
	}
	r.s.signers[sg.ID] = *sg
	return nil
}

func (r signerRepo) GetByID(_ context.Context, id string) (*entity.Signer, error) {
	defer r.s.lock(false)()
	sg, ok := r.s.signers[id]
	if !ok {
		return nil, nil
	}
	return &sg, nil
}

func (r signerRepo) List(_ context.Context) ([]*entity.Signer, error) {
	defer r.s.lock(false)()
	out := make([]*entity.Signer, 0, len(r.s.signers))
	for _, sg := range r.s.signers {
		sg := sg
		out = append(out, &sg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r signerRepo) SaveAssignment(_ context.Context, a *entity.SignerAssignment) error {
	defer r.s.lock(false)()
	if a.IsPrimary {
		for k, cur := range r.s.assignments {
			if cur.UserID == a.UserID && cur.IsPrimary {
				cur.IsPrimary = false
				r.s.assignments[k] = cur
			}
		}
	}
	r.s.assignments[a.UserID+"/"+a.SignerID] = *a
	return nil
}

func (r signerRepo) ListAssignments(_ context.Context) ([]*entity.SignerAssignment, error) {
	defer r.s.lock(false)()
	out := make([]*entity.SignerAssignment, 0, len(r.s.assignments))
	for _, a := range r.s.assignments {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].SignerID < out[j].SignerID
	})
	return out, nil
}

// ── Emisores ─────────────────────────────────────────────────────────────────

type emitterRepo struct{ s *Store }

func (r emitterRepo) Create(_ context.Context, e *entity.Emitter) error {
	defer r.s.lock(false)()
	if _, ok := r.s.emitters[e.ID]; ok {
		return fmt.Errorf("%w: emisor %s", domain.ErrDuplicate, e.ID)
	}
	r.s.emitters[e.ID] = *e
	return nil
}

func (r emitterRepo) GetByID(_ context.Context, id string) (*entity.Emitter, error) {
	defer r.s.lock(false)()
	e, ok := r.s.emitters[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r emitterRepo) GetByNIT(_ context.Context, nit string) (*entity.Emitter, error) {
	defer r.s.lock(false)()
	for _, e := range r.s.emitters {
		if e.NIT == nit {
			return &e, nil
		}
	}
	return nil, nil
}
