package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/metrics"
)

// Acciones de conciliación (etiqueta de métricas y logs).
const (
	ActionConsulted   = "consulted"
	ActionResubmitted = "resubmitted"
	ActionTransmitted = "transmitted"
	ActionSigned      = "signed"
)

// IssuanceService orquesta el ciclo completo de un DTE:
//
//	Build → Sign → GetToken → Transmitting → Submit → Accepted | Rejected | ContingencyPending
//
// Cada resultado de transmisión se persiste junto con su fila de bitácora en una sola
// transacción antes de devolverse al llamador.
type IssuanceService struct {
	emitters  repository.EmitterRepository
	docs      repository.DTERepository
	tx        DTETxRunner
	builder   *DocumentBuilder
	signer    ports.DocumentSigner
	tokens    ports.TokenProvider
	submitter ports.Submitter
	secrets   SecretOpener
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewIssuanceService construye el orquestador con todas sus dependencias.
func NewIssuanceService(
	emitters repository.EmitterRepository,
	docs repository.DTERepository,
	tx DTETxRunner,
	builder *DocumentBuilder,
	signer ports.DocumentSigner,
	tokens ports.TokenProvider,
	submitter ports.Submitter,
	secrets SecretOpener,
	log zerolog.Logger,
	m *metrics.Metrics,
) *IssuanceService {
	return &IssuanceService{
		emitters:  emitters,
		docs:      docs,
		tx:        tx,
		builder:   builder,
		signer:    signer,
		tokens:    tokens,
		submitter: submitter,
		secrets:   secrets,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Issue construye, firma y (si SendToAuthority) transmite un documento. Ante un fallo
// posterior a la construcción devuelve el documento en su último estado persistido junto
// con el error, de modo que el llamador conoce su codigoGeneracion.
func (s *IssuanceService) Issue(ctx context.Context, req dto.IssuanceRequest) (*entity.DTEDocument, error) {
	emitter, err := s.emitter(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	doc, err := s.builder.Build(ctx, emitter, req)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementBuilt(string(doc.Type))
	return s.process(ctx, emitter, doc)
}

// Get documento por ID interno, restringido al emisor.
func (s *IssuanceService) Get(ctx context.Context, userID string, id int64) (*entity.DTEDocument, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("billing: obtener dte: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	if userID != "" && doc.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}

// Retry reanuda un documento desde donde se detuvo: BUILT (firma fallida), SIGNED
// (token no disponible) o CONTINGENCY_PENDING (se consulta al MH antes de reenviar).
func (s *IssuanceService) Retry(ctx context.Context, userID string, id int64) (*entity.DTEDocument, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	emitter, err := s.emitter(ctx, doc.UserID)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.DTEStatusBuilt, entity.DTEStatusSigned:
		return s.process(ctx, emitter, doc)
	case entity.DTEStatusContingencyPending:
		_, err := s.resolve(ctx, emitter, doc)
		return doc, err
	}
	return doc, fmt.Errorf("%w: dte %s en estado %s no admite reintento", domain.ErrConflict, doc.DTEID, doc.Status)
}

// Resolve lleva a un estado definido un documento que quedó pendiente. Lo usa la
// conciliación; devuelve la acción realizada.
func (s *IssuanceService) Resolve(ctx context.Context, doc *entity.DTEDocument) (string, error) {
	emitter, err := s.emitter(ctx, doc.UserID)
	if err != nil {
		return "", err
	}
	return s.resolve(ctx, emitter, doc)
}

func (s *IssuanceService) resolve(ctx context.Context, emitter *entity.Emitter, doc *entity.DTEDocument) (string, error) {
	switch doc.Status {
	case entity.DTEStatusBuilt:
		_, err := s.process(ctx, emitter, doc)
		return ActionSigned, err
	case entity.DTEStatusSigned:
		_, err := s.transmit(ctx, doc)
		return ActionTransmitted, err
	case entity.DTEStatusContingencyPending, entity.DTEStatusTransmitting:
	default:
		return "", fmt.Errorf("%w: dte %s en estado %s", domain.ErrConflict, doc.DTEID, doc.Status)
	}

	// El MH no expone consulta de eventos de invalidación: se reenvía directamente.
	if doc.Type == entity.DocumentTypeInvalidation {
		_, err := s.transmit(ctx, doc)
		return ActionResubmitted, err
	}

	res, found, err := s.consult(ctx, emitter, doc)
	if err != nil {
		return "", err
	}
	if !found {
		_, err := s.transmit(ctx, doc)
		return ActionResubmitted, err
	}
	if doc.Status == entity.DTEStatusContingencyPending {
		if err := s.markTransmitting(ctx, doc); err != nil {
			return "", err
		}
	}
	return ActionConsulted, s.applyOutcome(ctx, doc, res)
}

// process avanza el documento por firma y transmisión según su estado actual.
func (s *IssuanceService) process(ctx context.Context, emitter *entity.Emitter, doc *entity.DTEDocument) (*entity.DTEDocument, error) {
	if doc.Status == entity.DTEStatusBuilt {
		if err := s.sign(ctx, emitter, doc); err != nil {
			return doc, err
		}
	}
	if !doc.SendToAuthority {
		return doc, nil
	}
	return s.transmit(ctx, doc)
}

// ── Firma ────────────────────────────────────────────────────────────────────

func (s *IssuanceService) sign(ctx context.Context, emitter *entity.Emitter, doc *entity.DTEDocument) error {
	password, err := s.secrets.Open(emitter.PrivateKeyPasswordEnc)
	if err != nil {
		return fmt.Errorf("billing: descifrar passwordPri del emisor %s: %w", emitter.ID, err)
	}
	res, err := s.signer.Sign(ctx, doc.UserID, ports.SignRequest{
		NIT:                emitter.NIT,
		PrivateKeyPassword: password,
		Document:           doc.Payload,
	})
	if err != nil {
		doc.LastError = err.Error()
		var se *domain.SigningError
		if errors.As(err, &se) {
			doc.RawResponse = se.Raw
			doc.SignerID = se.SignerID
		}
		doc.UpdatedAt = s.now()
		if perr := s.docs.UpdateState(context.WithoutCancel(ctx), doc, entity.DTEStatusBuilt); perr != nil {
			s.log.Error().Err(perr).Str("dte_id", doc.DTEID).Msg("no se pudo registrar el fallo de firma")
		}
		s.log.Error().Err(err).Str("dte_id", doc.DTEID).Str("user_id", doc.UserID).Msg("firma fallida, documento queda BUILT")
		return err
	}

	next := *doc
	if err := next.Transition(entity.DTEStatusSigned, s.now()); err != nil {
		return err
	}
	next.SignedPayload = res.SignedDocument
	next.SignerID = res.SignerID
	next.RawResponse = ""
	next.LastError = ""
	if err := s.docs.UpdateState(context.WithoutCancel(ctx), &next, entity.DTEStatusBuilt); err != nil {
		return fmt.Errorf("billing: persistir firma: %w", err)
	}
	*doc = next
	s.log.Info().Str("dte_id", doc.DTEID).Str("signer_id", res.SignerID).
		Dur("duration", res.Duration).Int("attempts", res.Attempts).Msg("dte firmado")
	return nil
}

// ── Transmisión ──────────────────────────────────────────────────────────────

func (s *IssuanceService) transmit(ctx context.Context, doc *entity.DTEDocument) (*entity.DTEDocument, error) {
	// El token se obtiene antes de marcar TRANSMITTING: un fallo de login deja el
	// documento en su estado actual, reintentable.
	cred, err := s.tokens.GetToken(ctx, doc.UserID, doc.Environment)
	if err != nil {
		s.recordError(ctx, doc, err)
		return doc, fmt.Errorf("billing: obtener token MH: %w", err)
	}
	if err := s.markTransmitting(ctx, doc); err != nil {
		return doc, err
	}

	res, err := s.submit(ctx, doc, cred)
	if errors.Is(err, domain.ErrOutcomeUnknown) {
		s.log.Warn().Err(err).Str("dte_id", doc.DTEID).Msg("resultado desconocido, queda para conciliación")
		return doc, err
	}
	if res == nil {
		res = &ports.SubmissionResult{Outcome: entity.OutcomeTransientError, Message: err.Error()}
	}
	if aerr := s.applyOutcome(ctx, doc, res); aerr != nil {
		return doc, aerr
	}
	if err != nil {
		return doc, err
	}
	if res.Outcome == entity.OutcomeRejected {
		return doc, &domain.TransmissionError{Permanent: true, Code: res.Code, Message: res.Message, Raw: res.Raw}
	}
	return doc, nil
}

// submit envía y, ante un 401, descarta el token usado, renueva una vez y reintenta una vez.
func (s *IssuanceService) submit(ctx context.Context, doc *entity.DTEDocument, cred *entity.HaciendaCredential) (*ports.SubmissionResult, error) {
	sub := submissionFor(doc)
	res, err := s.submitter.Submit(ctx, cred, sub)
	if err != nil || res.Outcome != entity.OutcomeUnauthorized {
		return res, err
	}

	s.log.Warn().Str("dte_id", doc.DTEID).Str("user_id", doc.UserID).Msg("token MH rechazado, renovando")
	if err := s.tokens.Invalidate(ctx, doc.UserID, doc.Environment, cred.Token); err != nil {
		s.log.Warn().Err(err).Str("user_id", doc.UserID).Msg("no se pudo invalidar el token")
	}
	fresh, err := s.tokens.GetToken(ctx, doc.UserID, doc.Environment)
	if err != nil {
		return res, err
	}
	retry, err := s.submitter.Submit(ctx, fresh, sub)
	if err != nil {
		return nil, err
	}
	retry.Attempts += res.Attempts
	if retry.Outcome == entity.OutcomeUnauthorized {
		return retry, &domain.AuthError{UserID: doc.UserID, StatusCode: retry.HTTPStatus, Message: "token rechazado tras renovación"}
	}
	return retry, nil
}

func (s *IssuanceService) consult(ctx context.Context, emitter *entity.Emitter, doc *entity.DTEDocument) (*ports.SubmissionResult, bool, error) {
	cred, err := s.tokens.GetToken(ctx, doc.UserID, doc.Environment)
	if err != nil {
		return nil, false, err
	}
	req := ports.ConsultRequest{
		Environment:    doc.Environment,
		NIT:            emitter.NIT,
		TipoDte:        doc.Type.Code(),
		GenerationCode: doc.DTEID,
	}
	res, found, err := s.submitter.Consult(ctx, cred, req)
	var aerr *domain.AuthError
	if errors.As(err, &aerr) {
		_ = s.tokens.Invalidate(ctx, doc.UserID, doc.Environment, cred.Token)
	}
	return res, found, err
}

func submissionFor(doc *entity.DTEDocument) ports.Submission {
	kind := ports.SubmitReception
	if doc.Type == entity.DocumentTypeInvalidation {
		kind = ports.SubmitInvalidation
	}
	return ports.Submission{
		Kind:           kind,
		Environment:    doc.Environment,
		SendID:         doc.ID,
		Version:        doc.Type.Version(),
		TipoDte:        doc.Type.Code(),
		GenerationCode: doc.DTEID,
		SignedDocument: doc.SignedPayload,
	}
}

// markTransmitting abre un nuevo intento. Un documento que ya estaba en TRANSMITTING
// (reenvío tras conciliación) conserva el estado pero también suma el intento.
func (s *IssuanceService) markTransmitting(ctx context.Context, doc *entity.DTEDocument) error {
	from := doc.Status
	next := *doc
	if from == entity.DTEStatusTransmitting {
		next.UpdatedAt = s.now()
	} else if err := next.Transition(entity.DTEStatusTransmitting, s.now()); err != nil {
		return err
	}
	next.Attempts++
	if err := s.docs.UpdateState(ctx, &next, from); err != nil {
		return fmt.Errorf("billing: marcar transmitting: %w", err)
	}
	*doc = next
	return nil
}

// applyOutcome persiste el resultado, la fila de bitácora y, para una invalidación
// aceptada, el paso del original a INVALIDATED; todo en una transacción. No depende de
// la cancelación del llamador: el MH ya respondió.
func (s *IssuanceService) applyOutcome(ctx context.Context, doc *entity.DTEDocument, res *ports.SubmissionResult) error {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	target := res.Outcome.TargetStatus()

	next := *doc
	if err := next.Transition(target, now); err != nil {
		return err
	}
	next.AuthorityCode = res.Code
	next.AuthorityMessage = res.Message
	next.RawResponse = res.Raw
	next.ProcessedAt = res.ProcessedAt
	if target == entity.DTEStatusAccepted {
		next.ReceptionStamp = res.ReceptionStamp
		next.LastError = ""
		if next.ProcessedAt == nil {
			next.ProcessedAt = &now
		}
	} else {
		next.LastError = res.Message
	}

	alreadyInvalidated := false
	err := s.tx.RunDTE(ctx, func(docs repository.DTERepository, _ repository.SequenceRepository, txs repository.TransmissionRepository) error {
		if err := docs.UpdateState(ctx, &next, entity.DTEStatusTransmitting); err != nil {
			return err
		}
		if err := txs.Record(ctx, &entity.TransmissionAttempt{
			DocumentID:     next.ID,
			DTEID:          next.DTEID,
			Attempt:        next.Attempts,
			Outcome:        res.Outcome,
			HTTPStatus:     res.HTTPStatus,
			AuthorityCode:  res.Code,
			Message:        res.Message,
			ReceptionStamp: res.ReceptionStamp,
			RawResponse:    res.Raw,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if next.Type != entity.DocumentTypeInvalidation || target != entity.DTEStatusAccepted {
			return nil
		}
		original, err := docs.GetByDTEID(ctx, next.RelatedDTEID)
		if err != nil {
			return err
		}
		if original == nil {
			return fmt.Errorf("%w: original %s", domain.ErrNotFound, next.RelatedDTEID)
		}
		if original.Status == entity.DTEStatusInvalidated {
			// otro evento ya lo anuló; el MH aceptó este y así queda registrado
			alreadyInvalidated = true
			return nil
		}
		if err := original.Transition(entity.DTEStatusInvalidated, now); err != nil {
			return err
		}
		return docs.UpdateState(ctx, original, entity.DTEStatusAccepted)
	})
	if err != nil {
		return fmt.Errorf("billing: persistir resultado de transmisión: %w", err)
	}
	*doc = next
	s.metrics.IncrementOutcome(string(res.Outcome))

	ev := s.log.Info()
	if target != entity.DTEStatusAccepted {
		ev = s.log.Warn()
	}
	ev.Str("dte_id", doc.DTEID).Str("control_number", doc.ControlNumber).Str("outcome", string(res.Outcome)).
		Str("status", string(doc.Status)).Str("authority_code", res.Code).Int("attempts", res.Attempts).
		Msg("resultado de transmisión")
	switch {
	case alreadyInvalidated:
		s.log.Warn().Str("dte_id", doc.RelatedDTEID).Str("invalidation_id", doc.DTEID).
			Msg("invalidación aceptada sobre un original ya invalidado")
	case doc.Type == entity.DocumentTypeInvalidation && target == entity.DTEStatusAccepted:
		s.log.Info().Str("dte_id", doc.RelatedDTEID).Str("invalidation_id", doc.DTEID).Msg("dte invalidado")
	}
	return nil
}

// recordError guarda el último error sin cambiar de estado.
func (s *IssuanceService) recordError(ctx context.Context, doc *entity.DTEDocument, err error) {
	doc.LastError = err.Error()
	doc.UpdatedAt = s.now()
	if perr := s.docs.UpdateState(context.WithoutCancel(ctx), doc, doc.Status); perr != nil {
		s.log.Error().Err(perr).Str("dte_id", doc.DTEID).Msg("no se pudo registrar el error")
	}
	s.log.Error().Err(err).Str("dte_id", doc.DTEID).Str("user_id", doc.UserID).Msg("token MH no disponible")
}

func (s *IssuanceService) emitter(ctx context.Context, userID string) (*entity.Emitter, error) {
	e, err := s.emitters.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("billing: obtener emisor: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: emisor %s", domain.ErrNotFound, userID)
	}
	return e, nil
}
