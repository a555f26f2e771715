package hacienda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

const (
	receptionPath    = "/fesv/recepciondte"
	invalidationPath = "/fesv/anulardte"
	consultPath      = "/fesv/recepcion/consultadte/"
)

// TransmitterConfig parámetros de envío al MH.
type TransmitterConfig struct {
	URLs           BaseURLs
	MaxAttempts    int           // intentos por envío ante errores transitorios (por defecto 3)
	InitialBackoff time.Duration // espera antes del segundo intento
	MaxBackoff     time.Duration
	Timeout        time.Duration // por intento
	Classifier     ClassifierConfig
}

// Transmitter implementa ports.Submitter.
type Transmitter struct {
	cfg        TransmitterConfig
	httpClient *http.Client
	classifier *Classifier
	log        zerolog.Logger
}

// NewTransmitter construye el cliente de recepción.
func NewTransmitter(cfg TransmitterConfig, log zerolog.Logger) *Transmitter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transmitter{
		cfg:        cfg,
		httpClient: &http.Client{},
		classifier: NewClassifier(cfg.Classifier),
		log:        log,
	}
}

type receptionRequest struct {
	Ambiente         string `json:"ambiente"`
	IDEnvio          int64  `json:"idEnvio"`
	Version          int    `json:"version"`
	TipoDte          string `json:"tipoDte,omitempty"`
	Documento        string `json:"documento"`
	CodigoGeneracion string `json:"codigoGeneracion,omitempty"`
}

type consultRequest struct {
	NitEmisor        string `json:"nitEmisor"`
	Tdte             string `json:"tdte"`
	CodigoGeneracion string `json:"codigoGeneracion"`
}

var errTransient = errors.New("hacienda: error transitorio")

// Submit transmite el documento firmado. Los errores transitorios se reintentan con
// backoff exponencial; al agotarse se devuelve el último resultado clasificado. La
// cancelación del llamador devuelve domain.ErrOutcomeUnknown: el MH pudo haber recibido
// el documento y solo la conciliación puede determinarlo.
func (t *Transmitter) Submit(ctx context.Context, cred *entity.HaciendaCredential, s ports.Submission) (*ports.SubmissionResult, error) {
	base, err := t.cfg.URLs.For(s.Environment)
	if err != nil {
		return nil, err
	}
	req := receptionRequest{
		Ambiente:  s.Environment,
		IDEnvio:   s.SendID,
		Version:   s.Version,
		Documento: s.SignedDocument,
	}
	path := invalidationPath
	if s.Kind == ports.SubmitReception {
		path = receptionPath
		req.TipoDte = s.TipoDte
		req.CodigoGeneracion = s.GenerationCode
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("hacienda: serializar envío: %w", err)
	}

	var (
		last     *ports.SubmissionResult
		attempts int
	)
	op := func() error {
		attempts++
		res, err := t.post(ctx, cred, base+path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			last = &ports.SubmissionResult{Outcome: entity.OutcomeTransientError, Message: err.Error()}
			return err
		}
		last = res
		if res.Outcome == entity.OutcomeTransientError {
			return errTransient
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		t.log.Warn().Err(err).Str("dte_id", s.GenerationCode).Int("attempt", attempts).
			Dur("retry_in", wait).Msg("reintentando transmisión al MH")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialBackoff
	b.MaxInterval = t.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.cfg.MaxAttempts-1)), ctx)

	err = backoff.RetryNotify(op, policy, notify)
	if ctxErr := ctx.Err(); ctxErr != nil && (err != nil || last == nil) {
		return nil, fmt.Errorf("%w: %v", domain.ErrOutcomeUnknown, ctxErr)
	}
	if last == nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOutcomeUnknown, err)
	}
	last.Attempts = attempts
	return last, nil
}

// Consult busca el documento en el MH por código de generación. found=false cuando el
// MH no tiene registro procesado ni rechazado.
func (t *Transmitter) Consult(ctx context.Context, cred *entity.HaciendaCredential, req ports.ConsultRequest) (*ports.SubmissionResult, bool, error) {
	base, err := t.cfg.URLs.For(req.Environment)
	if err != nil {
		return nil, false, err
	}
	payload, err := json.Marshal(consultRequest{NitEmisor: req.NIT, Tdte: req.TipoDte, CodigoGeneracion: req.GenerationCode})
	if err != nil {
		return nil, false, fmt.Errorf("hacienda: serializar consulta: %w", err)
	}
	res, err := t.post(ctx, cred, base+consultPath, payload)
	if err != nil {
		return nil, false, err
	}
	switch res.Outcome {
	case entity.OutcomeAccepted, entity.OutcomeRejected:
		if res.HTTPStatus >= 400 {
			// 4xx sin estado: el MH no conoce el documento
			return res, false, nil
		}
		return res, true, nil
	case entity.OutcomeUnauthorized:
		return res, false, &domain.AuthError{UserID: cred.UserID, StatusCode: res.HTTPStatus, Message: res.Message}
	case entity.OutcomeContingencyUnavailable, entity.OutcomeTransientError:
		if res.HTTPStatus >= 500 {
			return res, false, fmt.Errorf("hacienda: consulta no disponible (HTTP %d)", res.HTTPStatus)
		}
	}
	return res, false, nil
}

func (t *Transmitter) post(ctx context.Context, cred *entity.HaciendaCredential, url string, payload []byte) (*ports.SubmissionResult, error) {
	actx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("hacienda: crear request: %w", err)
	}
	req.Header.Set("Authorization", cred.Authorization())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hacienda: %s inalcanzable: %w", strings.TrimPrefix(url, "https://"), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("hacienda: leer respuesta: %w", err)
	}
	return t.classifier.Classify(resp.StatusCode, raw), nil
}
