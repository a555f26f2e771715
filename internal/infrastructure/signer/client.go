// Package signer es el cliente HTTP de los servicios firmadores de DTE (firmador del MH
// o compatibles), que custodian el certificado del emisor y devuelven el JWS.
package signer

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

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

const (
	signPath   = "/firmardocumento/"
	statusPath = "/firmardocumento/status"

	statusOK    = "OK"
	statusError = "ERROR"

	maxBody = 4 << 20
)

// Client implementa ports.SignatureClient sobre net/http.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration // por intento
	retryWait  time.Duration
}

// NewClient construye el cliente. timeout acota cada intento; el reintento en el mismo
// firmador espera retryWait.
func NewClient(timeout, retryWait time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if retryWait <= 0 {
		retryWait = 300 * time.Millisecond
	}
	return &Client{httpClient: &http.Client{}, timeout: timeout, retryWait: retryWait}
}

type signRequest struct {
	NIT         string          `json:"nit"`
	Activo      bool            `json:"activo"`
	PasswordPri string          `json:"passwordPri"`
	Certificado string          `json:"certificado,omitempty"`
	DteJSON     json.RawMessage `json:"dteJson"`
}

type signResponse struct {
	Status string          `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type signErrorBody struct {
	Codigo  string `json:"codigo"`
	Mensaje any    `json:"mensaje"`
}

// Sign envía el documento al firmador. Ante un fallo de red o 5xx reintenta una sola vez
// en el mismo firmador; un rechazo del firmador no se reintenta.
func (c *Client) Sign(ctx context.Context, s *entity.Signer, req ports.SignRequest) (*ports.SignResult, error) {
	certRef := req.CertificateRef
	if certRef == "" {
		certRef = s.CertificateRef
	}
	payload, err := json.Marshal(signRequest{
		NIT:         req.NIT,
		Activo:      true,
		PasswordPri: req.PrivateKeyPassword,
		Certificado: certRef,
		DteJSON:     req.Document,
	})
	if err != nil {
		return nil, fmt.Errorf("firmador: serializar solicitud: %w", err)
	}

	var (
		result   *ports.SignResult
		attempts int
	)
	op := func() error {
		attempts++
		r, err := c.signOnce(ctx, s, payload)
		if err == nil {
			result = r
			return nil
		}
		var se *domain.SigningError
		if (errors.As(err, &se) && se.Definitive) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryWait
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx)); err != nil {
		var se *domain.SigningError
		if !errors.As(err, &se) {
			se = &domain.SigningError{SignerID: s.ID, Message: "firma interrumpida", Err: err}
		}
		se.Attempts = attempts
		return nil, se
	}
	result.Attempts = attempts
	return result, nil
}

func (c *Client) signOnce(ctx context.Context, s *entity.Signer, payload []byte) (*ports.SignResult, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, endpoint(s, signPath), bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.SigningError{SignerID: s.ID, Message: "URL de firmador inválida", Definitive: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SigningError{SignerID: s.ID, Message: "firmador inalcanzable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	elapsed := time.Since(start)
	if err != nil {
		return nil, &domain.SigningError{SignerID: s.ID, Message: "lectura de respuesta interrumpida", Err: err}
	}

	var parsed signResponse
	parseErr := json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.SigningError{SignerID: s.ID, Code: fmt.Sprintf("HTTP %d", resp.StatusCode), Message: "firmador no disponible", Raw: string(raw)}
	case parseErr == nil && parsed.Status == statusError:
		return nil, definitiveError(s.ID, parsed.Body, raw)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &domain.SigningError{SignerID: s.ID, Code: fmt.Sprintf("HTTP %d", resp.StatusCode), Message: "solicitud rechazada por el firmador", Definitive: true, Raw: string(raw)}
	case resp.StatusCode >= 300 || parseErr != nil:
		return nil, &domain.SigningError{SignerID: s.ID, Code: fmt.Sprintf("HTTP %d", resp.StatusCode), Message: "respuesta inesperada del firmador", Raw: string(raw), Err: parseErr}
	}

	var jws string
	if err := json.Unmarshal(parsed.Body, &jws); err != nil || parsed.Status != statusOK || jws == "" {
		return nil, &domain.SigningError{SignerID: s.ID, Message: "respuesta sin documento firmado", Raw: string(raw)}
	}
	return &ports.SignResult{SignerID: s.ID, SignedDocument: jws, Raw: string(raw), Duration: elapsed}, nil
}

// definitiveError interpreta {"status":"ERROR","body":{"codigo":..,"mensaje":..}}; mensaje
// puede venir como texto o como lista.
func definitiveError(signerID string, body json.RawMessage, raw []byte) *domain.SigningError {
	se := &domain.SigningError{SignerID: signerID, Definitive: true, Raw: string(raw), Message: "rechazo del firmador"}
	var eb signErrorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		se.Code = eb.Codigo
		switch m := eb.Mensaje.(type) {
		case string:
			se.Message = m
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			se.Message = strings.Join(parts, "; ")
		}
	}
	return se
}

// Ping consulta el estado del firmador; cualquier 2xx es saludable.
func (c *Client) Ping(ctx context.Context, s *entity.Signer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(s, statusPath), nil)
	if err != nil {
		return fmt.Errorf("firmador: crear request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("firmador %s inalcanzable: %w", s.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("firmador %s respondió HTTP %d", s.ID, resp.StatusCode)
	}
	return nil
}

func endpoint(s *entity.Signer, path string) string {
	return strings.TrimRight(s.EndpointURL, "/") + path
}
