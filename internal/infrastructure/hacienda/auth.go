// Package hacienda implementa la integración con la API de recepción de DTE del
// Ministerio de Hacienda de El Salvador: autenticación, transmisión y consulta.
package hacienda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/metrics"
	"github.com/jhoicas/dte-api/pkg/mh"
)

const (
	authPath = "/seguridad/auth"

	DefaultTestURL       = "https://apitest.dtes.mh.gob.sv"
	DefaultProductionURL = "https://api.dtes.mh.gob.sv"

	userAgent = "dte-api/1.0"
	maxBody   = 4 << 20
)

// BaseURLs URL base de la API por ambiente CAT-001.
type BaseURLs struct {
	Test       string
	Production string
}

func (b BaseURLs) For(ambiente string) (string, error) {
	var u string
	switch ambiente {
	case mh.AmbientePruebas:
		u = b.Test
	case mh.AmbienteProduccion:
		u = b.Production
	default:
		return "", fmt.Errorf("%w: ambiente %q", domain.ErrInvalidInput, ambiente)
	}
	if u == "" {
		return "", fmt.Errorf("hacienda: URL base no configurada para ambiente %s", ambiente)
	}
	return strings.TrimRight(u, "/"), nil
}

// ── Credenciales del emisor ──────────────────────────────────────────────────

// CredentialSource usuario y contraseña de la API del MH de un emisor.
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (user, password string, err error)
}

// SecretOpener descifra valores guardados cifrados.
type SecretOpener interface {
	Open(sealed string) (string, error)
}

// EmitterCredentials lee las credenciales del directorio de emisores.
type EmitterCredentials struct {
	emitters repository.EmitterRepository
	secrets  SecretOpener
}

func NewEmitterCredentials(emitters repository.EmitterRepository, secrets SecretOpener) *EmitterCredentials {
	return &EmitterCredentials{emitters: emitters, secrets: secrets}
}

func (c *EmitterCredentials) Credentials(ctx context.Context, userID string) (string, string, error) {
	e, err := c.emitters.GetByID(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if e == nil {
		return "", "", fmt.Errorf("%w: emisor %s", domain.ErrNotFound, userID)
	}
	pwd, err := c.secrets.Open(e.HaciendaPasswordEnc)
	if err != nil {
		return "", "", fmt.Errorf("descifrar contraseña MH del emisor %s: %w", userID, err)
	}
	user := e.HaciendaUser
	if user == "" {
		user = e.NIT
	}
	return user, pwd, nil
}

// ── AuthManager ──────────────────────────────────────────────────────────────

// AuthConfig parámetros de autenticación.
type AuthConfig struct {
	URLs         BaseURLs
	TokenTTL     time.Duration // vigencia asumida del token (el MH no la informa)
	Skew         time.Duration // margen antes del vencimiento
	LoginTimeout time.Duration
}

// AuthManager entrega tokens por emisor y ambiente. Los logins concurrentes para la misma
// clave comparten una única llamada (singleflight). Implementa ports.TokenProvider.
type AuthManager struct {
	cfg        AuthConfig
	httpClient *http.Client
	creds      CredentialSource
	store      TokenStore
	group      singleflight.Group
	now        func() time.Time
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewAuthManager construye el gestor.
func NewAuthManager(cfg AuthConfig, creds CredentialSource, store TokenStore, log zerolog.Logger, m *metrics.Metrics) *AuthManager {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Skew <= 0 {
		cfg.Skew = 5 * time.Minute
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 30 * time.Second
	}
	return &AuthManager{
		cfg:        cfg,
		httpClient: &http.Client{},
		creds:      creds,
		store:      store,
		now:        time.Now,
		log:        log,
		metrics:    m,
	}
}

func tokenKey(userID, environment string) string {
	return userID + ":" + environment
}

// GetToken devuelve el token vigente o hace login. El login corre desacoplado de la
// cancelación del llamador para que un llamador que abandona no aborte el login que
// comparten los demás.
func (m *AuthManager) GetToken(ctx context.Context, userID, environment string) (*entity.HaciendaCredential, error) {
	key := tokenKey(userID, environment)
	if cred := m.cached(ctx, key); cred != nil {
		return cred, nil
	}

	ch := m.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.LoginTimeout)
		defer cancel()
		if cred := m.cached(lctx, key); cred != nil {
			return cred, nil
		}
		cred, err := m.login(lctx, userID, environment)
		m.metrics.IncrementLogin(err == nil)
		if err != nil {
			return nil, err
		}
		if err := m.store.Set(lctx, key, cred); err != nil {
			m.log.Warn().Err(err).Str("user_id", userID).Msg("no se pudo cachear token MH")
		}
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*entity.HaciendaCredential), nil
	}
}

// Invalidate descarta el token solo si sigue siendo staleToken.
func (m *AuthManager) Invalidate(ctx context.Context, userID, environment, staleToken string) error {
	return m.store.Delete(ctx, tokenKey(userID, environment), staleToken)
}

func (m *AuthManager) cached(ctx context.Context, key string) *entity.HaciendaCredential {
	cred, err := m.store.Get(ctx, key)
	if err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("caché de tokens no disponible")
		return nil
	}
	if cred.Valid(m.now(), m.cfg.Skew) {
		return cred
	}
	return nil
}

type authResponse struct {
	Status string `json:"status"`
	Body   struct {
		User      string `json:"user"`
		Token     string `json:"token"`
		TokenType string `json:"tokenType"`
	} `json:"body"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (m *AuthManager) login(ctx context.Context, userID, environment string) (*entity.HaciendaCredential, error) {
	base, err := m.cfg.URLs.For(environment)
	if err != nil {
		return nil, err
	}
	user, pwd, err := m.creds.Credentials(ctx, userID)
	if err != nil {
		return nil, &domain.AuthError{UserID: userID, Message: "credenciales del emisor no disponibles", Err: err}
	}

	form := url.Values{"user": {user}, "pwd": {pwd}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+authPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("hacienda: crear request de login: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hacienda: login inalcanzable: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("hacienda: leer respuesta de login: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("hacienda: login HTTP %d: %s", resp.StatusCode, truncate(raw))
	}

	var ar authResponse
	if err := json.Unmarshal(raw, &ar); err != nil || ar.Status != "OK" || ar.Body.Token == "" {
		msg := ar.Message
		if msg == "" {
			msg = ar.Error
		}
		if msg == "" {
			msg = truncate(raw)
		}
		m.log.Error().Str("user_id", userID).Int("http_status", resp.StatusCode).Msg("login MH rechazado")
		return nil, &domain.AuthError{UserID: userID, StatusCode: resp.StatusCode, Message: msg}
	}

	token, tokenType := ar.Body.Token, ar.Body.TokenType
	if rest, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = rest
		if tokenType == "" {
			tokenType = "Bearer"
		}
	}
	now := m.now()
	m.log.Info().Str("user_id", userID).Str("environment", environment).Msg("login MH exitoso")
	return &entity.HaciendaCredential{
		UserID:      userID,
		Environment: environment,
		Token:       token,
		TokenType:   tokenType,
		ExpiresAt:   now.Add(m.cfg.TokenTTL),
	}, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
