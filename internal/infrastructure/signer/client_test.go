package signer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/signer"
)

func signerFor(url string) *entity.Signer {
	return &entity.Signer{ID: "s1", EndpointURL: url + "/", CertificateRef: "cert-06141234567890"}
}

func signReq() ports.SignRequest {
	return ports.SignRequest{NIT: "06141234567890", PrivateKeyPassword: "secreto", Document: json.RawMessage(`{"identificacion":{}}`)}
}

func TestSign_DevuelveJWS(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/firmardocumento/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"OK","body":"eyJhbGciOiJSUzUxMiJ9.e30.firma"}`))
	}))
	defer srv.Close()

	c := signer.NewClient(time.Second, time.Millisecond)
	res, err := c.Sign(context.Background(), signerFor(srv.URL), signReq())
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOiJSUzUxMiJ9.e30.firma", res.SignedDocument)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "s1", res.SignerID)

	assert.Equal(t, "06141234567890", got["nit"])
	assert.Equal(t, true, got["activo"])
	assert.Equal(t, "secreto", got["passwordPri"])
	assert.Equal(t, "cert-06141234567890", got["certificado"])
	assert.NotNil(t, got["dteJson"])
}

func TestSign_ReintentaUnaVezEnElMismoFirmador(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","body":"jws"}`))
	}))
	defer srv.Close()

	c := signer.NewClient(time.Second, time.Millisecond)
	res, err := c.Sign(context.Background(), signerFor(srv.URL), signReq())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSign_FalloRepetidoNoEsDefinitivo(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("mantenimiento"))
	}))
	defer srv.Close()

	c := signer.NewClient(time.Second, time.Millisecond)
	_, err := c.Sign(context.Background(), signerFor(srv.URL), signReq())
	var se *domain.SigningError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Definitive)
	assert.Equal(t, 2, se.Attempts, "un intento más un reintento")
	assert.Equal(t, "mantenimiento", se.Raw)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSign_RechazoDelFirmadorEsDefinitivo(t *testing.T) {
	var calls int32
	raw := `{"status":"ERROR","body":{"codigo":"809","mensaje":["No existe certificado activo"]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(raw))
	}))
	defer srv.Close()

	c := signer.NewClient(time.Second, time.Millisecond)
	_, err := c.Sign(context.Background(), signerFor(srv.URL), signReq())
	var se *domain.SigningError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Definitive)
	assert.Equal(t, "809", se.Code)
	assert.Equal(t, "No existe certificado activo", se.Message)
	assert.Equal(t, raw, se.Raw)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSign_TimeoutPorIntento(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := signer.NewClient(50*time.Millisecond, time.Millisecond)
	start := time.Now()
	_, err := c.Sign(context.Background(), signerFor(srv.URL), signReq())
	var se *domain.SigningError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Definitive)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/firmardocumento/status" {
			_, _ = w.Write([]byte("Application is running"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := signer.NewClient(time.Second, time.Millisecond)
	assert.NoError(t, c.Ping(context.Background(), signerFor(srv.URL)))

	down := &entity.Signer{ID: "x", EndpointURL: srv.URL + "/otro"}
	assert.Error(t, c.Ping(context.Background(), down))
}
