package hacienda_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/hacienda"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const generationCode = "9B2F7A1E-3C4D-4E5F-8A9B-0C1D2E3F4A5B"

func cred() *entity.HaciendaCredential {
	return &entity.HaciendaCredential{UserID: "u1", Environment: "00", Token: "abc", TokenType: "Bearer", ExpiresAt: time.Now().Add(time.Hour)}
}

func submission() ports.Submission {
	return ports.Submission{
		Kind:           ports.SubmitReception,
		Environment:    "00",
		SendID:         42,
		Version:        1,
		TipoDte:        "01",
		GenerationCode: generationCode,
		SignedDocument: "eyJ.e30.sig",
	}
}

func newTransmitter(url string, cc hacienda.ClassifierConfig) *hacienda.Transmitter {
	return hacienda.NewTransmitter(hacienda.TransmitterConfig{
		URLs:           hacienda.BaseURLs{Test: url, Production: url},
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
		Classifier:     cc,
	}, zerolog.Nop())
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// ── Submit ───────────────────────────────────────────────────────────────────

func TestSubmit_ProcesadoDevuelveSello(t *testing.T) {
	var body map[string]any
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fesv/recepciondte", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"version":2,"ambiente":"00","versionApp":2,"estado":"PROCESADO","codigoGeneracion":"` + generationCode + `",
			"selloRecibido":"2024A1B2C3D4E5F6","fhProcesamiento":"15/03/2024 10:20:30","clasificaMsg":"10","codigoMsg":"001","descripcionMsg":"RECIBIDO","observaciones":[]}`))
	})

	res, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(context.Background(), cred(), submission())
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeAccepted, res.Outcome)
	assert.Equal(t, "2024A1B2C3D4E5F6", res.ReceptionStamp)
	assert.Equal(t, "001", res.Code)
	require.NotNil(t, res.ProcessedAt)
	assert.Equal(t, 10, res.ProcessedAt.Hour())
	assert.Equal(t, 1, res.Attempts)

	assert.Equal(t, "00", body["ambiente"])
	assert.Equal(t, float64(42), body["idEnvio"])
	assert.Equal(t, "01", body["tipoDte"])
	assert.Equal(t, generationCode, body["codigoGeneracion"])
	assert.Equal(t, "eyJ.e30.sig", body["documento"])
}

func TestSubmit_RechazoSeConservaTalCual(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"estado":"RECHAZADO","codigoMsg":"004","descripcionMsg":"[identificacion.codigoGeneracion] YA EXISTE UN REGISTRO CON ESE VALOR","observaciones":["Campo A","Campo B"]}`))
	})

	res, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(context.Background(), cred(), submission())
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeRejected, res.Outcome)
	assert.Equal(t, "004", res.Code)
	assert.Equal(t, "[identificacion.codigoGeneracion] YA EXISTE UN REGISTRO CON ESE VALOR | Campo A | Campo B", res.Message)
	assert.Equal(t, entity.DTEStatusRejected, res.Outcome.TargetStatus())
}

func TestSubmit_ServicioNoDisponibleEsContingencia(t *testing.T) {
	var calls int32
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(context.Background(), cred(), submission())
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeContingencyUnavailable, res.Outcome)
	assert.Equal(t, entity.DTEStatusContingencyPending, res.Outcome.TargetStatus())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "la contingencia no se reintenta en línea")
}

func TestSubmit_TransitorioReintentaConBackoff(t *testing.T) {
	var calls int32
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"estado":"PROCESADO","selloRecibido":"SELLO"}`))
	})

	res, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(context.Background(), cred(), submission())
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeAccepted, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
}

func TestSubmit_TransitorioAgotadoQuedaEnContingencia(t *testing.T) {
	var calls int32
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	res, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(context.Background(), cred(), submission())
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeTransientError, res.Outcome)
	assert.Equal(t, entity.DTEStatusContingencyPending, res.Outcome.TargetStatus())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, res.Attempts)
}

func TestSubmit_CodigosConfigurados(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"estado":"RECHAZADO","codigoMsg":"096","descripcionMsg":"SERVICIO NO DISPONIBLE"}`))
	})

	tr := newTransmitter(srv.URL, hacienda.ClassifierConfig{ContingencyCodes: []string{"096"}})
	res, err := tr.Submit(context.Background(), cred(), submission())
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeContingencyUnavailable, res.Outcome)
	assert.Equal(t, "096", res.Code)
}

func TestSubmit_401EsNoAutorizado(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	res, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(context.Background(), cred(), submission())
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeUnauthorized, res.Outcome)
}

func TestSubmit_CancelacionEsResultadoDesconocido(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(ctx, cred(), submission())
	assert.ErrorIs(t, err, domain.ErrOutcomeUnknown)
}

func TestSubmit_AnulacionUsaSuEndpoint(t *testing.T) {
	var body map[string]any
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fesv/anulardte", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"estado":"PROCESADO","selloRecibido":"SELLO-ANU"}`))
	})

	s := submission()
	s.Kind = ports.SubmitInvalidation
	s.Version = 2
	res, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Submit(context.Background(), cred(), s)
	require.NoError(t, err)
	assert.Equal(t, "SELLO-ANU", res.ReceptionStamp)
	_, hasTipo := body["tipoDte"]
	assert.False(t, hasTipo)
	assert.Equal(t, float64(2), body["version"])
}

// ── Consult ──────────────────────────────────────────────────────────────────

func TestConsult_Encontrado(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fesv/recepcion/consultadte/", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "06141234567890", body["nitEmisor"])
		assert.Equal(t, "01", body["tdte"])
		assert.Equal(t, generationCode, body["codigoGeneracion"])
		_, _ = w.Write([]byte(`{"estado":"PROCESADO","selloRecibido":"SELLO"}`))
	})

	res, found, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Consult(context.Background(), cred(),
		ports.ConsultRequest{Environment: "00", NIT: "06141234567890", TipoDte: "01", GenerationCode: generationCode})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "SELLO", res.ReceptionStamp)
}

func TestConsult_NoEncontrado(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, found, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Consult(context.Background(), cred(),
		ports.ConsultRequest{Environment: "00", NIT: "x", TipoDte: "01", GenerationCode: generationCode})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConsult_MHCaidoEsError(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, found, err := newTransmitter(srv.URL, hacienda.ClassifierConfig{}).Consult(context.Background(), cred(),
		ports.ConsultRequest{Environment: "00", NIT: "x", TipoDte: "01", GenerationCode: generationCode})
	assert.Error(t, err)
	assert.False(t, found)
}
