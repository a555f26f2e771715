package hacienda

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/mh"
)

const (
	estadoProcesado = "PROCESADO"
	estadoRechazado = "RECHAZADO"

	processedLayout = "02/01/2006 15:04:05"
)

// ClassifierConfig tabla de clasificación. Los códigos de rechazo del MH que indican un
// problema transitorio o de disponibilidad se configuran por entorno; cualquier otro
// RECHAZADO es un rechazo de negocio terminal.
type ClassifierConfig struct {
	ContingencyStatuses []int    // HTTP que indican indisponibilidad del MH (por defecto 502, 503, 504)
	TransientCodes      []string // codigoMsg que se reintentan con backoff
	ContingencyCodes    []string // codigoMsg que difieren el documento a contingencia
}

// Classifier traduce respuestas HTTP del MH a un resultado de transmisión.
type Classifier struct {
	contingencyStatus map[int]bool
	transientCodes    map[string]bool
	contingencyCodes  map[string]bool
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if len(cfg.ContingencyStatuses) == 0 {
		cfg.ContingencyStatuses = []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	}
	c := &Classifier{
		contingencyStatus: make(map[int]bool),
		transientCodes:    make(map[string]bool),
		contingencyCodes:  make(map[string]bool),
	}
	for _, s := range cfg.ContingencyStatuses {
		c.contingencyStatus[s] = true
	}
	for _, code := range cfg.TransientCodes {
		c.transientCodes[strings.TrimSpace(code)] = true
	}
	for _, code := range cfg.ContingencyCodes {
		c.contingencyCodes[strings.TrimSpace(code)] = true
	}
	return c
}

// receptionResponse respuesta de /fesv/recepciondte, /fesv/anulardte y de la consulta.
type receptionResponse struct {
	Version          int      `json:"version"`
	Ambiente         string   `json:"ambiente"`
	VersionApp       int      `json:"versionApp"`
	Estado           string   `json:"estado"`
	CodigoGeneracion string   `json:"codigoGeneracion"`
	SelloRecibido    *string  `json:"selloRecibido"`
	FhProcesamiento  string   `json:"fhProcesamiento"`
	ClasificaMsg     string   `json:"clasificaMsg"`
	CodigoMsg        string   `json:"codigoMsg"`
	DescripcionMsg   string   `json:"descripcionMsg"`
	Observaciones    []string `json:"observaciones"`
}

func (r *receptionResponse) message() string {
	parts := make([]string, 0, 1+len(r.Observaciones))
	if r.DescripcionMsg != "" {
		parts = append(parts, r.DescripcionMsg)
	}
	parts = append(parts, r.Observaciones...)
	return strings.Join(parts, " | ")
}

func parseProcessedAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(processedLayout, s, mh.Location)
	if err != nil {
		return nil
	}
	return &t
}

// Classify interpreta una respuesta. El cuerpo crudo se conserva siempre en Raw.
func (c *Classifier) Classify(status int, body []byte) *ports.SubmissionResult {
	res := &ports.SubmissionResult{HTTPStatus: status, Raw: string(body)}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		res.Outcome = entity.OutcomeUnauthorized
		res.Message = "token rechazado por el MH"
		return res
	case c.contingencyStatus[status]:
		res.Outcome = entity.OutcomeContingencyUnavailable
		res.Message = fmt.Sprintf("MH no disponible (HTTP %d)", status)
		return res
	case status >= 500:
		res.Outcome = entity.OutcomeTransientError
		res.Message = fmt.Sprintf("error del MH (HTTP %d)", status)
		return res
	}

	var rr receptionResponse
	if err := json.Unmarshal(body, &rr); err != nil || rr.Estado == "" {
		if status >= 400 {
			res.Outcome = entity.OutcomeRejected
			res.Code = fmt.Sprintf("HTTP %d", status)
			res.Message = "respuesta no interpretable del MH"
			return res
		}
		// 2xx sin estado: el MH pudo haber registrado el documento; la conciliación lo consulta.
		res.Outcome = entity.OutcomeContingencyUnavailable
		res.Message = "respuesta sin estado del MH"
		return res
	}

	res.Code = rr.CodigoMsg
	res.Message = rr.message()
	res.ProcessedAt = parseProcessedAt(rr.FhProcesamiento)
	switch strings.ToUpper(rr.Estado) {
	case estadoProcesado:
		res.Outcome = entity.OutcomeAccepted
		if rr.SelloRecibido != nil {
			res.ReceptionStamp = *rr.SelloRecibido
		}
	case estadoRechazado:
		switch {
		case c.contingencyCodes[rr.CodigoMsg]:
			res.Outcome = entity.OutcomeContingencyUnavailable
		case c.transientCodes[rr.CodigoMsg]:
			res.Outcome = entity.OutcomeTransientError
		default:
			res.Outcome = entity.OutcomeRejected
		}
	default:
		res.Outcome = entity.OutcomeContingencyUnavailable
	}
	return res
}
