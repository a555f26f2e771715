package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound          = errors.New("recurso no encontrado")
	ErrInvalidInput      = errors.New("entrada inválida")
	ErrDuplicate         = errors.New("recurso duplicado")
	ErrUnauthorized      = errors.New("no autorizado")
	ErrForbidden         = errors.New("acceso denegado")
	ErrConflict          = errors.New("conflicto con el estado actual")
	ErrInvalidTransition = errors.New("transición de estado no permitida")
	ErrNoSignerAvailable = errors.New("no hay firmador disponible")
	ErrOutcomeUnknown    = errors.New("resultado de transmisión desconocido, pendiente de conciliación")
)

// ── Validación ───────────────────────────────────────────────────────────────

// FieldError violación asociada a un campo (ruta JSON del payload, ej. "cuerpoDocumento[2].ventaGravada").
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError acumula todas las violaciones encontradas en una solicitud.
type ValidationError struct {
	Fields []FieldError
}

// Add registra una violación.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Merge incorpora las violaciones de otro error de validación.
func (e *ValidationError) Merge(other *ValidationError) {
	if other != nil {
		e.Fields = append(e.Fields, other.Fields...)
	}
}

// Has indica si existe alguna violación para el campo.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// OrNil devuelve nil cuando no hay violaciones.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validación: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// ── Firma ────────────────────────────────────────────────────────────────────

// SigningError fallo de firma: rechazo definitivo del firmador o agotamiento del failover.
type SigningError struct {
	SignerID   string
	Code       string
	Message    string
	Definitive bool   // el firmador rechazó el documento o el certificado; no se reintenta en otro
	Raw        string // cuerpo de respuesta del firmador, tal cual
	Attempts   int
	Err        error
}

func (e *SigningError) Error() string {
	var b strings.Builder
	b.WriteString("firma: ")
	if e.Definitive {
		b.WriteString("rechazo del firmador")
	} else {
		b.WriteString("firmadores agotados")
	}
	if e.SignerID != "" {
		b.WriteString(" [" + e.SignerID + "]")
	}
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *SigningError) Unwrap() error { return e.Err }

// ── Autenticación MH ─────────────────────────────────────────────────────────

// AuthError credenciales de Hacienda inválidas o login fallido; requiere atención del operador.
type AuthError struct {
	UserID     string
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("autenticación MH para usuario %s", e.UserID)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnauthorized, e.Err}
	}
	return []error{ErrUnauthorized}
}

// ── Transmisión ──────────────────────────────────────────────────────────────

// TransmissionError resultado no exitoso de la transmisión. Permanent=true es un rechazo
// de negocio del MH (terminal); Code y Message se conservan tal cual los devolvió el MH.
type TransmissionError struct {
	Permanent bool
	Code      string
	Message   string
	Raw       string
	Err       error
}

func (e *TransmissionError) Error() string {
	kind := "transitorio"
	if e.Permanent {
		kind = "rechazo"
	}
	msg := "transmisión (" + kind + ")"
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// ── Correlativos ─────────────────────────────────────────────────────────────

// SequenceConflict carrera detectada por el almacén al persistir un número de control.
type SequenceConflict struct {
	Scope         string
	ControlNumber string
	Err           error
}

func (e *SequenceConflict) Error() string {
	return fmt.Sprintf("conflicto de correlativo en %s (%s)", e.Scope, e.ControlNumber)
}

func (e *SequenceConflict) Unwrap() error { return e.Err }

// ── Invalidación ─────────────────────────────────────────────────────────────

// InvalidationError violación de una regla de invalidación, detectada antes de cualquier llamada externa.
type InvalidationError struct {
	Field   string
	Message string
}

func (e *InvalidationError) Error() string {
	if e.Field == "" {
		return "invalidación: " + e.Message
	}
	return "invalidación: " + e.Field + ": " + e.Message
}

func (e *InvalidationError) Unwrap() error { return ErrInvalidInput }
