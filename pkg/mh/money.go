package mh

import (
	"github.com/shopspring/decimal"
)

// Epsilon tolerancia para comparar montos recalculados contra los declarados.
var Epsilon = decimal.RequireFromString("0.01")

// MaxQuantityScale decimales que se conservan en cantidades y precios unitarios.
const MaxQuantityScale = 8

// Round2 redondea a 2 decimales (half away from zero, como exige el MH).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinEpsilon indica si |a-b| <= 0.01.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// Amount monto monetario serializado como número JSON con exactamente 2 decimales.
type Amount struct {
	decimal.Decimal
}

// NewAmount redondea a 2 decimales.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: Round2(d)}
}

// AmountPtr devuelve un puntero a Amount (campos opcionales por tipo de documento).
func AmountPtr(d decimal.Decimal) *Amount {
	a := NewAmount(d)
	return &a
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// Precise cantidad o precio unitario con hasta 8 decimales.
type Precise struct {
	decimal.Decimal
}

// NewPrecise trunca la escala a 8 decimales redondeando.
func NewPrecise(d decimal.Decimal) Precise {
	return Precise{Decimal: d.Round(MaxQuantityScale)}
}

func (p Precise) MarshalJSON() ([]byte, error) {
	return []byte(p.Decimal.Round(MaxQuantityScale).String()), nil
}

func (p *Precise) UnmarshalJSON(b []byte) error {
	return p.Decimal.UnmarshalJSON(b)
}
