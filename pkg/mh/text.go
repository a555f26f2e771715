package mh

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText colapsa espacios y normaliza a NFC.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// NormalizePtr aplica NormalizeText a un campo opcional; vacío se convierte en nil.
func NormalizePtr(s string) *string {
	s = NormalizeText(s)
	if s == "" {
		return nil
	}
	return &s
}

// ── Total en letras ──────────────────────────────────────────────────────────

var unidades = [...]string{
	"", "UNO", "DOS", "TRES", "CUATRO", "CINCO", "SEIS", "SIETE", "OCHO", "NUEVE",
	"DIEZ", "ONCE", "DOCE", "TRECE", "CATORCE", "QUINCE", "DIECISEIS", "DIECISIETE", "DIECIOCHO", "DIECINUEVE",
	"VEINTE", "VEINTIUNO", "VEINTIDOS", "VEINTITRES", "VEINTICUATRO", "VEINTICINCO", "VEINTISEIS",
	"VEINTISIETE", "VEINTIOCHO", "VEINTINUEVE",
}

var decenas = [...]string{"", "", "", "TREINTA", "CUARENTA", "CINCUENTA", "SESENTA", "SETENTA", "OCHENTA", "NOVENTA"}

var centenas = [...]string{
	"", "CIENTO", "DOSCIENTOS", "TRESCIENTOS", "CUATROCIENTOS", "QUINIENTOS",
	"SEISCIENTOS", "SETECIENTOS", "OCHOCIENTOS", "NOVECIENTOS",
}

// AmountInWords expresa el monto como exige el campo resumen.totalLetras,
// por ejemplo 20.00 -> "VEINTE 00/100 USD".
func AmountInWords(d decimal.Decimal) string {
	d = Round2(d.Abs())
	whole := d.IntPart()
	cents := d.Sub(decimal.NewFromInt(whole)).Mul(decimal.NewFromInt(100)).IntPart()
	return fmt.Sprintf("%s %02d/100 %s", integerWords(whole), cents, MonedaUSD)
}

func integerWords(n int64) string {
	if n == 0 {
		return "CERO"
	}
	var parts []string
	if millions := n / 1_000_000; millions > 0 {
		if millions == 1 {
			parts = append(parts, "UN MILLON")
		} else {
			parts = append(parts, apocope(integerWords(millions))+" MILLONES")
		}
		n %= 1_000_000
	}
	if thousands := n / 1000; thousands > 0 {
		if thousands == 1 {
			parts = append(parts, "MIL")
		} else {
			parts = append(parts, apocope(hundredsWords(int(thousands)))+" MIL")
		}
		n %= 1000
	}
	if n > 0 {
		parts = append(parts, hundredsWords(int(n)))
	}
	return strings.Join(parts, " ")
}

func hundredsWords(n int) string {
	if n == 100 {
		return "CIEN"
	}
	var parts []string
	if c := n / 100; c > 0 {
		parts = append(parts, centenas[c])
		n %= 100
	}
	switch {
	case n == 0:
	case n < 30:
		parts = append(parts, unidades[n])
	default:
		w := decenas[n/10]
		if u := n % 10; u > 0 {
			w += " Y " + unidades[u]
		}
		parts = append(parts, w)
	}
	return strings.Join(parts, " ")
}

// apocope "UNO" -> "UN" delante de MIL/MILLONES.
func apocope(s string) string {
	if strings.HasSuffix(s, "UNO") {
		return strings.TrimSuffix(s, "O")
	}
	return s
}
