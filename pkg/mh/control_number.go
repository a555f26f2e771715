package mh

import (
	"fmt"
	"regexp"
)

const (
	controlPrefix      = "DTE"
	invalidationPrefix = "ANU"

	maxSequence         = 999999999999999 // 15 dígitos
	maxSequenceWithYear = 99999999999     // 11 dígitos tras el año
)

var reControlNumber = regexp.MustCompile(`^(DTE-(01|03|04|05|06|11|14|15)|ANU)-[A-Z0-9]{8}-[0-9]{15}$`)

// FormatControlNumber construye el número de control DTE-{tipo}-{estab}{pv}-{15 dígitos}.
// Si year > 0 el bloque correlativo es YYYY seguido de 11 dígitos.
func FormatControlNumber(tipoDte, establishment, pos string, seq int64, year int) (string, error) {
	block, err := sequenceBlock(seq, year)
	if err != nil {
		return "", err
	}
	if !ValidEstablishmentCode(establishment) || !ValidEstablishmentCode(pos) {
		return "", fmt.Errorf("mh: códigos de establecimiento/punto de venta inválidos %q/%q", establishment, pos)
	}
	return fmt.Sprintf("%s-%s-%s%s-%s", controlPrefix, tipoDte, establishment, pos, block), nil
}

// FormatInvalidationNumber número interno de registro para una invalidación (no viaja al MH).
func FormatInvalidationNumber(establishment, pos string, seq int64, year int) (string, error) {
	block, err := sequenceBlock(seq, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s%s-%s", invalidationPrefix, establishment, pos, block), nil
}

// ValidControlNumber indica si s tiene el formato de número de control.
func ValidControlNumber(s string) bool {
	return reControlNumber.MatchString(s)
}

func sequenceBlock(seq int64, year int) (string, error) {
	if seq <= 0 {
		return "", fmt.Errorf("mh: correlativo debe ser positivo, recibido %d", seq)
	}
	if year > 0 {
		if year > 9999 || seq > maxSequenceWithYear {
			return "", fmt.Errorf("mh: correlativo %d fuera de rango para el año %d", seq, year)
		}
		return fmt.Sprintf("%04d%011d", year, seq), nil
	}
	if seq > maxSequence {
		return "", fmt.Errorf("mh: correlativo %d excede 15 dígitos", seq)
	}
	return fmt.Sprintf("%015d", seq), nil
}
