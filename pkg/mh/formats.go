package mh

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var (
	reNIT          = regexp.MustCompile(`^([0-9]{14}|[0-9]{9})$`)
	reNRC          = regexp.MustCompile(`^[0-9]{1,8}$`)
	reDUI          = regexp.MustCompile(`^[0-9]{8}-[0-9]$`)
	rePhone        = regexp.MustCompile(`^[0-9+()\- ]{8,30}$`)
	reActivity     = regexp.MustCompile(`^[0-9]{2,6}$`)
	reDepartment   = regexp.MustCompile(`^(0[1-9]|1[0-4])$`)
	reMunicipality = regexp.MustCompile(`^[0-9]{2}$`)
	reEstCode      = regexp.MustCompile(`^[A-Z0-9]{4}$`)
)

// ValidNIT indica si el NIT tiene 14 dígitos (o 9 si es DUI homologado), sin guiones.
func ValidNIT(nit string) bool { return reNIT.MatchString(nit) }

// ValidNRC indica si el número de registro de contribuyente tiene entre 1 y 8 dígitos.
func ValidNRC(nrc string) bool { return reNRC.MatchString(nrc) }

// ValidDUI formato ########-#.
func ValidDUI(dui string) bool { return reDUI.MatchString(dui) }

func ValidPhone(phone string) bool { return rePhone.MatchString(phone) }

func ValidActivityCode(code string) bool { return reActivity.MatchString(code) }

func ValidDepartment(code string) bool { return reDepartment.MatchString(code) }

func ValidMunicipality(code string) bool { return reMunicipality.MatchString(code) }

// ValidEstablishmentCode código de establecimiento o punto de venta (4 caracteres alfanuméricos).
func ValidEstablishmentCode(code string) bool { return reEstCode.MatchString(code) }

// ValidEmail valida una dirección simple (sin nombre visible).
func ValidEmail(email string) bool {
	if email == "" || len(email) > 100 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// ValidateReceiverDocument valida el número de documento según su tipo (CAT-022).
func ValidateReceiverDocument(docType, number string) error {
	if !ValidReceiverDocTypes[docType] {
		return fmt.Errorf("tipo de documento %q no está en el catálogo", docType)
	}
	number = strings.TrimSpace(number)
	switch docType {
	case DocNIT:
		if !ValidNIT(number) {
			return fmt.Errorf("NIT %q debe tener 14 o 9 dígitos sin guiones", number)
		}
	case DocDUI:
		if !ValidDUI(number) {
			return fmt.Errorf("DUI %q debe tener formato ########-#", number)
		}
	default:
		if l := len(number); l < 3 || l > 20 {
			return fmt.Errorf("número de documento debe tener entre 3 y 20 caracteres")
		}
	}
	return nil
}
