package entity

import "time"

// Emitter contribuyente emisor (cuenta de comercio) con sus datos de registro tributario.
// Lo provee el directorio de usuarios; el pipeline solo lo lee.
type Emitter struct {
	ID                   string
	Name                 string
	TradeName            string
	NIT                  string
	NRC                  string
	EconomicActivityCode string
	EconomicActivityDesc string
	EstablishmentType    string // CAT-009
	Department           string
	Municipality         string
	AddressComplement    string
	Phone                string
	Email                string
	// HaciendaUser usuario de la API del MH (normalmente el NIT).
	HaciendaUser          string
	HaciendaPasswordEnc   string // cifrado con secretbox
	PrivateKeyPasswordEnc string // passwordPri del certificado en el firmador, cifrado
	// ControlNumberIncludesYear es inmutable una vez creado el emisor.
	ControlNumberIncludesYear bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// HaciendaCredential token bearer cacheado por emisor y ambiente.
type HaciendaCredential struct {
	UserID      string    `json:"user_id"`
	Environment string    `json:"environment"`
	Token       string    `json:"token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid indica si el token sigue vigente con un margen de seguridad.
func (c *HaciendaCredential) Valid(now time.Time, skew time.Duration) bool {
	return c != nil && c.Token != "" && now.Add(skew).Before(c.ExpiresAt)
}

// Authorization valor del header Authorization.
func (c *HaciendaCredential) Authorization() string {
	tt := c.TokenType
	if tt == "" {
		tt = "Bearer"
	}
	return tt + " " + c.Token
}
