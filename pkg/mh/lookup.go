package mh

import "net/url"

// PublicLookupBase portal de consulta pública de DTE del MH.
const PublicLookupBase = "https://admin.factura.gob.sv/consultaPublica"

// PublicLookupURL enlace que se codifica en el QR de la representación gráfica.
func PublicLookupURL(ambiente, codigoGeneracion, fecEmi string) string {
	q := url.Values{}
	q.Set("ambiente", ambiente)
	q.Set("codGen", codigoGeneracion)
	q.Set("fechaEmi", fecEmi)
	return PublicLookupBase + "?" + q.Encode()
}
