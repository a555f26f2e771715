// Package mh contiene catálogos, formatos y utilidades alineados a la normativa y
// estándar de integración de Documentos Tributarios Electrónicos del Ministerio de
// Hacienda de El Salvador (DTE, esquemas JSON v1/v3).
package mh

// =============================================================================
// CAT-001 - Ambiente de destino
// =============================================================================

const (
	AmbientePruebas    = "00" // Modo prueba
	AmbienteProduccion = "01" // Modo producción
)

// =============================================================================
// CAT-002 - Tipo de documento (tipoDte)
// =============================================================================

const (
	TipoDteFactura       = "01" // Factura (consumidor final)
	TipoDteCCF           = "03" // Comprobante de crédito fiscal
	TipoDteNotaRemision  = "04" // Nota de remisión
	TipoDteNotaCredito   = "05" // Nota de crédito
	TipoDteNotaDebito    = "06" // Nota de débito
	TipoDteFacturaExport = "11" // Factura de exportación
)

// Versiones de esquema JSON por tipo de documento.
const (
	VersionFactura     = 1
	VersionCCF         = 3
	VersionNotaCredito = 3
	VersionAnulacion   = 2
)

// =============================================================================
// CAT-003 - Modelo de facturación / CAT-004 - Tipo de transmisión
// =============================================================================

const (
	ModeloPrevio   = 1 // Modelo de facturación previo
	ModeloDiferido = 2 // Modelo de facturación diferido (contingencia)

	OperacionNormal       = 1 // Transmisión normal
	OperacionContingencia = 2 // Transmisión por contingencia
)

// =============================================================================
// CAT-005 - Tipo de contingencia
// =============================================================================

const (
	ContingenciaNoDisponibilidadMH     = 1 // No disponibilidad de sistema del MH
	ContingenciaNoDisponibilidadEmisor = 2 // No disponibilidad de sistema del emisor
	ContingenciaInternet               = 3 // Falla en el suministro de servicio de Internet del emisor
	ContingenciaEnergia                = 4 // Falla en el suministro de servicio de energía eléctrica
	ContingenciaOtro                   = 5 // Otro (requiere motivo)
)

// =============================================================================
// CAT-007 - Tipo de generación del documento relacionado
// =============================================================================

const (
	GeneracionFisico      = 1 // Físico, pre-impreso
	GeneracionElectronico = 2 // Electrónico
)

// =============================================================================
// CAT-009 - Tipo de establecimiento
// =============================================================================

const (
	EstablecimientoSucursal   = "01"
	EstablecimientoCasaMatriz = "02"
	EstablecimientoBodega     = "04"
	EstablecimientoPatio      = "07"
)

// ValidEstablishmentTypes tipos de establecimiento aceptados.
var ValidEstablishmentTypes = map[string]bool{
	EstablecimientoSucursal:   true,
	EstablecimientoCasaMatriz: true,
	EstablecimientoBodega:     true,
	EstablecimientoPatio:      true,
}

// =============================================================================
// CAT-011 - Tipo de ítem
// =============================================================================

const (
	ItemBienes         = 1
	ItemServicios      = 2
	ItemBienesServicio = 3 // Ambos (bienes y servicios)
	ItemOtrosTributos  = 4 // Otros tributos por ítem
)

// =============================================================================
// CAT-014 - Unidad de medida (rango válido 1..99)
// =============================================================================

const (
	UnidadMetro  = 1
	UnidadKilo   = 34
	UnidadLitro  = 23
	UnidadUnidad = 59
	UnidadOtra   = 99

	unidadMin = 1
	unidadMax = 99
)

// ValidUnitOfMeasure indica si el código de unidad de medida está en el rango del catálogo.
func ValidUnitOfMeasure(code int) bool {
	return code >= unidadMin && code <= unidadMax
}

// =============================================================================
// CAT-015 - Tributos
// =============================================================================

const (
	TributoIVA         = "20" // Impuesto al Valor Agregado 13%
	TributoIVAExport   = "C3" // IVA exportaciones 0%
	TributoTurismo     = "59" // Turismo: por alojamiento (5%)
	TributoCombustible = "D1" // FOVIAL
)

// TributoDescriptions descripciones oficiales para el resumen.
var TributoDescriptions = map[string]string{
	TributoIVA:         "Impuesto al Valor Agregado 13%",
	TributoIVAExport:   "Impuesto al Valor Agregado (exportaciones) 0%",
	TributoTurismo:     "Turismo: por alojamiento (5%)",
	TributoCombustible: "Fondo de Conservación Vial (FOVIAL)",
}

// ValidTributo indica si el código de tributo está catalogado.
func ValidTributo(code string) bool {
	_, ok := TributoDescriptions[code]
	return ok
}

// =============================================================================
// CAT-016 - Condición de la operación
// =============================================================================

const (
	CondicionContado = 1
	CondicionCredito = 2
	CondicionOtro    = 3
)

// =============================================================================
// CAT-017 - Forma de pago
// =============================================================================

const (
	PagoBilletesMonedas = "01"
	PagoTarjetaDebito   = "02"
	PagoTarjetaCredito  = "03"
	PagoCheque          = "04"
	PagoTransferencia   = "05"
	PagoDineroElectr    = "08"
	PagoBitcoin         = "11"
	PagoOtros           = "99"
)

// ValidPaymentCodes formas de pago aceptadas.
var ValidPaymentCodes = map[string]bool{
	PagoBilletesMonedas: true, PagoTarjetaDebito: true, PagoTarjetaCredito: true,
	PagoCheque: true, PagoTransferencia: true, PagoDineroElectr: true,
	PagoBitcoin: true, PagoOtros: true,
}

// =============================================================================
// CAT-022 - Tipo de documento de identificación del receptor
// =============================================================================

const (
	DocNIT             = "36"
	DocDUI             = "13"
	DocOtro            = "37"
	DocPasaporte       = "03"
	DocCarnetResidente = "02"
)

// ValidReceiverDocTypes tipos de documento de identificación aceptados.
var ValidReceiverDocTypes = map[string]bool{
	DocNIT: true, DocDUI: true, DocOtro: true, DocPasaporte: true, DocCarnetResidente: true,
}

// =============================================================================
// CAT-024 - Tipo de invalidación
// =============================================================================

const (
	AnulacionErrorInformacion = 1 // Error en la información del DTE a invalidar (requiere reemplazo)
	AnulacionRescindir        = 2 // Rescindir de la operación realizada
	AnulacionOtro             = 3 // Otro (requiere motivo)
)

// ValidInvalidationType indica si el tipo de invalidación está en el catálogo.
func ValidInvalidationType(t int) bool {
	return t >= AnulacionErrorInformacion && t <= AnulacionOtro
}

// =============================================================================
// Moneda
// =============================================================================

const MonedaUSD = "USD"
