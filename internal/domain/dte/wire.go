// Package dte contiene el formato de intercambio JSON de los DTE del MH (El Salvador)
// y sus validaciones de dominio: forma por tipo de documento y coherencia aritmética.
package dte

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// ── Tabla de mapeo por tipo de documento ─────────────────────────────────────

// ReceiverIdentity forma de identificar al receptor en el JSON.
type ReceiverIdentity int

const (
	ReceiverByDocument ReceiverIdentity = iota // tipoDocumento + numDocumento (FE)
	ReceiverByNIT                              // nit + nrc + nombreComercial (CCF, NC)
)

// ItemTaxShape forma de expresar los impuestos por ítem.
type ItemTaxShape int

const (
	ItemTaxIVAItem  ItemTaxShape = iota // ivaItem (IVA incluido en el precio)
	ItemTaxTributos                     // tributos []codigo (IVA se suma en el resumen)
)

// Schema describe las diferencias de forma del payload por tipo de documento.
type Schema struct {
	TipoDte          string
	Version          int
	Receiver         ReceiverIdentity
	ReceiverRequired bool
	ItemTax          ItemTaxShape
	SummaryTotalIVA  bool // resumen.totalIva (FE)
	SummaryPerceived bool // resumen.ivaPerci1 (CCF, NC)
	RelatedRequired  bool // documentoRelacionado obligatorio (NC)
	AllowsPayments   bool
}

var wireSchemas = map[entity.DocumentType]Schema{
	entity.DocumentTypeInvoice: {
		TipoDte: mh.TipoDteFactura, Version: mh.VersionFactura,
		Receiver: ReceiverByDocument, ReceiverRequired: false,
		ItemTax: ItemTaxIVAItem, SummaryTotalIVA: true,
		AllowsPayments: true,
	},
	entity.DocumentTypeFiscalCreditNote: {
		TipoDte: mh.TipoDteCCF, Version: mh.VersionCCF,
		Receiver: ReceiverByNIT, ReceiverRequired: true,
		ItemTax: ItemTaxTributos, SummaryPerceived: true,
		AllowsPayments: true,
	},
	entity.DocumentTypeCreditNote: {
		TipoDte: mh.TipoDteNotaCredito, Version: mh.VersionNotaCredito,
		Receiver: ReceiverByNIT, ReceiverRequired: true,
		ItemTax: ItemTaxTributos, SummaryPerceived: true,
		RelatedRequired: true,
	},
}

// SchemaFor devuelve la tabla de mapeo del tipo; false si el tipo no se emite por esta vía.
func SchemaFor(t entity.DocumentType) (Schema, bool) {
	s, ok := wireSchemas[t]
	return s, ok
}

// ── Documento ────────────────────────────────────────────────────────────────
// El orden de los campos de cada struct es el orden canónico del JSON.

type Document struct {
	Identificacion       Identificacion         `json:"identificacion"`
	DocumentoRelacionado []DocumentoRelacionado `json:"documentoRelacionado"`
	Emisor               Emisor                 `json:"emisor"`
	Receptor             *Receptor              `json:"receptor"`
	OtrosDocumentos      []OtroDocumento        `json:"otrosDocumentos"`
	VentaTercero         *VentaTercero          `json:"ventaTercero"`
	CuerpoDocumento      []Item                 `json:"cuerpoDocumento"`
	Resumen              Resumen                `json:"resumen"`
	Extension            *Extension             `json:"extension"`
	Apendice             []Apendice             `json:"apendice"`
}

type Identificacion struct {
	Version          int     `json:"version"`
	Ambiente         string  `json:"ambiente"`
	TipoDte          string  `json:"tipoDte"`
	NumeroControl    string  `json:"numeroControl"`
	CodigoGeneracion string  `json:"codigoGeneracion"`
	TipoModelo       int     `json:"tipoModelo"`
	TipoOperacion    int     `json:"tipoOperacion"`
	TipoContingencia *int    `json:"tipoContingencia"`
	MotivoContin     *string `json:"motivoContin"`
	FecEmi           string  `json:"fecEmi"`
	HorEmi           string  `json:"horEmi"`
	TipoMoneda       string  `json:"tipoMoneda"`
}

type DocumentoRelacionado struct {
	TipoDocumento   string `json:"tipoDocumento"`
	TipoGeneracion  int    `json:"tipoGeneracion"`
	NumeroDocumento string `json:"numeroDocumento"`
	FechaEmision    string `json:"fechaEmision"`
}

type Direccion struct {
	Departamento string `json:"departamento"`
	Municipio    string `json:"municipio"`
	Complemento  string `json:"complemento"`
}

type Emisor struct {
	NIT                 string    `json:"nit"`
	NRC                 string    `json:"nrc"`
	Nombre              string    `json:"nombre"`
	CodActividad        string    `json:"codActividad"`
	DescActividad       string    `json:"descActividad"`
	NombreComercial     *string   `json:"nombreComercial"`
	TipoEstablecimiento string    `json:"tipoEstablecimiento"`
	Direccion           Direccion `json:"direccion"`
	Telefono            string    `json:"telefono"`
	Correo              string    `json:"correo"`
	CodEstableMH        *string   `json:"codEstableMH"`
	CodEstable          *string   `json:"codEstable"`
	CodPuntoVentaMH     *string   `json:"codPuntoVentaMH"`
	CodPuntoVenta       *string   `json:"codPuntoVenta"`
}

// Receptor une ambas formas de identificación; los campos marcados omitempty solo
// aparecen en los tipos cuya tabla de mapeo los usa.
type Receptor struct {
	TipoDocumento   *string    `json:"tipoDocumento,omitempty"` // FE
	NumDocumento    *string    `json:"numDocumento,omitempty"`  // FE
	NIT             *string    `json:"nit,omitempty"`           // CCF, NC
	NRC             *string    `json:"nrc"`
	Nombre          string     `json:"nombre"`
	CodActividad    *string    `json:"codActividad"`
	DescActividad   *string    `json:"descActividad"`
	NombreComercial *string    `json:"nombreComercial,omitempty"` // CCF, NC
	Direccion       *Direccion `json:"direccion"`
	Telefono        *string    `json:"telefono"`
	Correo          *string    `json:"correo"`
}

type OtroDocumento struct {
	CodDocAsociado   int     `json:"codDocAsociado"`
	DescDocumento    *string `json:"descDocumento"`
	DetalleDocumento *string `json:"detalleDocumento"`
}

type VentaTercero struct {
	NIT    string `json:"nit"`
	Nombre string `json:"nombre"`
}

type Item struct {
	NumItem         int        `json:"numItem"`
	TipoItem        int        `json:"tipoItem"`
	NumeroDocumento *string    `json:"numeroDocumento"`
	Cantidad        mh.Precise `json:"cantidad"`
	Codigo          *string    `json:"codigo"`
	CodTributo      *string    `json:"codTributo"`
	UniMedida       int        `json:"uniMedida"`
	Descripcion     string     `json:"descripcion"`
	PrecioUni       mh.Precise `json:"precioUni"`
	MontoDescu      mh.Amount  `json:"montoDescu"`
	VentaNoSuj      mh.Amount  `json:"ventaNoSuj"`
	VentaExenta     mh.Amount  `json:"ventaExenta"`
	VentaGravada    mh.Amount  `json:"ventaGravada"`
	Tributos        []string   `json:"tributos"`
	Psv             mh.Amount  `json:"psv"`
	NoGravado       mh.Amount  `json:"noGravado"`
	IvaItem         *mh.Amount `json:"ivaItem,omitempty"` // FE
}

type Tributo struct {
	Codigo      string    `json:"codigo"`
	Descripcion string    `json:"descripcion"`
	Valor       mh.Amount `json:"valor"`
}

type Pago struct {
	Codigo     string    `json:"codigo"`
	MontoPago  mh.Amount `json:"montoPago"`
	Referencia *string   `json:"referencia"`
	Plazo      *string   `json:"plazo"`
	Periodo    *int      `json:"periodo"`
}

type Resumen struct {
	TotalNoSuj          mh.Amount  `json:"totalNoSuj"`
	TotalExenta         mh.Amount  `json:"totalExenta"`
	TotalGravada        mh.Amount  `json:"totalGravada"`
	SubTotalVentas      mh.Amount  `json:"subTotalVentas"`
	DescuNoSuj          mh.Amount  `json:"descuNoSuj"`
	DescuExenta         mh.Amount  `json:"descuExenta"`
	DescuGravada        mh.Amount  `json:"descuGravada"`
	PorcentajeDescuento mh.Amount  `json:"porcentajeDescuento"`
	TotalDescu          mh.Amount  `json:"totalDescu"`
	Tributos            []Tributo  `json:"tributos"`
	SubTotal            mh.Amount  `json:"subTotal"`
	IvaPerci1           *mh.Amount `json:"ivaPerci1,omitempty"` // CCF, NC
	IvaRete1            mh.Amount  `json:"ivaRete1"`
	ReteRenta           mh.Amount  `json:"reteRenta"`
	MontoTotalOperacion mh.Amount  `json:"montoTotalOperacion"`
	TotalNoGravado      mh.Amount  `json:"totalNoGravado"`
	TotalPagar          mh.Amount  `json:"totalPagar"`
	TotalLetras         string     `json:"totalLetras"`
	TotalIva            *mh.Amount `json:"totalIva,omitempty"` // FE
	SaldoFavor          mh.Amount  `json:"saldoFavor"`
	CondicionOperacion  int        `json:"condicionOperacion"`
	Pagos               []Pago     `json:"pagos"`
	NumPagoElectronico  *string    `json:"numPagoElectronico"`
}

type Extension struct {
	NombEntrega   *string `json:"nombEntrega"`
	DocuEntrega   *string `json:"docuEntrega"`
	NombRecibe    *string `json:"nombRecibe"`
	DocuRecibe    *string `json:"docuRecibe"`
	Observaciones *string `json:"observaciones"`
	PlacaVehiculo *string `json:"placaVehiculo"`
}

type Apendice struct {
	Campo    string `json:"campo"`
	Etiqueta string `json:"etiqueta"`
	Valor    string `json:"valor"`
}

// ── Evento de invalidación (esquema anulación v2) ─────────────────────────────

type InvalidationDocument struct {
	Identificacion InvalidationIdentificacion `json:"identificacion"`
	Emisor         InvalidationEmisor         `json:"emisor"`
	Documento      InvalidatedDocument        `json:"documento"`
	Motivo         InvalidationMotivo         `json:"motivo"`
}

type InvalidationIdentificacion struct {
	Version          int    `json:"version"`
	Ambiente         string `json:"ambiente"`
	CodigoGeneracion string `json:"codigoGeneracion"`
	FecAnula         string `json:"fecAnula"`
	HorAnula         string `json:"horAnula"`
}

type InvalidationEmisor struct {
	NIT                 string  `json:"nit"`
	Nombre              string  `json:"nombre"`
	TipoEstablecimiento string  `json:"tipoEstablecimiento"`
	NomEstablecimiento  *string `json:"nomEstablecimiento"`
	CodEstableMH        *string `json:"codEstableMH"`
	CodEstable          *string `json:"codEstable"`
	CodPuntoVentaMH     *string `json:"codPuntoVentaMH"`
	CodPuntoVenta       *string `json:"codPuntoVenta"`
	Telefono            *string `json:"telefono"`
	Correo              string  `json:"correo"`
}

type InvalidatedDocument struct {
	TipoDte           string     `json:"tipoDte"`
	CodigoGeneracion  string     `json:"codigoGeneracion"`
	SelloRecibido     string     `json:"selloRecibido"`
	NumeroControl     string     `json:"numeroControl"`
	FecEmi            string     `json:"fecEmi"`
	MontoIva          *mh.Amount `json:"montoIva"`
	CodigoGeneracionR *string    `json:"codigoGeneracionR"`
	TipoDocumento     *string    `json:"tipoDocumento"`
	NumDocumento      *string    `json:"numDocumento"`
	Nombre            *string    `json:"nombre"`
	Telefono          *string    `json:"telefono"`
	Correo            *string    `json:"correo"`
}

type InvalidationMotivo struct {
	TipoAnulacion     int     `json:"tipoAnulacion"`
	MotivoAnulacion   *string `json:"motivoAnulacion"`
	NombreResponsable string  `json:"nombreResponsable"`
	TipDocResponsable string  `json:"tipDocResponsable"`
	NumDocResponsable string  `json:"numDocResponsable"`
	NombreSolicita    string  `json:"nombreSolicita"`
	TipDocSolicita    string  `json:"tipDocSolicita"`
	NumDocSolicita    string  `json:"numDocSolicita"`
}

// ── Codificación canónica ────────────────────────────────────────────────────

// Encode serializa v de forma canónica: orden de struct, montos a 2 decimales y
// sin escapar caracteres HTML.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("dte: codificar payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode lee un DTE de emisión desde su JSON canónico.
func Decode(b []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("dte: decodificar payload: %w", err)
	}
	return &doc, nil
}

// DecodeInvalidation lee un evento de invalidación desde su JSON canónico.
func DecodeInvalidation(b []byte) (*InvalidationDocument, error) {
	var doc InvalidationDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("dte: decodificar invalidación: %w", err)
	}
	return &doc, nil
}
