// Package pdf genera la representación gráfica de los DTE.
//
// Layout de la página carta:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Emisor + NIT/NRC    │  Tipo de DTE + fecha/hora    │
//	│  IDENTIFICACIÓN: código de generación, número de control     │
//	│  RECEPTOR: nombre + documento + contacto                     │
//	│  TABLA: Cant | Descripción | P.Unit | Desc. | Ventas         │
//	│  TOTALES: sumas / IVA / total a pagar + en letras            │
//	│  FOOTER: QR consulta pública + sello de recepción            │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 56, Blue: 147}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
	colorAlert   = &props.Color{Red: 180, Green: 30, Blue: 30}
)

var titles = map[string]string{
	mh.TipoDteFactura:     "FACTURA",
	mh.TipoDteCCF:         "COMPROBANTE DE CRÉDITO FISCAL",
	mh.TipoDteNotaCredito: "NOTA DE CRÉDITO",
}

var _ billing.DTEPDFGenerator = (*MarotoPDFGenerator)(nil)

// MarotoPDFGenerator implementa billing.DTEPDFGenerator usando Maroto v2.
type MarotoPDFGenerator struct{}

// NewMarotoPDFGenerator construye el generador.
func NewMarotoPDFGenerator() *MarotoPDFGenerator { return &MarotoPDFGenerator{} }

// GenerateDTEPDF genera el PDF y devuelve sus bytes.
func (g *MarotoPDFGenerator) GenerateDTEPDF(_ context.Context, p billing.PrintableDTE) ([]byte, error) {
	doc := p.Payload
	cfg := config.NewBuilder().
		WithPageSize(pagesize.Letter).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Documento Tributario Electrónico", true).
		WithAuthor(doc.Emisor.Nombre, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(doc))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(identificationRows(p)...)
	m.AddRows(receptorRow(doc.Receptor))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(doc.CuerpoDocumento)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(doc.Resumen))
	m.AddRows(row.New(6).Add(col.New(12).Add(
		text.New("SON: "+doc.Resumen.TotalLetras, props.Text{Size: 8, Top: 1, Style: fontstyle.Italic}),
	)))

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(footerRows(p)...)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return out.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func headerRow(doc *dte.Document) core.Row {
	em := doc.Emisor
	return row.New(22).Add(
		col.New(7).Add(
			text.New(em.Nombre, props.Text{Style: fontstyle.Bold, Size: 12, Color: colorPrimary, Top: 1}),
			text.New(fmt.Sprintf("NIT: %s   NRC: %s", em.NIT, em.NRC), props.Text{Size: 8, Top: 8, Color: colorGray}),
			text.New(em.DescActividad, props.Text{Size: 8, Top: 12, Color: colorGray}),
			text.New(fmt.Sprintf("%s   |   Tel: %s   |   %s", em.Direccion.Complemento, em.Telefono, em.Correo),
				props.Text{Size: 7, Top: 16, Color: colorGray}),
		),
		col.New(5).Add(
			text.New("DOCUMENTO TRIBUTARIO ELECTRÓNICO", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(titles[doc.Identificacion.TipoDte], "DTE "+doc.Identificacion.TipoDte), props.Text{
				Style: fontstyle.Bold, Size: 11, Align: align.Right, Top: 7,
			}),
			text.New(fmt.Sprintf("Fecha: %s %s", doc.Identificacion.FecEmi, doc.Identificacion.HorEmi), props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

func identificationRows(p billing.PrintableDTE) []core.Row {
	id := p.Payload.Identificacion
	ambiente := "PRODUCCIÓN"
	if id.Ambiente == mh.AmbientePruebas {
		ambiente = "PRUEBAS"
	}
	label := props.Text{Style: fontstyle.Bold, Size: 7, Top: 1}
	value := props.Text{Size: 7, Top: 1, Color: colorGray}
	return []core.Row{
		row.New(5).Add(
			col.New(3).Add(text.New("Código de generación:", label)),
			col.New(9).Add(text.New(id.CodigoGeneracion, value)),
		),
		row.New(5).Add(
			col.New(3).Add(text.New("Número de control:", label)),
			col.New(9).Add(text.New(id.NumeroControl, value)),
		),
		row.New(5).Add(
			col.New(3).Add(text.New("Modelo / ambiente:", label)),
			col.New(9).Add(text.New(fmt.Sprintf("Modelo %d, transmisión %d, %s", id.TipoModelo, id.TipoOperacion, ambiente), value)),
		),
	}
}

func receptorRow(r *dte.Receptor) core.Row {
	if r == nil {
		return row.New(8).Add(col.New(12).Add(
			text.New("RECEPTOR: consumidor final", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 2}),
		))
	}
	ident := deref(r.NIT)
	if ident == "" {
		ident = strings.TrimSpace(deref(r.TipoDocumento) + " " + deref(r.NumDocumento))
	}
	return row.New(16).Add(
		col.New(12).Add(
			text.New("RECEPTOR", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
			text.New(r.Nombre, props.Text{Style: fontstyle.Bold, Size: 10, Top: 5}),
			text.New(fmt.Sprintf("Documento: %s   |   NRC: %s   |   Email: %s   |   Tel: %s",
				nonEmpty(ident, "—"),
				nonEmpty(deref(r.NRC), "—"),
				nonEmpty(deref(r.Correo), "—"),
				nonEmpty(deref(r.Telefono), "—"),
			), props.Text{Size: 8, Top: 11, Color: colorGray}),
		),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a, Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Cant.", 1, align.Center),
		h("Descripción", 5, align.Left),
		h("P. Unit.", 2, align.Right),
		h("Desc.", 1, align.Right),
		h("Ventas", 3, align.Right),
	).WithStyle(&props.Cell{BackgroundColor: colorPrimary})
}

func tableDetailRows(items []dte.Item) []core.Row {
	out := make([]core.Row, 0, len(items))
	for _, it := range items {
		sales := it.VentaGravada.Add(it.VentaExenta.Decimal).Add(it.VentaNoSuj.Decimal)
		out = append(out, row.New(7).Add(
			col.New(1).Add(text.New(it.Cantidad.String(), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(5).Add(text.New(it.Descripcion, props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1})),
			col.New(2).Add(text.New("$"+formatMoney(it.PrecioUni.Decimal), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(1).Add(text.New(formatMoney(it.MontoDescu.Decimal), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(3).Add(text.New("$"+formatMoney(sales), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
		))
	}
	return out
}

func totalsRow(r dte.Resumen) core.Row {
	labels := []string{"Sumas:", "Descuentos:"}
	values := []decimal.Decimal{r.SubTotalVentas.Decimal, r.TotalDescu.Decimal}
	for _, t := range r.Tributos {
		labels = append(labels, t.Descripcion+":")
		values = append(values, t.Valor.Decimal)
	}
	if r.TotalIva != nil {
		labels = append(labels, "IVA incluido:")
		values = append(values, r.TotalIva.Decimal)
	}
	if r.IvaPerci1 != nil && !r.IvaPerci1.IsZero() {
		labels = append(labels, "IVA percibido:")
		values = append(values, r.IvaPerci1.Decimal)
	}
	if !r.IvaRete1.IsZero() {
		labels = append(labels, "IVA retenido:")
		values = append(values, r.IvaRete1.Decimal)
	}

	left := col.New(3)
	right := col.New(3)
	for i := range labels {
		top := float64(i * 4)
		left.Add(text.New(labels[i], props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Right, Right: 2, Top: top}))
		right.Add(text.New("$"+formatMoney(values[i]), props.Text{Size: 8, Align: align.Right, Right: 1, Top: top}))
	}
	top := float64(len(labels)*4 + 1)
	left.Add(text.New("TOTAL A PAGAR:", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 2, Top: top}))
	right.Add(text.New("$"+formatMoney(r.TotalPagar.Decimal), props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 1, Top: top}))

	return row.New(top+8).Add(col.New(6), left, right)
}

// footerRows QR a la consulta pública y estado de recepción en el MH.
func footerRows(p billing.PrintableDTE) []core.Row {
	stamp := p.Document.ReceptionStamp
	status := text.New("Sello de recepción:\n"+stamp, props.Text{Size: 8, Top: 4, Left: 3})
	if stamp == "" {
		status = text.New("DOCUMENTO SIN SELLO DE RECEPCIÓN\nEstado: "+string(p.Document.Status), props.Text{
			Style: fontstyle.Bold, Size: 8, Top: 4, Left: 3, Color: colorAlert,
		})
	}
	return []core.Row{
		row.New(40).Add(
			col.New(3).Add(code.NewQr(p.LookupURL, props.Rect{Percent: 95, Center: true})),
			col.New(9).Add(
				status,
				text.New("Escanee el código QR para verificar este documento\nen el portal de consulta pública del Ministerio de Hacienda.", props.Text{
					Size: 7, Top: 18, Left: 3, Color: colorGray,
				}),
			),
		),
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatMoney dos decimales con separador de miles.
// Ej: 1234567.5 → "1,234,567.50"
func formatMoney(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	n := len(intPart)
	buf := make([]byte, 0, n+n/3+4)
	if d.IsNegative() {
		buf = append(buf, '-')
	}
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, c)
	}
	return string(append(buf, frac...))
}
