package dte

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/mh"
)

const (
	maxItems       = 2000
	maxDescription = 1000
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
)

var (
	reGenerationCode = regexp.MustCompile(`^[A-F0-9]{8}-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{12}$`)

	ivaRate      = decimal.RequireFromString("0.13")
	ivaIncluded  = decimal.RequireFromString("1.13")
	oneHundred   = decimal.NewFromInt(100)
	relatedForNC = map[string]bool{mh.TipoDteCCF: true, "07": true}
)

// IncludedIVA IVA contenido en una venta gravada con precio IVA incluido (FE).
func IncludedIVA(taxedSale decimal.Decimal) decimal.Decimal {
	return mh.Round2(taxedSale.Mul(ivaRate).Div(ivaIncluded))
}

// IVAOn IVA al 13% sobre una base gravada (CCF, NC).
func IVAOn(base decimal.Decimal) decimal.Decimal {
	return mh.Round2(base.Mul(ivaRate))
}

// ValidGenerationCode indica si s es un codigoGeneracion válido (UUID en mayúsculas).
func ValidGenerationCode(s string) bool {
	return reGenerationCode.MatchString(s)
}

// Validate revisa forma y aritmética del DTE según la tabla de mapeo de su tipo.
// Devuelve todas las violaciones encontradas, no solo la primera.
func Validate(doc *Document, t entity.DocumentType) *domain.ValidationError {
	verr := &domain.ValidationError{}
	schema, ok := SchemaFor(t)
	if !ok {
		verr.Add("type", "tipo de documento %q no se emite por esta vía", t)
		return verr
	}
	validateIdentificacion(verr, &doc.Identificacion, schema)
	validateEmisor(verr, &doc.Emisor)
	validateReceptor(verr, doc.Receptor, schema)
	validateRelated(verr, doc.DocumentoRelacionado, schema)
	if doc.VentaTercero != nil {
		if !mh.ValidNIT(doc.VentaTercero.NIT) {
			verr.Add("ventaTercero.nit", "NIT inválido")
		}
		if doc.VentaTercero.Nombre == "" {
			verr.Add("ventaTercero.nombre", "requerido")
		}
	}
	sales := validateItems(verr, doc, schema)
	validateResumen(verr, &doc.Resumen, doc.CuerpoDocumento, sales, schema)
	return verr
}

func validateIdentificacion(verr *domain.ValidationError, id *Identificacion, schema Schema) {
	if id.Version != schema.Version {
		verr.Add("identificacion.version", "debe ser %d", schema.Version)
	}
	if id.Ambiente != mh.AmbientePruebas && id.Ambiente != mh.AmbienteProduccion {
		verr.Add("identificacion.ambiente", "debe ser %s o %s", mh.AmbientePruebas, mh.AmbienteProduccion)
	}
	if id.TipoDte != schema.TipoDte {
		verr.Add("identificacion.tipoDte", "debe ser %s", schema.TipoDte)
	}
	if id.NumeroControl != "" && !mh.ValidControlNumber(id.NumeroControl) {
		verr.Add("identificacion.numeroControl", "formato inválido")
	}
	if id.CodigoGeneracion != "" && !ValidGenerationCode(id.CodigoGeneracion) {
		verr.Add("identificacion.codigoGeneracion", "debe ser un UUID en mayúsculas")
	}
	if id.TipoModelo != mh.ModeloPrevio && id.TipoModelo != mh.ModeloDiferido {
		verr.Add("identificacion.tipoModelo", "valor fuera de catálogo")
	}
	switch id.TipoOperacion {
	case mh.OperacionNormal:
		if id.TipoContingencia != nil {
			verr.Add("identificacion.tipoContingencia", "solo aplica a transmisión por contingencia")
		}
	case mh.OperacionContingencia:
		if id.TipoContingencia == nil {
			verr.Add("identificacion.tipoContingencia", "requerido en contingencia")
		} else if *id.TipoContingencia == mh.ContingenciaOtro && (id.MotivoContin == nil || *id.MotivoContin == "") {
			verr.Add("identificacion.motivoContin", "requerido para contingencia tipo 5")
		}
	default:
		verr.Add("identificacion.tipoOperacion", "valor fuera de catálogo")
	}
	if _, err := time.Parse(dateLayout, id.FecEmi); err != nil {
		verr.Add("identificacion.fecEmi", "fecha inválida, formato AAAA-MM-DD")
	}
	if _, err := time.Parse(timeLayout, id.HorEmi); err != nil {
		verr.Add("identificacion.horEmi", "hora inválida, formato HH:MM:SS")
	}
	if id.TipoMoneda != mh.MonedaUSD {
		verr.Add("identificacion.tipoMoneda", "debe ser USD")
	}
}

func validateEmisor(verr *domain.ValidationError, e *Emisor) {
	if !mh.ValidNIT(e.NIT) {
		verr.Add("emisor.nit", "NIT inválido")
	}
	if !mh.ValidNRC(e.NRC) {
		verr.Add("emisor.nrc", "NRC inválido")
	}
	if e.Nombre == "" {
		verr.Add("emisor.nombre", "requerido")
	}
	if !mh.ValidActivityCode(e.CodActividad) {
		verr.Add("emisor.codActividad", "código de actividad inválido")
	}
	if !mh.ValidEstablishmentTypes[e.TipoEstablecimiento] {
		verr.Add("emisor.tipoEstablecimiento", "valor fuera de catálogo")
	}
	validateDireccion(verr, "emisor.direccion", &e.Direccion)
	if !mh.ValidPhone(e.Telefono) {
		verr.Add("emisor.telefono", "teléfono inválido")
	}
	if !mh.ValidEmail(e.Correo) {
		verr.Add("emisor.correo", "correo inválido")
	}
}

func validateDireccion(verr *domain.ValidationError, field string, d *Direccion) {
	if !mh.ValidDepartment(d.Departamento) {
		verr.Add(field+".departamento", "departamento inválido")
	}
	if !mh.ValidMunicipality(d.Municipio) {
		verr.Add(field+".municipio", "municipio inválido")
	}
	if d.Complemento == "" {
		verr.Add(field+".complemento", "requerido")
	}
}

func validateReceptor(verr *domain.ValidationError, r *Receptor, schema Schema) {
	if r == nil {
		if schema.ReceiverRequired {
			verr.Add("receptor", "requerido para este tipo de documento")
		}
		return
	}
	if r.Nombre == "" {
		verr.Add("receptor.nombre", "requerido")
	}
	switch schema.Receiver {
	case ReceiverByDocument:
		if r.NIT != nil {
			verr.Add("receptor.nit", "no aplica; use tipoDocumento/numDocumento")
		}
		if r.NombreComercial != nil {
			verr.Add("receptor.nombreComercial", "no aplica a este tipo de documento")
		}
		if r.TipoDocumento != nil || r.NumDocumento != nil {
			if r.TipoDocumento == nil || r.NumDocumento == nil {
				verr.Add("receptor.numDocumento", "tipoDocumento y numDocumento van juntos")
			} else if err := mh.ValidateReceiverDocument(*r.TipoDocumento, *r.NumDocumento); err != nil {
				verr.Add("receptor.numDocumento", "%s", err.Error())
			}
		}
		if r.NRC != nil && !mh.ValidNRC(*r.NRC) {
			verr.Add("receptor.nrc", "NRC inválido")
		}
	case ReceiverByNIT:
		if r.TipoDocumento != nil || r.NumDocumento != nil {
			verr.Add("receptor.tipoDocumento", "no aplica; use nit/nrc")
		}
		if r.NIT == nil || !mh.ValidNIT(*r.NIT) {
			verr.Add("receptor.nit", "NIT inválido o ausente")
		}
		if r.NRC == nil || !mh.ValidNRC(*r.NRC) {
			verr.Add("receptor.nrc", "NRC inválido o ausente")
		}
		if r.CodActividad == nil || !mh.ValidActivityCode(*r.CodActividad) {
			verr.Add("receptor.codActividad", "código de actividad inválido o ausente")
		}
		if r.DescActividad == nil || *r.DescActividad == "" {
			verr.Add("receptor.descActividad", "requerido")
		}
		if r.Direccion == nil {
			verr.Add("receptor.direccion", "requerido")
		}
		if r.Correo == nil {
			verr.Add("receptor.correo", "requerido")
		}
	}
	if r.CodActividad != nil && schema.Receiver == ReceiverByDocument && !mh.ValidActivityCode(*r.CodActividad) {
		verr.Add("receptor.codActividad", "código de actividad inválido")
	}
	if r.Direccion != nil {
		validateDireccion(verr, "receptor.direccion", r.Direccion)
	}
	if r.Telefono != nil && !mh.ValidPhone(*r.Telefono) {
		verr.Add("receptor.telefono", "teléfono inválido")
	}
	if r.Correo != nil && !mh.ValidEmail(*r.Correo) {
		verr.Add("receptor.correo", "correo inválido")
	}
}

func validateRelated(verr *domain.ValidationError, related []DocumentoRelacionado, schema Schema) {
	if schema.RelatedRequired && len(related) == 0 {
		verr.Add("documentoRelacionado", "requerido para este tipo de documento")
	}
	for i, r := range related {
		field := fmt.Sprintf("documentoRelacionado[%d]", i)
		if schema.RelatedRequired && !relatedForNC[r.TipoDocumento] {
			verr.Add(field+".tipoDocumento", "debe ser un CCF (03) o comprobante de retención (07)")
		} else if r.TipoDocumento == "" {
			verr.Add(field+".tipoDocumento", "requerido")
		}
		if r.TipoGeneracion != mh.GeneracionFisico && r.TipoGeneracion != mh.GeneracionElectronico {
			verr.Add(field+".tipoGeneracion", "valor fuera de catálogo")
		}
		if r.NumeroDocumento == "" {
			verr.Add(field+".numeroDocumento", "requerido")
		}
		if _, err := time.Parse(dateLayout, r.FechaEmision); err != nil {
			verr.Add(field+".fechaEmision", "fecha inválida, formato AAAA-MM-DD")
		}
	}
}

// validateItems revisa cada ítem y devuelve la suma de sus ventas (no sujetas + exentas + gravadas).
func validateItems(verr *domain.ValidationError, doc *Document, schema Schema) decimal.Decimal {
	items := doc.CuerpoDocumento
	if len(items) == 0 {
		verr.Add("cuerpoDocumento", "debe contener al menos un ítem")
	}
	if len(items) > maxItems {
		verr.Add("cuerpoDocumento", "máximo %d ítems", maxItems)
	}
	relatedNumbers := make(map[string]bool, len(doc.DocumentoRelacionado))
	for _, r := range doc.DocumentoRelacionado {
		relatedNumbers[r.NumeroDocumento] = true
	}

	total := decimal.Zero
	for i := range items {
		it := &items[i]
		field := fmt.Sprintf("cuerpoDocumento[%d]", i)
		if it.NumItem != i+1 {
			verr.Add(field+".numItem", "debe ser %d", i+1)
		}
		if it.TipoItem < mh.ItemBienes || it.TipoItem > mh.ItemOtrosTributos {
			verr.Add(field+".tipoItem", "valor fuera de catálogo")
		}
		if !it.Cantidad.IsPositive() {
			verr.Add(field+".cantidad", "debe ser mayor que cero")
		}
		if !mh.ValidUnitOfMeasure(it.UniMedida) {
			verr.Add(field+".uniMedida", "valor fuera de catálogo")
		}
		if it.Descripcion == "" || len([]rune(it.Descripcion)) > maxDescription {
			verr.Add(field+".descripcion", "requerida, máximo %d caracteres", maxDescription)
		}
		checkNonNegative(verr, field+".", []namedAmount{
			{"precioUni", it.PrecioUni.Decimal}, {"montoDescu", it.MontoDescu.Decimal},
			{"ventaNoSuj", it.VentaNoSuj.Decimal}, {"ventaExenta", it.VentaExenta.Decimal},
			{"ventaGravada", it.VentaGravada.Decimal}, {"psv", it.Psv.Decimal},
		})

		gross := it.Cantidad.Mul(it.PrecioUni.Decimal)
		if it.MontoDescu.GreaterThan(gross) {
			verr.Add(field+".montoDescu", "descuento excede cantidad*precioUni")
		}
		expected := mh.Round2(gross.Sub(it.MontoDescu.Decimal))
		sale := it.VentaNoSuj.Add(it.VentaExenta.Decimal).Add(it.VentaGravada.Decimal)
		if !mh.WithinEpsilon(sale, expected) {
			verr.Add(field+".ventaGravada", "ventas del ítem (%s) no coinciden con cantidad*precioUni-montoDescu (%s)",
				sale.StringFixed(2), expected.StringFixed(2))
		}
		total = total.Add(sale)

		switch schema.ItemTax {
		case ItemTaxIVAItem:
			if it.Tributos != nil {
				verr.Add(field+".tributos", "no aplica; use ivaItem")
			}
			if it.IvaItem == nil {
				verr.Add(field+".ivaItem", "requerido")
			} else {
				want := IncludedIVA(it.VentaGravada.Decimal)
				if !mh.WithinEpsilon(it.IvaItem.Decimal, want) {
					verr.Add(field+".ivaItem", "IVA incluido esperado %s", want.StringFixed(2))
				}
			}
		case ItemTaxTributos:
			if it.IvaItem != nil {
				verr.Add(field+".ivaItem", "no aplica; use tributos")
			}
			if it.VentaGravada.IsPositive() && len(it.Tributos) == 0 {
				verr.Add(field+".tributos", "requerido cuando hay venta gravada")
			}
			for _, code := range it.Tributos {
				if !mh.ValidTributo(code) {
					verr.Add(field+".tributos", "tributo %q fuera de catálogo", code)
				}
			}
		}

		if schema.RelatedRequired {
			if it.NumeroDocumento == nil || !relatedNumbers[*it.NumeroDocumento] {
				verr.Add(field+".numeroDocumento", "debe referir a un documentoRelacionado")
			}
		}
	}
	return total
}

func validateResumen(verr *domain.ValidationError, r *Resumen, items []Item, sales decimal.Decimal, schema Schema) {
	var noSuj, exenta, gravada, ivaItems decimal.Decimal
	for _, it := range items {
		noSuj = noSuj.Add(it.VentaNoSuj.Decimal)
		exenta = exenta.Add(it.VentaExenta.Decimal)
		gravada = gravada.Add(it.VentaGravada.Decimal)
		if it.IvaItem != nil {
			ivaItems = ivaItems.Add(it.IvaItem.Decimal)
		}
	}
	check := func(field string, declared, expected decimal.Decimal) {
		if !mh.WithinEpsilon(declared, expected) {
			verr.Add("resumen."+field, "declarado %s, calculado %s", declared.StringFixed(2), mh.Round2(expected).StringFixed(2))
		}
	}
	check("totalNoSuj", r.TotalNoSuj.Decimal, noSuj)
	check("totalExenta", r.TotalExenta.Decimal, exenta)
	check("totalGravada", r.TotalGravada.Decimal, gravada)
	check("subTotalVentas", r.SubTotalVentas.Decimal, sales)

	totalDescu := r.DescuNoSuj.Add(r.DescuExenta.Decimal).Add(r.DescuGravada.Decimal)
	check("totalDescu", r.TotalDescu.Decimal, totalDescu)
	check("subTotal", r.SubTotal.Decimal, r.SubTotalVentas.Sub(r.TotalDescu.Decimal))

	if r.PorcentajeDescuento.IsNegative() || r.PorcentajeDescuento.GreaterThan(oneHundred) {
		verr.Add("resumen.porcentajeDescuento", "debe estar entre 0 y 100")
	}

	tributos := decimal.Zero
	var hasIVA bool
	for i, t := range r.Tributos {
		if !mh.ValidTributo(t.Codigo) {
			verr.Add(fmt.Sprintf("resumen.tributos[%d].codigo", i), "tributo fuera de catálogo")
		}
		if t.Codigo == mh.TributoIVA {
			hasIVA = true
			if schema.ItemTax == ItemTaxTributos {
				check(fmt.Sprintf("tributos[%d].valor", i), t.Valor.Decimal, IVAOn(gravada.Sub(r.DescuGravada.Decimal)))
			}
		}
		tributos = tributos.Add(t.Valor.Decimal)
	}
	switch schema.ItemTax {
	case ItemTaxIVAItem:
		if hasIVA {
			verr.Add("resumen.tributos", "el IVA va incluido en precios; use totalIva")
		}
	case ItemTaxTributos:
		if gravada.IsPositive() && !hasIVA {
			verr.Add("resumen.tributos", "falta el tributo IVA (20) sobre la venta gravada")
		}
	}
	check("montoTotalOperacion", r.MontoTotalOperacion.Decimal, r.SubTotal.Add(tributos))

	perception := decimal.Zero
	if schema.SummaryPerceived {
		if r.IvaPerci1 == nil {
			verr.Add("resumen.ivaPerci1", "requerido")
		} else {
			perception = r.IvaPerci1.Decimal
		}
	} else if r.IvaPerci1 != nil {
		verr.Add("resumen.ivaPerci1", "no aplica a este tipo de documento")
	}
	if schema.SummaryTotalIVA {
		if r.TotalIva == nil {
			verr.Add("resumen.totalIva", "requerido")
		} else {
			check("totalIva", r.TotalIva.Decimal, ivaItems)
		}
	} else if r.TotalIva != nil {
		verr.Add("resumen.totalIva", "no aplica a este tipo de documento")
	}

	expectedPagar := r.MontoTotalOperacion.Add(r.TotalNoGravado.Decimal).
		Sub(r.IvaRete1.Decimal).Sub(r.ReteRenta.Decimal).Add(perception)
	check("totalPagar", r.TotalPagar.Decimal, expectedPagar)

	checkNonNegative(verr, "resumen.", []namedAmount{
		{"ivaRete1", r.IvaRete1.Decimal}, {"reteRenta", r.ReteRenta.Decimal},
		{"totalPagar", r.TotalPagar.Decimal}, {"saldoFavor", r.SaldoFavor.Decimal},
	})
	if r.TotalLetras == "" {
		verr.Add("resumen.totalLetras", "requerido")
	}
	if r.CondicionOperacion < mh.CondicionContado || r.CondicionOperacion > mh.CondicionOtro {
		verr.Add("resumen.condicionOperacion", "valor fuera de catálogo")
	}

	if !schema.AllowsPayments {
		if len(r.Pagos) > 0 {
			verr.Add("resumen.pagos", "no aplica a este tipo de documento")
		}
		return
	}
	paid := decimal.Zero
	for i, p := range r.Pagos {
		if !mh.ValidPaymentCodes[p.Codigo] {
			verr.Add(fmt.Sprintf("resumen.pagos[%d].codigo", i), "forma de pago fuera de catálogo")
		}
		if !p.MontoPago.IsPositive() {
			verr.Add(fmt.Sprintf("resumen.pagos[%d].montoPago", i), "debe ser mayor que cero")
		}
		paid = paid.Add(p.MontoPago.Decimal)
	}
	if r.CondicionOperacion == mh.CondicionContado {
		if len(r.Pagos) == 0 {
			verr.Add("resumen.pagos", "requerido para operación al contado")
		} else {
			check("pagos", paid, r.TotalPagar.Decimal)
		}
	}
}

type namedAmount struct {
	name  string
	value decimal.Decimal
}

// checkNonNegative reporta en el orden dado, para que el cuerpo del 400 sea estable.
func checkNonNegative(verr *domain.ValidationError, prefix string, amounts []namedAmount) {
	for _, a := range amounts {
		if a.value.IsNegative() {
			verr.Add(prefix+a.name, "no puede ser negativo")
		}
	}
}
