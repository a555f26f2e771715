package pdf

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/mh"
)

func TestFormatMoney(t *testing.T) {
	cases := map[string]string{
		"0":          "0.00",
		"5.5":        "5.50",
		"1234":       "1,234.00",
		"1234567.5":  "1,234,567.50",
		"-1000.123":  "-1,000.12",
		"999.999":    "1,000.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatMoney(decimal.RequireFromString(in)), in)
	}
}

func TestGenerateDTEPDF(t *testing.T) {
	amt := func(s string) mh.Amount { return mh.NewAmount(decimal.RequireFromString(s)) }
	name := "Cliente"
	payload := &dte.Document{
		Identificacion: dte.Identificacion{Version: 1, Ambiente: mh.AmbientePruebas, TipoDte: mh.TipoDteFactura,
			NumeroControl: "DTE-01-M001P001-000000000000001", CodigoGeneracion: "0C0D3E2A-5B1F-4C6E-9A7D-2F3B4C5D6E7F",
			TipoModelo: 1, TipoOperacion: 1, FecEmi: "2024-05-10", HorEmi: "10:00:00", TipoMoneda: "USD"},
		Emisor:   dte.Emisor{NIT: "06141234567890", NRC: "123456", Nombre: "El Pino", DescActividad: "Venta"},
		Receptor: &dte.Receptor{Nombre: name},
		CuerpoDocumento: []dte.Item{{NumItem: 1, TipoItem: 1, Cantidad: mh.NewPrecise(decimal.NewFromInt(2)),
			Descripcion: "Lápiz", PrecioUni: mh.NewPrecise(decimal.RequireFromString("5")), VentaGravada: amt("10")}},
		Resumen: dte.Resumen{SubTotalVentas: amt("10"), TotalPagar: amt("10"), TotalLetras: "DIEZ 00/100 USD",
			TotalIva: mh.AmountPtr(decimal.RequireFromString("1.15"))},
	}
	doc := &entity.DTEDocument{DTEID: payload.Identificacion.CodigoGeneracion, Status: entity.DTEStatusContingencyPending}

	out, err := NewMarotoPDFGenerator().GenerateDTEPDF(context.Background(), billing.PrintableDTE{
		Document: doc, Payload: payload,
		LookupURL: mh.PublicLookupURL(mh.AmbientePruebas, doc.DTEID, "2024-05-10"),
	})
	require.NoError(t, err)
	require.Greater(t, len(out), 4)
	assert.Equal(t, "%PDF", string(out[:4]))
}
