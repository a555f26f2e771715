package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/mh"
)

// EnvironmentCode traduce el ambiente de la solicitud al código CAT-001.
func EnvironmentCode(env string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case dto.EnvironmentTest:
		return mh.AmbientePruebas, true
	case dto.EnvironmentProduction:
		return mh.AmbienteProduccion, true
	}
	return "", false
}

// NewGenerationCode codigoGeneracion: UUID v4 en mayúsculas.
func NewGenerationCode() string {
	return strings.ToUpper(uuid.NewString())
}

// DocumentBuilder valida solicitudes de emisión, arma el payload canónico y asigna
// el número de control dentro de la misma transacción que persiste el documento.
type DocumentBuilder struct {
	tx    DTETxRunner
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewDocumentBuilder construye el builder.
func NewDocumentBuilder(tx DTETxRunner, log zerolog.Logger) *DocumentBuilder {
	return &DocumentBuilder{tx: tx, log: log, now: time.Now, newID: NewGenerationCode}
}

// Build devuelve el documento en estado BUILT o un *domain.ValidationError con todas
// las violaciones encontradas. Nada se persiste si la solicitud no es válida.
func (b *DocumentBuilder) Build(ctx context.Context, emitter *entity.Emitter, req dto.IssuanceRequest) (*entity.DTEDocument, error) {
	verr := &domain.ValidationError{}
	schema, ok := dte.SchemaFor(req.Type)
	if !ok {
		verr.Add("type", "tipo %q no válido; use invoice, ccf o credit_note", req.Type)
		return nil, verr
	}
	ambiente, ok := EnvironmentCode(req.Environment)
	if !ok {
		verr.Add("environment", "debe ser %s o %s", dto.EnvironmentTest, dto.EnvironmentProduction)
	}
	if !mh.ValidEstablishmentCode(req.EstablishmentCode) {
		verr.Add("emisor.codEstable", "código de establecimiento inválido (4 caracteres alfanuméricos)")
	}
	if !mh.ValidEstablishmentCode(req.POSCode) {
		verr.Add("emisor.codPuntoVenta", "código de punto de venta inválido (4 caracteres alfanuméricos)")
	}

	now := b.now()
	doc := mapDocument(emitter, req, schema, ambiente, now)
	verr.Merge(dte.Validate(doc, req.Type))
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	rec := &entity.DTEDocument{
		UserID:            emitter.ID,
		UserName:          emitter.Name,
		ClientID:          req.ClientID,
		Type:              req.Type,
		GenerationType:    doc.Identificacion.TipoModelo,
		OperationType:     doc.Identificacion.TipoOperacion,
		Environment:       ambiente,
		EstablishmentCode: req.EstablishmentCode,
		POSCode:           req.POSCode,
		TotalAmount:       doc.Resumen.TotalPagar.Decimal,
		Status:            entity.DTEStatusBuilt,
		SendToAuthority:   req.SendToAuthority,
		IssuedAt:          now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	year := controlYear(emitter, now)
	number := func(seq int64) (string, error) {
		return mh.FormatControlNumber(schema.TipoDte, req.EstablishmentCode, req.POSCode, seq, year)
	}
	encode := func(id, controlNumber string) ([]byte, error) {
		doc.Identificacion.CodigoGeneracion = id
		doc.Identificacion.NumeroControl = controlNumber
		return dte.Encode(doc)
	}
	if err := b.persist(ctx, rec, nil, number, encode); err != nil {
		return nil, err
	}
	b.log.Info().Str("dte_id", rec.DTEID).Str("control_number", rec.ControlNumber).
		Str("user_id", rec.UserID).Str("type", string(rec.Type)).Msg("dte construido")
	return rec, nil
}

// BuildInvalidation arma el evento de invalidación (esquema anulación v2) para un
// original aceptado. Las reglas del motivo se verifican antes de llegar aquí; el estado
// del original y las invalidaciones previas se comprueban de nuevo, con la fila bloqueada,
// dentro de la transacción que asigna el correlativo.
func (b *DocumentBuilder) BuildInvalidation(ctx context.Context, emitter *entity.Emitter, original *entity.DTEDocument, req entity.InvalidationRequest) (*entity.DTEDocument, error) {
	src, err := dte.Decode(original.Payload)
	if err != nil {
		return nil, fmt.Errorf("billing: payload del original %s: %w", original.DTEID, err)
	}
	now := b.now()
	fecha, hora := mh.IssueDateTime(now)
	ev := &dte.InvalidationDocument{
		Identificacion: dte.InvalidationIdentificacion{
			Version:  mh.VersionAnulacion,
			Ambiente: original.Environment,
			FecAnula: fecha,
			HorAnula: hora,
		},
		Emisor: dte.InvalidationEmisor{
			NIT:                 emitter.NIT,
			Nombre:              mh.NormalizeText(emitter.Name),
			TipoEstablecimiento: emitter.EstablishmentType,
			NomEstablecimiento:  mh.NormalizePtr(emitter.TradeName),
			CodEstable:          mh.NormalizePtr(original.EstablishmentCode),
			CodPuntoVenta:       mh.NormalizePtr(original.POSCode),
			Telefono:            mh.NormalizePtr(emitter.Phone),
			Correo:              emitter.Email,
		},
		Documento: dte.InvalidatedDocument{
			TipoDte:           original.Type.Code(),
			CodigoGeneracion:  original.DTEID,
			SelloRecibido:     original.ReceptionStamp,
			NumeroControl:     original.ControlNumber,
			FecEmi:            src.Identificacion.FecEmi,
			MontoIva:          documentIVA(src),
			CodigoGeneracionR: mh.NormalizePtr(req.ReplacementDTEID),
		},
		Motivo: dte.InvalidationMotivo{
			TipoAnulacion:     req.Reason.Type,
			MotivoAnulacion:   mh.NormalizePtr(req.Reason.Reason),
			NombreResponsable: mh.NormalizeText(req.Reason.ResponsibleName),
			TipDocResponsable: req.Reason.ResponsibleDocType,
			NumDocResponsable: strings.TrimSpace(req.Reason.ResponsibleDocNumber),
			NombreSolicita:    mh.NormalizeText(req.Reason.RequestorName),
			TipDocSolicita:    req.Reason.RequestorDocType,
			NumDocSolicita:    strings.TrimSpace(req.Reason.RequestorDocNumber),
		},
	}
	if r := src.Receptor; r != nil {
		d := &ev.Documento
		d.Nombre = &r.Nombre
		d.Telefono = r.Telefono
		d.Correo = r.Correo
		switch {
		case r.TipoDocumento != nil:
			d.TipoDocumento, d.NumDocumento = r.TipoDocumento, r.NumDocumento
		case r.NIT != nil:
			docType := mh.DocNIT
			d.TipoDocumento, d.NumDocumento = &docType, r.NIT
		}
	}

	rec := &entity.DTEDocument{
		UserID:            emitter.ID,
		UserName:          emitter.Name,
		ClientID:          original.ClientID,
		Type:              entity.DocumentTypeInvalidation,
		GenerationType:    mh.ModeloPrevio,
		OperationType:     mh.OperacionNormal,
		Environment:       original.Environment,
		EstablishmentCode: original.EstablishmentCode,
		POSCode:           original.POSCode,
		TotalAmount:       decimal.Zero,
		Status:            entity.DTEStatusBuilt,
		RelatedDTEID:      original.DTEID,
		ReplacementDTEID:  req.ReplacementDTEID,
		SendToAuthority:   true,
		IssuedAt:          now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	year := controlYear(emitter, now)
	number := func(seq int64) (string, error) {
		return mh.FormatInvalidationNumber(original.EstablishmentCode, original.POSCode, seq, year)
	}
	encode := func(id, _ string) ([]byte, error) {
		ev.Identificacion.CodigoGeneracion = id
		return dte.Encode(ev)
	}
	guard := func(ctx context.Context, docs repository.DTERepository) error {
		return checkInvalidable(ctx, docs, original.DTEID)
	}
	if err := b.persist(ctx, rec, guard, number, encode); err != nil {
		return nil, err
	}
	b.log.Info().Str("dte_id", rec.DTEID).Str("related_dte_id", original.DTEID).
		Str("user_id", rec.UserID).Msg("invalidación construida")
	return rec, nil
}

// persist asigna correlativo e inserta en una sola transacción. guard, si no es nil, corre
// primero dentro de la misma transacción. Un SequenceConflict se reintenta una sola vez,
// con el contador adelantado más allá del número que chocó.
func (b *DocumentBuilder) persist(
	ctx context.Context,
	rec *entity.DTEDocument,
	guard func(ctx context.Context, docs repository.DTERepository) error,
	number func(seq int64) (string, error),
	encode func(id, controlNumber string) ([]byte, error),
) error {
	var taken int64
	attempt := func(floor int64) error {
		return b.tx.RunDTE(ctx, func(docs repository.DTERepository, seqs repository.SequenceRepository, _ repository.TransmissionRepository) error {
			if guard != nil {
				if err := guard(ctx, docs); err != nil {
					return err
				}
			}
			if floor > 0 {
				if err := seqs.Advance(ctx, rec.Scope(), floor); err != nil {
					return err
				}
			}
			seq, err := seqs.Next(ctx, rec.Scope())
			if err != nil {
				return err
			}
			taken = seq
			controlNumber, err := number(seq)
			if err != nil {
				return err
			}
			id := b.newID()
			payload, err := encode(id, controlNumber)
			if err != nil {
				return err
			}
			rec.ID = 0
			rec.DTEID = id
			rec.Sequence = seq
			rec.ControlNumber = controlNumber
			rec.Payload = payload
			return docs.Create(ctx, rec)
		})
	}
	err := attempt(0)
	var conflict *domain.SequenceConflict
	if errors.As(err, &conflict) {
		b.log.Warn().Str("scope", conflict.Scope).Str("control_number", conflict.ControlNumber).
			Msg("conflicto de correlativo, reintentando con nueva asignación")
		err = attempt(taken)
	}
	if err != nil {
		return fmt.Errorf("billing: persistir dte: %w", err)
	}
	return nil
}

func controlYear(emitter *entity.Emitter, now time.Time) int {
	if emitter.ControlNumberIncludesYear {
		return now.In(mh.Location).Year()
	}
	return 0
}

// documentIVA IVA del documento original para montoIva del evento de invalidación.
func documentIVA(doc *dte.Document) *mh.Amount {
	if doc.Resumen.TotalIva != nil {
		return mh.AmountPtr(doc.Resumen.TotalIva.Decimal)
	}
	for _, t := range doc.Resumen.Tributos {
		if t.Codigo == mh.TributoIVA {
			return mh.AmountPtr(t.Valor.Decimal)
		}
	}
	return nil
}

// ── Mapeo solicitud → payload ────────────────────────────────────────────────

func mapDocument(emitter *entity.Emitter, req dto.IssuanceRequest, schema dte.Schema, ambiente string, now time.Time) *dte.Document {
	fecha, hora := mh.IssueDateTime(now)
	doc := &dte.Document{
		Identificacion: dte.Identificacion{
			Version:       schema.Version,
			Ambiente:      ambiente,
			TipoDte:       schema.TipoDte,
			TipoModelo:    mh.ModeloPrevio,
			TipoOperacion: mh.OperacionNormal,
			FecEmi:        fecha,
			HorEmi:        hora,
			TipoMoneda:    mh.MonedaUSD,
		},
		Emisor: dte.Emisor{
			NIT:                 emitter.NIT,
			NRC:                 emitter.NRC,
			Nombre:              mh.NormalizeText(emitter.Name),
			CodActividad:        emitter.EconomicActivityCode,
			DescActividad:       mh.NormalizeText(emitter.EconomicActivityDesc),
			NombreComercial:     mh.NormalizePtr(emitter.TradeName),
			TipoEstablecimiento: emitter.EstablishmentType,
			Direccion: dte.Direccion{
				Departamento: emitter.Department,
				Municipio:    emitter.Municipality,
				Complemento:  mh.NormalizeText(emitter.AddressComplement),
			},
			Telefono:      emitter.Phone,
			Correo:        emitter.Email,
			CodEstable:    mh.NormalizePtr(req.EstablishmentCode),
			CodPuntoVenta: mh.NormalizePtr(req.POSCode),
		},
		Receptor:        mapReceptor(req.Receiver, schema),
		CuerpoDocumento: mapItems(req.Items, schema),
	}
	for _, r := range req.Related {
		doc.DocumentoRelacionado = append(doc.DocumentoRelacionado, dte.DocumentoRelacionado{
			TipoDocumento:   r.DocumentType,
			TipoGeneracion:  r.GenerationType,
			NumeroDocumento: strings.TrimSpace(r.DocumentNumber),
			FechaEmision:    r.IssueDate,
		})
	}
	if t := req.ThirdPartySale; t != nil {
		doc.VentaTercero = &dte.VentaTercero{NIT: t.NIT, Nombre: mh.NormalizeText(t.Name)}
	}
	doc.Resumen = mapResumen(req.Summary, doc.CuerpoDocumento, schema)
	if e := req.Extension; e != nil {
		doc.Extension = &dte.Extension{
			NombEntrega:   mh.NormalizePtr(e.DeliveredBy),
			DocuEntrega:   mh.NormalizePtr(e.DeliveredByDoc),
			NombRecibe:    mh.NormalizePtr(e.ReceivedBy),
			DocuRecibe:    mh.NormalizePtr(e.ReceivedByDoc),
			Observaciones: mh.NormalizePtr(e.Observations),
			PlacaVehiculo: mh.NormalizePtr(e.VehiclePlate),
		}
	}
	return doc
}

func mapReceptor(in *dto.ReceiverInput, schema dte.Schema) *dte.Receptor {
	if in == nil {
		return nil
	}
	r := &dte.Receptor{
		NRC:           mh.NormalizePtr(in.NRC),
		Nombre:        mh.NormalizeText(in.Name),
		CodActividad:  mh.NormalizePtr(in.ActivityCode),
		DescActividad: mh.NormalizePtr(in.ActivityDescription),
		Telefono:      mh.NormalizePtr(in.Phone),
		Correo:        mh.NormalizePtr(in.Email),
	}
	if a := in.Address; a != nil {
		r.Direccion = &dte.Direccion{
			Departamento: a.Department,
			Municipio:    a.Municipality,
			Complemento:  mh.NormalizeText(a.Complement),
		}
	}
	switch schema.Receiver {
	case dte.ReceiverByDocument:
		docType, number := in.DocumentType, in.DocumentNumber
		if docType == "" && in.NIT != "" {
			docType, number = mh.DocNIT, in.NIT
		}
		r.TipoDocumento = mh.NormalizePtr(docType)
		r.NumDocumento = mh.NormalizePtr(number)
	case dte.ReceiverByNIT:
		r.NIT = mh.NormalizePtr(in.NIT)
		r.NombreComercial = mh.NormalizePtr(in.TradeName)
	}
	return r
}

func mapItems(items []dto.ItemInput, schema dte.Schema) []dte.Item {
	out := make([]dte.Item, len(items))
	for i, in := range items {
		it := dte.Item{
			NumItem:         i + 1,
			TipoItem:        in.Type,
			NumeroDocumento: mh.NormalizePtr(in.RelatedDocument),
			Cantidad:        mh.NewPrecise(in.Quantity),
			Codigo:          mh.NormalizePtr(in.Code),
			CodTributo:      mh.NormalizePtr(in.TaxCode),
			UniMedida:       in.UnitOfMeasure,
			Descripcion:     mh.NormalizeText(in.Description),
			PrecioUni:       mh.NewPrecise(in.UnitPrice),
			MontoDescu:      mh.NewAmount(in.Discount),
			VentaNoSuj:      mh.NewAmount(in.NonSubjectSale),
			VentaExenta:     mh.NewAmount(in.ExemptSale),
			VentaGravada:    mh.NewAmount(in.TaxedSale),
			Psv:             mh.NewAmount(in.SuggestedPrice),
			NoGravado:       mh.NewAmount(in.NonTaxed),
		}
		if len(in.TaxCodes) > 0 {
			it.Tributos = in.TaxCodes
		}
		switch schema.ItemTax {
		case dte.ItemTaxIVAItem:
			iva := in.IVAItem
			if iva.IsZero() {
				iva = dte.IncludedIVA(it.VentaGravada.Decimal)
			}
			it.IvaItem = mh.AmountPtr(iva)
		case dte.ItemTaxTributos:
			if it.Tributos == nil && it.VentaGravada.IsPositive() {
				it.Tributos = []string{mh.TributoIVA}
			}
		}
		out[i] = it
	}
	return out
}

func mapResumen(s dto.SummaryInput, items []dte.Item, schema dte.Schema) dte.Resumen {
	condition := s.PaymentCondition
	if condition == 0 {
		condition = mh.CondicionContado
	}
	r := dte.Resumen{
		TotalNoSuj:          mh.NewAmount(s.TotalNonSubject),
		TotalExenta:         mh.NewAmount(s.TotalExempt),
		TotalGravada:        mh.NewAmount(s.TotalTaxed),
		SubTotalVentas:      mh.NewAmount(s.SubTotalSales),
		DescuNoSuj:          mh.NewAmount(s.NonSubjectDiscount),
		DescuExenta:         mh.NewAmount(s.ExemptDiscount),
		DescuGravada:        mh.NewAmount(s.TaxedDiscount),
		PorcentajeDescuento: mh.NewAmount(s.DiscountPercent),
		TotalDescu:          mh.NewAmount(s.TotalDiscount),
		SubTotal:            mh.NewAmount(s.SubTotal),
		IvaRete1:            mh.NewAmount(s.IVARetention),
		ReteRenta:           mh.NewAmount(s.IncomeRetention),
		MontoTotalOperacion: mh.NewAmount(s.TotalOperation),
		TotalNoGravado:      mh.NewAmount(s.TotalNonTaxed),
		TotalPagar:          mh.NewAmount(s.TotalToPay),
		TotalLetras:         mh.AmountInWords(s.TotalToPay),
		SaldoFavor:          mh.NewAmount(s.BalanceInFavor),
		CondicionOperacion:  condition,
		NumPagoElectronico:  mh.NormalizePtr(s.ElectronicPaymentNumber),
	}
	for _, t := range s.Taxes {
		desc := mh.NormalizeText(t.Description)
		if desc == "" {
			desc = mh.TributoDescriptions[t.Code]
		}
		r.Tributos = append(r.Tributos, dte.Tributo{Codigo: t.Code, Descripcion: desc, Valor: mh.NewAmount(t.Amount)})
	}
	if schema.SummaryPerceived || !s.IVAPerception.IsZero() {
		r.IvaPerci1 = mh.AmountPtr(s.IVAPerception)
	}
	if schema.SummaryTotalIVA {
		total := s.TotalIVA
		if total.IsZero() {
			for _, it := range items {
				if it.IvaItem != nil {
					total = total.Add(it.IvaItem.Decimal)
				}
			}
		}
		r.TotalIva = mh.AmountPtr(total)
	}
	for _, p := range s.Payments {
		r.Pagos = append(r.Pagos, dte.Pago{
			Codigo:     p.Code,
			MontoPago:  mh.NewAmount(p.Amount),
			Referencia: mh.NormalizePtr(p.Reference),
			Plazo:      mh.NormalizePtr(p.Term),
			Periodo:    p.Period,
		})
	}
	return r
}
