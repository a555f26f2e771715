package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// Ambientes aceptados en las solicitudes.
const (
	EnvironmentTest       = "test"
	EnvironmentProduction = "production"
)

// IssuanceRequest solicitud de emisión. Type discrimina Factura, CCF o Nota de crédito;
// ítems, receptor y resumen comparten estructura entre tipos.
type IssuanceRequest struct {
	Type              entity.DocumentType    `json:"type"`
	ClientID          string                 `json:"client_id"`
	UserID            string                 `json:"user_id"`
	Environment       string                 `json:"environment"` // test | production
	SendToAuthority   bool                   `json:"send_to_authority"`
	EstablishmentCode string                 `json:"establishment_code"`
	POSCode           string                 `json:"pos_code"`
	Items             []ItemInput            `json:"items"`
	Receiver          *ReceiverInput         `json:"receiver,omitempty"`
	Summary           SummaryInput           `json:"summary"`
	Related           []RelatedDocumentInput `json:"related_documents,omitempty"`
	ThirdPartySale    *ThirdPartySaleInput   `json:"third_party_sale,omitempty"`
	Extension         *ExtensionInput        `json:"extension,omitempty"`
}

// ItemInput línea del cuerpo del documento.
type ItemInput struct {
	Type            int             `json:"type"` // CAT-011
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitOfMeasure   int             `json:"unit_of_measure"` // CAT-014
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Discount        decimal.Decimal `json:"discount"`
	Code            string          `json:"code,omitempty"`
	TaxCode         string          `json:"tax_code,omitempty"` // codTributo (solo tipoItem 4)
	NonSubjectSale  decimal.Decimal `json:"non_subject_sale"`
	ExemptSale      decimal.Decimal `json:"exempt_sale"`
	TaxedSale       decimal.Decimal `json:"taxed_sale"`
	SuggestedPrice  decimal.Decimal `json:"suggested_price"`
	NonTaxed        decimal.Decimal `json:"non_taxed"`
	TaxCodes        []string        `json:"tax_codes,omitempty"`
	IVAItem         decimal.Decimal `json:"iva_item"` // FE: IVA incluido en la venta gravada
	RelatedDocument string          `json:"related_document,omitempty"`
}

// AddressInput dirección (CAT-012 departamento, CAT-013 municipio).
type AddressInput struct {
	Department   string `json:"department"`
	Municipality string `json:"municipality"`
	Complement   string `json:"complement"`
}

// ReceiverInput receptor del documento.
type ReceiverInput struct {
	DocumentType        string        `json:"document_type,omitempty"`
	DocumentNumber      string        `json:"document_number,omitempty"`
	NIT                 string        `json:"nit,omitempty"`
	NRC                 string        `json:"nrc,omitempty"`
	Name                string        `json:"name"`
	TradeName           string        `json:"trade_name,omitempty"`
	ActivityCode        string        `json:"activity_code,omitempty"`
	ActivityDescription string        `json:"activity_description,omitempty"`
	Address             *AddressInput `json:"address,omitempty"`
	Phone               string        `json:"phone,omitempty"`
	Email               string        `json:"email,omitempty"`
}

// TaxInput tributo del resumen.
type TaxInput struct {
	Code        string          `json:"code"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// PaymentInput forma de pago (CAT-017).
type PaymentInput struct {
	Code      string          `json:"code"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Term      string          `json:"term,omitempty"`
	Period    *int            `json:"period,omitempty"`
}

// SummaryInput totales declarados por el cliente; se verifican contra los ítems.
type SummaryInput struct {
	TotalNonSubject         decimal.Decimal `json:"total_non_subject"`
	TotalExempt             decimal.Decimal `json:"total_exempt"`
	TotalTaxed              decimal.Decimal `json:"total_taxed"`
	SubTotalSales           decimal.Decimal `json:"sub_total_sales"`
	NonSubjectDiscount      decimal.Decimal `json:"non_subject_discount"`
	ExemptDiscount          decimal.Decimal `json:"exempt_discount"`
	TaxedDiscount           decimal.Decimal `json:"taxed_discount"`
	DiscountPercent         decimal.Decimal `json:"discount_percent"`
	TotalDiscount           decimal.Decimal `json:"total_discount"`
	Taxes                   []TaxInput      `json:"taxes,omitempty"`
	SubTotal                decimal.Decimal `json:"sub_total"`
	IVAPerception           decimal.Decimal `json:"iva_perception"`
	IVARetention            decimal.Decimal `json:"iva_retention"`
	IncomeRetention         decimal.Decimal `json:"income_retention"`
	TotalOperation          decimal.Decimal `json:"total_operation"`
	TotalNonTaxed           decimal.Decimal `json:"total_non_taxed"`
	TotalToPay              decimal.Decimal `json:"total_to_pay"`
	TotalIVA                decimal.Decimal `json:"total_iva"`
	BalanceInFavor          decimal.Decimal `json:"balance_in_favor"`
	PaymentCondition        int             `json:"payment_condition"` // CAT-016
	Payments                []PaymentInput  `json:"payments,omitempty"`
	ElectronicPaymentNumber string          `json:"electronic_payment_number,omitempty"`
}

// RelatedDocumentInput documento relacionado (obligatorio en nota de crédito).
type RelatedDocumentInput struct {
	DocumentType   string `json:"document_type"`
	GenerationType int    `json:"generation_type"`
	DocumentNumber string `json:"document_number"`
	IssueDate      string `json:"issue_date"` // AAAA-MM-DD
}

// ThirdPartySaleInput venta por cuenta de terceros.
type ThirdPartySaleInput struct {
	NIT  string `json:"nit"`
	Name string `json:"name"`
}

// ExtensionInput datos de entrega y observaciones.
type ExtensionInput struct {
	DeliveredBy    string `json:"delivered_by,omitempty"`
	DeliveredByDoc string `json:"delivered_by_doc,omitempty"`
	ReceivedBy     string `json:"received_by,omitempty"`
	ReceivedByDoc  string `json:"received_by_doc,omitempty"`
	Observations   string `json:"observations,omitempty"`
	VehiclePlate   string `json:"vehicle_plate,omitempty"`
}

// InvalidationReasonInput motivo de invalidación.
type InvalidationReasonInput struct {
	Type                 int    `json:"type"`
	ResponsibleName      string `json:"responsible_name"`
	ResponsibleDocType   string `json:"responsible_doc_type"`
	ResponsibleDocNumber string `json:"responsible_doc_number"`
	RequestorName        string `json:"requestor_name"`
	RequestorDocType     string `json:"requestor_doc_type"`
	RequestorDocNumber   string `json:"requestor_doc_number"`
	Reason               string `json:"reason,omitempty"`
}

// InvalidationRequest solicitud de invalidación de un DTE aceptado.
type InvalidationRequest struct {
	OriginalDTEID    string                  `json:"original_dte_id"`
	Reason           InvalidationReasonInput `json:"reason"`
	ReplacementDTEID string                  `json:"replacement_dte_id,omitempty"`
	Environment      string                  `json:"environment"`
}

// ToEntity convierte la solicitud al modelo de dominio.
func (r InvalidationRequest) ToEntity(userID string) entity.InvalidationRequest {
	return entity.InvalidationRequest{
		UserID:        userID,
		OriginalDTEID: r.OriginalDTEID,
		Reason: entity.InvalidationReason{
			Type:                 r.Reason.Type,
			ResponsibleName:      r.Reason.ResponsibleName,
			ResponsibleDocType:   r.Reason.ResponsibleDocType,
			ResponsibleDocNumber: r.Reason.ResponsibleDocNumber,
			RequestorName:        r.Reason.RequestorName,
			RequestorDocType:     r.Reason.RequestorDocType,
			RequestorDocNumber:   r.Reason.RequestorDocNumber,
			Reason:               r.Reason.Reason,
		},
		ReplacementDTEID: r.ReplacementDTEID,
		Environment:      r.Environment,
	}
}

// DTEResponse registro persistido expuesto por la API.
type DTEResponse struct {
	ID               int64           `json:"id"`
	DTEID            string          `json:"dte_id"`
	UserID           string          `json:"user_id"`
	UserName         string          `json:"user_name"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	ControlNumber    string          `json:"control_number"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Environment      string          `json:"environment"`
	ReceptionStamp   string          `json:"reception_stamp,omitempty"`
	AuthorityCode    string          `json:"authority_code,omitempty"`
	AuthorityMessage string          `json:"authority_message,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	RelatedDTEID     string          `json:"related_dte_id,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
}

// NewDTEResponse proyecta el documento.
func NewDTEResponse(d *entity.DTEDocument) DTEResponse {
	return DTEResponse{
		ID:               d.ID,
		DTEID:            d.DTEID,
		UserID:           d.UserID,
		UserName:         d.UserName,
		Type:             string(d.Type),
		Status:           string(d.Status),
		ControlNumber:    d.ControlNumber,
		TotalAmount:      d.TotalAmount,
		Environment:      d.Environment,
		ReceptionStamp:   d.ReceptionStamp,
		AuthorityCode:    d.AuthorityCode,
		AuthorityMessage: d.AuthorityMessage,
		LastError:        d.LastError,
		RelatedDTEID:     d.RelatedDTEID,
		Payload:          json.RawMessage(d.Payload),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		ProcessedAt:      d.ProcessedAt,
	}
}

// DTEErrorResponse error de emisión; Document va presente si el DTE llegó a persistirse.
type DTEErrorResponse struct {
	ErrorResponse
	Document *DTEResponse `json:"document,omitempty"`
}
