package entity

// InvalidationReason motivo de la anulación (CAT-024) y partes responsables.
type InvalidationReason struct {
	Type                 int
	ResponsibleName      string
	ResponsibleDocType   string
	ResponsibleDocNumber string
	RequestorName        string
	RequestorDocType     string
	RequestorDocNumber   string
	Reason               string // obligatorio solo para tipo 3
}

// InvalidationRequest solicitud de anulación de un DTE aceptado. Se consume en un
// DTEDocument de tipo invalidation vinculado al original.
type InvalidationRequest struct {
	UserID           string
	OriginalDTEID    string
	Reason           InvalidationReason
	ReplacementDTEID string
	Environment      string
}
