package dto

// ErrorResponse cuerpo de error HTTP.
type ErrorResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail violación puntual (validaciones campo a campo).
type ErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
