package dto

// ErrorResponse cuerpo de error HTTP.
type ErrorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// ListResponse envoltorio de listados con el total.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
