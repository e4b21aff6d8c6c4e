package httpapi

// Machine-readable error types for the HTTP API.
const (
	InternalError          = "internal_error"
	InvalidQueryError      = "invalid_query"
	UnknownRollupError     = "unknown_rollup"
	RefreshInProgressError = "refresh_in_progress"
)

// ErrorResponse is the error envelope returned by all API endpoints.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
