package proxy

import (
	"encoding/json"
	"net/http"
)

// Error types as they appear in the JSON error envelope.
const (
	ErrorTypeRateLimited    = "rate_limit_exceeded"
	ErrorTypeNoUpstream     = "no_healthy_upstream"
	ErrorTypeBadGateway     = "bad_gateway"
	ErrorTypeGatewayTimeout = "gateway_timeout"
	ErrorTypeInternal       = "internal_error"
)

// ErrorResponse is the envelope returned for gateway-generated errors. The
// shape mirrors what LLM API clients already parse, so SDK error handling
// keeps working when the gateway answers instead of the backend.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error message and machine-readable type.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// WriteError writes a JSON error envelope with the given status code.
func WriteError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error: ErrorDetail{Message: message, Type: errType},
	})
}
