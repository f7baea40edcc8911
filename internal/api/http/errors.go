package http

import (
	"errors"
	"net/http"

	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Category  string                 `json:"category,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// statusFor maps an error to the HTTP status reported to clients.
func statusFor(err error) int {
	switch tserrors.GetCategory(err) {
	case tserrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case tserrors.ErrCategoryCatalog:
		if tserrors.GetCode(err) == tserrors.CodeTableNotFound {
			return http.StatusNotFound
		}
		return http.StatusServiceUnavailable
	case tserrors.ErrCategoryPlanning:
		if tserrors.GetCode(err) == tserrors.CodeDecompressionLimit {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case tserrors.ErrCategoryStorage:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status its category maps to.
func writeError(w http.ResponseWriter, err error, requestID string) {
	resp := ErrorResponse{
		Error:     err.Error(),
		Category:  string(tserrors.GetCategory(err)),
		Code:      tserrors.GetCode(err),
		RequestID: requestID,
	}
	var te *tserrors.Error
	if errors.As(err, &te) {
		resp.Details = te.Details
	}
	writeJSON(w, statusFor(err), resp)
}

// writeMessage writes a plain error message with the given status code.
func writeMessage(w http.ResponseWriter, statusCode int, message, requestID string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message, RequestID: requestID})
}
