package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"salonbook/internal/domain"
	"salonbook/internal/payment"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// errorStatus maps service errors onto an HTTP status and a stable error code.
func errorStatus(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}

	var cardErr *payment.CardError
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &cardErr):
		body.Error, body.Field = cardErr.Code, cardErr.Field
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrPastSlot):
		body.Error, body.Field = "past_slot", "date"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrSlotTooFar):
		body.Error, body.Field = "slot_too_far", "date"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, payment.ErrUnsupportedMethod):
		body.Error, body.Field = "unsupported_method", "method"
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &validation):
		body.Error, body.Field = "validation_error", validation.Field
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCatalogNotFound):
		body.Error = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrSlotTaken):
		body.Error = "slot_taken"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrConcurrentModification):
		body.Error = "conflict"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrInvalidTransition):
		body.Error = "invalid_transition"
		return http.StatusConflict, body
	case errors.Is(err, payment.ErrPaymentInProgress):
		body.Error = "payment_in_progress"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrAvailabilityUnknown):
		body.Error = "availability_unknown"
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal server error"}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: code, Message: message})
}
