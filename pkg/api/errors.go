package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/uhyunpark/carbonledger/pkg/app/carbon"
	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/app/core/mempool"
	"github.com/uhyunpark/carbonledger/pkg/app/core/transaction"
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidOrder),
		errors.Is(err, transaction.ErrMalformed),
		errors.Is(err, transaction.ErrBadSignature),
		errors.Is(err, carbon.ErrExpired):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAlreadyTerminal),
		errors.Is(err, carbon.ErrStaleNonce),
		errors.Is(err, mempool.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, mempool.ErrFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorLabel(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusPaymentRequired:
		return "insufficient funds"
	case http.StatusNotFound:
		return "not found"
	case http.StatusForbidden:
		return "unauthorized"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway:
		return "transfer failed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return "internal error"
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatus(w, status, ErrorResponse{Error: error, Message: message})
}

// respondErr reports a domain error with its mapped status
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, errorLabel(status), err.Error())
}
