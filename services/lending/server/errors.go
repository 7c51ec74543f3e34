package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	coreerrors "riskledger/core/errors"
)

const (
	codeUnauthenticated = "Unauthenticated"
	codeRateLimited     = "RateLimited"
	codeNotFound        = "NotFound"
	codeUnavailable     = "Unavailable"
)

type problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error problem `json:"error"`
}

// statusFor maps a stable ledger code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case coreerrors.CodeZeroAmount,
		coreerrors.CodeInvalidArgument,
		coreerrors.CodeScoreTooHigh,
		coreerrors.CodeZeroBorrower,
		coreerrors.CodeInvalidExpiration,
		coreerrors.CodeInvalidDeadline,
		coreerrors.CodeThresholdTooHigh,
		coreerrors.CodeInvalidSignature:
		return http.StatusBadRequest
	case coreerrors.CodeUnauthorized:
		return http.StatusForbidden
	case coreerrors.CodeInsufficientCollateral,
		coreerrors.CodeHealthBreach,
		coreerrors.CodePaused,
		coreerrors.CodeRiskFlagged,
		coreerrors.CodeExceedsMaxBorrow,
		coreerrors.CodeNoDebt,
		coreerrors.CodeHealthFactorOk,
		coreerrors.CodeNotFlagged,
		coreerrors.CodeInsufficientBalance:
		return http.StatusConflict
	case coreerrors.CodePriceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON problem. Internal failures never leak
// their message.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusServiceUnavailable, codeUnavailable, "request cancelled")
		return
	}
	code := coreerrors.Code(err)
	status := statusFor(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		code = coreerrors.CodeInternal
		message = "internal error"
	}
	writeProblem(w, status, code, message)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: problem{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
