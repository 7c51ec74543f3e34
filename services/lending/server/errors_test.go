package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"riskledger/core/pricing"
	"riskledger/native/bank"
	"riskledger/native/common"
	"riskledger/native/guardian"
	"riskledger/native/lending"
	"riskledger/native/risk"
)

func TestWriteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{name: "zero amount", err: lending.ErrZeroAmount, status: http.StatusBadRequest, code: "ZeroAmount"},
		{name: "paused", err: fmt.Errorf("wrap: %w", lending.ErrPaused), status: http.StatusConflict, code: "Paused"},
		{name: "flagged", err: lending.ErrRiskFlagged, status: http.StatusConflict, code: "RiskFlagged"},
		{name: "not flagged", err: guardian.ErrNotFlagged, status: http.StatusConflict, code: "NotFlagged"},
		{name: "unauthorized", err: common.ErrUnauthorized, status: http.StatusForbidden, code: "Unauthorized"},
		{name: "signature", err: risk.ErrInvalidSignature, status: http.StatusBadRequest, code: "InvalidSignature"},
		{name: "balance", err: bank.ErrInsufficientBalance, status: http.StatusConflict, code: "InsufficientBalance"},
		{name: "stale price", err: pricing.ErrPriceStale, status: http.StatusServiceUnavailable, code: "PriceUnavailable"},
		{name: "cancelled", err: context.Canceled, status: http.StatusServiceUnavailable, code: codeUnavailable, message: "request cancelled"},
		{name: "internal", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "Internal", message: "internal error"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			writeError(rec, tc.err)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body.Error.Code)
			}
			want := tc.message
			if want == "" {
				want = tc.err.Error()
			}
			if body.Error.Message != want {
				t.Fatalf("expected message %q, got %q", want, body.Error.Message)
			}
		})
	}
}
