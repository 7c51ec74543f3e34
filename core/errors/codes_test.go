package errors

import (
	"fmt"
	"testing"

	"riskledger/native/common"
	"riskledger/native/lending"
	"riskledger/native/risk"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{lending.ErrHealthBreach, CodeHealthBreach},
		{fmt.Errorf("wrapped: %w", lending.ErrNoDebt), CodeNoDebt},
		{fmt.Errorf("%w: 10001 > 10000", common.ErrThresholdTooHigh), CodeThresholdTooHigh},
		{risk.ErrInvalidSignature, CodeInvalidSignature},
		{fmt.Errorf("disk on fire"), CodeInternal},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if IsDomain(fmt.Errorf("boom")) || !IsDomain(lending.ErrPaused) {
		t.Fatalf("unexpected domain classification")
	}
}
