package errors

import (
	stderrors "errors"

	"riskledger/core/pricing"
	"riskledger/native/bank"
	"riskledger/native/common"
	"riskledger/native/guardian"
	"riskledger/native/lending"
	"riskledger/native/params"
	"riskledger/native/risk"
)

// Stable codes reported to API clients and used as metric labels.
const (
	CodeZeroAmount             = "ZeroAmount"
	CodeInsufficientCollateral = "InsufficientCollateral"
	CodeHealthBreach           = "HealthBreach"
	CodePaused                 = "Paused"
	CodeRiskFlagged            = "RiskFlagged"
	CodeExceedsMaxBorrow       = "ExceedsMaxBorrow"
	CodeNoDebt                 = "NoDebt"
	CodeHealthFactorOk         = "HealthFactorOk"
	CodeInvalidSignature       = "InvalidSignature"
	CodeUnauthorized           = "Unauthorized"
	CodeInvalidExpiration      = "InvalidExpiration"
	CodeThresholdTooHigh       = "ThresholdTooHigh"
	CodeNotFlagged             = "NotFlagged"
	CodeInvalidDeadline        = "InvalidDeadline"
	CodeScoreTooHigh           = "ScoreTooHigh"
	CodeZeroBorrower           = "ZeroBorrower"
	CodeInvalidArgument        = "InvalidArgument"
	CodeInsufficientBalance    = "InsufficientBalance"
	CodePriceUnavailable       = "PriceUnavailable"
	CodeInternal               = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{lending.ErrZeroAmount, CodeZeroAmount},
	{lending.ErrInsufficientCollateral, CodeInsufficientCollateral},
	{lending.ErrHealthBreach, CodeHealthBreach},
	{lending.ErrPaused, CodePaused},
	{lending.ErrRiskFlagged, CodeRiskFlagged},
	{lending.ErrExceedsMaxBorrow, CodeExceedsMaxBorrow},
	{lending.ErrNoDebt, CodeNoDebt},
	{lending.ErrHealthFactorOk, CodeHealthFactorOk},
	{lending.ErrAmountOverflow, CodeInvalidArgument},
	{lending.ErrZeroAccount, CodeInvalidArgument},
	{risk.ErrInvalidSignature, CodeInvalidSignature},
	{risk.ErrInvalidExpiration, CodeInvalidExpiration},
	{risk.ErrScoreTooHigh, CodeScoreTooHigh},
	{risk.ErrZeroBorrower, CodeZeroBorrower},
	{guardian.ErrNotFlagged, CodeNotFlagged},
	{guardian.ErrInvalidDeadline, CodeInvalidDeadline},
	{guardian.ErrInvalidBps, CodeInvalidArgument},
	{common.ErrUnauthorized, CodeUnauthorized},
	{common.ErrThresholdTooHigh, CodeThresholdTooHigh},
	{common.ErrZeroAddress, CodeInvalidArgument},
	{common.ErrUnknownRole, CodeInvalidArgument},
	{params.ErrInvalidConfig, CodeInvalidArgument},
	{bank.ErrInsufficientBalance, CodeInsufficientBalance},
	{bank.ErrInvalidAmount, CodeInvalidArgument},
	{pricing.ErrPriceUnavailable, CodePriceUnavailable},
	{pricing.ErrPriceStale, CodePriceUnavailable},
}

// Code maps err to its stable code. Nil yields the empty string and
// unrecognised errors map to CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range codes {
		if stderrors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// IsDomain reports whether err is an expected precondition failure rather
// than an infrastructure fault.
func IsDomain(err error) bool {
	code := Code(err)
	return code != "" && code != CodeInternal
}
