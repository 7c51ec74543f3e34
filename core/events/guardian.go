package events

import (
	"riskledger/core/types"
	"riskledger/crypto"
)

const (
	// TypeGuardianPauseEnforced is emitted when a flagged account is paused.
	TypeGuardianPauseEnforced = "guardian.pauseEnforced"
	// TypeGuardianUnpaused is emitted when the guardian lifts a pause.
	TypeGuardianUnpaused = "guardian.unpaused"
	// TypeGuardianExtraCollateral is emitted when an advisory surcharge is recorded.
	TypeGuardianExtraCollateral = "guardian.extraCollateralRequired"
	// TypeGuardianTopUpDeadline is emitted when an advisory top-up deadline is recorded.
	TypeGuardianTopUpDeadline = "guardian.topUpDeadlineSet"
)

type GuardianAction struct {
	Type  string
	User  crypto.Address
	By    crypto.Address
	Value uint64
}

func (e GuardianAction) EventType() string { return e.Type }

func (e GuardianAction) Event() *types.Event {
	attrs := map[string]string{
		"user": formatAddress(e.User),
		"by":   formatAddress(e.By),
	}
	switch e.Type {
	case TypeGuardianExtraCollateral:
		attrs["bps"] = formatUint(e.Value)
	case TypeGuardianTopUpDeadline:
		attrs["deadline"] = formatUint(e.Value)
	}
	return &types.Event{Type: e.Type, Attributes: attrs}
}
