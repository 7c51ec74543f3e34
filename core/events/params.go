package events

import (
	"riskledger/core/types"
	"riskledger/crypto"
)

const (
	// TypeParamUpdated is emitted by every single-field configuration setter.
	// The parameter attribute names the field, e.g. "LTVBps" or "PauseThreshold".
	TypeParamUpdated = "params.updated"
	// TypePrincipalUpdated is emitted when a principal identity is rotated.
	TypePrincipalUpdated = "params.principalUpdated"
)

type ParamUpdated struct {
	Name     string
	Previous uint64
	Value    uint64
	By       crypto.Address
}

func (ParamUpdated) EventType() string { return TypeParamUpdated }

func (e ParamUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeParamUpdated,
		Attributes: map[string]string{
			"param":    e.Name,
			"previous": formatUint(e.Previous),
			"value":    formatUint(e.Value),
			"by":       formatAddress(e.By),
		},
	}
}

type PrincipalUpdated struct {
	Role     string
	Previous crypto.Address
	Current  crypto.Address
	By       crypto.Address
}

func (PrincipalUpdated) EventType() string { return TypePrincipalUpdated }

func (e PrincipalUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePrincipalUpdated,
		Attributes: map[string]string{
			"role":     e.Role,
			"previous": formatAddress(e.Previous),
			"current":  formatAddress(e.Current),
			"by":       formatAddress(e.By),
		},
	}
}
