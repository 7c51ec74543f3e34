package events

import (
	"math/big"

	"riskledger/core/types"
	"riskledger/crypto"
)

const (
	// TypeTransfer is emitted for every asset movement routed through the bank.
	TypeTransfer = "bank.transfer"
)

type Transfer struct {
	Asset  string
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
