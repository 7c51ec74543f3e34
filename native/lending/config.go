package lending

import (
	"riskledger/crypto"
	"riskledger/native/params"
)

// SetLTV updates the loan-to-value ratio in basis points. Admin only.
func (e *Engine) SetLTV(caller crypto.Address, bps uint64) error {
	return e.params.SetUint(caller, params.FieldLTVBps, bps)
}

// SetLiquidationThreshold updates the liquidation threshold in basis points.
// Admin only.
func (e *Engine) SetLiquidationThreshold(caller crypto.Address, bps uint64) error {
	return e.params.SetUint(caller, params.FieldLiquidationThresholdBps, bps)
}

// SetMinHealthFactor updates the minimum health factor, scaled by 10000.
// Admin only.
func (e *Engine) SetMinHealthFactor(caller crypto.Address, value uint64) error {
	return e.params.SetUint(caller, params.FieldMinHealthFactor, value)
}
