package lending

import (
	"math/big"

	"riskledger/crypto"
)

// Position is the persisted ledger record for a single account. A position is
// created zero-valued on first reference and is never deleted.
type Position struct {
	// Collateral is the pledged amount in the smallest unit of the collateral asset.
	Collateral *big.Int
	// Debt is the outstanding principal in the smallest unit of the debt asset.
	Debt *big.Int
	// LastUpdate is the unix timestamp of the last state-changing call.
	LastUpdate uint64
	// Paused blocks new borrowing while set. Only the guardian toggles it.
	Paused bool
}

func newPosition() *Position {
	return &Position{Collateral: big.NewInt(0), Debt: big.NewInt(0)}
}

func (p *Position) normalize() {
	if p.Collateral == nil {
		p.Collateral = big.NewInt(0)
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
}

// PositionView is the read model returned by GetUserPosition.
type PositionView struct {
	Account    crypto.Address `json:"account"`
	Collateral *big.Int       `json:"collateral"`
	Debt       *big.Int       `json:"debt"`
	// HealthFactor is scaled by 10000. Debt-free positions report the maximum
	// 256-bit value.
	HealthFactor *big.Int `json:"healthFactor"`
	Paused       bool     `json:"paused"`
	LastUpdate   uint64   `json:"lastUpdate"`
}

// RepayResult reports how a payment was applied.
type RepayResult struct {
	Repaid   *big.Int
	Refunded *big.Int
	Debt     *big.Int
}

// LiquidationResult reports the outcome of a successful liquidation.
type LiquidationResult struct {
	Repaid *big.Int
	Seized *big.Int
}
