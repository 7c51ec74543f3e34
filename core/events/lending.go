package events

import (
	"math/big"

	"riskledger/core/types"
	"riskledger/crypto"
)

const (
	// TypeCollateralDeposited is emitted when an account pledges collateral.
	TypeCollateralDeposited = "lending.collateralDeposited"
	// TypeCollateralWithdrawn is emitted when collateral is released back to an account.
	TypeCollateralWithdrawn = "lending.collateralWithdrawn"
	// TypeBorrowed is emitted when debt is drawn against a position.
	TypeBorrowed = "lending.borrowed"
	// TypeRepaid is emitted when debt is repaid. Any refunded excess is reported.
	TypeRepaid = "lending.repaid"
	// TypeLiquidated is emitted when a liquidator repays debt and seizes collateral.
	TypeLiquidated = "lending.liquidated"
	// TypePositionPauseChanged is emitted when the guardian toggles a position's pause flag.
	TypePositionPauseChanged = "lending.pauseChanged"
)

type CollateralDeposited struct {
	Account crypto.Address
	Amount  *big.Int
	Total   *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"account":    formatAddress(e.Account),
			"amount":     formatAmount(e.Amount),
			"collateral": formatAmount(e.Total),
		},
	}
}

type CollateralWithdrawn struct {
	Account crypto.Address
	Amount  *big.Int
	Total   *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

func (e CollateralWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralWithdrawn,
		Attributes: map[string]string{
			"account":    formatAddress(e.Account),
			"amount":     formatAmount(e.Amount),
			"collateral": formatAmount(e.Total),
		},
	}
}

type Borrowed struct {
	Account      crypto.Address
	Amount       *big.Int
	Debt         *big.Int
	HealthFactor *big.Int
}

func (Borrowed) EventType() string { return TypeBorrowed }

func (e Borrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowed,
		Attributes: map[string]string{
			"account":      formatAddress(e.Account),
			"amount":       formatAmount(e.Amount),
			"debt":         formatAmount(e.Debt),
			"healthFactor": formatAmount(e.HealthFactor),
		},
	}
}

type Repaid struct {
	Account crypto.Address
	Amount  *big.Int
	Refund  *big.Int
	Debt    *big.Int
}

func (Repaid) EventType() string { return TypeRepaid }

func (e Repaid) Event() *types.Event {
	return &types.Event{
		Type: TypeRepaid,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
			"refund":  formatAmount(e.Refund),
			"debt":    formatAmount(e.Debt),
		},
	}
}

type Liquidated struct {
	Liquidator crypto.Address
	Borrower   crypto.Address
	Repaid     *big.Int
	Seized     *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator": formatAddress(e.Liquidator),
			"borrower":   formatAddress(e.Borrower),
			"repaid":     formatAmount(e.Repaid),
			"seized":     formatAmount(e.Seized),
		},
	}
}

type PositionPauseChanged struct {
	Account crypto.Address
	Paused  bool
	By      crypto.Address
}

func (PositionPauseChanged) EventType() string { return TypePositionPauseChanged }

func (e PositionPauseChanged) Event() *types.Event {
	paused := "false"
	if e.Paused {
		paused = "true"
	}
	return &types.Event{
		Type: TypePositionPauseChanged,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"paused":  paused,
			"by":      formatAddress(e.By),
		},
	}
}
