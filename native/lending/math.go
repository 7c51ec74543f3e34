package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	// healthScale is the fixed-point unit of the health factor; 10000 == 1.0.
	healthScale = big.NewInt(10_000)

	liquidationBonusNum = big.NewInt(105)
	liquidationBonusDen = big.NewInt(100)

	maxHealthFactor = new(uint256.Int).SetAllOne().ToBig()
)

// MaxHealthFactor returns the value reported for positions without debt.
func MaxHealthFactor() *big.Int {
	return new(big.Int).Set(maxHealthFactor)
}

// fitsUint256 reports whether v is a non-negative value representable in 256 bits.
func fitsUint256(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}

// collateralValue converts collateral into debt-asset units, truncating.
func collateralValue(collateral, price, priceScale *big.Int) *big.Int {
	value := new(big.Int).Mul(collateral, price)
	return value.Quo(value, priceScale)
}

// healthFactor computes
//
//	(collateral * price / priceScale) * liquidationThresholdBps * 10000 / (debt * 10000)
//
// with every division truncating toward zero. Zero debt yields MaxHealthFactor.
func healthFactor(collateral, debt, price, priceScale *big.Int, liquidationThresholdBps uint64) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return MaxHealthFactor()
	}
	numerator := collateralValue(collateral, price, priceScale)
	numerator.Mul(numerator, new(big.Int).SetUint64(liquidationThresholdBps))
	numerator.Mul(numerator, healthScale)
	denominator := new(big.Int).Mul(debt, basisPoints)
	return numerator.Quo(numerator, denominator)
}

// maxBorrow is collateralValue * ltvBps / 10000.
func maxBorrow(collateral, price, priceScale *big.Int, ltvBps uint64) *big.Int {
	limit := collateralValue(collateral, price, priceScale)
	limit.Mul(limit, new(big.Int).SetUint64(ltvBps))
	return limit.Quo(limit, basisPoints)
}

// seizeAmount applies the 5% liquidation bonus, flooring.
func seizeAmount(repay *big.Int) *big.Int {
	seized := new(big.Int).Mul(repay, liquidationBonusNum)
	return seized.Quo(seized, liquidationBonusDen)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
