package params

import (
	"errors"
	"fmt"
	"strings"

	"riskledger/crypto"
	"riskledger/native/common"
)

var (
	// ErrInvalidConfig wraps structural configuration problems.
	ErrInvalidConfig = errors.New("params: invalid config")
	// ErrNotInitialised is returned when the ledger configuration has not been stored yet.
	ErrNotInitialised = errors.New("params: ledger config not initialised")
)

const (
	DefaultLTVBps                   uint64 = 7_500
	DefaultLiquidationThresholdBps  uint64 = 8_000
	DefaultMinHealthFactor          uint64 = 10_000
	DefaultPauseThreshold           uint64 = 8_000
	DefaultExtraCollateralThreshold uint64 = 6_000
	DefaultPriceScale               uint64 = 100_000_000
	DefaultCollateralAsset                 = "ETH"
	DefaultDebtAsset                       = "USD"
)

// Config is the single configuration object shared by the position ledger,
// the risk registry and the guardian. It is persisted in the parameter store
// so setter effects roll back together with the call that made them.
type Config struct {
	LTVBps                   uint64            `json:"ltvBps" toml:"LTVBps"`
	LiquidationThresholdBps  uint64            `json:"liquidationThresholdBps" toml:"LiquidationThresholdBps"`
	MinHealthFactor          uint64            `json:"minHealthFactor" toml:"MinHealthFactor"`
	PauseThreshold           uint64            `json:"pauseThreshold" toml:"PauseThreshold"`
	ExtraCollateralThreshold uint64            `json:"extraCollateralThreshold" toml:"ExtraCollateralThreshold"`
	PriceScale               uint64            `json:"priceScale" toml:"PriceScale"`
	CollateralAsset          string            `json:"collateralAsset" toml:"CollateralAsset"`
	DebtAsset                string            `json:"debtAsset" toml:"DebtAsset"`
	ModuleAddress            crypto.Address    `json:"moduleAddress" toml:"ModuleAddress"`
	Principals               common.Principals `json:"principals" toml:"Principals"`
}

// DefaultConfig returns the baseline parameters. Principals and the module
// address are left unset.
func DefaultConfig() Config {
	return Config{
		LTVBps:                   DefaultLTVBps,
		LiquidationThresholdBps:  DefaultLiquidationThresholdBps,
		MinHealthFactor:          DefaultMinHealthFactor,
		PauseThreshold:           DefaultPauseThreshold,
		ExtraCollateralThreshold: DefaultExtraCollateralThreshold,
		PriceScale:               DefaultPriceScale,
		CollateralAsset:          DefaultCollateralAsset,
		DebtAsset:                DefaultDebtAsset,
	}
}

// Normalize upper-cases asset symbols and trims whitespace.
func (c *Config) Normalize() {
	c.CollateralAsset = strings.ToUpper(strings.TrimSpace(c.CollateralAsset))
	c.DebtAsset = strings.ToUpper(strings.TrimSpace(c.DebtAsset))
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	for name, value := range map[string]uint64{
		FieldLTVBps:                   c.LTVBps,
		FieldLiquidationThresholdBps:  c.LiquidationThresholdBps,
		FieldPauseThreshold:           c.PauseThreshold,
		FieldExtraCollateralThreshold: c.ExtraCollateralThreshold,
	} {
		if err := common.CheckBps(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.MinHealthFactor == 0 {
		return fmt.Errorf("%w: minHealthFactor must be positive", ErrInvalidConfig)
	}
	if c.PriceScale == 0 {
		return fmt.Errorf("%w: priceScale must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.CollateralAsset) == "" || strings.TrimSpace(c.DebtAsset) == "" {
		return fmt.Errorf("%w: collateral and debt assets are required", ErrInvalidConfig)
	}
	if strings.EqualFold(strings.TrimSpace(c.CollateralAsset), strings.TrimSpace(c.DebtAsset)) {
		return fmt.Errorf("%w: collateral and debt assets must differ", ErrInvalidConfig)
	}
	if c.ModuleAddress.IsZero() {
		return fmt.Errorf("%w: module address is required", ErrInvalidConfig)
	}
	if c.Principals.Admin.IsZero() {
		return fmt.Errorf("%w: admin principal is required", ErrInvalidConfig)
	}
	return nil
}
