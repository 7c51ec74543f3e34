package config

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"riskledger/core"
	"riskledger/core/pricing"
	"riskledger/crypto"
	"riskledger/native/params"
)

// Genesis describes the initial ledger configuration together with the oracle
// quotes and balances loaded when a fresh data directory is initialised.
type Genesis struct {
	Ledger              params.Config `toml:"Ledger"`
	OracleMaxAgeSeconds uint64        `toml:"OracleMaxAgeSeconds"`
	Prices              []Price       `toml:"Prices"`
	Balances            []Balance     `toml:"Balances"`
}

// Price is an initial oracle quote. Values are decimal strings scaled by the
// ledger price scale.
type Price struct {
	Asset string `toml:"Asset"`
	Price string `toml:"Price"`
}

// Balance pre-funds an account in the built-in bank.
type Balance struct {
	Asset   string         `toml:"Asset"`
	Address crypto.Address `toml:"Address"`
	Amount  string         `toml:"Amount"`
}

// DefaultGenesis returns a genesis with default parameters and no principals.
func DefaultGenesis() *Genesis {
	return &Genesis{Ledger: params.DefaultConfig()}
}

// LoadGenesis decodes and validates the genesis file at path. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadGenesis(path string) (*Genesis, error) {
	g := DefaultGenesis()
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("genesis %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	g.Ledger.Normalize()
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

// Validate checks the ledger configuration and every amount.
func (g *Genesis) Validate() error {
	if err := g.Ledger.Validate(); err != nil {
		return err
	}
	for i, p := range g.Prices {
		if strings.TrimSpace(p.Asset) == "" {
			return fmt.Errorf("prices[%d]: asset required", i)
		}
		price, err := parseUintAmount(p.Price)
		if err != nil {
			return fmt.Errorf("prices[%d]: %w", i, err)
		}
		if price.Sign() == 0 {
			return fmt.Errorf("prices[%d]: price must be positive", i)
		}
	}
	for i, b := range g.Balances {
		if strings.TrimSpace(b.Asset) == "" {
			return fmt.Errorf("balances[%d]: asset required", i)
		}
		if b.Address.IsZero() {
			return fmt.Errorf("balances[%d]: address required", i)
		}
		if _, err := parseUintAmount(b.Amount); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}
	return nil
}

// OracleMaxAge returns the configured quote staleness bound.
func (g *Genesis) OracleMaxAge() time.Duration {
	return time.Duration(g.OracleMaxAgeSeconds) * time.Second
}

// ApplyPrices publishes every genesis quote to oracle, stamped at now.
func (g *Genesis) ApplyPrices(oracle *pricing.StaticOracle, now time.Time) error {
	for _, p := range g.Prices {
		price, err := parseUintAmount(p.Price)
		if err != nil {
			return err
		}
		if err := oracle.SetPrice(p.Asset, price, now); err != nil {
			return fmt.Errorf("genesis price %s: %w", p.Asset, err)
		}
	}
	return nil
}

// Apply initialises ledger from the genesis when it holds no configuration
// yet. It reports whether initialisation happened.
func (g *Genesis) Apply(ctx context.Context, ledger *core.Ledger) (bool, error) {
	ok, err := ledger.Initialised(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := ledger.Init(ctx, g.Ledger); err != nil {
		return false, fmt.Errorf("genesis config: %w", err)
	}
	for _, b := range g.Balances {
		amount, err := parseUintAmount(b.Amount)
		if err != nil {
			return false, err
		}
		if err := ledger.Mint(ctx, b.Asset, b.Address, amount); err != nil {
			return false, fmt.Errorf("genesis balance %s %s: %w", b.Asset, b.Address, err)
		}
	}
	return true, nil
}

// Save writes g to path as toml, creating parent directories.
func Save(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v.ToBig(), nil
}
