package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"riskledger/core/events"
	"riskledger/core/pricing"
	"riskledger/core/types"
	"riskledger/crypto"
	"riskledger/native/bank"
	"riskledger/native/params"
)

var (
	ErrZeroAmount             = errors.New("lending: amount must be positive")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrHealthBreach           = errors.New("lending: health factor below minimum")
	ErrPaused                 = errors.New("lending: position paused")
	ErrRiskFlagged            = errors.New("lending: account risk flagged")
	ErrExceedsMaxBorrow       = errors.New("lending: exceeds max borrow")
	ErrNoDebt                 = errors.New("lending: no outstanding debt")
	ErrHealthFactorOk         = errors.New("lending: health factor above minimum")
	ErrAmountOverflow         = errors.New("lending: amount exceeds 256 bits")
	ErrZeroAccount            = errors.New("lending: zero account")

	errNilState  = errors.New("lending engine: state not configured")
	errNilOracle = errors.New("lending engine: oracle not configured")
	errNilRisk   = errors.New("lending engine: risk view not configured")
	errNilBank   = errors.New("lending engine: bank not configured")
)

var positionPrefix = []byte("lending/position/")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(*types.Event)
}

// RiskView answers whether an account is currently risk flagged.
type RiskView interface {
	IsRiskFlagged(addr crypto.Address) (bool, error)
}

// Engine implements the position ledger. Every operation validates all of its
// preconditions before writing, writes its state, and only then moves value
// through the bank. A transfer that calls back into the engine therefore sees
// the post-call state. The engine does not lock; the host serializes calls and
// reverts the state journal when an operation returns an error.
type Engine struct {
	state  engineState
	params *params.Store
	oracle pricing.PriceOracle
	risk   RiskView
	bank   bank.Transferer
	nowFn  func() time.Time
}

// NewEngine constructs a lending engine reading its configuration from store.
func NewEngine(store *params.Store) *Engine {
	return &Engine{params: store, nowFn: time.Now}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle configures the price source consulted on every health check.
func (e *Engine) SetOracle(oracle pricing.PriceOracle) { e.oracle = oracle }

// SetRiskView configures the registry consulted before borrowing.
func (e *Engine) SetRiskView(view RiskView) { e.risk = view }

// SetBank configures the value transfer capability.
func (e *Engine) SetBank(t bank.Transferer) { e.bank = t }

// SetNowFunc overrides the clock used for position timestamps.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	if e == nil {
		return
	}
	if fn == nil {
		fn = time.Now
	}
	e.nowFn = fn
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func positionKey(addr crypto.Address) []byte {
	raw := addr.Array()
	key := make([]byte, 0, len(positionPrefix)+len(raw))
	key = append(key, positionPrefix...)
	return append(key, raw[:]...)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos := newPosition()
	ok, err := e.state.KVGet(positionKey(addr), pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newPosition(), nil
	}
	pos.normalize()
	return pos, nil
}

func (e *Engine) storePosition(addr crypto.Address, pos *Position) error {
	return e.state.KVPut(positionKey(addr), pos)
}

func (e *Engine) price(cfg params.Config) (*big.Int, error) {
	if e.oracle == nil {
		return nil, errNilOracle
	}
	price, err := e.oracle.Price(cfg.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("lending: read price: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("lending: read price: %w", pricing.ErrInvalidPrice)
	}
	return price, nil
}

func (e *Engine) health(cfg params.Config, collateral, debt, price *big.Int) *big.Int {
	return healthFactor(collateral, debt, price, new(big.Int).SetUint64(cfg.PriceScale), cfg.LiquidationThresholdBps)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if !fitsUint256(amount) {
		return ErrAmountOverflow
	}
	return nil
}

func checkAccount(addr crypto.Address) error {
	if addr.IsZero() {
		return ErrZeroAccount
	}
	return nil
}

// DepositCollateral pledges amount of the collateral asset from account.
func (e *Engine) DepositCollateral(account crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := checkAccount(account); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	cfg, err := e.params.Config()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	pos.Collateral.Add(pos.Collateral, amount)
	if !fitsUint256(pos.Collateral) {
		return ErrAmountOverflow
	}
	pos.LastUpdate = e.now()
	if err := e.storePosition(account, pos); err != nil {
		return err
	}
	e.state.AppendEvent(events.CollateralDeposited{Account: account, Amount: amount, Total: pos.Collateral}.Event())
	return e.bank.Transfer(cfg.CollateralAsset, account, cfg.ModuleAddress, amount)
}

// WithdrawCollateral releases amount of collateral back to account. The
// resulting position must still satisfy the minimum health factor.
func (e *Engine) WithdrawCollateral(account crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := checkAccount(account); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	cfg, err := e.params.Config()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if amount.Cmp(pos.Collateral) > 0 {
		return ErrInsufficientCollateral
	}
	remaining := new(big.Int).Sub(pos.Collateral, amount)
	if pos.Debt.Sign() > 0 {
		price, err := e.price(cfg)
		if err != nil {
			return err
		}
		hf := e.health(cfg, remaining, pos.Debt, price)
		if hf.Cmp(new(big.Int).SetUint64(cfg.MinHealthFactor)) < 0 {
			return ErrHealthBreach
		}
	}
	pos.Collateral = remaining
	pos.LastUpdate = e.now()
	if err := e.storePosition(account, pos); err != nil {
		return err
	}
	e.state.AppendEvent(events.CollateralWithdrawn{Account: account, Amount: amount, Total: pos.Collateral}.Event())
	return e.bank.Transfer(cfg.CollateralAsset, cfg.ModuleAddress, account, amount)
}

// Borrow draws amount of the debt asset against account's collateral. The
// debt is recorded before the borrowed funds are transferred out.
func (e *Engine) Borrow(account crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := checkAccount(account); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	cfg, err := e.params.Config()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.Paused {
		return ErrPaused
	}
	if e.risk == nil {
		return errNilRisk
	}
	flagged, err := e.risk.IsRiskFlagged(account)
	if err != nil {
		return err
	}
	if flagged {
		return ErrRiskFlagged
	}
	price, err := e.price(cfg)
	if err != nil {
		return err
	}
	nextDebt := new(big.Int).Add(pos.Debt, amount)
	limit := maxBorrow(pos.Collateral, price, new(big.Int).SetUint64(cfg.PriceScale), cfg.LTVBps)
	if nextDebt.Cmp(limit) > 0 {
		return ErrExceedsMaxBorrow
	}
	hf := e.health(cfg, pos.Collateral, nextDebt, price)
	if hf.Cmp(new(big.Int).SetUint64(cfg.MinHealthFactor)) < 0 {
		return ErrHealthBreach
	}
	pos.Debt = nextDebt
	pos.LastUpdate = e.now()
	if err := e.storePosition(account, pos); err != nil {
		return err
	}
	e.state.AppendEvent(events.Borrowed{Account: account, Amount: amount, Debt: pos.Debt, HealthFactor: hf}.Event())
	return e.bank.Transfer(cfg.DebtAsset, cfg.ModuleAddress, account, amount)
}

// Repay applies payment against account's debt. The full payment is pulled
// and anything above the outstanding debt is refunded.
func (e *Engine) Repay(account crypto.Address, payment *big.Int) (*RepayResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := checkAccount(account); err != nil {
		return nil, err
	}
	if err := checkAmount(payment); err != nil {
		return nil, err
	}
	cfg, err := e.params.Config()
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	if pos.Debt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	repaid := minBig(payment, pos.Debt)
	refund := new(big.Int).Sub(payment, repaid)
	pos.Debt = new(big.Int).Sub(pos.Debt, repaid)
	pos.LastUpdate = e.now()
	if err := e.storePosition(account, pos); err != nil {
		return nil, err
	}
	e.state.AppendEvent(events.Repaid{Account: account, Amount: repaid, Refund: refund, Debt: pos.Debt}.Event())
	if err := e.bank.Transfer(cfg.DebtAsset, account, cfg.ModuleAddress, payment); err != nil {
		return nil, err
	}
	if refund.Sign() > 0 {
		if err := e.bank.Transfer(cfg.DebtAsset, cfg.ModuleAddress, account, refund); err != nil {
			return nil, err
		}
	}
	return &RepayResult{Repaid: repaid, Refunded: refund, Debt: new(big.Int).Set(pos.Debt)}, nil
}

// Liquidate repays up to payment of borrower's debt on behalf of liquidator
// and transfers the repaid amount plus a 5% bonus of collateral to the
// liquidator. The call fails without effect if the borrower cannot cover the
// full seizure.
func (e *Engine) Liquidate(liquidator, borrower crypto.Address, payment *big.Int) (*LiquidationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := checkAccount(liquidator); err != nil {
		return nil, err
	}
	if err := checkAccount(borrower); err != nil {
		return nil, err
	}
	if err := checkAmount(payment); err != nil {
		return nil, err
	}
	cfg, err := e.params.Config()
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(borrower)
	if err != nil {
		return nil, err
	}
	if pos.Debt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	price, err := e.price(cfg)
	if err != nil {
		return nil, err
	}
	hf := e.health(cfg, pos.Collateral, pos.Debt, price)
	if hf.Cmp(new(big.Int).SetUint64(cfg.MinHealthFactor)) >= 0 {
		return nil, ErrHealthFactorOk
	}
	repaid := minBig(payment, pos.Debt)
	seized := seizeAmount(repaid)
	if pos.Collateral.Cmp(seized) < 0 {
		return nil, ErrInsufficientCollateral
	}
	pos.Debt = new(big.Int).Sub(pos.Debt, repaid)
	pos.Collateral = new(big.Int).Sub(pos.Collateral, seized)
	pos.LastUpdate = e.now()
	if err := e.storePosition(borrower, pos); err != nil {
		return nil, err
	}
	e.state.AppendEvent(events.Liquidated{Liquidator: liquidator, Borrower: borrower, Repaid: repaid, Seized: seized}.Event())
	if err := e.bank.Transfer(cfg.DebtAsset, liquidator, cfg.ModuleAddress, repaid); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(cfg.CollateralAsset, cfg.ModuleAddress, liquidator, seized); err != nil {
		return nil, err
	}
	return &LiquidationResult{Repaid: repaid, Seized: seized}, nil
}

// GetUserPosition returns the position of account with its current health
// factor. It never writes state.
func (e *Engine) GetUserPosition(account crypto.Address) (*PositionView, error) {
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	view := &PositionView{
		Account:    account,
		Collateral: new(big.Int).Set(pos.Collateral),
		Debt:       new(big.Int).Set(pos.Debt),
		Paused:     pos.Paused,
		LastUpdate: pos.LastUpdate,
	}
	if pos.Debt.Sign() == 0 {
		view.HealthFactor = MaxHealthFactor()
		return view, nil
	}
	cfg, err := e.params.Config()
	if err != nil {
		return nil, err
	}
	price, err := e.price(cfg)
	if err != nil {
		return nil, err
	}
	view.HealthFactor = e.health(cfg, pos.Collateral, pos.Debt, price)
	return view, nil
}

// SetPaused toggles the pause flag on account's position. Authorization is
// the caller's responsibility; the guardian is the only intended caller.
func (e *Engine) SetPaused(account crypto.Address, paused bool) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.Paused == paused {
		return nil
	}
	pos.Paused = paused
	pos.LastUpdate = e.now()
	if err := e.storePosition(account, pos); err != nil {
		return err
	}
	e.state.AppendEvent(events.PositionPauseChanged{Account: account, Paused: paused}.Event())
	return nil
}

// IsPaused reports whether account's position is paused.
func (e *Engine) IsPaused(account crypto.Address) (bool, error) {
	pos, err := e.loadPosition(account)
	if err != nil {
		return false, err
	}
	return pos.Paused, nil
}
