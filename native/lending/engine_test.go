package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"riskledger/core/pricing"
	"riskledger/core/state"
	"riskledger/crypto"
	"riskledger/native/bank"
	"riskledger/native/common"
	"riskledger/native/params"
	"riskledger/storage"
)

var priceUnit = big.NewInt(100_000_000)

func makeAddress(b byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[0] = 0x42
	raw[crypto.AddressLength-1] = b
	return crypto.AddressFromArray(raw)
}

func units(price int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(price), priceUnit)
}

type stubRiskView struct {
	flagged map[crypto.Address]bool
	calls   int
}

func (s *stubRiskView) IsRiskFlagged(addr crypto.Address) (bool, error) {
	s.calls++
	return s.flagged[addr], nil
}

type testEnv struct {
	engine *Engine
	mgr    *state.Manager
	bank   *bank.Ledger
	oracle *pricing.StaticOracle
	risk   *stubRiskView
	store  *params.Store
	module crypto.Address
	admin  crypto.Address
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	store := params.NewStore(mgr)
	env := &testEnv{
		mgr:    mgr,
		store:  store,
		bank:   bank.NewLedger(mgr),
		oracle: pricing.NewStaticOracle(0),
		risk:   &stubRiskView{flagged: make(map[crypto.Address]bool)},
		module: makeAddress(0xee),
		admin:  makeAddress(0xad),
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	cfg := params.DefaultConfig()
	cfg.ModuleAddress = env.module
	cfg.Principals = common.Principals{Admin: env.admin}
	if err := store.Init(cfg); err != nil {
		t.Fatalf("init params: %v", err)
	}
	env.engine = NewEngine(store)
	env.engine.SetState(mgr)
	env.engine.SetBank(env.bank)
	env.engine.SetOracle(env.oracle)
	env.engine.SetRiskView(env.risk)
	env.engine.SetNowFunc(func() time.Time { return env.now })
	if err := env.bank.Mint(cfg.DebtAsset, env.module, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("fund module: %v", err)
	}
	env.setPrice(t, units(2000))
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit setup: %v", err)
	}
	return env
}

func (env *testEnv) setPrice(t *testing.T, price *big.Int) {
	t.Helper()
	if err := env.oracle.SetPrice(params.DefaultCollateralAsset, price, env.now); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func (env *testEnv) fund(t *testing.T, asset string, addr crypto.Address, amount int64) {
	t.Helper()
	if err := env.bank.Mint(asset, addr, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (env *testEnv) balance(t *testing.T, asset string, addr crypto.Address) *big.Int {
	t.Helper()
	bal, err := env.bank.Balance(asset, addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (env *testEnv) position(t *testing.T, addr crypto.Address) *PositionView {
	t.Helper()
	view, err := env.engine.GetUserPosition(addr)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	return view
}

func (env *testEnv) assertHealthy(t *testing.T, addr crypto.Address) {
	t.Helper()
	view := env.position(t, addr)
	cfg, _ := env.store.Config()
	if view.Debt.Sign() != 0 && view.HealthFactor.Cmp(new(big.Int).SetUint64(cfg.MinHealthFactor)) < 0 {
		t.Fatalf("position %s left unhealthy: debt=%s hf=%s", addr, view.Debt, view.HealthFactor)
	}
}

func TestBorrowUpToMaxBorrow(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)

	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(15_000)); err != nil {
		t.Fatalf("borrow 15000: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(1)); !errors.Is(err, ErrExceedsMaxBorrow) {
		t.Fatalf("expected ErrExceedsMaxBorrow, got %v", err)
	}

	view := env.position(t, alice)
	if view.Debt.Cmp(big.NewInt(15_000)) != 0 || view.Collateral.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected position %+v", view)
	}
	if view.HealthFactor.Cmp(big.NewInt(10_666)) != 0 {
		t.Fatalf("unexpected health factor %s", view.HealthFactor)
	}
	if bal := env.balance(t, "USD", alice); bal.Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("borrowed funds not paid out: %s", bal)
	}
	if bal := env.balance(t, "ETH", env.module); bal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("collateral not held by module: %s", bal)
	}
	if env.risk.calls != 2 {
		t.Fatalf("expected one risk check per borrow, got %d", env.risk.calls)
	}
}

func TestBorrowHealthBreachWhenLTVExceedsThreshold(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)

	// LTV above the liquidation threshold lets maxBorrow admit loans that
	// would start below the minimum health factor.
	if err := env.engine.SetLTV(env.admin, 9_000); err != nil {
		t.Fatalf("set ltv: %v", err)
	}
	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// maxBorrow = 20000 * 9000 / 10000 = 18000, health = 20000 * 8000 / 18000 = 8888.
	if err := env.engine.Borrow(alice, big.NewInt(18_000)); !errors.Is(err, ErrHealthBreach) {
		t.Fatalf("expected ErrHealthBreach, got %v", err)
	}
	if env.mgr.Dirty() {
		t.Fatalf("rejected borrow must not write state")
	}
	view := env.position(t, alice)
	if view.Debt.Sign() != 0 || view.Collateral.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("rejected borrow changed position: %+v", view)
	}
	if bal := env.balance(t, "USD", alice); bal.Sign() != 0 {
		t.Fatalf("rejected borrow paid out %s", bal)
	}
	if bal := env.balance(t, "USD", env.module); bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("module liquidity changed: %s", bal)
	}

	// health = 20000 * 8000 / 16000 = 10000, exactly the minimum.
	if err := env.engine.Borrow(alice, big.NewInt(16_000)); err != nil {
		t.Fatalf("borrow at minimum health: %v", err)
	}
	if view := env.position(t, alice); view.HealthFactor.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected health 10000, got %s", view.HealthFactor)
	}
}

func TestPriceDropMakesPositionLiquidatable(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	bob := makeAddress(2)
	env.fund(t, "ETH", alice, 10)
	env.fund(t, "USD", bob, 15_000)

	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(15_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := env.engine.Liquidate(bob, alice, big.NewInt(15_000)); !errors.Is(err, ErrHealthFactorOk) {
		t.Fatalf("healthy position must not be liquidatable, got %v", err)
	}

	env.setPrice(t, units(1000))
	view := env.position(t, alice)
	if view.HealthFactor.Cmp(big.NewInt(5_333)) != 0 {
		t.Fatalf("expected health 5333, got %s", view.HealthFactor)
	}
	if err := env.mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// 15000 repaid requires 15750 collateral; 10 are pledged.
	if _, err := env.engine.Liquidate(bob, alice, big.NewInt(15_000)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if env.mgr.Dirty() {
		t.Fatalf("rejected liquidation must not write state")
	}
	after := env.position(t, alice)
	if after.Debt.Cmp(big.NewInt(15_000)) != 0 || after.Collateral.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("rejected liquidation changed position: %+v", after)
	}
	if bal := env.balance(t, "USD", bob); bal.Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("liquidator charged for rejected liquidation: %s", bal)
	}
}

func TestLiquidateSeizesWithBonus(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	bob := makeAddress(2)
	env.setPrice(t, units(1))
	env.fund(t, "ETH", alice, 20_000)
	env.fund(t, "USD", bob, 30_000)

	if err := env.engine.DepositCollateral(alice, big.NewInt(20_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(15_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.setPrice(t, big.NewInt(90_000_000))

	result, err := env.engine.Liquidate(bob, alice, big.NewInt(20_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Repaid.Cmp(big.NewInt(15_000)) != 0 || result.Seized.Cmp(big.NewInt(15_750)) != 0 {
		t.Fatalf("unexpected result repaid=%s seized=%s", result.Repaid, result.Seized)
	}

	view := env.position(t, alice)
	if view.Debt.Sign() != 0 || view.Collateral.Cmp(big.NewInt(4_250)) != 0 {
		t.Fatalf("unexpected borrower position %+v", view)
	}
	if bal := env.balance(t, "USD", bob); bal.Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("liquidator should pay only the repaid amount, has %s", bal)
	}
	if bal := env.balance(t, "ETH", bob); bal.Cmp(big.NewInt(15_750)) != 0 {
		t.Fatalf("liquidator should receive seized collateral, has %s", bal)
	}
}

func TestLiquidateRejectsNoDebtAndZeroPayment(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	bob := makeAddress(2)

	// Debt is checked before health: a debt-free position reports NoDebt,
	// not HealthFactorOk, and needs no price.
	env.oracle = pricing.NewStaticOracle(0)
	env.engine.SetOracle(env.oracle)
	if _, err := env.engine.Liquidate(bob, alice, big.NewInt(1)); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected ErrNoDebt, got %v", err)
	}
	if _, err := env.engine.Liquidate(bob, alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestWithdrawHealthBreachLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)

	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(10_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := env.engine.WithdrawCollateral(alice, big.NewInt(5)); !errors.Is(err, ErrHealthBreach) {
		t.Fatalf("expected ErrHealthBreach, got %v", err)
	}
	if err := env.engine.WithdrawCollateral(alice, big.NewInt(11)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if env.mgr.Dirty() {
		t.Fatalf("rejected withdrawals must not write state")
	}
	if view := env.position(t, alice); view.Collateral.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("collateral changed: %s", view.Collateral)
	}

	// 9 collateral at 2000 gives health 9*2000*8000/10000 = 14400 >= 10000.
	if err := env.engine.WithdrawCollateral(alice, big.NewInt(1)); err != nil {
		t.Fatalf("healthy withdrawal: %v", err)
	}
	env.assertHealthy(t, alice)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 1_000)

	if err := env.engine.DepositCollateral(alice, big.NewInt(400)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.WithdrawCollateral(alice, big.NewInt(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	view := env.position(t, alice)
	if view.Collateral.Sign() != 0 || view.Debt.Sign() != 0 {
		t.Fatalf("position not restored: %+v", view)
	}
	if view.HealthFactor.Cmp(MaxHealthFactor()) != 0 {
		t.Fatalf("debt-free position must report max health, got %s", view.HealthFactor)
	}
	if bal := env.balance(t, "ETH", alice); bal.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("balance not restored: %s", bal)
	}
}

func TestZeroAmountsRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)

	if err := env.engine.DepositCollateral(alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("deposit: expected ErrZeroAmount, got %v", err)
	}
	if err := env.engine.WithdrawCollateral(alice, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("withdraw: expected ErrZeroAmount, got %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(-5)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("borrow: expected ErrZeroAmount, got %v", err)
	}
	if _, err := env.engine.Repay(alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("repay: expected ErrZeroAmount, got %v", err)
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := env.engine.DepositCollateral(alice, tooBig); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestBorrowRejectsPausedAndFlagged(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)
	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	env.risk.flagged[alice] = true
	if err := env.engine.Borrow(alice, big.NewInt(100)); !errors.Is(err, ErrRiskFlagged) {
		t.Fatalf("expected ErrRiskFlagged, got %v", err)
	}

	env.risk.flagged[alice] = false
	if err := env.engine.SetPaused(alice, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(100)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	// Pausing blocks only new debt.
	if err := env.engine.WithdrawCollateral(alice, big.NewInt(1)); err != nil {
		t.Fatalf("withdraw while paused: %v", err)
	}

	if err := env.engine.SetPaused(alice, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(100)); err != nil {
		t.Fatalf("borrow after unpause: %v", err)
	}
}

func TestRepayRefundsExcess(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)

	if _, err := env.engine.Repay(alice, big.NewInt(10)); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected ErrNoDebt, got %v", err)
	}
	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.fund(t, "USD", alice, 500)

	result, err := env.engine.Repay(alice, big.NewInt(400))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if result.Repaid.Cmp(big.NewInt(400)) != 0 || result.Refunded.Sign() != 0 || result.Debt.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected partial repay result %+v", result)
	}

	result, err = env.engine.Repay(alice, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("over repay: %v", err)
	}
	if result.Repaid.Cmp(big.NewInt(600)) != 0 || result.Refunded.Cmp(big.NewInt(400)) != 0 || result.Debt.Sign() != 0 {
		t.Fatalf("unexpected over repay result %+v", result)
	}
	// 1000 borrowed + 500 minted - 400 - 600 repaid.
	if bal := env.balance(t, "USD", alice); bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected balance after refund: %s", bal)
	}
}

func TestGetUserPositionIsPure(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)
	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	env.position(t, alice)
	env.position(t, makeAddress(9))
	if env.mgr.Dirty() {
		t.Fatalf("reads must not write state")
	}
}

func TestHealthInvariantAcrossOperations(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 100)
	env.fund(t, "USD", alice, 10_000)

	steps := []func() error{
		func() error { return env.engine.DepositCollateral(alice, big.NewInt(50)) },
		func() error { return env.engine.Borrow(alice, big.NewInt(60_000)) },
		func() error { return env.engine.WithdrawCollateral(alice, big.NewInt(10)) },
		func() error { return env.engine.Borrow(alice, big.NewInt(20_000)) },
		func() error { _, err := env.engine.Repay(alice, big.NewInt(5_000)); return err },
		func() error { return env.engine.WithdrawCollateral(alice, big.NewInt(20)) },
		func() error { return env.engine.DepositCollateral(alice, big.NewInt(50)) },
		func() error { return env.engine.Borrow(alice, big.NewInt(40_000)) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			var allowed = []error{ErrHealthBreach, ErrExceedsMaxBorrow}
			ok := false
			for _, target := range allowed {
				if errors.Is(err, target) {
					ok = true
				}
			}
			if !ok {
				t.Fatalf("step %d: unexpected error %v", i, err)
			}
		}
		env.assertHealthy(t, alice)
	}
}

type reentrantBank struct {
	*bank.Ledger
	engine   *Engine
	victim   crypto.Address
	asset    string
	reenter  func(*Engine) error
	nested   []error
	entering bool
}

func (b *reentrantBank) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if err := b.Ledger.Transfer(asset, from, to, amount); err != nil {
		return err
	}
	if asset == b.asset && to.Equal(b.victim) && !b.entering {
		b.entering = true
		b.nested = append(b.nested, b.reenter(b.engine))
		b.entering = false
	}
	return nil
}

func TestReentrantBorrowSeesRecordedDebt(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)
	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	rb := &reentrantBank{
		Ledger: env.bank,
		engine: env.engine,
		victim: alice,
		asset:  "USD",
		reenter: func(e *Engine) error {
			return e.Borrow(alice, big.NewInt(15_000))
		},
	}
	env.engine.SetBank(rb)

	if err := env.engine.Borrow(alice, big.NewInt(15_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if len(rb.nested) != 1 || !errors.Is(rb.nested[0], ErrExceedsMaxBorrow) {
		t.Fatalf("reentrant borrow must see the recorded debt, got %v", rb.nested)
	}
	if view := env.position(t, alice); view.Debt.Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("debt doubled by reentrancy: %s", view.Debt)
	}
	if bal := env.balance(t, "USD", alice); bal.Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("funds doubled by reentrancy: %s", bal)
	}
}

func TestReentrantWithdrawSeesDebitedCollateral(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)
	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	rb := &reentrantBank{
		Ledger: env.bank,
		engine: env.engine,
		victim: alice,
		asset:  "ETH",
		reenter: func(e *Engine) error {
			return e.WithdrawCollateral(alice, big.NewInt(10))
		},
	}
	env.engine.SetBank(rb)

	if err := env.engine.WithdrawCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(rb.nested) != 1 || !errors.Is(rb.nested[0], ErrInsufficientCollateral) {
		t.Fatalf("reentrant withdraw must see debited collateral, got %v", rb.nested)
	}
	if bal := env.balance(t, "ETH", alice); bal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("collateral paid out twice: %s", bal)
	}
}

func TestConfigSettersRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetLTV(makeAddress(1), 5_000); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := env.engine.SetLiquidationThreshold(env.admin, 10_001); !errors.Is(err, common.ErrThresholdTooHigh) {
		t.Fatalf("expected threshold too high, got %v", err)
	}
	if err := env.engine.SetLTV(env.admin, 5_000); err != nil {
		t.Fatalf("set ltv: %v", err)
	}
	if err := env.engine.SetMinHealthFactor(env.admin, 11_000); err != nil {
		t.Fatalf("set min health: %v", err)
	}

	alice := makeAddress(1)
	env.fund(t, "ETH", alice, 10)
	if err := env.engine.DepositCollateral(alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Borrow(alice, big.NewInt(10_001)); !errors.Is(err, ErrExceedsMaxBorrow) {
		t.Fatalf("lowered ltv must cap borrowing at 10000, got %v", err)
	}
}
