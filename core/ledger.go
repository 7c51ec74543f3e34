package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	coreerrors "riskledger/core/errors"
	"riskledger/core/events"
	"riskledger/core/pricing"
	"riskledger/core/state"
	"riskledger/crypto"
	"riskledger/native/bank"
	"riskledger/native/common"
	"riskledger/native/guardian"
	"riskledger/native/lending"
	"riskledger/native/params"
	"riskledger/native/risk"
	"riskledger/observability"
	"riskledger/observability/otel"
	"riskledger/storage"
)

var errNilOracle = errors.New("ledger: price oracle required")

// Option customises a Ledger at construction time.
type Option func(*Ledger)

// WithEmitter adds a subscriber for committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitters = append(l.emitters, emitter)
		}
	}
}

// WithClock overrides the wall clock shared by every engine.
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) { l.clock = fn }
}

// WithLogger sets the logger used for failed operations.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithVerifier replaces the attestation signature verifier.
func WithVerifier(v risk.Verifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

// WithTransferer routes value movement through t instead of the built-in
// balance ledger. t runs inside the critical section and must not call back
// into the Ledger.
func WithTransferer(t bank.Transferer) Option {
	return func(l *Ledger) { l.transferer = t }
}

// WithMeter records ledger operations on meter instead of the global
// OpenTelemetry meter.
func WithMeter(meter metric.Meter) Option {
	return func(l *Ledger) { l.meter = meter }
}

// Ledger hosts the lending engine, risk registry and guardian over one
// journaled state. Calls are serialized; each mutating call either commits
// all of its writes and events or none of them.
type Ledger struct {
	mu sync.Mutex

	db       storage.Database
	state    *state.Manager
	params   *params.Store
	bank     *bank.Ledger
	lending  *lending.Engine
	registry *risk.Registry
	guardian *guardian.Guardian

	emitters   []events.Emitter
	clock      func() time.Time
	verifier   risk.Verifier
	transferer bank.Transferer
	logger     *slog.Logger
	metrics    *observability.LedgerMetrics
	tracer     trace.Tracer
	meter      metric.Meter
	otelOps    *otel.LedgerInstruments
}

// NewLedger wires the engines over db. The ledger must be initialised with
// Init before use unless db already holds a configuration.
func NewLedger(db storage.Database, oracle pricing.PriceOracle, opts ...Option) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database required")
	}
	if oracle == nil {
		return nil, errNilOracle
	}
	l := &Ledger{
		db:      db,
		clock:   time.Now,
		logger:  slog.Default(),
		metrics: observability.Ledger(),
		tracer:  otel.Tracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	instruments, err := otel.NewLedgerInstruments(l.meter)
	if err != nil {
		return nil, err
	}
	l.otelOps = instruments

	l.state = state.NewManager(db)
	emitters := append(events.Multi{observability.Events()}, l.emitters...)
	l.state.SetEmitter(emitters)

	l.params = params.NewStore(l.state)
	l.bank = bank.NewLedger(l.state)

	l.registry = risk.NewRegistry(l.params)
	l.registry.SetState(l.state)
	l.registry.SetNowFunc(l.clock)
	if l.verifier != nil {
		l.registry.SetVerifier(l.verifier)
	}

	var transferer bank.Transferer = l.bank
	if l.transferer != nil {
		transferer = l.transferer
	}
	l.lending = lending.NewEngine(l.params)
	l.lending.SetState(l.state)
	l.lending.SetOracle(oracle)
	l.lending.SetRiskView(l.registry)
	l.lending.SetBank(transferer)
	l.lending.SetNowFunc(l.clock)

	l.guardian = guardian.New(l.params, l.registry, l.lending)
	l.guardian.SetState(l.state)
	l.guardian.SetNowFunc(l.clock)
	return l, nil
}

// Close discards any uncommitted writes and closes the underlying database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Discard()
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("ledger: close database: %w", err)
	}
	return nil
}

// execute runs fn inside the critical section. Any error reverts every write
// and event fn produced; success commits them and then delivers the events.
func (l *Ledger) execute(ctx context.Context, op string, fn func() error, attrs ...attribute.KeyValue) (err error) {
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		code := coreerrors.Code(err)
		elapsed := time.Since(start)
		l.metrics.Observe(op, code, elapsed)
		l.otelOps.Record(ctx, op, code, elapsed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			l.logger.DebugContext(ctx, "ledger operation rejected",
				slog.String("operation", op),
				slog.String("code", code),
				slog.Any("error", err))
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap := l.state.Snapshot()
	if err := fn(); err != nil {
		if revertErr := l.state.RevertToSnapshot(snap); revertErr != nil {
			err = errors.Join(err, revertErr)
		}
		l.state.Discard()
		l.metrics.RecordRevert()
		return err
	}
	if err := l.state.Commit(); err != nil {
		l.state.Discard()
		l.metrics.RecordRevert()
		return err
	}
	return nil
}

// view runs a read-only fn inside the critical section.
func (l *Ledger) view(ctx context.Context, op string, fn func() error) error {
	_, span := l.tracer.Start(ctx, "ledger."+op)
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, coreerrors.Code(err))
		return err
	}
	return nil
}

func accountAttr(key string, addr crypto.Address) attribute.KeyValue {
	return attribute.String(key, addr.String())
}

// Init persists the initial configuration.
func (l *Ledger) Init(ctx context.Context, cfg params.Config) error {
	return l.execute(ctx, "init", func() error { return l.params.Init(cfg) })
}

// Initialised reports whether a configuration has been persisted.
func (l *Ledger) Initialised(ctx context.Context) (bool, error) {
	_, err := l.Config(ctx)
	if errors.Is(err, params.ErrNotInitialised) {
		return false, nil
	}
	return err == nil, err
}

// Config returns the current configuration.
func (l *Ledger) Config(ctx context.Context) (params.Config, error) {
	var cfg params.Config
	err := l.view(ctx, "config", func() error {
		var err error
		cfg, err = l.params.Config()
		return err
	})
	return cfg, err
}

// Mint credits amount of asset to addr. Only genesis loading and tests use it.
func (l *Ledger) Mint(ctx context.Context, asset string, addr crypto.Address, amount *big.Int) error {
	return l.execute(ctx, "mint", func() error { return l.bank.Mint(asset, addr, amount) },
		attribute.String("asset", asset), accountAttr("account", addr))
}

// Balance returns the built-in bank balance of addr.
func (l *Ledger) Balance(ctx context.Context, asset string, addr crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := l.view(ctx, "balance", func() error {
		var err error
		out, err = l.bank.Balance(asset, addr)
		return err
	})
	return out, err
}

// DepositCollateral pledges amount of the collateral asset from account into
// the module account.
func (l *Ledger) DepositCollateral(ctx context.Context, account crypto.Address, amount *big.Int) error {
	return l.execute(ctx, "deposit_collateral", func() error {
		return l.lending.DepositCollateral(account, amount)
	}, accountAttr("account", account))
}

// WithdrawCollateral returns amount of collateral to account. It fails with
// lending.ErrHealthBreach if the remaining position would be unhealthy.
func (l *Ledger) WithdrawCollateral(ctx context.Context, account crypto.Address, amount *big.Int) error {
	return l.execute(ctx, "withdraw_collateral", func() error {
		return l.lending.WithdrawCollateral(account, amount)
	}, accountAttr("account", account))
}

// Borrow records amount of new debt for account and pays it out from the
// module. Paused and risk-flagged accounts cannot borrow.
func (l *Ledger) Borrow(ctx context.Context, account crypto.Address, amount *big.Int) error {
	return l.execute(ctx, "borrow", func() error {
		return l.lending.Borrow(account, amount)
	}, accountAttr("account", account))
}

// Repay applies payment to account's debt and refunds any excess.
func (l *Ledger) Repay(ctx context.Context, account crypto.Address, payment *big.Int) (*lending.RepayResult, error) {
	var res *lending.RepayResult
	err := l.execute(ctx, "repay", func() error {
		var err error
		res, err = l.lending.Repay(account, payment)
		return err
	}, accountAttr("account", account))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Liquidate repays part of an unhealthy borrower's debt on behalf of
// liquidator, who receives the repaid amount plus a 5% bonus in collateral.
// The whole call reverts if the borrower cannot cover the seizure.
func (l *Ledger) Liquidate(ctx context.Context, liquidator, borrower crypto.Address, payment *big.Int) (*lending.LiquidationResult, error) {
	var res *lending.LiquidationResult
	err := l.execute(ctx, "liquidate", func() error {
		var err error
		res, err = l.lending.Liquidate(liquidator, borrower, payment)
		return err
	}, accountAttr("liquidator", liquidator), accountAttr("borrower", borrower))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetUserPosition returns the position and its health factor at the current price.
func (l *Ledger) GetUserPosition(ctx context.Context, account crypto.Address) (*lending.PositionView, error) {
	var view *lending.PositionView
	err := l.view(ctx, "get_user_position", func() error {
		var err error
		view, err = l.lending.GetUserPosition(account)
		return err
	})
	return view, err
}

// SetRiskScoreAttested stores a record signed by the configured attester.
// Any submitter may relay it and expired records are accepted.
func (l *Ledger) SetRiskScoreAttested(ctx context.Context, submitter crypto.Address, a risk.Attestation) error {
	return l.execute(ctx, "set_risk_score_attested", func() error {
		return l.registry.SetRiskScoreAttested(submitter, a)
	}, accountAttr("borrower", a.Borrower))
}

// SetRiskScoreTrusted stores a record written directly by the trusted scorer.
// expiresAt must lie in the future.
func (l *Ledger) SetRiskScoreTrusted(ctx context.Context, caller, borrower crypto.Address, score, expiresAt uint64, metadataHash [32]byte) error {
	return l.execute(ctx, "set_risk_score_trusted", func() error {
		return l.registry.SetRiskScoreTrusted(caller, borrower, score, expiresAt, metadataHash)
	}, accountAttr("borrower", borrower))
}

// GetRiskScore returns borrower's record, zero-valued if none was written.
func (l *Ledger) GetRiskScore(ctx context.Context, borrower crypto.Address) (risk.Record, error) {
	var rec risk.Record
	err := l.view(ctx, "get_risk_score", func() error {
		var err error
		rec, err = l.registry.GetRiskScore(borrower)
		return err
	})
	return rec, err
}

// IsRiskFlagged reports whether borrower holds an unexpired score at or above
// the pause threshold.
func (l *Ledger) IsRiskFlagged(ctx context.Context, borrower crypto.Address) (bool, error) {
	var flagged bool
	err := l.view(ctx, "is_risk_flagged", func() error {
		var err error
		flagged, err = l.registry.IsRiskFlagged(borrower)
		return err
	})
	return flagged, err
}

// IsExtraCollateralFlagged is the advisory counterpart of IsRiskFlagged.
func (l *Ledger) IsExtraCollateralFlagged(ctx context.Context, borrower crypto.Address) (bool, error) {
	var flagged bool
	err := l.view(ctx, "is_extra_collateral_flagged", func() error {
		var err error
		flagged, err = l.registry.IsExtraCollateralFlagged(borrower)
		return err
	})
	return flagged, err
}

// EnforcePause pauses a risk-flagged user. Guardian or governance only.
func (l *Ledger) EnforcePause(ctx context.Context, caller, user crypto.Address) error {
	return l.execute(ctx, "enforce_pause", func() error {
		return l.guardian.EnforcePause(caller, user)
	}, accountAttr("user", user))
}

// Unpause lifts a pause without consulting the registry.
func (l *Ledger) Unpause(ctx context.Context, caller, user crypto.Address) error {
	return l.execute(ctx, "unpause", func() error {
		return l.guardian.Unpause(caller, user)
	}, accountAttr("user", user))
}

// RequireExtraCollateral records an advisory surcharge for user.
func (l *Ledger) RequireExtraCollateral(ctx context.Context, caller, user crypto.Address, bps uint64) error {
	return l.execute(ctx, "require_extra_collateral", func() error {
		return l.guardian.RequireExtraCollateral(caller, user, bps)
	}, accountAttr("user", user))
}

// SetTopUpDeadline records an advisory deadline for user.
func (l *Ledger) SetTopUpDeadline(ctx context.Context, caller, user crypto.Address, deadline uint64) error {
	return l.execute(ctx, "set_top_up_deadline", func() error {
		return l.guardian.SetTopUpDeadline(caller, user, deadline)
	}, accountAttr("user", user))
}

// ExtraCollateralBps returns user's advisory surcharge, zero when unset.
func (l *Ledger) ExtraCollateralBps(ctx context.Context, user crypto.Address) (uint64, error) {
	var bps uint64
	err := l.view(ctx, "extra_collateral_bps", func() error {
		var err error
		bps, err = l.guardian.ExtraCollateralBps(user)
		return err
	})
	return bps, err
}

// TopUpDeadline returns user's advisory deadline, zero when unset.
func (l *Ledger) TopUpDeadline(ctx context.Context, user crypto.Address) (uint64, error) {
	var deadline uint64
	err := l.view(ctx, "top_up_deadline", func() error {
		var err error
		deadline, err = l.guardian.TopUpDeadline(user)
		return err
	})
	return deadline, err
}

// SetLTV updates the loan-to-value ratio. Admin only.
func (l *Ledger) SetLTV(ctx context.Context, caller crypto.Address, bps uint64) error {
	return l.execute(ctx, "set_ltv", func() error { return l.lending.SetLTV(caller, bps) })
}

// SetLiquidationThreshold updates the liquidation threshold. Admin only.
func (l *Ledger) SetLiquidationThreshold(ctx context.Context, caller crypto.Address, bps uint64) error {
	return l.execute(ctx, "set_liquidation_threshold", func() error {
		return l.lending.SetLiquidationThreshold(caller, bps)
	})
}

// SetMinHealthFactor updates the minimum health factor. Admin only.
func (l *Ledger) SetMinHealthFactor(ctx context.Context, caller crypto.Address, value uint64) error {
	return l.execute(ctx, "set_min_health_factor", func() error {
		return l.lending.SetMinHealthFactor(caller, value)
	})
}

// SetPauseThreshold updates the score at which accounts become risk flagged.
func (l *Ledger) SetPauseThreshold(ctx context.Context, caller crypto.Address, value uint64) error {
	return l.execute(ctx, "set_pause_threshold", func() error {
		return l.registry.SetPauseThreshold(caller, value)
	})
}

// SetExtraCollateralThreshold updates the advisory extra-collateral score.
func (l *Ledger) SetExtraCollateralThreshold(ctx context.Context, caller crypto.Address, value uint64) error {
	return l.execute(ctx, "set_extra_collateral_threshold", func() error {
		return l.registry.SetExtraCollateralThreshold(caller, value)
	})
}

// RotatePrincipal hands role to next. The guardian seat is rotated by
// governance, every other seat by the admin.
func (l *Ledger) RotatePrincipal(ctx context.Context, caller crypto.Address, role common.Role, next crypto.Address) error {
	return l.execute(ctx, "rotate_principal", func() error {
		switch role {
		case common.RoleGuardian:
			return l.guardian.SetGuardian(caller, next)
		case common.RoleAttester:
			return l.registry.SetAttester(caller, next)
		case common.RoleTrustedScorer:
			return l.registry.SetTrustedScorer(caller, next)
		case common.RoleAdmin:
			return l.registry.SetAdmin(caller, next)
		default:
			return l.params.RotatePrincipal(caller, role, next)
		}
	}, attribute.String("role", role.String()))
}
