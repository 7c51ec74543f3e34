package guardian

import (
	"errors"
	"time"

	"riskledger/core/events"
	"riskledger/core/types"
	"riskledger/crypto"
	"riskledger/native/common"
	"riskledger/native/params"
)

var (
	ErrNotFlagged      = errors.New("guardian: account not risk flagged")
	ErrInvalidDeadline = errors.New("guardian: deadline must be in the future")
	ErrInvalidBps      = errors.New("guardian: extra collateral bps must be positive")

	errNilState     = errors.New("guardian: state not configured")
	errNilFlags     = errors.New("guardian: risk view not configured")
	errNilPositions = errors.New("guardian: positions not configured")
)

var policyPrefix = []byte("guardian/policy/")

// Policy holds advisory markers for one account. Neither field is read by
// the position ledger.
type Policy struct {
	ExtraCollateralBps uint64
	TopUpDeadline      uint64
}

type guardianState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(*types.Event)
}

// FlagView answers whether an account is currently risk flagged.
type FlagView interface {
	IsRiskFlagged(addr crypto.Address) (bool, error)
}

// PauseSetter toggles the pause flag on a ledger position.
type PauseSetter interface {
	SetPaused(addr crypto.Address, paused bool) error
}

// Guardian turns registry flags into borrowing restrictions. Both the
// guardian and governance principals may act; only governance may replace the
// guardian.
type Guardian struct {
	state     guardianState
	params    *params.Store
	flags     FlagView
	positions PauseSetter
	nowFn     func() time.Time
}

// New constructs a guardian reading principals from store.
func New(store *params.Store, flags FlagView, positions PauseSetter) *Guardian {
	return &Guardian{params: store, flags: flags, positions: positions, nowFn: time.Now}
}

// SetState wires the guardian to the external persistence layer.
func (g *Guardian) SetState(state guardianState) { g.state = state }

// SetNowFunc overrides the wall clock used for deadline validation.
func (g *Guardian) SetNowFunc(fn func() time.Time) {
	if g == nil {
		return
	}
	if fn == nil {
		fn = time.Now
	}
	g.nowFn = fn
}

func (g *Guardian) now() uint64 {
	ts := g.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func policyKey(addr crypto.Address) []byte {
	raw := addr.Array()
	key := make([]byte, 0, len(policyPrefix)+len(raw))
	key = append(key, policyPrefix...)
	return append(key, raw[:]...)
}

func (g *Guardian) authorize(caller crypto.Address) error {
	if g == nil || g.state == nil {
		return errNilState
	}
	cfg, err := g.params.Config()
	if err != nil {
		return err
	}
	return cfg.Principals.Authorize(caller, common.RoleGuardian, common.RoleGovernance)
}

func checkUser(user crypto.Address) error {
	if user.IsZero() {
		return common.ErrZeroAddress
	}
	return nil
}

// EnforcePause pauses user's position. The user must currently be risk flagged.
func (g *Guardian) EnforcePause(caller, user crypto.Address) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if err := checkUser(user); err != nil {
		return err
	}
	if g.flags == nil {
		return errNilFlags
	}
	if g.positions == nil {
		return errNilPositions
	}
	flagged, err := g.flags.IsRiskFlagged(user)
	if err != nil {
		return err
	}
	if !flagged {
		return ErrNotFlagged
	}
	if err := g.positions.SetPaused(user, true); err != nil {
		return err
	}
	g.state.AppendEvent(events.GuardianAction{Type: events.TypeGuardianPauseEnforced, User: user, By: caller}.Event())
	return nil
}

// Unpause clears user's pause flag without consulting the registry.
func (g *Guardian) Unpause(caller, user crypto.Address) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if err := checkUser(user); err != nil {
		return err
	}
	if g.positions == nil {
		return errNilPositions
	}
	if err := g.positions.SetPaused(user, false); err != nil {
		return err
	}
	g.state.AppendEvent(events.GuardianAction{Type: events.TypeGuardianUnpaused, User: user, By: caller}.Event())
	return nil
}

// RequireExtraCollateral records an advisory collateral surcharge for user.
func (g *Guardian) RequireExtraCollateral(caller, user crypto.Address, bps uint64) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if err := checkUser(user); err != nil {
		return err
	}
	if bps == 0 {
		return ErrInvalidBps
	}
	policy, err := g.Policy(user)
	if err != nil {
		return err
	}
	policy.ExtraCollateralBps = bps
	if err := g.state.KVPut(policyKey(user), &policy); err != nil {
		return err
	}
	g.state.AppendEvent(events.GuardianAction{Type: events.TypeGuardianExtraCollateral, User: user, By: caller, Value: bps}.Event())
	return nil
}

// SetTopUpDeadline records an advisory deadline for user to restore
// collateral. Nothing enforces it.
func (g *Guardian) SetTopUpDeadline(caller, user crypto.Address, deadline uint64) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if err := checkUser(user); err != nil {
		return err
	}
	if deadline <= g.now() {
		return ErrInvalidDeadline
	}
	policy, err := g.Policy(user)
	if err != nil {
		return err
	}
	policy.TopUpDeadline = deadline
	if err := g.state.KVPut(policyKey(user), &policy); err != nil {
		return err
	}
	g.state.AppendEvent(events.GuardianAction{Type: events.TypeGuardianTopUpDeadline, User: user, By: caller, Value: deadline}.Event())
	return nil
}

// Policy returns the advisory markers for user, zero when unset.
func (g *Guardian) Policy(user crypto.Address) (Policy, error) {
	if g == nil || g.state == nil {
		return Policy{}, errNilState
	}
	var policy Policy
	ok, err := g.state.KVGet(policyKey(user), &policy)
	if err != nil {
		return Policy{}, err
	}
	if !ok {
		return Policy{}, nil
	}
	return policy, nil
}

// ExtraCollateralBps returns the advisory surcharge recorded for user.
func (g *Guardian) ExtraCollateralBps(user crypto.Address) (uint64, error) {
	policy, err := g.Policy(user)
	return policy.ExtraCollateralBps, err
}

// TopUpDeadline returns the advisory deadline recorded for user.
func (g *Guardian) TopUpDeadline(user crypto.Address) (uint64, error) {
	policy, err := g.Policy(user)
	return policy.TopUpDeadline, err
}

// SetGuardian replaces the guardian principal. Governance only.
func (g *Guardian) SetGuardian(caller, next crypto.Address) error {
	return g.params.RotatePrincipal(caller, common.RoleGuardian, next)
}
