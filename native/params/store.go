package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"riskledger/core/events"
	"riskledger/core/types"
	"riskledger/crypto"
	"riskledger/native/common"
)

// Names of the single-field setters, reported in params.updated events.
const (
	FieldLTVBps                   = "LTVBps"
	FieldLiquidationThresholdBps  = "LiquidationThresholdBps"
	FieldMinHealthFactor          = "MinHealthFactor"
	FieldPauseThreshold           = "PauseThreshold"
	FieldExtraCollateralThreshold = "ExtraCollateralThreshold"
)

var errUnknownField = errors.New("params: unknown field")

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
	AppendEvent(*types.Event)
}

// Store provides typed accessors for the ledger configuration.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// Init validates and persists the initial configuration.
func (s *Store) Init(cfg Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.save(cfg)
}

// Config loads the persisted configuration.
func (s *Store) Config() (Config, error) {
	state, err := s.withState()
	if err != nil {
		return Config{}, err
	}
	raw, ok, err := state.ParamStoreGet(ParamsKeyLedgerConfig)
	if err != nil {
		return Config{}, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return Config{}, ErrNotInitialised
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("params: decode config: %w", err)
	}
	return cfg, nil
}

func (s *Store) save(cfg Config) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("params: encode config: %w", err)
	}
	return state.ParamStoreSet(ParamsKeyLedgerConfig, encoded)
}

func fieldRef(cfg *Config, name string) (*uint64, bool, error) {
	switch name {
	case FieldLTVBps:
		return &cfg.LTVBps, true, nil
	case FieldLiquidationThresholdBps:
		return &cfg.LiquidationThresholdBps, true, nil
	case FieldPauseThreshold:
		return &cfg.PauseThreshold, true, nil
	case FieldExtraCollateralThreshold:
		return &cfg.ExtraCollateralThreshold, true, nil
	case FieldMinHealthFactor:
		return &cfg.MinHealthFactor, false, nil
	default:
		return nil, false, fmt.Errorf("%w: %s", errUnknownField, name)
	}
}

// SetUint updates one numeric field on behalf of caller, who must hold the
// admin role. Basis point fields are bounded by 10000.
func (s *Store) SetUint(caller crypto.Address, field string, value uint64) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	if err := cfg.Principals.Authorize(caller, common.RoleAdmin); err != nil {
		return err
	}
	ref, isBps, err := fieldRef(&cfg, field)
	if err != nil {
		return err
	}
	if isBps {
		if err := common.CheckBps(value); err != nil {
			return err
		}
	} else if value == 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, field)
	}
	previous := *ref
	*ref = value
	if err := s.save(cfg); err != nil {
		return err
	}
	state.AppendEvent(events.ParamUpdated{Name: field, Previous: previous, Value: value, By: caller}.Event())
	return nil
}

// RotatePrincipal hands role to next. Only the holder of role.RotatedBy() may
// call it and the change takes effect immediately.
func (s *Store) RotatePrincipal(caller crypto.Address, role common.Role, next crypto.Address) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	if err := cfg.Principals.Authorize(caller, role.RotatedBy()); err != nil {
		return err
	}
	if next.IsZero() {
		return common.ErrZeroAddress
	}
	previous, err := cfg.Principals.Get(role)
	if err != nil {
		return err
	}
	if err := cfg.Principals.Set(role, next); err != nil {
		return err
	}
	if err := s.save(cfg); err != nil {
		return err
	}
	state.AppendEvent(events.PrincipalUpdated{Role: role.String(), Previous: previous, Current: next, By: caller}.Event())
	return nil
}
