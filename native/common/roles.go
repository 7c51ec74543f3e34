package common

import (
	"errors"
	"fmt"
	"strings"

	"riskledger/crypto"
)

var (
	// ErrUnauthorized is returned when the caller does not hold any role
	// permitted for the requested action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrThresholdTooHigh is returned when a basis point parameter exceeds 10000.
	ErrThresholdTooHigh = errors.New("threshold too high")
	// ErrZeroAddress is returned when an identity argument is the zero address.
	ErrZeroAddress = errors.New("zero address")
	// ErrUnknownRole is returned when parsing an unrecognised role name.
	ErrUnknownRole = errors.New("unknown role")
)

// MaxBps is the upper bound for every basis point parameter.
const MaxBps uint64 = 10_000

// Role enumerates the principals recognised by the ledger.
type Role uint8

const (
	RoleAdmin Role = iota + 1
	RoleGuardian
	RoleGovernance
	RoleAttester
	RoleTrustedScorer
)

var roleNames = map[Role]string{
	RoleAdmin:         "admin",
	RoleGuardian:      "guardian",
	RoleGovernance:    "governance",
	RoleAttester:      "attester",
	RoleTrustedScorer: "trustedScorer",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole resolves a role from its name. Matching is case-insensitive.
func ParseRole(name string) (Role, error) {
	trimmed := strings.TrimSpace(name)
	for role, candidate := range roleNames {
		if strings.EqualFold(candidate, trimmed) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// RotatedBy returns the role allowed to replace the holder of r. Governance
// owns the guardian seat; every other seat, including admin itself, is
// rotated by the admin.
func (r Role) RotatedBy() Role {
	if r == RoleGuardian {
		return RoleGovernance
	}
	return RoleAdmin
}

// Principals records the identity currently holding each role.
type Principals struct {
	Admin         crypto.Address `json:"admin" toml:"Admin"`
	Guardian      crypto.Address `json:"guardian" toml:"Guardian"`
	Governance    crypto.Address `json:"governance" toml:"Governance"`
	Attester      crypto.Address `json:"attester" toml:"Attester"`
	TrustedScorer crypto.Address `json:"trustedScorer" toml:"TrustedScorer"`
}

// Get returns the holder of role.
func (p Principals) Get(role Role) (crypto.Address, error) {
	switch role {
	case RoleAdmin:
		return p.Admin, nil
	case RoleGuardian:
		return p.Guardian, nil
	case RoleGovernance:
		return p.Governance, nil
	case RoleAttester:
		return p.Attester, nil
	case RoleTrustedScorer:
		return p.TrustedScorer, nil
	default:
		return crypto.Address{}, ErrUnknownRole
	}
}

// Set replaces the holder of role.
func (p *Principals) Set(role Role, addr crypto.Address) error {
	switch role {
	case RoleAdmin:
		p.Admin = addr
	case RoleGuardian:
		p.Guardian = addr
	case RoleGovernance:
		p.Governance = addr
	case RoleAttester:
		p.Attester = addr
	case RoleTrustedScorer:
		p.TrustedScorer = addr
	default:
		return ErrUnknownRole
	}
	return nil
}

// Holds reports whether caller currently occupies role. The zero address
// never holds a role, so an unset seat cannot be exercised.
func (p Principals) Holds(caller crypto.Address, role Role) bool {
	if caller.IsZero() {
		return false
	}
	holder, err := p.Get(role)
	if err != nil || holder.IsZero() {
		return false
	}
	return holder.Equal(caller)
}

// Authorize succeeds when caller holds at least one of the supplied roles.
func (p Principals) Authorize(caller crypto.Address, roles ...Role) error {
	for _, role := range roles {
		if p.Holds(caller, role) {
			return nil
		}
	}
	return ErrUnauthorized
}

// CheckBps rejects basis point values above MaxBps.
func CheckBps(value uint64) error {
	if value > MaxBps {
		return fmt.Errorf("%w: %d > %d", ErrThresholdTooHigh, value, MaxBps)
	}
	return nil
}
