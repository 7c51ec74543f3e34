package risk

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
	ErrInvalidSignature  = errors.New("risk: invalid signature")
	ErrInvalidExpiration = errors.New("risk: expiration must be in the future")
	ErrScoreTooHigh      = errors.New("risk: score exceeds 10000")
	ErrZeroBorrower      = errors.New("risk: zero borrower")

	errNilState = errors.New("risk registry: state not configured")
)

var recordPrefix = []byte("risk/record/")

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(*types.Event)
}

// Registry owns per-borrower risk records. Records are written either through
// an attestation signed by the configured attester or directly by the trusted
// scorer, and both paths overwrite unconditionally.
type Registry struct {
	state    registryState
	params   *params.Store
	verifier Verifier
	nowFn    func() time.Time
}

// NewRegistry constructs a registry reading thresholds and principals from
// store. Signatures are checked with Secp256k1Verifier unless replaced.
func NewRegistry(store *params.Store) *Registry {
	return &Registry{params: store, verifier: Secp256k1Verifier{}, nowFn: time.Now}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetVerifier replaces the signature verification capability.
func (r *Registry) SetVerifier(v Verifier) {
	if v == nil {
		v = Secp256k1Verifier{}
	}
	r.verifier = v
}

// SetNowFunc overrides the wall clock used for expiry checks.
func (r *Registry) SetNowFunc(fn func() time.Time) {
	if r == nil {
		return
	}
	if fn == nil {
		fn = time.Now
	}
	r.nowFn = fn
}

func (r *Registry) now() uint64 {
	ts := r.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func recordKey(addr crypto.Address) []byte {
	raw := addr.Array()
	key := make([]byte, 0, len(recordPrefix)+len(raw))
	key = append(key, recordPrefix...)
	return append(key, raw[:]...)
}

// Identity returns the registry address bound into every attestation.
func (r *Registry) Identity() (crypto.Address, error) {
	cfg, err := r.params.Config()
	if err != nil {
		return crypto.Address{}, err
	}
	return cfg.ModuleAddress, nil
}

func validateRecord(borrower crypto.Address, score uint64) error {
	if borrower.IsZero() {
		return ErrZeroBorrower
	}
	if score > MaxScore {
		return ErrScoreTooHigh
	}
	return nil
}

func (r *Registry) write(borrower, submitter crypto.Address, score, expiresAt uint64, metadataHash [32]byte, source string) error {
	rec := &Record{
		Score:        score,
		ExpiresAt:    expiresAt,
		MetadataHash: metadataHash,
		UpdatedAt:    r.now(),
	}
	if err := r.state.KVPut(recordKey(borrower), rec); err != nil {
		return err
	}
	r.state.AppendEvent(events.RiskScoreUpdated{
		Borrower:     borrower,
		Score:        score,
		ExpiresAt:    expiresAt,
		MetadataHash: metadataHash,
		Source:       source,
		Submitter:    submitter,
	}.Event())
	return nil
}

// SetRiskScoreAttested stores an attested record. Anyone may submit; the
// signature must recover to the configured attester. Already expired
// attestations are accepted.
func (r *Registry) SetRiskScoreAttested(submitter crypto.Address, a Attestation) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := validateRecord(a.Borrower, a.Score); err != nil {
		return err
	}
	cfg, err := r.params.Config()
	if err != nil {
		return err
	}
	digest := a.Digest(cfg.ModuleAddress)
	if err := r.verifier.Verify(digest, a.Signature, cfg.Principals.Attester); err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return err
		}
		return errors.Join(ErrInvalidSignature, err)
	}
	return r.write(a.Borrower, submitter, a.Score, a.ExpiresAt, a.MetadataHash, events.RiskSourceAttested)
}

// SetRiskScoreTrusted stores a record submitted by the trusted scorer. Unlike
// the attested path, expiresAt must lie in the future.
func (r *Registry) SetRiskScoreTrusted(caller, borrower crypto.Address, score, expiresAt uint64, metadataHash [32]byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	cfg, err := r.params.Config()
	if err != nil {
		return err
	}
	if err := cfg.Principals.Authorize(caller, common.RoleTrustedScorer); err != nil {
		return err
	}
	if err := validateRecord(borrower, score); err != nil {
		return err
	}
	if expiresAt <= r.now() {
		return ErrInvalidExpiration
	}
	return r.write(borrower, caller, score, expiresAt, metadataHash, events.RiskSourceTrusted)
}

// GetRiskScore returns the stored record. Unknown borrowers yield a zero record.
func (r *Registry) GetRiskScore(borrower crypto.Address) (Record, error) {
	if r == nil || r.state == nil {
		return Record{}, errNilState
	}
	var rec Record
	ok, err := r.state.KVGet(recordKey(borrower), &rec)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, nil
	}
	return rec, nil
}

func (r *Registry) flaggedAt(borrower crypto.Address, threshold uint64) (bool, error) {
	rec, err := r.GetRiskScore(borrower)
	if err != nil {
		return false, err
	}
	if r.now() > rec.ExpiresAt {
		return false, nil
	}
	return rec.Score >= threshold, nil
}

// IsRiskFlagged reports whether borrower holds an unexpired score at or above
// the pause threshold. Expired records are treated as unflagged.
func (r *Registry) IsRiskFlagged(borrower crypto.Address) (bool, error) {
	cfg, err := r.params.Config()
	if err != nil {
		return false, err
	}
	return r.flaggedAt(borrower, cfg.PauseThreshold)
}

// IsExtraCollateralFlagged reports whether borrower holds an unexpired score at
// or above the extra collateral threshold. Nothing in the ledger consumes it.
func (r *Registry) IsExtraCollateralFlagged(borrower crypto.Address) (bool, error) {
	cfg, err := r.params.Config()
	if err != nil {
		return false, err
	}
	return r.flaggedAt(borrower, cfg.ExtraCollateralThreshold)
}

// SetPauseThreshold updates the score at which borrowers are flagged. Admin only.
func (r *Registry) SetPauseThreshold(caller crypto.Address, value uint64) error {
	return r.params.SetUint(caller, params.FieldPauseThreshold, value)
}

// SetExtraCollateralThreshold updates the advisory surcharge threshold. Admin only.
func (r *Registry) SetExtraCollateralThreshold(caller crypto.Address, value uint64) error {
	return r.params.SetUint(caller, params.FieldExtraCollateralThreshold, value)
}

// SetAttester rotates the attestation signer. Admin only.
func (r *Registry) SetAttester(caller, next crypto.Address) error {
	return r.params.RotatePrincipal(caller, common.RoleAttester, next)
}

// SetTrustedScorer rotates the trusted scorer. Admin only.
func (r *Registry) SetTrustedScorer(caller, next crypto.Address) error {
	return r.params.RotatePrincipal(caller, common.RoleTrustedScorer, next)
}

// SetAdmin hands the admin seat to next in a single step.
func (r *Registry) SetAdmin(caller, next crypto.Address) error {
	return r.params.RotatePrincipal(caller, common.RoleAdmin, next)
}
