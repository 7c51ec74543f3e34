package risk

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"riskledger/core/state"
	"riskledger/crypto"
	"riskledger/native/common"
	"riskledger/native/params"
	"riskledger/storage"
)

func makeAddress(b byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[0] = 0x17
	raw[crypto.AddressLength-1] = b
	return crypto.AddressFromArray(raw)
}

type registryEnv struct {
	registry *Registry
	mgr      *state.Manager
	attester *crypto.PrivateKey
	module   crypto.Address
	admin    crypto.Address
	scorer   crypto.Address
	now      time.Time
}

func newRegistryEnv(t *testing.T) *registryEnv {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mgr := state.NewManager(storage.NewMemDB())
	store := params.NewStore(mgr)
	env := &registryEnv{
		mgr:      mgr,
		attester: key,
		module:   makeAddress(0xee),
		admin:    makeAddress(0xad),
		scorer:   makeAddress(0x5c),
		now:      time.Unix(1_700_000_000, 0).UTC(),
	}
	cfg := params.DefaultConfig()
	cfg.ModuleAddress = env.module
	cfg.Principals = common.Principals{
		Admin:         env.admin,
		Attester:      key.PubKey().Address(),
		TrustedScorer: env.scorer,
	}
	if err := store.Init(cfg); err != nil {
		t.Fatalf("init params: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	env.registry = NewRegistry(store)
	env.registry.SetState(mgr)
	env.registry.SetNowFunc(func() time.Time { return env.now })
	return env
}

func (env *registryEnv) unix() uint64 { return uint64(env.now.Unix()) }

func (env *registryEnv) signed(t *testing.T, borrower crypto.Address, score, expiresAt uint64) Attestation {
	t.Helper()
	a := Attestation{Borrower: borrower, Score: score, ExpiresAt: expiresAt, MetadataHash: [32]byte{0xab}}
	if err := SignAttestation(env.attester, env.module, &a); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return a
}

func TestEncodeAttestationLayout(t *testing.T) {
	borrower := makeAddress(1)
	registry := makeAddress(2)
	hash := [32]byte{0x01, 0x02}
	encoded := EncodeAttestation(registry, borrower, 0x0102, 0x0a0b0c, hash)

	if len(encoded) != 136 {
		t.Fatalf("expected 136 bytes, got %d", len(encoded))
	}
	if !bytes.Equal(encoded[:20], borrower.Bytes()) {
		t.Fatalf("borrower not at offset 0")
	}
	score := encoded[20:52]
	if !bytes.Equal(score[:30], make([]byte, 30)) || score[30] != 0x01 || score[31] != 0x02 {
		t.Fatalf("score not left padded: %x", score)
	}
	expires := encoded[52:84]
	if expires[29] != 0x0a || expires[30] != 0x0b || expires[31] != 0x0c {
		t.Fatalf("expiry not left padded: %x", expires)
	}
	if !bytes.Equal(encoded[84:116], hash[:]) {
		t.Fatalf("metadata hash misplaced")
	}
	if !bytes.Equal(encoded[116:], registry.Bytes()) {
		t.Fatalf("registry identity misplaced")
	}
}

func TestAttestedPathAcceptsExpiredRecord(t *testing.T) {
	env := newRegistryEnv(t)
	borrower := makeAddress(1)
	past := env.unix() - 60

	a := env.signed(t, borrower, 9_000, past)
	if err := env.registry.SetRiskScoreAttested(makeAddress(0x99), a); err != nil {
		t.Fatalf("attested write with past expiry: %v", err)
	}
	rec, err := env.registry.GetRiskScore(borrower)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Score != 9_000 || rec.ExpiresAt != past || rec.UpdatedAt != env.unix() {
		t.Fatalf("unexpected record %+v", rec)
	}
	flagged, err := env.registry.IsRiskFlagged(borrower)
	if err != nil || flagged {
		t.Fatalf("expired record must not flag: flagged=%v err=%v", flagged, err)
	}
}

func TestTrustedPathRejectsExpiredRecord(t *testing.T) {
	env := newRegistryEnv(t)
	borrower := makeAddress(1)

	err := env.registry.SetRiskScoreTrusted(env.scorer, borrower, 9_000, env.unix()-60, [32]byte{})
	if !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration, got %v", err)
	}
	err = env.registry.SetRiskScoreTrusted(env.scorer, borrower, 9_000, env.unix(), [32]byte{})
	if !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expiry equal to now must be rejected, got %v", err)
	}
	if rec, _ := env.registry.GetRiskScore(borrower); rec != (Record{}) {
		t.Fatalf("rejected write stored a record: %+v", rec)
	}

	if err := env.registry.SetRiskScoreTrusted(makeAddress(0x77), borrower, 9_000, env.unix()+60, [32]byte{}); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := env.registry.SetRiskScoreTrusted(env.scorer, borrower, 9_000, env.unix()+60, [32]byte{0x01}); err != nil {
		t.Fatalf("trusted write: %v", err)
	}
	flagged, _ := env.registry.IsRiskFlagged(borrower)
	if !flagged {
		t.Fatalf("expected fresh high score to flag")
	}
}

func TestAttestedPathRejectsBadSignatures(t *testing.T) {
	env := newRegistryEnv(t)
	borrower := makeAddress(1)
	expires := env.unix() + 3600

	tampered := env.signed(t, borrower, 1_000, expires)
	tampered.Score = 9_999
	if err := env.registry.SetRiskScoreAttested(borrower, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered score, got %v", err)
	}

	other, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	forged := Attestation{Borrower: borrower, Score: 1_000, ExpiresAt: expires}
	if err := SignAttestation(other, env.module, &forged); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := env.registry.SetRiskScoreAttested(borrower, forged); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for foreign signer, got %v", err)
	}

	wrongRegistry := Attestation{Borrower: borrower, Score: 1_000, ExpiresAt: expires}
	if err := SignAttestation(env.attester, makeAddress(0x01), &wrongRegistry); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := env.registry.SetRiskScoreAttested(borrower, wrongRegistry); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for other registry, got %v", err)
	}

	short := env.signed(t, borrower, 1_000, expires)
	short.Signature = short.Signature[:64]
	if err := env.registry.SetRiskScoreAttested(borrower, short); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for short signature, got %v", err)
	}

	legacy := env.signed(t, borrower, 1_000, expires)
	legacy.Signature[64] += 27
	if err := env.registry.SetRiskScoreAttested(borrower, legacy); err != nil {
		t.Fatalf("27/28 recovery id must be accepted: %v", err)
	}
}

func TestWriteValidation(t *testing.T) {
	env := newRegistryEnv(t)
	expires := env.unix() + 60

	a := env.signed(t, crypto.Address{}, 1, expires)
	if err := env.registry.SetRiskScoreAttested(makeAddress(1), a); !errors.Is(err, ErrZeroBorrower) {
		t.Fatalf("expected ErrZeroBorrower, got %v", err)
	}
	a = env.signed(t, makeAddress(1), 10_001, expires)
	if err := env.registry.SetRiskScoreAttested(makeAddress(1), a); !errors.Is(err, ErrScoreTooHigh) {
		t.Fatalf("expected ErrScoreTooHigh, got %v", err)
	}
	if err := env.registry.SetRiskScoreTrusted(env.scorer, makeAddress(1), 10_001, expires, [32]byte{}); !errors.Is(err, ErrScoreTooHigh) {
		t.Fatalf("expected ErrScoreTooHigh on trusted path, got %v", err)
	}
	if err := env.registry.SetRiskScoreTrusted(env.scorer, makeAddress(1), 10_000, expires, [32]byte{}); err != nil {
		t.Fatalf("score 10000 must be accepted: %v", err)
	}
}

func TestFlagLapsesWithoutEvent(t *testing.T) {
	env := newRegistryEnv(t)
	borrower := makeAddress(1)
	expires := env.unix() + 100

	if err := env.registry.SetRiskScoreTrusted(env.scorer, borrower, 8_000, expires, [32]byte{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := env.mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	env.now = time.Unix(int64(expires), 0)
	if flagged, _ := env.registry.IsRiskFlagged(borrower); !flagged {
		t.Fatalf("record must flag up to and including expiresAt")
	}
	env.now = env.now.Add(time.Second)
	if flagged, _ := env.registry.IsRiskFlagged(borrower); flagged {
		t.Fatalf("record must lapse once now > expiresAt")
	}
	if env.mgr.Dirty() {
		t.Fatalf("lapsing must not write state or emit events")
	}
	rec, _ := env.registry.GetRiskScore(borrower)
	if rec.Score != 8_000 {
		t.Fatalf("expired record must remain readable, got %+v", rec)
	}
}

func TestThresholdsAndExtraCollateralFlag(t *testing.T) {
	env := newRegistryEnv(t)
	borrower := makeAddress(1)
	expires := env.unix() + 100

	// Defaults: pause at 8000, extra collateral at 6000.
	if err := env.registry.SetRiskScoreTrusted(env.scorer, borrower, 7_000, expires, [32]byte{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	pause, _ := env.registry.IsRiskFlagged(borrower)
	extra, _ := env.registry.IsExtraCollateralFlagged(borrower)
	if pause || !extra {
		t.Fatalf("unexpected flags pause=%v extra=%v", pause, extra)
	}

	if err := env.registry.SetPauseThreshold(env.scorer, 5_000); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := env.registry.SetPauseThreshold(env.admin, 10_001); !errors.Is(err, common.ErrThresholdTooHigh) {
		t.Fatalf("expected threshold too high, got %v", err)
	}
	if err := env.registry.SetPauseThreshold(env.admin, 7_000); err != nil {
		t.Fatalf("set pause threshold: %v", err)
	}
	if pause, _ := env.registry.IsRiskFlagged(borrower); !pause {
		t.Fatalf("score equal to threshold must flag")
	}
	if err := env.registry.SetExtraCollateralThreshold(env.admin, 9_000); err != nil {
		t.Fatalf("set extra threshold: %v", err)
	}
	if extra, _ := env.registry.IsExtraCollateralFlagged(borrower); extra {
		t.Fatalf("raised threshold must clear extra collateral flag")
	}
}

func TestRecordsReplacedWholesale(t *testing.T) {
	env := newRegistryEnv(t)
	borrower := makeAddress(1)

	if err := env.registry.SetRiskScoreTrusted(env.scorer, borrower, 9_000, env.unix()+1_000, [32]byte{0x01}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	a := env.signed(t, borrower, 100, env.unix()+10)
	if err := env.registry.SetRiskScoreAttested(borrower, a); err != nil {
		t.Fatalf("second write: %v", err)
	}
	rec, _ := env.registry.GetRiskScore(borrower)
	if rec.Score != 100 || rec.ExpiresAt != env.unix()+10 || rec.MetadataHash != a.MetadataHash {
		t.Fatalf("record not replaced: %+v", rec)
	}
	evts := env.mgr.PendingEvents()
	if len(evts) != 2 || evts[1].Attributes["source"] != "attested" || evts[0].Attributes["source"] != "trusted" {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestPrincipalRotation(t *testing.T) {
	env := newRegistryEnv(t)
	newScorer := makeAddress(0x51)

	if err := env.registry.SetTrustedScorer(env.scorer, newScorer); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("scorer must not rotate itself, got %v", err)
	}
	if err := env.registry.SetTrustedScorer(env.admin, newScorer); err != nil {
		t.Fatalf("rotate scorer: %v", err)
	}
	if err := env.registry.SetRiskScoreTrusted(env.scorer, makeAddress(1), 1, env.unix()+10, [32]byte{}); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("old scorer must be rejected, got %v", err)
	}
	if err := env.registry.SetRiskScoreTrusted(newScorer, makeAddress(1), 1, env.unix()+10, [32]byte{}); err != nil {
		t.Fatalf("new scorer write: %v", err)
	}

	next, _ := crypto.GeneratePrivateKey()
	if err := env.registry.SetAttester(env.admin, next.PubKey().Address()); err != nil {
		t.Fatalf("rotate attester: %v", err)
	}
	stale := env.signed(t, makeAddress(1), 1, env.unix()+10)
	if err := env.registry.SetRiskScoreAttested(makeAddress(1), stale); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("old attester signature must be rejected, got %v", err)
	}

	newAdmin := makeAddress(0xa2)
	if err := env.registry.SetAdmin(env.admin, newAdmin); err != nil {
		t.Fatalf("rotate admin: %v", err)
	}
	if err := env.registry.SetPauseThreshold(env.admin, 1); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("old admin must be rejected, got %v", err)
	}
}

type acceptAllVerifier struct{ calls int }

func (v *acceptAllVerifier) Verify(digest, signature []byte, signer crypto.Address) error {
	v.calls++
	return nil
}

func TestPluggableVerifier(t *testing.T) {
	env := newRegistryEnv(t)
	verifier := &acceptAllVerifier{}
	env.registry.SetVerifier(verifier)

	a := Attestation{Borrower: makeAddress(1), Score: 42, ExpiresAt: env.unix() + 10}
	if err := env.registry.SetRiskScoreAttested(makeAddress(2), a); err != nil {
		t.Fatalf("custom verifier write: %v", err)
	}
	if verifier.calls != 1 {
		t.Fatalf("expected verifier to be consulted once, got %d", verifier.calls)
	}
}
