package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"riskledger/cmd/internal/passphrase"
	"riskledger/config"
	"riskledger/crypto"
	"riskledger/native/risk"
)

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keystorePath == "" {
		return errors.New("--keystore is required")
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv).WithConfirmation().Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := passphrase.NewSource(passEnv).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

// signedAttestation matches the body accepted by POST /v1/risk/attested, plus
// the digest for offline inspection.
type signedAttestation struct {
	Borrower     string `json:"borrower"`
	Score        uint64 `json:"score"`
	ExpiresAt    uint64 `json:"expiresAt"`
	MetadataHash string `json:"metadataHash"`
	Signature    string `json:"signature"`
	Digest       string `json:"digest"`
}

func runSignAttestation(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign-attestation", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Path to the attester keystore")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	registry := fs.String("registry", "", "Registry (module) address bound into the attestation")
	borrower := fs.String("borrower", "", "Borrower address")
	score := fs.Uint64("score", 0, "Risk score in [0, 10000]")
	expiresAt := fs.Uint64("expires-at", 0, "Unix expiry; overrides --ttl")
	ttl := fs.Duration("ttl", 24*time.Hour, "Validity measured from now")
	metadata := fs.String("metadata-hash", "", "Optional 32-byte hex metadata hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	expiry := *expiresAt
	if expiry == 0 {
		expiry = uint64(time.Now().Add(*ttl).Unix())
	}
	signed, err := signAttestation(key, *registry, *borrower, *score, expiry, *metadata)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(signed)
}

func signAttestation(key *crypto.PrivateKey, registry, borrower string, score, expiresAt uint64, metadata string) (*signedAttestation, error) {
	registryAddr, err := crypto.DecodeAddress(strings.TrimSpace(registry))
	if err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	borrowerAddr, err := crypto.DecodeAddress(strings.TrimSpace(borrower))
	if err != nil {
		return nil, fmt.Errorf("invalid borrower: %w", err)
	}
	if score > risk.MaxScore {
		return nil, risk.ErrScoreTooHigh
	}
	var hash [32]byte
	if trimmed := strings.TrimPrefix(strings.TrimSpace(metadata), "0x"); trimmed != "" {
		raw, err := hex.DecodeString(trimmed)
		if err != nil || len(raw) != len(hash) {
			return nil, errors.New("metadata hash must be 32 hex-encoded bytes")
		}
		copy(hash[:], raw)
	}
	a := risk.Attestation{Borrower: borrowerAddr, Score: score, ExpiresAt: expiresAt, MetadataHash: hash}
	if err := risk.SignAttestation(key, registryAddr, &a); err != nil {
		return nil, err
	}
	return &signedAttestation{
		Borrower:     borrowerAddr.String(),
		Score:        score,
		ExpiresAt:    expiresAt,
		MetadataHash: "0x" + hex.EncodeToString(hash[:]),
		Signature:    "0x" + hex.EncodeToString(a.Signature),
		Digest:       "0x" + hex.EncodeToString(a.Digest(registryAddr)),
	}, nil
}

func runGenesisInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("genesis-init", flag.ContinueOnError)
	path := fs.String("out", "genesis.toml", "Output path for the genesis file")
	module := fs.String("module", "", "Module (registry) address")
	admin := fs.String("admin", "", "Admin principal")
	guardian := fs.String("guardian", "", "Guardian principal")
	governance := fs.String("governance", "", "Governance principal")
	attester := fs.String("attester", "", "Attester principal")
	scorer := fs.String("trusted-scorer", "", "Trusted scorer principal")
	price := fs.String("collateral-price", "", "Initial collateral price scaled by the price scale")
	liquidity := fs.String("liquidity", "", "Debt asset balance minted to the module")
	force := fs.Bool("force", false, "Overwrite an existing genesis file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("genesis file %s already exists (use --force to overwrite)", *path)
		}
	}
	g, err := buildGenesis(genesisInput{
		module:     *module,
		admin:      *admin,
		guardian:   *guardian,
		governance: *governance,
		attester:   *attester,
		scorer:     *scorer,
		price:      *price,
		liquidity:  *liquidity,
	})
	if err != nil {
		return err
	}
	if err := config.Save(*path, g); err != nil {
		return err
	}
	fmt.Fprintf(out, "genesis written to %s\n", *path)
	return nil
}

type genesisInput struct {
	module, admin, guardian, governance, attester, scorer string
	price, liquidity                                      string
}

func buildGenesis(in genesisInput) (*config.Genesis, error) {
	g := config.DefaultGenesis()
	targets := []struct {
		name  string
		value string
		dst   *crypto.Address
	}{
		{"module", in.module, &g.Ledger.ModuleAddress},
		{"admin", in.admin, &g.Ledger.Principals.Admin},
		{"guardian", in.guardian, &g.Ledger.Principals.Guardian},
		{"governance", in.governance, &g.Ledger.Principals.Governance},
		{"attester", in.attester, &g.Ledger.Principals.Attester},
		{"trusted-scorer", in.scorer, &g.Ledger.Principals.TrustedScorer},
	}
	for _, target := range targets {
		if strings.TrimSpace(target.value) == "" {
			continue
		}
		addr, err := crypto.DecodeAddress(strings.TrimSpace(target.value))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", target.name, err)
		}
		*target.dst = addr
	}
	if in.price != "" {
		g.Prices = append(g.Prices, config.Price{Asset: g.Ledger.CollateralAsset, Price: in.price})
	}
	if in.liquidity != "" {
		g.Balances = append(g.Balances, config.Balance{
			Asset:   g.Ledger.DebtAsset,
			Address: g.Ledger.ModuleAddress,
			Amount:  in.liquidity,
		})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "Principal address placed in the sub claim")
	secretEnv := fs.String("secret-env", "RISKLEDGER_JWT_SECRET", "Environment variable holding the HMAC secret")
	issuer := fs.String("issuer", "", "Optional iss claim")
	audience := fs.String("audience", "", "Optional aud claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := os.Getenv(*secretEnv)
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("environment variable %s is not set", *secretEnv)
	}
	token, err := issueToken([]byte(secret), *subject, *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func issueToken(secret []byte, subject, issuer, audience string, ttl time.Duration, now time.Time) (string, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(subject))
	if err != nil {
		return "", fmt.Errorf("invalid subject: %w", err)
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Subject:   addr.String(),
		Issuer:    strings.TrimSpace(issuer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if aud := strings.TrimSpace(audience); aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
