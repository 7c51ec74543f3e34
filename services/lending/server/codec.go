package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"riskledger/crypto"
	"riskledger/native/lending"
	"riskledger/native/risk"
)

const maxBodyBytes = 1 << 16

type amountRequest struct {
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type attestedScoreRequest struct {
	Borrower     string `json:"borrower"`
	Score        uint64 `json:"score"`
	ExpiresAt    uint64 `json:"expiresAt"`
	MetadataHash string `json:"metadataHash"`
	Signature    string `json:"signature"`
}

type trustedScoreRequest struct {
	Borrower     string `json:"borrower"`
	Score        uint64 `json:"score"`
	ExpiresAt    uint64 `json:"expiresAt"`
	MetadataHash string `json:"metadataHash"`
}

type userRequest struct {
	User string `json:"user"`
}

type extraCollateralRequest struct {
	User string `json:"user"`
	Bps  uint64 `json:"bps"`
}

type deadlineRequest struct {
	User     string `json:"user"`
	Deadline uint64 `json:"deadline"`
}

type paramRequest struct {
	Value uint64 `json:"value"`
}

type principalRequest struct {
	Address string `json:"address"`
}

type positionResponse struct {
	Account      string `json:"account"`
	Collateral   string `json:"collateral"`
	Debt         string `json:"debt"`
	HealthFactor string `json:"healthFactor"`
	Paused       bool   `json:"paused"`
	LastUpdate   uint64 `json:"lastUpdate"`
}

type repayResponse struct {
	Repaid   string `json:"repaid"`
	Refunded string `json:"refunded"`
	Debt     string `json:"debt"`
}

type liquidationResponse struct {
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

type riskResponse struct {
	Borrower               string `json:"borrower"`
	Score                  uint64 `json:"score"`
	ExpiresAt              uint64 `json:"expiresAt"`
	MetadataHash           string `json:"metadataHash"`
	UpdatedAt              uint64 `json:"updatedAt"`
	Flagged                bool   `json:"flagged"`
	ExtraCollateralFlagged bool   `json:"extraCollateralFlagged"`
}

type policyResponse struct {
	User               string `json:"user"`
	ExtraCollateralBps uint64 `json:"extraCollateralBps"`
	TopUpDeadline      uint64 `json:"topUpDeadline"`
}

type balanceResponse struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// parseAmount accepts a base-10 integer that fits in 256 bits.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	parsed, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %v", value, err)
	}
	return parsed.ToBig(), nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %v", field, err)
	}
	return addr, nil
}

func parseHash(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("metadataHash must be 32 hex-encoded bytes")
	}
	copy(out[:], raw)
	return out, nil
}

func parseSignature(value string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != 65 {
		return nil, fmt.Errorf("signature must be 65 hex-encoded bytes")
	}
	return raw, nil
}

func (req attestedScoreRequest) attestation() (risk.Attestation, error) {
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		return risk.Attestation{}, err
	}
	hash, err := parseHash(req.MetadataHash)
	if err != nil {
		return risk.Attestation{}, err
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		return risk.Attestation{}, err
	}
	return risk.Attestation{
		Borrower:     borrower,
		Score:        req.Score,
		ExpiresAt:    req.ExpiresAt,
		MetadataHash: hash,
		Signature:    sig,
	}, nil
}

func newPositionResponse(view *lending.PositionView) positionResponse {
	return positionResponse{
		Account:      view.Account.String(),
		Collateral:   view.Collateral.String(),
		Debt:         view.Debt.String(),
		HealthFactor: view.HealthFactor.String(),
		Paused:       view.Paused,
		LastUpdate:   view.LastUpdate,
	}
}

func newRiskResponse(borrower crypto.Address, rec risk.Record, flagged, extra bool) riskResponse {
	return riskResponse{
		Borrower:               borrower.String(),
		Score:                  rec.Score,
		ExpiresAt:              rec.ExpiresAt,
		MetadataHash:           "0x" + hex.EncodeToString(rec.MetadataHash[:]),
		UpdatedAt:              rec.UpdatedAt,
		Flagged:                flagged,
		ExtraCollateralFlagged: extra,
	}
}
