package events

import (
	"riskledger/core/types"
	"riskledger/crypto"
)

const (
	// TypeRiskScoreUpdated is emitted whenever a risk record is replaced.
	TypeRiskScoreUpdated = "risk.scoreUpdated"

	// RiskSourceAttested marks records accepted through a signed attestation.
	RiskSourceAttested = "attested"
	// RiskSourceTrusted marks records written directly by the trusted scorer.
	RiskSourceTrusted = "trusted"
)

type RiskScoreUpdated struct {
	Borrower     crypto.Address
	Score        uint64
	ExpiresAt    uint64
	MetadataHash [32]byte
	Source       string
	Submitter    crypto.Address
}

func (RiskScoreUpdated) EventType() string { return TypeRiskScoreUpdated }

func (e RiskScoreUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRiskScoreUpdated,
		Attributes: map[string]string{
			"borrower":     formatAddress(e.Borrower),
			"score":        formatUint(e.Score),
			"expiresAt":    formatUint(e.ExpiresAt),
			"metadataHash": formatHash(e.MetadataHash),
			"source":       e.Source,
			"submitter":    formatAddress(e.Submitter),
		},
	}
}
