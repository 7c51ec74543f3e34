package risk

import "riskledger/crypto"

// MaxScore is the upper bound of a risk score.
const MaxScore uint64 = 10_000

// Record is the persisted risk state for one borrower. Each accepted write
// replaces the previous record wholesale.
type Record struct {
	Score        uint64
	ExpiresAt    uint64
	MetadataHash [32]byte
	UpdatedAt    uint64
}

// Attestation is a score signed by the configured attester.
type Attestation struct {
	Borrower     crypto.Address
	Score        uint64
	ExpiresAt    uint64
	MetadataHash [32]byte
	// Signature is the 65-byte [R || S || V] secp256k1 signature over Digest.
	Signature []byte
}
