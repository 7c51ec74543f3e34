package risk

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"riskledger/crypto"
)

// encodedLength is borrower(20) || score(32) || expiresAt(32) || metadataHash(32) || registry(20).
const encodedLength = crypto.AddressLength + 32 + 32 + 32 + crypto.AddressLength

func putUint256(dst []byte, v uint64) {
	for i := range dst[:24] {
		dst[i] = 0
	}
	binary.BigEndian.PutUint64(dst[24:32], v)
}

// EncodeAttestation packs the signed fields in their fixed order. Integers are
// left-padded to 32 bytes; addresses are the raw 20 bytes.
func EncodeAttestation(registry crypto.Address, borrower crypto.Address, score, expiresAt uint64, metadataHash [32]byte) []byte {
	buf := make([]byte, encodedLength)
	offset := 0
	b := borrower.Array()
	offset += copy(buf[offset:], b[:])
	putUint256(buf[offset:offset+32], score)
	offset += 32
	putUint256(buf[offset:offset+32], expiresAt)
	offset += 32
	offset += copy(buf[offset:], metadataHash[:])
	r := registry.Array()
	copy(buf[offset:], r[:])
	return buf
}

// Digest returns the message an attester signs: the EIP-191 personal message
// hash of keccak256(EncodeAttestation(...)).
func (a Attestation) Digest(registry crypto.Address) []byte {
	inner := ethcrypto.Keccak256(EncodeAttestation(registry, a.Borrower, a.Score, a.ExpiresAt, a.MetadataHash))
	return accounts.TextHash(inner)
}

// SignAttestation fills in a.Signature using key.
func SignAttestation(key *crypto.PrivateKey, registry crypto.Address, a *Attestation) error {
	if a == nil {
		return fmt.Errorf("risk: nil attestation")
	}
	sig, err := key.Sign(a.Digest(registry))
	if err != nil {
		return fmt.Errorf("risk: sign attestation: %w", err)
	}
	a.Signature = sig
	return nil
}
