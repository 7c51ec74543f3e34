package risk

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"riskledger/crypto"
)

// Verifier checks that signature over digest was produced by signer.
type Verifier interface {
	Verify(digest, signature []byte, signer crypto.Address) error
}

// Secp256k1Verifier recovers the signing key from a 65-byte recoverable
// signature and compares its address with the expected signer. Both the raw
// 0/1 and the legacy 27/28 recovery ids are accepted.
type Secp256k1Verifier struct{}

// Verify implements Verifier.
func (Secp256k1Verifier) Verify(digest, signature []byte, signer crypto.Address) error {
	if len(signature) != ethcrypto.SignatureLength {
		return fmt.Errorf("%w: signature must be %d bytes", ErrInvalidSignature, ethcrypto.SignatureLength)
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if signer.IsZero() || !crypto.NewAddress(crypto.AccountPrefix, recovered.Bytes()).Equal(signer) {
		return ErrInvalidSignature
	}
	return nil
}
