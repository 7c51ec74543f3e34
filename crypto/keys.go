package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering addresses.
type AddressPrefix string

// AccountPrefix is the bech32 prefix applied to every ledger account.
const AccountPrefix AddressPrefix = "rl"

// AddressLength is the byte length of an account identity.
const AddressLength = 20

// Address identifies a ledger account. The value is comparable and can be used
// directly as a map key.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress wraps the supplied 20 bytes in an address carrying prefix.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	addr := Address{prefix: prefix}
	copy(addr.bytes[:], b)
	return addr
}

// AddressFromArray builds an account address from a fixed-size array.
func AddressFromArray(raw [AddressLength]byte) Address {
	return Address{prefix: AccountPrefix, bytes: raw}
}

func (a Address) String() string {
	if a.IsZero() && a.prefix == "" {
		return ""
	}
	prefix := a.prefix
	if prefix == "" {
		prefix = AccountPrefix
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Array returns the raw address as a fixed-size array, the form persisted in state.
func (a Address) Array() [AddressLength]byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether every address byte is zero.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

// Equal compares the raw identity bytes, ignoring the display prefix.
func (a Address) Equal(other Address) bool {
	return a.bytes == other.bytes
}

// MarshalText renders the bech32 form so addresses serialise cleanly in JSON.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a bech32 address. Empty input yields the zero address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte [R || S || V] recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, fmt.Errorf("crypto: nil private key")
	}
	return crypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(AccountPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
