package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"riskledger/core/events"
	"riskledger/core/types"
	"riskledger/crypto"
)

var (
	// ErrInsufficientBalance is returned when the sender cannot cover a transfer.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrInvalidAmount is returned for nil, negative or oversized amounts.
	ErrInvalidAmount = errors.New("bank: invalid amount")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits.
	ErrBalanceOverflow = errors.New("bank: balance overflow")
)

var balancePrefix = []byte("bank/balance/")

// Transferer moves value between accounts. Implementations may run external
// code during a transfer, so callers must finish their own state writes first.
type Transferer interface {
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
}

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(*types.Event)
}

// Ledger keeps per-asset balances in journaled state and implements Transferer.
type Ledger struct {
	state ledgerState
}

// NewLedger constructs a balance ledger over state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func balanceKey(asset string, addr crypto.Address) []byte {
	symbol := normalizeAsset(asset)
	raw := addr.Array()
	key := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(raw))
	key = append(key, balancePrefix...)
	key = append(key, symbol...)
	key = append(key, '/')
	key = append(key, raw[:]...)
	return key
}

// Balance returns the balance of addr in asset. Unknown accounts hold zero.
func (l *Ledger) Balance(asset string, addr crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	balance := new(big.Int)
	ok, err := l.state.KVGet(balanceKey(asset, addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (l *Ledger) put(asset string, addr crypto.Address, balance *big.Int) error {
	return l.state.KVPut(balanceKey(asset, addr), balance)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrInvalidAmount
	}
	return nil
}

func credit(balance, amount *big.Int) (*big.Int, error) {
	next := new(big.Int).Add(balance, amount)
	if _, overflow := uint256.FromBig(next); overflow {
		return nil, ErrBalanceOverflow
	}
	return next, nil
}

// Mint credits amount to addr out of thin air. Genesis uses it to fund accounts.
func (l *Ledger) Mint(asset string, addr crypto.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	current, err := l.Balance(asset, addr)
	if err != nil {
		return err
	}
	next, err := credit(current, amount)
	if err != nil {
		return err
	}
	if err := l.put(asset, addr, next); err != nil {
		return err
	}
	l.state.AppendEvent(events.Transfer{Asset: asset, To: addr, Amount: amount}.Event())
	return nil
}

// Transfer debits from and credits to. Zero amounts are a no-op.
func (l *Ledger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := l.Balance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, fromBalance, normalizeAsset(asset), amount)
	}
	if err := l.put(asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := l.Balance(asset, to)
	if err != nil {
		return err
	}
	next, err := credit(toBalance, amount)
	if err != nil {
		return err
	}
	if err := l.put(asset, to, next); err != nil {
		return err
	}
	l.state.AppendEvent(events.Transfer{Asset: asset, From: from, To: to, Amount: new(big.Int).Set(amount)}.Event())
	return nil
}
