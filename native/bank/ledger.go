package bank

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNilState            = errors.New("bank: state not configured")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
)

// State is the persistence surface the ledger needs. Implementations return a
// zero balance for accounts that were never funded.
type State interface {
	Balance(addr, asset common.Address) (*big.Int, error)
	SetBalance(addr, asset common.Address, amount *big.Int) error
}

// Ledger tracks per-account balances for every asset the protocol knows
// about. Pool module accounts, positions and end users all live in the same
// balance table, so deposits, borrow disbursements and liquidation seizures
// are plain transfers.
type Ledger struct {
	state State
}

func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

// BalanceOf returns the current balance, never nil.
func (l *Ledger) BalanceOf(addr, asset common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	bal, err := l.state.Balance(addr, asset)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// Credit adds amount to the account balance.
func (l *Ledger) Credit(addr, asset common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal, err := l.BalanceOf(addr, asset)
	if err != nil {
		return err
	}
	return l.state.SetBalance(addr, asset, new(big.Int).Add(bal, amount))
}

// Debit removes amount from the account balance, failing when the balance is
// insufficient.
func (l *Ledger) Debit(addr, asset common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal, err := l.BalanceOf(addr, asset)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.state.SetBalance(addr, asset, new(big.Int).Sub(bal, amount))
}

// Transfer moves amount between two accounts atomically with respect to the
// single-writer execution model: the debit is applied before the credit and
// any error aborts the pair.
func (l *Ledger) Transfer(from, to, asset common.Address, amount *big.Int) error {
	if err := l.Debit(from, asset, amount); err != nil {
		return err
	}
	if err := l.Credit(to, asset, amount); err != nil {
		// Restore the debited balance so a failed credit cannot burn funds.
		if bal, balErr := l.BalanceOf(from, asset); balErr == nil {
			_ = l.state.SetBalance(from, asset, new(big.Int).Add(bal, amount))
		}
		return err
	}
	return nil
}
