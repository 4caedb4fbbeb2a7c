package types

import "math/big"

// Account tracks the base-currency holdings of a single identity. Token
// balances live with the external token ledger, not here.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// EnsureAccount normalises a possibly-nil account into a usable value with a
// non-nil balance.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
