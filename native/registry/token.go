package registry

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrInsufficientBalance is returned when a transfer exceeds the sender's
// token balance.
var ErrInsufficientBalance = errors.New("registry: insufficient token balance")

// ErrInsufficientAllowance is returned when TransferFrom exceeds the spender's
// remaining allowance.
var ErrInsufficientAllowance = errors.New("registry: insufficient token allowance")

// TokenLedger is an in-process fungible-token ledger with allowance-gated
// delegated transfers. It stands in for the external token-currency registry
// collaborator.
type TokenLedger struct {
	mu         sync.RWMutex
	addr       [20]byte
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]*big.Int
}

// NewTokenLedger constructs an empty ledger identified by a deterministic
// address derived from the token symbol.
func NewTokenLedger(symbol string) *TokenLedger {
	return &TokenLedger{
		addr:       deriveAddress("registry/token/" + symbol),
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

// Address returns the token's identity used as paymentCurrency.
func (t *TokenLedger) Address() [20]byte {
	return t.addr
}

// Mint credits the supplied account.
func (t *TokenLedger) Mint(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("registry: mint amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

// BalanceOf reads the current balance for an account.
func (t *TokenLedger) BalanceOf(addr [20]byte) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance(addr))
}

// Approve sets the spender's allowance over the owner's balance.
func (t *TokenLedger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("registry: allowance must not be negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	grants := t.allowances[owner]
	if grants == nil {
		grants = make(map[[20]byte]*big.Int)
		t.allowances[owner] = grants
	}
	grants[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance reads the spender's remaining allowance from the owner.
func (t *TokenLedger) Allowance(owner, spender [20]byte) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if grant, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(grant)
	}
	return big.NewInt(0)
}

// Transfer moves tokens between accounts without touching allowances.
func (t *TokenLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("registry: transfer amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves tokens on behalf of the owner, consuming the spender's
// allowance. Requires a pre-existing allowance covering the amount.
func (t *TokenLedger) TransferFrom(spender, owner, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("registry: transfer amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	grant, ok := t.allowances[owner][spender]
	if !ok || grant.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := t.move(owner, to, amount); err != nil {
		return err
	}
	t.allowances[owner][spender] = new(big.Int).Sub(grant, amount)
	return nil
}

func (t *TokenLedger) balance(addr [20]byte) *big.Int {
	if bal, ok := t.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (t *TokenLedger) move(from, to [20]byte, amount *big.Int) error {
	fromBal := t.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[from] = new(big.Int).Sub(fromBal, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}
