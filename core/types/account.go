package types

import "math/big"

// Account is the ledger's balance view for a single 20-byte address. Deployed
// escrow instances are ordinary accounts keyed by their derived address; the
// native asset lives in BalanceNative while every other asset is tracked by
// its canonical symbol.
type Account struct {
	Nonce         uint64              `json:"nonce"`
	BalanceNative *big.Int            `json:"balanceNative"`
	Tokens        map[string]*big.Int `json:"tokens,omitempty"`
}

// NewAccount returns an account with zeroed, non-nil balances.
func NewAccount() *Account {
	return &Account{
		BalanceNative: big.NewInt(0),
		Tokens:        make(map[string]*big.Int),
	}
}

// EnsureDefaults normalises nil balance fields in place and returns the
// receiver for chaining. Accounts decoded from storage may carry nil maps.
func (a *Account) EnsureDefaults() *Account {
	if a.BalanceNative == nil {
		a.BalanceNative = big.NewInt(0)
	}
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
	return a
}

// TokenBalance returns the balance held for the given symbol, zero when the
// account has never touched the asset. The returned value is a copy.
func (a *Account) TokenBalance(symbol string) *big.Int {
	if a == nil || a.Tokens == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Tokens[symbol]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// SetTokenBalance stores the balance for the given symbol, dropping the entry
// when it reaches zero so storage stays compact.
func (a *Account) SetTokenBalance(symbol string, amount *big.Int) {
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
	if amount == nil || amount.Sign() == 0 {
		delete(a.Tokens, symbol)
		return
	}
	a.Tokens[symbol] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	clone.Nonce = a.Nonce
	if a.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(a.BalanceNative)
	}
	for symbol, bal := range a.Tokens {
		if bal != nil {
			clone.Tokens[symbol] = new(big.Int).Set(bal)
		}
	}
	return clone
}
