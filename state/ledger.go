package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"crosslock/core/types"
	"crosslock/native/escrow"
	"crosslock/storage"
)

const (
	accountPrefix = "acct/"
	escrowPrefix  = "esc/"
	fillPrefix    = "fill/"
)

// Ledger implements the escrow engines' state interfaces over a key-value
// database. Records are JSON-encoded under prefixed hex keys. Two locks are
// involved: mu guards individual record accesses, while opMu is the operation
// lock the factory and engine hold across a whole create or settle so their
// check-then-act sequences never interleave.
type Ledger struct {
	opMu sync.Mutex
	mu   sync.RWMutex
	db   storage.Database
}

// NewLedger wraps the given database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// Lock acquires the operation lock. Engines hold it for the duration of one
// operation; single point reads outside an operation do not need it.
func (l *Ledger) Lock() { l.opMu.Lock() }

// Unlock releases the operation lock.
func (l *Ledger) Unlock() { l.opMu.Unlock() }

func accountKey(addr []byte) []byte {
	return []byte(accountPrefix + hex.EncodeToString(addr))
}

func escrowKey(addr [20]byte) []byte {
	return []byte(escrowPrefix + hex.EncodeToString(addr[:]))
}

func fillKey(orderHash [32]byte) []byte {
	return []byte(fillPrefix + hex.EncodeToString(orderHash[:]))
}

// GetAccount loads the account for an address, returning a zeroed account
// when none is stored yet.
func (l *Ledger) GetAccount(addr []byte) (*types.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	raw, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load account: %w", err)
	}
	account := &types.Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return account.EnsureDefaults(), nil
}

// PutAccount stores the account for an address.
func (l *Ledger) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	raw, err := json.Marshal(account.EnsureDefaults())
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Put(accountKey(addr), raw)
}

// EscrowPut stores a sanitized copy of the instance under its address.
func (l *Ledger) EscrowPut(inst *escrow.Instance) error {
	sanitized, err := escrow.SanitizeInstance(inst)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode escrow: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Put(escrowKey(sanitized.Address), raw)
}

// EscrowGet loads the instance deployed at an address. A nil instance with a
// nil error means the address is unoccupied; read failures are reported, not
// swallowed, so a broken backend never reads as vacant.
func (l *Ledger) EscrowGet(addr [20]byte) (*escrow.Instance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	raw, err := l.db.Get(escrowKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load escrow: %w", err)
	}
	inst := &escrow.Instance{}
	if err := json.Unmarshal(raw, inst); err != nil {
		return nil, fmt.Errorf("state: decode escrow: %w", err)
	}
	return inst, nil
}

// FillGet loads the consumed-leaf cursor for an order; nil with a nil error
// when no fill has been validated yet.
func (l *Ledger) FillGet(orderHash [32]byte) (*escrow.ValidatedFill, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	raw, err := l.db.Get(fillKey(orderHash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load fill: %w", err)
	}
	fill := &escrow.ValidatedFill{}
	if err := json.Unmarshal(raw, fill); err != nil {
		return nil, fmt.Errorf("state: decode fill: %w", err)
	}
	return fill, nil
}

// FillPut stores the consumed-leaf cursor for an order.
func (l *Ledger) FillPut(orderHash [32]byte, fill *escrow.ValidatedFill) error {
	if fill == nil {
		return fmt.Errorf("state: nil fill record")
	}
	raw, err := json.Marshal(fill)
	if err != nil {
		return fmt.Errorf("state: encode fill: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Put(fillKey(orderHash), raw)
}
