package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Account is the ledger-native balance and nonce of an address
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
}

// Ledger is the world state hosting registries and units. It executes one
// top-level call at a time; each call either applies fully or leaves no trace.
type Ledger struct {
	accounts   map[common.Address]*Account
	registries map[common.Address]*Registry
	units      map[common.Address]*Unit

	journal []func()
	logs    []*types.Log
	touched map[common.Address]struct{}
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		accounts:   make(map[common.Address]*Account),
		registries: make(map[common.Address]*Registry),
		units:      make(map[common.Address]*Unit),
		touched:    make(map[common.Address]struct{}),
	}
}

// Host implementation

// Deploy places a unit at its address
func (l *Ledger) Deploy(u *Unit) error {
	if l.occupied(u.Address) {
		return fmt.Errorf("deploy %s: %w", u.Address.Hex(), ErrAddressCollision)
	}
	l.units[u.Address] = u
	l.touch(u.Address)
	l.Journal(func() { delete(l.units, u.Address) })
	return nil
}

// Registry looks up a registry by address
func (l *Ledger) Registry(addr common.Address) (*Registry, error) {
	r, ok := l.registries[addr]
	if !ok {
		return nil, fmt.Errorf("registry %s: %w", addr.Hex(), ErrUnknownRegistry)
	}
	l.touch(addr)
	return r, nil
}

// Move transfers value from one account to another
func (l *Ledger) Move(from, to common.Address, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return nil
	}
	src := l.account(from)
	if src.Balance.Lt(value) {
		return fmt.Errorf("%s has %s, needs %s: %w", from.Hex(), src.Balance.Dec(), value.Dec(), ErrInsufficientBalance)
	}
	dst := l.account(to)

	prevSrc := new(uint256.Int).Set(src.Balance)
	prevDst := new(uint256.Int).Set(dst.Balance)
	src.Balance.Sub(src.Balance, value)
	dst.Balance.Add(dst.Balance, value)
	l.Journal(func() {
		src.Balance.Set(prevSrc)
		dst.Balance.Set(prevDst)
	})
	return nil
}

// Emit appends a log to the current call
func (l *Ledger) Emit(log *types.Log) {
	l.logs = append(l.logs, log)
}

// Journal records an undo step for the current call
func (l *Ledger) Journal(undo func()) {
	l.journal = append(l.journal, undo)
}

// Top-level calls

// Mint credits value to addr. Used for genesis allocation only.
func (l *Ledger) Mint(addr common.Address, value *uint256.Int) {
	acct := l.account(addr)
	acct.Balance.Add(acct.Balance, value)
}

// DeployRegistry creates a registry owned by owner at
// PredictAddress(owner, owner's nonce) and advances the owner's nonce.
func (l *Ledger) DeployRegistry(owner common.Address) (*Registry, error) {
	var registry *Registry
	err := l.atomic(func() error {
		acct := l.account(owner)
		addr := PredictAddress(owner, acct.Nonce)
		if l.occupied(addr) {
			return fmt.Errorf("deploy registry %s: %w", addr.Hex(), ErrAddressCollision)
		}
		l.bumpNonce(owner)

		registry = newRegistry(addr, owner)
		l.registries[addr] = registry
		l.touch(addr)
		l.Journal(func() { delete(l.registries, addr) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// CreateItem calls Registry.CreateItem on behalf of caller
func (l *Ledger) CreateItem(caller, registry common.Address, price *uint256.Int, title string) (*Unit, error) {
	var unit *Unit
	err := l.atomic(func() error {
		r, err := l.Registry(registry)
		if err != nil {
			return err
		}
		unit, err = r.CreateItem(l, caller, price, title)
		return err
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// Transfer moves value from one address to another. A transfer to a unit
// address is a payment and runs the unit's Receive.
func (l *Ledger) Transfer(from, to common.Address, value *uint256.Int) error {
	if value == nil {
		value = new(uint256.Int)
	}
	return l.atomic(func() error {
		if _, ok := l.registries[to]; ok {
			return fmt.Errorf("transfer to %s: %w", to.Hex(), ErrNotPayable)
		}
		if err := l.Move(from, to, value); err != nil {
			return err
		}
		l.touch(from)
		l.touch(to)
		if unit, ok := l.units[to]; ok {
			return unit.Receive(l, from, value)
		}
		return nil
	})
}

// TriggerPayment calls Registry.TriggerPayment directly from caller. Only a unit
// can do this successfully; it exists so external attempts are executed and
// rejected like any other call.
func (l *Ledger) TriggerPayment(caller, registry common.Address, index uint64, value *uint256.Int) error {
	if value == nil {
		value = new(uint256.Int)
	}
	return l.atomic(func() error {
		r, err := l.Registry(registry)
		if err != nil {
			return err
		}
		if err := l.Move(caller, r.Address, value); err != nil {
			return err
		}
		l.touch(caller)
		return r.TriggerPayment(l, caller, index, value)
	})
}

// TriggerDelivery calls Registry.TriggerDelivery on behalf of caller
func (l *Ledger) TriggerDelivery(caller, registry common.Address, index uint64) error {
	return l.atomic(func() error {
		r, err := l.Registry(registry)
		if err != nil {
			return err
		}
		return r.TriggerDelivery(l, caller, index)
	})
}

// Logs returns the logs emitted by the most recent top-level call. A failed call
// emits nothing.
func (l *Ledger) Logs() []*types.Log {
	return l.logs
}

// Queries

// Balance returns the balance of addr
func (l *Ledger) Balance(addr common.Address) *uint256.Int {
	if acct, ok := l.accounts[addr]; ok {
		return new(uint256.Int).Set(acct.Balance)
	}
	return new(uint256.Int)
}

// Nonce returns the account nonce of addr
func (l *Ledger) Nonce(addr common.Address) uint64 {
	if acct, ok := l.accounts[addr]; ok {
		return acct.Nonce
	}
	return 0
}

// Unit looks up a unit by address
func (l *Ledger) Unit(addr common.Address) (*Unit, bool) {
	u, ok := l.units[addr]
	return u, ok
}

// LookupRegistry looks up a registry without marking it as modified
func (l *Ledger) LookupRegistry(addr common.Address) (*Registry, bool) {
	r, ok := l.registries[addr]
	return r, ok
}

// Entry returns the catalogue entry at index in registry
func (l *Ledger) Entry(registry common.Address, index uint64) (Entry, error) {
	r, ok := l.registries[registry]
	if !ok {
		return Entry{}, fmt.Errorf("registry %s: %w", registry.Hex(), ErrUnknownRegistry)
	}
	return r.Entry(index)
}

// PredictNext returns the address of the next unit registry will create
func (l *Ledger) PredictNext(registry common.Address) (common.Address, error) {
	r, ok := l.registries[registry]
	if !ok {
		return common.Address{}, fmt.Errorf("registry %s: %w", registry.Hex(), ErrUnknownRegistry)
	}
	return r.PredictNext(), nil
}

// internals

// atomic runs fn as one top-level call and unwinds the journal if it fails
func (l *Ledger) atomic(fn func() error) error {
	l.journal = l.journal[:0]
	l.logs = nil

	if err := fn(); err != nil {
		for i := len(l.journal) - 1; i >= 0; i-- {
			l.journal[i]()
		}
		l.journal = l.journal[:0]
		l.logs = nil
		return err
	}

	l.journal = l.journal[:0]
	return nil
}

func (l *Ledger) account(addr common.Address) *Account {
	acct, ok := l.accounts[addr]
	if !ok {
		acct = &Account{Balance: new(uint256.Int)}
		l.accounts[addr] = acct
		l.Journal(func() { delete(l.accounts, addr) })
	}
	l.touch(addr)
	return acct
}

func (l *Ledger) bumpNonce(addr common.Address) {
	acct := l.account(addr)
	acct.Nonce++
	l.Journal(func() { acct.Nonce-- })
}

func (l *Ledger) occupied(addr common.Address) bool {
	if _, ok := l.registries[addr]; ok {
		return true
	}
	if _, ok := l.units[addr]; ok {
		return true
	}
	if acct, ok := l.accounts[addr]; ok && acct.Nonce > 0 {
		return true
	}
	return false
}

func (l *Ledger) touch(addr common.Address) {
	l.touched[addr] = struct{}{}
}
