package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Entry is one item in a registry's catalogue. Entries are addressed by Index
// and are never removed or reordered.
type Entry struct {
	Index uint64
	Unit  common.Address
	State State
	Price *uint256.Int
	Title string
}

// Registry owns the catalogue and is the only program that creates units and
// advances an entry past Paid.
type Registry struct {
	Address common.Address
	Owner   common.Address
	// Nonce is the creation counter; the next unit is deployed at
	// PredictAddress(Address, Nonce).
	Nonce uint64

	catalogue []Entry
	dirty     map[uint64]struct{}
}

func newRegistry(addr, owner common.Address) *Registry {
	return &Registry{
		Address: addr,
		Owner:   owner,
		Nonce:   1,
		dirty:   make(map[uint64]struct{}),
	}
}

// Len returns the number of catalogue entries, which is also the next index
func (r *Registry) Len() uint64 {
	return uint64(len(r.catalogue))
}

// Entry returns a copy of the catalogue entry at index
func (r *Registry) Entry(index uint64) (Entry, error) {
	if index >= r.Len() {
		return Entry{}, fmt.Errorf("registry %s: index %d: %w", r.Address.Hex(), index, ErrUnknownItem)
	}
	e := r.catalogue[index]
	e.Price = new(uint256.Int).Set(e.Price)
	return e, nil
}

// PredictNext returns the address the next created unit will receive
func (r *Registry) PredictNext() common.Address {
	return PredictAddress(r.Address, r.Nonce)
}

// CreateItem deploys a unit for a new item and appends its catalogue entry
func (r *Registry) CreateItem(h Host, caller common.Address, price *uint256.Int, title string) (*Unit, error) {
	if caller != r.Owner {
		return nil, fmt.Errorf("registry %s: create item: %w", r.Address.Hex(), ErrUnauthorized)
	}
	if price == nil {
		price = new(uint256.Int)
	}

	addr := r.PredictNext()
	r.Nonce++
	h.Journal(func() { r.Nonce-- })

	index := r.Len()
	unit := newUnit(addr, r.Address, index, price, title)
	if err := h.Deploy(unit); err != nil {
		return nil, fmt.Errorf("registry %s: create item: %w", r.Address.Hex(), err)
	}

	r.catalogue = append(r.catalogue, Entry{
		Index: index,
		Unit:  addr,
		State: Created,
		Price: new(uint256.Int).Set(price),
		Title: title,
	})
	r.dirty[index] = struct{}{}
	h.Journal(func() { r.catalogue = r.catalogue[:index] })

	log, err := ItemCreated{Registry: r.Address, Unit: addr, Index: index, Title: title}.Log()
	if err != nil {
		return nil, err
	}
	h.Emit(log)
	return unit, nil
}

// TriggerPayment is the callback a unit makes once it has accepted payment.
// Only the unit recorded for index may call it.
func (r *Registry) TriggerPayment(h Host, caller common.Address, index uint64, value *uint256.Int) error {
	if index >= r.Len() {
		return fmt.Errorf("registry %s: index %d: %w", r.Address.Hex(), index, ErrUnknownItem)
	}
	entry := &r.catalogue[index]
	if entry.State != Created {
		return fmt.Errorf("registry %s: index %d: %w", r.Address.Hex(), index, ErrAlreadyPaid)
	}
	if value == nil || !value.Eq(entry.Price) {
		return fmt.Errorf("registry %s: index %d: %w", r.Address.Hex(), index, ErrImprecisePayment)
	}
	if caller != entry.Unit {
		return fmt.Errorf("registry %s: index %d: caller %s: %w", r.Address.Hex(), index, caller.Hex(), ErrUnauthorizedCallback)
	}

	return r.advance(h, index, Paid)
}

// TriggerDelivery marks a paid item as delivered. Owner only.
func (r *Registry) TriggerDelivery(h Host, caller common.Address, index uint64) error {
	if caller != r.Owner {
		return fmt.Errorf("registry %s: trigger delivery: %w", r.Address.Hex(), ErrUnauthorized)
	}
	if index >= r.Len() {
		return fmt.Errorf("registry %s: index %d: %w", r.Address.Hex(), index, ErrUnknownItem)
	}
	if r.catalogue[index].State != Paid {
		return fmt.Errorf("registry %s: index %d is %s: %w", r.Address.Hex(), index, r.catalogue[index].State, ErrNotPaid)
	}

	return r.advance(h, index, Delivered)
}

// advance moves an entry one step forward and emits StateChanged
func (r *Registry) advance(h Host, index uint64, to State) error {
	entry := &r.catalogue[index]
	from := entry.State
	if next, ok := from.Next(); !ok || next != to {
		return fmt.Errorf("registry %s: index %d: %s -> %s is not a valid transition", r.Address.Hex(), index, from, to)
	}

	entry.State = to
	r.dirty[index] = struct{}{}
	h.Journal(func() { r.catalogue[index].State = from })

	log, err := StateChanged{
		Registry: r.Address,
		Unit:     entry.Unit,
		Index:    index,
		OldState: from,
		NewState: to,
		Title:    entry.Title,
	}.Log()
	if err != nil {
		return err
	}
	h.Emit(log)
	return nil
}
