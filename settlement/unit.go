package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Unit is the per-item settlement program. It receives the item's payment,
// relays it to its registry and reports the payment through the callback.
type Unit struct {
	Address  common.Address
	Registry common.Address
	Index    uint64
	Price    *uint256.Int
	Title    string

	purchased bool
}

func newUnit(addr, registry common.Address, index uint64, price *uint256.Int, title string) *Unit {
	return &Unit{
		Address:  addr,
		Registry: registry,
		Index:    index,
		Price:    new(uint256.Int).Set(price),
		Title:    title,
	}
}

// Purchased reports whether the unit has accepted its one payment
func (u *Unit) Purchased() bool {
	return u.purchased
}

// Receive handles a value transfer to the unit. The host has already credited
// value to the unit's account; on success it ends up at the registry.
func (u *Unit) Receive(h Host, payer common.Address, value *uint256.Int) error {
	if value == nil || !value.Eq(u.Price) {
		return fmt.Errorf("unit %s: paid %s, price %s: %w", u.Address.Hex(), decString(value), u.Price.Dec(), ErrImprecisePayment)
	}
	if u.purchased {
		return fmt.Errorf("unit %s: %w", u.Address.Hex(), ErrAlreadyPurchased)
	}

	u.purchased = true
	h.Journal(func() { u.purchased = false })

	registry, err := h.Registry(u.Registry)
	if err != nil {
		return fmt.Errorf("unit %s: %w", u.Address.Hex(), err)
	}
	if err := h.Move(u.Address, registry.Address, value); err != nil {
		return fmt.Errorf("unit %s: forward payment: %w", u.Address.Hex(), err)
	}
	if err := registry.TriggerPayment(h, u.Address, u.Index, value); err != nil {
		return fmt.Errorf("unit %s: payment callback: %w", u.Address.Hex(), err)
	}
	return nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
