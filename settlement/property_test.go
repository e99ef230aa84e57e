package settlement

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

var actors = []common.Address{owner, buyer, stranger}

func totalSupply(l *Ledger) *uint256.Int {
	sum := new(uint256.Int)
	for _, acct := range l.accounts {
		sum.Add(sum, acct.Balance)
	}
	return sum
}

// TestLedger_Properties drives random call sequences and checks the settlement
// invariants after every step.
func TestLedger_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := NewLedger()
		for _, a := range actors {
			l.Mint(a, uint256.NewInt(10_000))
		}
		supply := totalSupply(l)

		var registries []*Registry
		var units []*Unit
		history := make(map[common.Address]State)

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for step := 0; step < steps; step++ {
			before := l.Export()
			caller := rapid.SampledFrom(actors).Draw(t, "caller")
			var err error

			switch op := rapid.IntRange(0, 4).Draw(t, "op"); {
			case op == 0 || len(registries) == 0:
				var r *Registry
				if r, err = l.DeployRegistry(caller); err == nil {
					registries = append(registries, r)
				}
			case op == 1:
				r := rapid.SampledFrom(registries).Draw(t, "registry")
				predicted := r.PredictNext()
				price := uint256.NewInt(rapid.Uint64Range(0, 300).Draw(t, "price"))
				var u *Unit
				if u, err = l.CreateItem(caller, r.Address, price, "item"); err == nil {
					if u.Address != predicted {
						t.Fatalf("created %s, predicted %s", u.Address.Hex(), predicted.Hex())
					}
					units = append(units, u)
				}
			case op == 2 && len(units) > 0:
				u := rapid.SampledFrom(units).Draw(t, "unit")
				value := new(uint256.Int).Set(u.Price)
				if rapid.Bool().Draw(t, "offByOne") {
					value.AddUint64(value, 1)
				}
				err = l.Transfer(caller, u.Address, value)
			case op == 3:
				r := rapid.SampledFrom(registries).Draw(t, "registry")
				index := rapid.Uint64Range(0, r.Len()+1).Draw(t, "index")
				err = l.TriggerDelivery(caller, r.Address, index)
			default:
				r := rapid.SampledFrom(registries).Draw(t, "registry")
				index := rapid.Uint64Range(0, r.Len()).Draw(t, "index")
				err = l.TriggerPayment(caller, r.Address, index, uint256.NewInt(0))
			}

			if err != nil {
				if len(l.Logs()) != 0 {
					t.Fatalf("failed call left %d logs", len(l.Logs()))
				}
				after := l.Export()
				if !exportsEqual(before, after) {
					t.Fatalf("failed call (%v) changed state", err)
				}
			}

			if got := totalSupply(l); !got.Eq(supply) {
				t.Fatalf("supply %s, want %s", got.Dec(), supply.Dec())
			}

			for _, r := range registries {
				for i := uint64(0); i < r.Len(); i++ {
					e, _ := r.Entry(i)
					u, ok := l.Unit(e.Unit)
					if !ok {
						t.Fatalf("entry %d has no unit", i)
					}
					if u.Purchased() != (e.State >= Paid) {
						t.Fatalf("unit purchased=%v but entry is %s", u.Purchased(), e.State)
					}
					if e.State < history[e.Unit] {
						t.Fatalf("entry %d moved back from %s to %s", i, history[e.Unit], e.State)
					}
					history[e.Unit] = e.State
				}
			}
		}
	})
}

func exportsEqual(a, b *ChangeSet) bool {
	if len(a.Accounts) != len(b.Accounts) || len(a.Registries) != len(b.Registries) ||
		len(a.Entries) != len(b.Entries) || len(a.Units) != len(b.Units) {
		return false
	}
	for i := range a.Accounts {
		if a.Accounts[i] != b.Accounts[i] {
			return false
		}
	}
	for i := range a.Registries {
		if a.Registries[i] != b.Registries[i] {
			return false
		}
	}
	for i := range a.Entries {
		if a.Entries[i] != b.Entries[i] {
			return false
		}
	}
	for i := range a.Units {
		if a.Units[i] != b.Units[i] {
			return false
		}
	}
	return true
}
