package settlement

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountRecord is the persisted form of an account
type AccountRecord struct {
	Address common.Address `json:"address"`
	Balance string         `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

// RegistryRecord is the persisted header of a registry. Its entries are stored
// separately, one record per index.
type RegistryRecord struct {
	Address common.Address `json:"address"`
	Owner   common.Address `json:"owner"`
	Nonce   uint64         `json:"nonce"`
	Size    uint64         `json:"size"`
}

// EntryRecord is the persisted form of a catalogue entry
type EntryRecord struct {
	Registry common.Address `json:"registry"`
	Index    uint64         `json:"index"`
	Unit     common.Address `json:"unit"`
	State    State          `json:"state"`
	Price    string         `json:"price"`
	Title    string         `json:"title"`
}

// UnitRecord is the persisted form of a settlement unit
type UnitRecord struct {
	Address   common.Address `json:"address"`
	Registry  common.Address `json:"registry"`
	Index     uint64         `json:"index"`
	Price     string         `json:"price"`
	Title     string         `json:"title"`
	Purchased bool           `json:"purchased"`
}

// ChangeSet lists objects in their current form. Records are sorted so that the
// same state always serializes to the same bytes.
type ChangeSet struct {
	Accounts   []AccountRecord  `json:"accounts"`
	Registries []RegistryRecord `json:"registries"`
	Entries    []EntryRecord    `json:"entries"`
	Units      []UnitRecord     `json:"units"`
}

// Empty reports whether the change set carries no records
func (cs *ChangeSet) Empty() bool {
	return len(cs.Accounts) == 0 && len(cs.Registries) == 0 && len(cs.Entries) == 0 && len(cs.Units) == 0
}

// Changes returns every object modified since the last ResetChanges
func (l *Ledger) Changes() *ChangeSet {
	cs := &ChangeSet{}
	for _, addr := range sortedAddresses(l.touched) {
		l.export(cs, addr, false)
	}
	return cs
}

// Export returns the complete ledger state
func (l *Ledger) Export() *ChangeSet {
	all := make(map[common.Address]struct{}, len(l.accounts)+len(l.registries)+len(l.units))
	for addr := range l.accounts {
		all[addr] = struct{}{}
	}
	for addr := range l.registries {
		all[addr] = struct{}{}
	}
	for addr := range l.units {
		all[addr] = struct{}{}
	}
	cs := &ChangeSet{}
	for _, addr := range sortedAddresses(all) {
		l.export(cs, addr, true)
	}
	return cs
}

// ResetChanges forgets what was modified, after the changes have been persisted
func (l *Ledger) ResetChanges() {
	l.touched = make(map[common.Address]struct{})
	for _, r := range l.registries {
		r.dirty = make(map[uint64]struct{})
	}
}

func (l *Ledger) export(cs *ChangeSet, addr common.Address, full bool) {
	if acct, ok := l.accounts[addr]; ok {
		cs.Accounts = append(cs.Accounts, AccountRecord{
			Address: addr,
			Balance: acct.Balance.Dec(),
			Nonce:   acct.Nonce,
		})
	}
	if r, ok := l.registries[addr]; ok {
		cs.Registries = append(cs.Registries, RegistryRecord{
			Address: r.Address,
			Owner:   r.Owner,
			Nonce:   r.Nonce,
			Size:    r.Len(),
		})
		indexes := make([]uint64, 0, len(r.dirty))
		if full {
			for i := uint64(0); i < r.Len(); i++ {
				indexes = append(indexes, i)
			}
		} else {
			for i := range r.dirty {
				// a reverted append can leave an index past the end
				if i < r.Len() {
					indexes = append(indexes, i)
				}
			}
			sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
		}
		for _, i := range indexes {
			e := r.catalogue[i]
			cs.Entries = append(cs.Entries, EntryRecord{
				Registry: r.Address,
				Index:    e.Index,
				Unit:     e.Unit,
				State:    e.State,
				Price:    e.Price.Dec(),
				Title:    e.Title,
			})
		}
	}
	if u, ok := l.units[addr]; ok {
		cs.Units = append(cs.Units, UnitRecord{
			Address:   u.Address,
			Registry:  u.Registry,
			Index:     u.Index,
			Price:     u.Price.Dec(),
			Title:     u.Title,
			Purchased: u.purchased,
		})
	}
}

// Restore rebuilds a ledger from a complete export
func Restore(cs *ChangeSet) (*Ledger, error) {
	l := NewLedger()
	if cs == nil {
		return l, nil
	}

	for _, rec := range cs.Accounts {
		balance, err := uint256.FromDecimal(rec.Balance)
		if err != nil {
			return nil, fmt.Errorf("account %s: balance %q: %w", rec.Address.Hex(), rec.Balance, err)
		}
		l.accounts[rec.Address] = &Account{Balance: balance, Nonce: rec.Nonce}
	}

	for _, rec := range cs.Registries {
		r := newRegistry(rec.Address, rec.Owner)
		r.Nonce = rec.Nonce
		r.catalogue = make([]Entry, rec.Size)
		l.registries[rec.Address] = r
	}

	seen := make(map[common.Address]map[uint64]bool)
	for _, rec := range cs.Entries {
		r, ok := l.registries[rec.Registry]
		if !ok {
			return nil, fmt.Errorf("entry %d: %w", rec.Index, ErrUnknownRegistry)
		}
		if rec.Index >= r.Len() {
			return nil, fmt.Errorf("registry %s: entry %d past size %d", rec.Registry.Hex(), rec.Index, r.Len())
		}
		if !rec.State.Valid() {
			return nil, fmt.Errorf("registry %s: entry %d: invalid state %d", rec.Registry.Hex(), rec.Index, rec.State)
		}
		price, err := uint256.FromDecimal(rec.Price)
		if err != nil {
			return nil, fmt.Errorf("registry %s: entry %d: price %q: %w", rec.Registry.Hex(), rec.Index, rec.Price, err)
		}
		r.catalogue[rec.Index] = Entry{
			Index: rec.Index,
			Unit:  rec.Unit,
			State: rec.State,
			Price: price,
			Title: rec.Title,
		}
		if seen[rec.Registry] == nil {
			seen[rec.Registry] = make(map[uint64]bool)
		}
		seen[rec.Registry][rec.Index] = true
	}
	for addr, r := range l.registries {
		if uint64(len(seen[addr])) != r.Len() {
			return nil, fmt.Errorf("registry %s: %d of %d entries present", addr.Hex(), len(seen[addr]), r.Len())
		}
	}

	for _, rec := range cs.Units {
		price, err := uint256.FromDecimal(rec.Price)
		if err != nil {
			return nil, fmt.Errorf("unit %s: price %q: %w", rec.Address.Hex(), rec.Price, err)
		}
		u := newUnit(rec.Address, rec.Registry, rec.Index, price, rec.Title)
		u.purchased = rec.Purchased
		l.units[rec.Address] = u
	}

	return l, nil
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return lessAddress(out[i], out[j]) })
	return out
}

func lessAddress(a, b common.Address) bool {
	return bytes.Compare(a.Bytes(), b.Bytes()) < 0
}
