package settlement

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestore_ExportRoundTrip(t *testing.T) {
	l, r := setup(t)
	unit, err := l.CreateItem(owner, r.Address, u256(100), "Demo")
	require.NoError(t, err)
	_, err = l.CreateItem(owner, r.Address, u256(50), "Second")
	require.NoError(t, err)
	require.NoError(t, l.Transfer(buyer, unit.Address, u256(100)))

	exported := l.Export()
	raw, err := json.Marshal(exported)
	require.NoError(t, err)

	var decoded ChangeSet
	require.NoError(t, json.Unmarshal(raw, &decoded))
	restored, err := Restore(&decoded)
	require.NoError(t, err)

	assert.Equal(t, exported, restored.Export())

	// the restored ledger keeps working
	requireState(t, restored, r, 0, Paid)
	require.NoError(t, restored.TriggerDelivery(owner, r.Address, 0))
	requireState(t, restored, r, 0, Delivered)

	next, err := restored.PredictNext(r.Address)
	require.NoError(t, err)
	third, err := restored.CreateItem(owner, r.Address, u256(1), "Third")
	require.NoError(t, err)
	assert.Equal(t, next, third.Address)
}

func TestChanges_Incremental(t *testing.T) {
	l, r := setup(t)
	unit, err := l.CreateItem(owner, r.Address, u256(100), "Demo")
	require.NoError(t, err)
	_, err = l.CreateItem(owner, r.Address, u256(7), "Other")
	require.NoError(t, err)

	l.ResetChanges()
	assert.True(t, l.Changes().Empty())

	require.NoError(t, l.Transfer(buyer, unit.Address, u256(100)))
	cs := l.Changes()

	require.Len(t, cs.Entries, 1)
	assert.Equal(t, uint64(0), cs.Entries[0].Index)
	assert.Equal(t, Paid, cs.Entries[0].State)
	require.Len(t, cs.Units, 1)
	assert.True(t, cs.Units[0].Purchased)
	require.Len(t, cs.Registries, 1)
	assert.Equal(t, uint64(2), cs.Registries[0].Size)

	balances := map[string]string{}
	for _, a := range cs.Accounts {
		balances[a.Address.Hex()] = a.Balance
	}
	assert.Equal(t, "900", balances[buyer.Hex()])
	assert.Equal(t, "100", balances[r.Address.Hex()])
	assert.Equal(t, "0", balances[unit.Address.Hex()])
}

func TestChanges_RevertedAppendNotExported(t *testing.T) {
	l, r := setup(t)
	l.ResetChanges()

	// occupy the next unit address so the append is unwound
	l.units[r.PredictNext()] = newUnit(r.PredictNext(), r.Address, 9, u256(1), "squatter")
	_, err := l.CreateItem(owner, r.Address, u256(1), "Demo")
	require.ErrorIs(t, err, ErrAddressCollision)

	assert.Empty(t, l.Changes().Entries)
}

func TestRestore_Rejects(t *testing.T) {
	l, r := setup(t)
	_, err := l.CreateItem(owner, r.Address, u256(1), "Demo")
	require.NoError(t, err)

	missing := l.Export()
	missing.Entries = nil
	_, err = Restore(missing)
	assert.Error(t, err)

	bad := l.Export()
	bad.Entries[0].State = State(9)
	_, err = Restore(bad)
	assert.Error(t, err)

	orphan := l.Export()
	orphan.Registries = nil
	_, err = Restore(orphan)
	assert.ErrorIs(t, err, ErrUnknownRegistry)

	empty, err := Restore(nil)
	require.NoError(t, err)
	assert.True(t, empty.Export().Empty())
}
