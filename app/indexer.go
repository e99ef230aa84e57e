package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	"github.com/ethereum/go-ethereum/common"
)

// LifecycleEvent is a decoded registry log together with where it was emitted.
// (Height, TxIndex, LogIndex) orders events across a block.
type LifecycleEvent struct {
	TxHash   common.Hash
	Height   int64
	TxIndex  int
	LogIndex int
	// Event is a settlement.ItemCreated or settlement.StateChanged
	Event any
}

type lifecycleEventJSON struct {
	TxHash   common.Hash     `json:"tx_hash"`
	Height   int64           `json:"height"`
	TxIndex  int             `json:"tx_index"`
	LogIndex int             `json:"log_index"`
	Name     string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// MarshalJSON tags the event with its name so that it decodes back to the same type
func (e LifecycleEvent) MarshalJSON() ([]byte, error) {
	out := lifecycleEventJSON{TxHash: e.TxHash, Height: e.Height, TxIndex: e.TxIndex, LogIndex: e.LogIndex}
	switch e.Event.(type) {
	case settlement.ItemCreated:
		out.Name = settlement.EventItemCreated
	case settlement.StateChanged:
		out.Name = settlement.EventStateChanged
	default:
		return nil, fmt.Errorf("unsupported lifecycle event %T", e.Event)
	}
	data, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	out.Data = data
	return json.Marshal(out)
}

func (e *LifecycleEvent) UnmarshalJSON(b []byte) error {
	var in lifecycleEventJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*e = LifecycleEvent{TxHash: in.TxHash, Height: in.Height, TxIndex: in.TxIndex, LogIndex: in.LogIndex}
	switch in.Name {
	case settlement.EventItemCreated:
		var ev settlement.ItemCreated
		if err := json.Unmarshal(in.Data, &ev); err != nil {
			return err
		}
		e.Event = ev
	case settlement.EventStateChanged:
		var ev settlement.StateChanged
		if err := json.Unmarshal(in.Data, &ev); err != nil {
			return err
		}
		e.Event = ev
	default:
		return fmt.Errorf("unknown lifecycle event %q", in.Name)
	}
	return nil
}

// BlockResult is what one committed block changed
type BlockResult struct {
	Height     int64                       `json:"height"`
	Time       time.Time                   `json:"time"`
	Txs        []TxRecord                  `json:"txs"`
	Events     []LifecycleEvent            `json:"events"`
	Registries []settlement.RegistryRecord `json:"registries"`
	Entries    []settlement.EntryRecord    `json:"entries"`
}

// Indexer receives every committed block, after it is durable in BadgerDB.
// Indexing is best effort; a failing indexer never halts the chain. Blocks it
// could not take stay in BadgerDB and are offered again, in height order, on
// the next commit or on CatchUpIndex.
type Indexer interface {
	IndexBlock(ctx context.Context, block *BlockResult) error
}
