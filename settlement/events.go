package settlement

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	EventItemCreated  = "ItemCreated"
	EventStateChanged = "StateChanged"
)

// The unit address is indexed so that indexers can filter a single item's history
// by topic without decoding data.
const eventsJSON = `[
	{"type":"event","name":"ItemCreated","anonymous":false,"inputs":[
		{"name":"unit","type":"address","indexed":true},
		{"name":"index","type":"uint256","indexed":false},
		{"name":"title","type":"string","indexed":false}
	]},
	{"type":"event","name":"StateChanged","anonymous":false,"inputs":[
		{"name":"unit","type":"address","indexed":true},
		{"name":"index","type":"uint256","indexed":false},
		{"name":"oldState","type":"uint8","indexed":false},
		{"name":"newState","type":"uint8","indexed":false},
		{"name":"title","type":"string","indexed":false}
	]}
]`

// EventsABI is the event schema shared by every registry
var EventsABI = mustParseABI(eventsJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("settlement: invalid event ABI: %v", err))
	}
	return parsed
}

// ItemCreated is emitted by a registry when it deploys a settlement unit
type ItemCreated struct {
	Registry common.Address
	Unit     common.Address
	Index    uint64
	Title    string
}

// StateChanged is emitted by a registry for Created->Paid and Paid->Delivered
type StateChanged struct {
	Registry common.Address
	Unit     common.Address
	Index    uint64
	OldState State
	NewState State
	Title    string
}

// Log encodes the event as a ledger log emitted by the registry
func (e ItemCreated) Log() (*types.Log, error) {
	event := EventsABI.Events[EventItemCreated]
	data, err := event.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(e.Index), e.Title)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", EventItemCreated, err)
	}
	return &types.Log{
		Address: e.Registry,
		Topics:  []common.Hash{event.ID, common.BytesToHash(e.Unit.Bytes())},
		Data:    data,
	}, nil
}

// Log encodes the event as a ledger log emitted by the registry
func (e StateChanged) Log() (*types.Log, error) {
	event := EventsABI.Events[EventStateChanged]
	data, err := event.Inputs.NonIndexed().Pack(
		new(big.Int).SetUint64(e.Index),
		uint8(e.OldState),
		uint8(e.NewState),
		e.Title,
	)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", EventStateChanged, err)
	}
	return &types.Log{
		Address: e.Registry,
		Topics:  []common.Hash{event.ID, common.BytesToHash(e.Unit.Bytes())},
		Data:    data,
	}, nil
}

// Attribute is a flattened key/value view of an event, used for node events
type Attribute struct {
	Key   string
	Value string
}

// Attributes flattens the event for the node's event index
func (e ItemCreated) Attributes() []Attribute {
	return []Attribute{
		{Key: "registry", Value: e.Registry.Hex()},
		{Key: "unit", Value: e.Unit.Hex()},
		{Key: "index", Value: strconv.FormatUint(e.Index, 10)},
		{Key: "title", Value: e.Title},
	}
}

// Attributes flattens the event for the node's event index
func (e StateChanged) Attributes() []Attribute {
	return []Attribute{
		{Key: "registry", Value: e.Registry.Hex()},
		{Key: "unit", Value: e.Unit.Hex()},
		{Key: "index", Value: strconv.FormatUint(e.Index, 10)},
		{Key: "old_state", Value: strconv.Itoa(int(e.OldState))},
		{Key: "new_state", Value: strconv.Itoa(int(e.NewState))},
		{Key: "title", Value: e.Title},
	}
}

// ParseLog decodes a registry log back into ItemCreated or StateChanged
func ParseLog(log *types.Log) (any, error) {
	if log == nil || len(log.Topics) != 2 {
		return nil, fmt.Errorf("unexpected log shape")
	}
	unit := common.BytesToAddress(log.Topics[1].Bytes())

	switch log.Topics[0] {
	case EventsABI.Events[EventItemCreated].ID:
		values, err := EventsABI.Unpack(EventItemCreated, log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", EventItemCreated, err)
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("unpack %s: got %d values", EventItemCreated, len(values))
		}
		index, _ := values[0].(*big.Int)
		title, _ := values[1].(string)
		if index == nil || !index.IsUint64() {
			return nil, fmt.Errorf("unpack %s: bad index", EventItemCreated)
		}
		return ItemCreated{Registry: log.Address, Unit: unit, Index: index.Uint64(), Title: title}, nil

	case EventsABI.Events[EventStateChanged].ID:
		values, err := EventsABI.Unpack(EventStateChanged, log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", EventStateChanged, err)
		}
		if len(values) != 4 {
			return nil, fmt.Errorf("unpack %s: got %d values", EventStateChanged, len(values))
		}
		index, _ := values[0].(*big.Int)
		oldState, _ := values[1].(uint8)
		newState, _ := values[2].(uint8)
		title, _ := values[3].(string)
		if index == nil || !index.IsUint64() {
			return nil, fmt.Errorf("unpack %s: bad index", EventStateChanged)
		}
		return StateChanged{
			Registry: log.Address,
			Unit:     unit,
			Index:    index.Uint64(),
			OldState: State(oldState),
			NewState: State(newState),
			Title:    title,
		}, nil
	}

	return nil, fmt.Errorf("unknown event topic %s", log.Topics[0].Hex())
}
