package app

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

// Key layout in BadgerDB. Ledger objects are stored as JSON records, one key
// per object, so that a block only rewrites what it touched.
var (
	keyLastBlockHeight  = []byte("last_block_height")
	keyLastBlockAppHash = []byte("last_block_app_hash")

	prefixAccount  = []byte("account:")
	prefixRegistry = []byte("registry:")
	prefixEntry    = []byte("entry:")
	prefixUnit     = []byte("unit:")
	prefixTx       = []byte("tx:")

	// blocks committed but not yet taken by the indexer, by height
	prefixUnindexed = []byte("unindexed:")
)

func accountKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixAccount...), addr.Bytes()...)
}

func registryKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixRegistry...), addr.Bytes()...)
}

// entryKey sorts entries of a registry by index
func entryKey(registry common.Address, index uint64) []byte {
	key := append(append([]byte{}, prefixEntry...), registry.Bytes()...)
	return binary.BigEndian.AppendUint64(key, index)
}

func unitKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixUnit...), addr.Bytes()...)
}

func txKey(hash common.Hash) []byte {
	return append(append([]byte{}, prefixTx...), hash.Bytes()...)
}

func unindexedKey(height int64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixUnindexed...), uint64(height))
}

// TxRecord is what the node keeps about every transaction it executed
type TxRecord struct {
	Hash      common.Hash       `json:"hash"`
	Height    int64             `json:"height"`
	Index     int               `json:"index"`
	Type      settlement.TxType `json:"type"`
	Sender    common.Address    `json:"sender"`
	RequestID string            `json:"request_id,omitempty"`
	Code      uint32            `json:"code"`
	Error     string            `json:"error,omitempty"`
	Created   *common.Address   `json:"created,omitempty"`
}

// writeChanges stages every record of cs in txn
func writeChanges(txn *badger.Txn, cs *settlement.ChangeSet) error {
	for _, rec := range cs.Accounts {
		if err := setJSON(txn, accountKey(rec.Address), rec); err != nil {
			return err
		}
	}
	for _, rec := range cs.Registries {
		if err := setJSON(txn, registryKey(rec.Address), rec); err != nil {
			return err
		}
	}
	for _, rec := range cs.Entries {
		if err := setJSON(txn, entryKey(rec.Registry, rec.Index), rec); err != nil {
			return err
		}
	}
	for _, rec := range cs.Units {
		if err := setJSON(txn, unitKey(rec.Address), rec); err != nil {
			return err
		}
	}
	return nil
}

// loadLedger rebuilds the ledger from the committed records in db
func loadLedger(db *badger.DB) (*settlement.Ledger, error) {
	cs := &settlement.ChangeSet{}
	err := db.View(func(txn *badger.Txn) error {
		if err := scan(txn, prefixAccount, func(val []byte) error {
			var rec settlement.AccountRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			cs.Accounts = append(cs.Accounts, rec)
			return nil
		}); err != nil {
			return fmt.Errorf("load accounts: %w", err)
		}
		if err := scan(txn, prefixRegistry, func(val []byte) error {
			var rec settlement.RegistryRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			cs.Registries = append(cs.Registries, rec)
			return nil
		}); err != nil {
			return fmt.Errorf("load registries: %w", err)
		}
		if err := scan(txn, prefixEntry, func(val []byte) error {
			var rec settlement.EntryRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			cs.Entries = append(cs.Entries, rec)
			return nil
		}); err != nil {
			return fmt.Errorf("load entries: %w", err)
		}
		if err := scan(txn, prefixUnit, func(val []byte) error {
			var rec settlement.UnitRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			cs.Units = append(cs.Units, rec)
			return nil
		}); err != nil {
			return fmt.Errorf("load units: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement.Restore(cs)
}

// lastBlock reads the height and app hash of the last committed block
func lastBlock(db *badger.DB) (int64, []byte, error) {
	var height int64
	var appHash []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLastBlockHeight)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		err = item.Value(func(val []byte) error {
			height = bytesToInt64(val)
			return nil
		})
		if err != nil {
			return err
		}

		item, err = txn.Get(keyLastBlockAppHash)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		appHash, err = item.ValueCopy(nil)
		return err
	})
	return height, appHash, err
}

func scan(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return fmt.Errorf("key %x: %w", it.Item().Key(), err)
		}
	}
	return nil
}

// getJSON decodes the value at key into v. It reports false if the key is absent.
func getJSON(db *badger.DB, key []byte, v any) (bool, error) {
	found := false
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	return found, err
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %x: %w", key, err)
	}
	return txn.Set(key, b)
}

// int64ToBytes converts an int64 to bytes
func int64ToBytes(i int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(i))
}

// bytesToInt64 converts bytes to an int64
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf))
}
