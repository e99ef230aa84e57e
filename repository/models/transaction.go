package models

import "time"

// Transaction represents a transaction executed by the ledger, whether it
// applied or reverted
type Transaction struct {
	TxHash      string    `gorm:"column:tx_hash;type:varchar(66);primaryKey"`
	BlockHeight int64     `gorm:"column:block_height;not null;index"`
	TxIndex     int       `gorm:"column:tx_index;not null"`
	Type        string    `gorm:"column:type;type:varchar(32);not null"`
	Sender      string    `gorm:"column:sender;type:varchar(42);index;not null"`
	RequestID   string    `gorm:"column:request_id;type:varchar(64)"`
	Code        uint32    `gorm:"column:code;not null"`
	Status      string    `gorm:"column:status;type:varchar(32);default:'OK'"`
	Error       string    `gorm:"column:error;type:text"`
	Created     *string   `gorm:"column:created_address;type:varchar(42)"`
	Timestamp   time.Time `gorm:"column:timestamp;not null"`
}
