package models

import "time"

// LifecycleEvent is an ItemCreated or StateChanged log. A log is identified by
// its transaction and position, which is what makes re-indexing a no-op.
// Events are ordered by (block_height, tx_index, log_index).
type LifecycleEvent struct {
	ID              uint      `gorm:"column:event_id;primaryKey;autoIncrement"`
	TxHash          string    `gorm:"column:tx_hash;type:varchar(66);not null;uniqueIndex:idx_event_position"`
	LogIndex        int       `gorm:"column:log_index;not null;uniqueIndex:idx_event_position"`
	BlockHeight     int64     `gorm:"column:block_height;not null;index"`
	TxIndex         int       `gorm:"column:tx_index;not null"`
	Event           string    `gorm:"column:event;type:varchar(32);not null"`
	RegistryAddress string    `gorm:"column:registry_address;type:varchar(42);index;not null"`
	UnitAddress     string    `gorm:"column:unit_address;type:varchar(42);index;not null"`
	ItemIndex       uint64    `gorm:"column:item_index;not null"`
	OldState        *string   `gorm:"column:old_state;type:varchar(16)"`
	NewState        string    `gorm:"column:new_state;type:varchar(16);not null"`
	Title           string    `gorm:"column:title;type:text"`
	Timestamp       time.Time `gorm:"column:timestamp;not null"`
}
