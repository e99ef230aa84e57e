package models

import "time"

// Registry mirrors a registry header as of the last block that touched it
type Registry struct {
	Address       string    `gorm:"column:registry_address;primaryKey;type:varchar(42)"`
	Owner         string    `gorm:"column:owner;type:varchar(42);index;not null"`
	Nonce         uint64    `gorm:"column:nonce;not null"`
	Size          uint64    `gorm:"column:size;not null"`
	Items         []Item    `gorm:"foreignKey:RegistryAddress"`
	UpdatedHeight int64     `gorm:"column:updated_height;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}
