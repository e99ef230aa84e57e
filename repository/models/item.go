package models

import "time"

// Item is one catalogue entry of a registry
type Item struct {
	RegistryAddress string    `gorm:"column:registry_address;primaryKey;type:varchar(42)"`
	Index           uint64    `gorm:"column:item_index;primaryKey;autoIncrement:false"`
	UnitAddress     string    `gorm:"column:unit_address;type:varchar(42);uniqueIndex;not null"`
	Title           string    `gorm:"column:title;type:text"`
	Price           string    `gorm:"column:price;type:numeric(78,0);not null"`
	State           string    `gorm:"column:state;type:varchar(16);index;not null"`
	StateCode       uint8     `gorm:"column:state_code;not null"`
	UpdatedHeight   int64     `gorm:"column:updated_height;not null"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}
