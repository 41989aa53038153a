package models

import "github.com/shopspring/decimal"

type Customer struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId int             `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"size:100;not null" json:"name"`
	Phone      string          `gorm:"size:20" json:"phone"`
	Address    string          `gorm:"type:text" json:"address"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	IsArchived *bool           `gorm:"not null;default:false" json:"is_archived"`
	SyncColumns
}

type Supplier struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId int             `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"size:100;not null" json:"name"`
	Phone      string          `gorm:"size:20" json:"phone"`
	Address    string          `gorm:"type:text" json:"address"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	IsArchived *bool           `gorm:"not null;default:false" json:"is_archived"`
	SyncColumns
}
