package models

import "github.com/shopspring/decimal"

type InventoryItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    int             `gorm:"index;not null" json:"business_id"`
	Name          string          `gorm:"size:100;not null" json:"name"`
	Sku           string          `gorm:"size:64" json:"sku"`
	Unit          string          `gorm:"size:32" json:"unit"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	PurchasePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_price"`
	SalePrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sale_price"`
	IsArchived    *bool           `gorm:"not null;default:false" json:"is_archived"`
	SyncColumns
}
