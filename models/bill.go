package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Bill struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId int             `gorm:"index;not null" json:"business_id"`
	CustomerId int             `gorm:"index;not null" json:"customer_id"`
	BillNumber string          `gorm:"size:64;not null" json:"bill_number"`
	BillDate   time.Time       `gorm:"not null" json:"bill_date"`
	SubTotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sub_total"`
	Discount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	Tax        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	Total      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	PaidAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	Notes      string          `gorm:"type:text" json:"notes"`
	SyncColumns
}

type BillItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BillId      int             `gorm:"index;not null" json:"bill_id"`
	InventoryId *int            `gorm:"index" json:"inventory_id"`
	ItemName    string          `gorm:"size:100;not null" json:"item_name"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Rate        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	Total       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	SyncColumns
}
