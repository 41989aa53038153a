package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// Transaction is a customer ledger entry.
type Transaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CustomerId      int             `gorm:"index;not null" json:"customer_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	TransactionType TransactionType `gorm:"size:16;not null" json:"transaction_type"`
	Note            string          `gorm:"type:text" json:"note"`
	TransactionDate time.Time       `gorm:"not null" json:"transaction_date"`
	SyncColumns
}

type SupplierTransaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	SupplierId      int             `gorm:"index;not null" json:"supplier_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	TransactionType TransactionType `gorm:"size:16;not null" json:"transaction_type"`
	Note            string          `gorm:"type:text" json:"note"`
	TransactionDate time.Time       `gorm:"not null" json:"transaction_date"`
	SyncColumns
}
