package models

import "time"

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
)

// Local table names of the syncable entities.
const (
	TableBusinesses           = "businesses"
	TableCustomers            = "customers"
	TableSuppliers            = "suppliers"
	TableInventoryItems       = "inventory_items"
	TableTransactions         = "transactions"
	TableSupplierTransactions = "supplier_transactions"
	TableBills                = "bills"
	TableBillItems            = "bill_items"
)

// Column names shared by every syncable table.
const (
	ColumnID         = "id"
	ColumnRemoteID   = "remote_id"
	ColumnSyncStatus = "sync_status"
	ColumnCreatedAt  = "created_at"
	ColumnUpdatedAt  = "updated_at"
)

// SyncColumns is embedded by every syncable model.
type SyncColumns struct {
	RemoteId   *string    `gorm:"size:128;uniqueIndex" json:"remote_id"`
	SyncStatus SyncStatus `gorm:"size:16;index;not null;default:'pending'" json:"sync_status"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
