package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates the local schema: syncable tables plus sync bookkeeping.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Business{},
		&Customer{}, &Supplier{}, &InventoryItem{},
		&Transaction{}, &SupplierTransaction{},
		&Bill{}, &BillItem{},
		&SyncSetting{}, &SyncRun{}, &SyncError{},
	)
}
