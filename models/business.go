package models

type Business struct {
	ID        int    `gorm:"primary_key" json:"id"`
	UserId    string `gorm:"size:128;index;not null" json:"user_id"`
	Name      string `gorm:"size:100;not null" json:"name"`
	OwnerName string `gorm:"size:100" json:"owner_name"`
	Phone     string `gorm:"size:20" json:"phone"`
	Address   string `gorm:"type:text" json:"address"`
	IsDefault *bool  `gorm:"not null;default:false" json:"is_default"`
	SyncColumns
}
