package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentReference mirrors the payment_references table.
type PaymentReference struct {
	RecordID  string         `gorm:"type:uuid;primaryKey"`
	Reference string         `gorm:"not null;index:uniq_payment_reference,unique"`
	OrderID   string         `gorm:"not null;index:idx_payment_reference_order"`
	Title     string         `gorm:"not null"`
	Lamports  int64          `gorm:"not null"`
	Merchant  string         `gorm:"not null"`
	Item      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (PaymentReference) TableName() string { return "payment_references" }

func (reference *PaymentReference) BeforeCreate(tx *gorm.DB) error {
	if reference.RecordID == "" {
		reference.RecordID = uuid.NewString()
	}
	return nil
}

// Models lists every model AutoMigrate must create.
func Models() []any {
	return []any{&PaymentReference{}}
}
