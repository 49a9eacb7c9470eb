package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord stores one event from the vault stream verbatim. Sequence is
// unique so replays after a reconnect cannot double-apply.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Cursor     string    `gorm:"not null"`
	Digest     string    `gorm:"index"`
	Type       string    `gorm:"index;not null"`
	Attributes string    `gorm:"type:text"`
	EmittedAt  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// CollateralBalance is the derived per-owner collateral ledger, maintained by
// replaying deposit, redeem and liquidation events.
type CollateralBalance struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Owner     string    `gorm:"index:idx_collateral_owner_asset,unique"`
	Asset     string    `gorm:"index:idx_collateral_owner_asset,unique"`
	Amount    string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DebtBalance is the derived per-owner synthetic debt ledger.
type DebtBalance struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Owner     string    `gorm:"uniqueIndex"`
	Amount    string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceObservation retains every oracle push for audit trails.
type PriceObservation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Asset     string    `gorm:"index"`
	Answer    string    `gorm:"not null"`
	Decimals  uint8     `gorm:"not null"`
	Source    string
	UpdatedAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

// StreamCursor is a single-row table holding the resume point for the vault
// event subscription.
type StreamCursor struct {
	ID        uint   `gorm:"primaryKey"`
	Cursor    string `gorm:"not null"`
	Sequence  uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventRecord{},
		&CollateralBalance{},
		&DebtBalance{},
		&PriceObservation{},
		&StreamCursor{},
	)
}
