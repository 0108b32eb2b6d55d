package models

import "time"

// Ledger entry types.
const (
	// LedgerTypeUsageCharge records inference spend.
	LedgerTypeUsageCharge = "usage_charge"
	// LedgerTypePayment records money entering the system.
	LedgerTypePayment = "payment"
)

// LedgerEntry is an append-only accounting row. Exactly one of PaymentRef,
// UsageRecordID, or SourceWalletID must be set; the mutual exclusion is
// enforced by a check constraint added during migration.
type LedgerEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`     // Affected user.
	Type   string `gorm:"type:text;not null"` // Entry type.

	AmountCents float64 `gorm:"type:decimal(20,10);not null"` // Signed amount in cents, debits negative.

	PaymentRef     *string `gorm:"type:text"` // External payment reference.
	UsageRecordID  *uint64 `gorm:"index"`     // Related usage record.
	SourceWalletID *uint64 `gorm:"index"`     // Related wallet for transfers.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
