package models

import "time"

// Wallet types determine renewal behavior and charge ordering.
const (
	// WalletTypePurchased holds paid-up balance.
	WalletTypePurchased = "purchased"
	// WalletTypeFreeTier holds the daily free allowance.
	WalletTypeFreeTier = "free_tier"
	// WalletTypeGuest holds the fixed guest quota.
	WalletTypeGuest = "guest"
)

// Wallet holds a spendable balance for a single user.
//
// Balances are cents. A balance is non-negative by convention but is allowed
// to go negative when the deepest wallet absorbs a within-cushion remainder
// at settlement time.
type Wallet struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_wallet_user_type,unique,composite:user_type"`           // Owning user.
	Type   string `gorm:"type:text;not null;index:idx_wallet_user_type,unique,composite:user_type"` // Wallet type.

	Priority     int     `gorm:"not null;default:0"`                     // Lower priority is charged first.
	BalanceCents float64 `gorm:"type:decimal(20,10);not null;default:0"` // Remaining balance in cents.

	RenewedAt *time.Time // Last daily renewal, free-tier wallets only.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
