package models

import "time"

// User represents an account that can be billed for inference calls.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    *string `gorm:"type:text;uniqueIndex"`  // Login email, null for guests.
	Timezone string  `gorm:"type:text;not null"`     // IANA timezone for daily allowance renewal.
	IsGuest  bool    `gorm:"not null;default:false"` // Marks ephemeral guest accounts.

	Wallets []Wallet `gorm:"foreignKey:UserID"` // Funding wallets in priority order.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
