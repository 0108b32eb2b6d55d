package models

import "time"

// ConversationSpending caps and tracks total spend inside one group
// conversation, independent of the owner's wallet balance.
type ConversationSpending struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64 `gorm:"not null;uniqueIndex"` // Parent conversation.

	BudgetCents float64 `gorm:"type:decimal(20,10);not null;default:0"` // Configured ceiling in cents.
	SpentCents  float64 `gorm:"type:decimal(20,10);not null;default:0"` // Running settled total in cents.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// MemberBudget caps and tracks per-member spend inside one group
// conversation.
type MemberBudget struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64 `gorm:"not null;index:idx_member_budget,unique,composite:conv_user"` // Parent conversation.
	UserID         uint64 `gorm:"not null;index:idx_member_budget,unique,composite:conv_user"` // Member user.

	BudgetCents float64 `gorm:"type:decimal(20,10);not null;default:0"` // Configured ceiling in cents.
	SpentCents  float64 `gorm:"type:decimal(20,10);not null;default:0"` // Running settled total in cents.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
