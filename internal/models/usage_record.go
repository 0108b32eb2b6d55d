package models

import "time"

// UsageRecord statuses.
const (
	// UsageStatusCompleted marks a settled chat turn.
	UsageStatusCompleted = "completed"
)

// UsageRecord is the immutable metering row written at settlement time,
// exactly one per successful chat turn.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SourceType string `gorm:"type:text;not null"`                    // Source kind, currently always "message".
	SourceID   string `gorm:"type:varchar(36);not null;uniqueIndex"` // Assistant message UUID.
	Status     string `gorm:"type:text;not null"`                    // Settlement status.

	UserID uint64 `gorm:"not null;index"` // Billed user.

	InputTokens  int64 `gorm:"not null;default:0"` // Prompt token count.
	OutputTokens int64 `gorm:"not null;default:0"` // Completion token count.
	InputChars   int64 `gorm:"not null;default:0"` // Prompt character count.
	OutputChars  int64 `gorm:"not null;default:0"` // Completion character count.

	CostCents float64 `gorm:"type:decimal(20,10);not null;default:0"` // Settled charge in cents.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
