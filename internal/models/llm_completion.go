package models

import (
	"time"

	"gorm.io/datatypes"
)

// LLMCompletion records provider-reported token accounting for one
// completion, linked 1:1 to a UsageRecord.
type LLMCompletion struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UsageRecordID uint64 `gorm:"not null;uniqueIndex"` // Related usage record.

	Provider string `gorm:"type:text;not null;index"` // Provider name.
	ModelID  string `gorm:"type:text;not null;index"` // Model identifier.

	InputTokens  int64 `gorm:"not null;default:0"` // Prompt token count.
	OutputTokens int64 `gorm:"not null;default:0"` // Completion token count.
	CachedTokens int64 `gorm:"not null;default:0"` // Cache-read token count.

	Detail datatypes.JSON `gorm:"type:jsonb"` // Raw provider usage payload, when available.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
