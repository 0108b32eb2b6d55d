package models

import "time"

// ModelPrice defines per-token pricing and capacity for one provider model.
// Prices are the provider's advertised rates in cents per token, before the
// platform fee multiplier is applied.
type ModelPrice struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Provider string `gorm:"type:text;not null;index:idx_model_price,unique,composite:provider_model"` // Provider name.
	ModelID  string `gorm:"type:text;not null;index:idx_model_price,unique,composite:provider_model"` // Model identifier.

	PromptCentsPerToken     float64 `gorm:"type:decimal(20,14);not null"` // Input price in cents per token.
	CompletionCentsPerToken float64 `gorm:"type:decimal(20,14);not null"` // Output price in cents per token.

	ContextLength int64 `gorm:"not null"`               // Maximum combined token window.
	IsPremium     bool  `gorm:"not null;default:false"` // Premium models require paid tier.

	// No column default: GORM omits zero-value fields when a default is
	// tagged, and a false here must survive the insert.
	IsEnabled bool `gorm:"not null"` // Whether the model can be billed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
