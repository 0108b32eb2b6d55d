package models

import (
	"encoding/json"
	"time"
)

// Setting is a DB-backed runtime billing setting, such as the free daily
// allowance or the platform fee multiplier. Values are JSON so numeric and
// structured settings share one table.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`                      // Setting key, e.g. PLATFORM_FEE_MULTIPLIER.
	Value     json.RawMessage `gorm:"type:jsonb"`                                        // JSON-encoded value.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime;default:CURRENT_TIMESTAMP"` // Last update timestamp.
}
