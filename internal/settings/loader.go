package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/LOME-AI/HushBox-sub006/internal/models"
)

// Refresh reloads the billing settings from the database and replaces the
// in-memory snapshot.
//
// Required at process startup; until then every accessor returns its
// compiled default. Unknown keys are ignored, so the settings table can
// carry rows this build does not read yet.
func Refresh(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	var v Values
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" || len(row.Value) == 0 {
			continue
		}
		var parsed float64
		if errUnmarshal := json.Unmarshal(row.Value, &parsed); errUnmarshal != nil {
			log.WithError(errUnmarshal).WithField("key", key).
				Warn("settings: non-numeric value ignored")
			continue
		}
		switch key {
		case FreeDailyAllowanceCentsKey:
			v.FreeDailyAllowanceCents = parsed
		case GuestQuotaCentsKey:
			v.GuestQuotaCents = parsed
		case PlatformFeeMultiplierKey:
			v.PlatformFeeMultiplier = parsed
		}
	}

	Store(v)
	return nil
}
