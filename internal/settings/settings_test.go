package settings

import (
	"context"
	"encoding/json"
	"testing"

	"gorm.io/gorm"

	"github.com/LOME-AI/HushBox-sub006/internal/db"
	"github.com/LOME-AI/HushBox-sub006/internal/models"
)

func TestDefaultsWhenUnset(t *testing.T) {
	Store(Values{})

	if got := FreeDailyAllowanceCents(); got != DefaultFreeDailyAllowanceCents {
		t.Fatalf("free allowance = %v, want %v", got, DefaultFreeDailyAllowanceCents)
	}
	if got := GuestQuotaCents(); got != DefaultGuestQuotaCents {
		t.Fatalf("guest quota = %v, want %v", got, DefaultGuestQuotaCents)
	}
	if got := PlatformFeeMultiplier(); got != DefaultPlatformFeeMultiplier {
		t.Fatalf("fee multiplier = %v, want %v", got, DefaultPlatformFeeMultiplier)
	}
}

func TestStoredValuesOverrideDefaults(t *testing.T) {
	defer Store(Values{})

	Store(Values{
		FreeDailyAllowanceCents: 10,
		GuestQuotaCents:         0.5,
		PlatformFeeMultiplier:   1.5,
	})

	if got := FreeDailyAllowanceCents(); got != 10 {
		t.Fatalf("free allowance = %v, want 10", got)
	}
	if got := GuestQuotaCents(); got != 0.5 {
		t.Fatalf("guest quota = %v, want 0.5", got)
	}
	if got := PlatformFeeMultiplier(); got != 1.5 {
		t.Fatalf("fee multiplier = %v, want 1.5", got)
	}
}

func TestNonPositiveValuesFallBack(t *testing.T) {
	defer Store(Values{})

	Store(Values{GuestQuotaCents: -2})

	if got := GuestQuotaCents(); got != DefaultGuestQuotaCents {
		t.Fatalf("guest quota = %v, want fallback", got)
	}
	if got := PlatformFeeMultiplier(); got != DefaultPlatformFeeMultiplier {
		t.Fatalf("fee multiplier = %v, want fallback", got)
	}
}

func TestRefreshLoadsKnownKeys(t *testing.T) {
	defer Store(Values{})

	conn, errOpen := openTestDB()
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}

	rows := []models.Setting{
		{Key: PlatformFeeMultiplierKey, Value: json.RawMessage(`2.5`)},
		{Key: GuestQuotaCentsKey, Value: json.RawMessage(`"not a number"`)},
		{Key: "SOME_FUTURE_SETTING", Value: json.RawMessage(`42`)},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create setting: %v", errCreate)
		}
	}

	if errRefresh := Refresh(context.Background(), conn); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if got := PlatformFeeMultiplier(); got != 2.5 {
		t.Fatalf("fee multiplier = %v, want 2.5", got)
	}
	// The malformed guest quota falls back rather than poisoning the load.
	if got := GuestQuotaCents(); got != DefaultGuestQuotaCents {
		t.Fatalf("guest quota = %v, want fallback", got)
	}

	if errRefresh := Refresh(context.Background(), nil); errRefresh == nil {
		t.Fatal("expected error for nil db")
	}
}

func openTestDB() (*gorm.DB, error) {
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		return nil, errMigrate
	}
	return conn, nil
}
