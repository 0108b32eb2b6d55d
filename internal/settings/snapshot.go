// Package settings exposes the DB-backed runtime billing settings through
// a lock-free in-memory snapshot. Readers on the hot billing path never
// touch the database; Refresh replaces the snapshot wholesale.
package settings

import "sync/atomic"

// Values is one consistent snapshot of the runtime billing settings.
// Zero or negative fields mean "not configured" and fall back to the
// compiled defaults at read time.
type Values struct {
	FreeDailyAllowanceCents float64 // Daily free-tier allowance in cents.
	GuestQuotaCents         float64 // Fixed guest quota in cents.
	PlatformFeeMultiplier   float64 // Scale applied to provider prices.
}

// current stores the latest Values atomically.
var current atomic.Value

func init() {
	current.Store(Values{})
}

// Store replaces the in-memory settings snapshot.
func Store(v Values) {
	current.Store(v)
}

func load() Values {
	if v, ok := current.Load().(Values); ok {
		return v
	}
	return Values{}
}

func orDefault(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// FreeDailyAllowanceCents returns the configured free-tier daily allowance.
func FreeDailyAllowanceCents() float64 {
	return orDefault(load().FreeDailyAllowanceCents, DefaultFreeDailyAllowanceCents)
}

// GuestQuotaCents returns the configured fixed guest quota.
func GuestQuotaCents() float64 {
	return orDefault(load().GuestQuotaCents, DefaultGuestQuotaCents)
}

// PlatformFeeMultiplier returns the configured platform fee multiplier.
func PlatformFeeMultiplier() float64 {
	return orDefault(load().PlatformFeeMultiplier, DefaultPlatformFeeMultiplier)
}
