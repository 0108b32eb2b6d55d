package settings

// DB config keys and defaults for runtime billing settings.
const (
	// FreeDailyAllowanceCentsKey sets the free-tier daily allowance in cents.
	FreeDailyAllowanceCentsKey = "FREE_DAILY_ALLOWANCE_CENTS"
	// GuestQuotaCentsKey sets the fixed guest quota in cents.
	GuestQuotaCentsKey = "GUEST_QUOTA_CENTS"
	// PlatformFeeMultiplierKey scales provider-advertised token prices.
	PlatformFeeMultiplierKey = "PLATFORM_FEE_MULTIPLIER"
	// DefaultFreeDailyAllowanceCents is the fallback daily allowance (cents).
	DefaultFreeDailyAllowanceCents = 5.0
	// DefaultGuestQuotaCents is the fallback guest quota (cents).
	DefaultGuestQuotaCents = 2.0
	// DefaultPlatformFeeMultiplier is the fallback fee multiplier.
	DefaultPlatformFeeMultiplier = 1.2
)
