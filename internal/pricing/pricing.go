// Package pricing holds the tier-conditional numeric policy for cost
// estimation: platform fees, character-to-token ratios, cushions, and
// storage rates. Everything here is a pure function over the tier table.
package pricing

import "math"

// Tier identifies the requester's billing tier.
type Tier string

// Billing tiers.
const (
	// TierFree is the unpaid tier funded by the daily allowance.
	TierFree Tier = "free"
	// TierTrial is a time-limited evaluation tier, estimated like free.
	TierTrial Tier = "trial"
	// TierPaid is any account with positive purchased balance.
	TierPaid Tier = "paid"
	// TierGuest is an unauthenticated session on the fixed guest quota.
	TierGuest Tier = "guest"
)

// MinOutputTokens is the smallest completion budget worth running. Below
// this the request is rejected outright instead of silently truncated.
const MinOutputTokens int64 = 1000

// FeeMultiplierDefault is applied to provider-advertised prices when no
// runtime setting overrides it.
const FeeMultiplierDefault = 1.2

// Per-character output storage rates in cents. Paid tier is charged the
// conservative rate and free tier the standard rate, the inverse of the
// input-estimation asymmetry.
const (
	storageCentsPerCharStandard     = 0.0000002
	storageCentsPerCharConservative = 0.0000005
)

// Policy holds the per-tier estimation constants.
type Policy struct {
	CharsPerToken       float64 // Assumed characters per input token.
	CushionCents        float64 // Added to effective balance before budgeting.
	StorageCentsPerChar float64 // Output storage rate in cents per character.
}

// policies keys the asymmetric free/paid numeric policy by tier so the
// whole table is auditable in one place.
var policies = map[Tier]Policy{
	TierPaid: {
		CharsPerToken:       4.0,
		CushionCents:        50,
		StorageCentsPerChar: storageCentsPerCharConservative,
	},
	TierFree: {
		CharsPerToken:       3.0,
		CushionCents:        0,
		StorageCentsPerChar: storageCentsPerCharStandard,
	},
	TierTrial: {
		CharsPerToken:       3.0,
		CushionCents:        0,
		StorageCentsPerChar: storageCentsPerCharStandard,
	},
	TierGuest: {
		CharsPerToken:       3.0,
		CushionCents:        0,
		StorageCentsPerChar: storageCentsPerCharStandard,
	},
}

// PolicyFor returns the numeric policy for a tier. Unknown tiers fall back
// to the free policy, the most conservative choice.
func PolicyFor(tier Tier) Policy {
	if p, ok := policies[tier]; ok {
		return p
	}
	return policies[TierFree]
}

// ModelPricing holds adjusted per-token prices in cents.
type ModelPricing struct {
	PromptCentsPerToken     float64 // Input price in cents per token.
	CompletionCentsPerToken float64 // Output price in cents per token.
	ContextLength           int64   // Maximum combined token window.
}

// ApplyFees scales provider-advertised prices by the platform fee
// multiplier. Called once when the price row is loaded, never per token.
func ApplyFees(p ModelPricing, multiplier float64) ModelPricing {
	if multiplier <= 0 {
		multiplier = FeeMultiplierDefault
	}
	return ModelPricing{
		PromptCentsPerToken:     p.PromptCentsPerToken * multiplier,
		CompletionCentsPerToken: p.CompletionCentsPerToken * multiplier,
		ContextLength:           p.ContextLength,
	}
}

// EstimateInputTokens converts a prompt character count into an estimated
// token count using the tier's chars-per-token ratio, rounding up. Free and
// trial tiers assume fewer characters per token, so their estimates run
// high and the platform never eats estimation error on non-paying traffic.
func EstimateInputTokens(tier Tier, promptChars int64) int64 {
	if promptChars <= 0 {
		return 0
	}
	ratio := PolicyFor(tier).CharsPerToken
	return int64(math.Ceil(float64(promptChars) / ratio))
}

// OutputStorageCents prices the storage of completion output for a tier.
func OutputStorageCents(tier Tier, outputChars int64) float64 {
	if outputChars <= 0 {
		return 0
	}
	return float64(outputChars) * PolicyFor(tier).StorageCentsPerChar
}

// ActualCostCents computes the settled cost of a completed call from the
// provider's real token counts. Cached tokens are a subset of input tokens
// and are billed at the prompt rate once, so they are not double counted.
func ActualCostCents(tier Tier, p ModelPricing, inputTokens, outputTokens, outputChars int64) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	cost := float64(inputTokens)*p.PromptCentsPerToken +
		float64(outputTokens)*p.CompletionCentsPerToken +
		OutputStorageCents(tier, outputChars)
	return cost
}
