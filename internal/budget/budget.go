// Package budget computes the largest affordable completion budget for a
// not-yet-executed inference call and the worst-case charge to reserve.
package budget

import (
	"math"

	"github.com/LOME-AI/HushBox-sub006/internal/pricing"
)

// Input carries everything needed to size one call. AvailableCents must
// already be net of other in-flight reservations for every gating scope.
// CushionCents is the headroom the funding resolver granted on top of it;
// it must never exceed what the reservation ceilings can absorb, so the
// resolver decides it, not the tier table.
type Input struct {
	Tier           Tier
	AvailableCents float64
	CushionCents   float64
	PromptChars    int64
	Pricing        pricing.ModelPricing
}

// Tier aliases the pricing tier type for callers of this package.
type Tier = pricing.Tier

// Plan is a sized, affordable call. WorstCaseCents is un-rounded raw float
// cents so the reservation never under-estimates due to rounding.
type Plan struct {
	EstimatedInputTokens int64
	MaxOutputTokens      int64
	OutputCentsPerToken  float64
	EffectiveCents       float64
	WorstCaseCents       float64
}

// Affordable reports whether the plan clears the minimum output floor.
func (p Plan) Affordable() bool {
	return p.MaxOutputTokens >= pricing.MinOutputTokens
}

// Compute sizes the call for the given tier, funds, and model pricing.
//
// The cushion is added to the effective balance before budgeting; it
// absorbs estimation error without forcing users to park idle balance.
// MaxOutputTokens is clamped so input plus output never exceeds the model's
// context window. A plan that cannot fund the minimum output floor is still
// returned so callers can report precise shortfalls; check Affordable.
func Compute(in Input) Plan {
	effective := in.AvailableCents + in.CushionCents

	estimatedInput := pricing.EstimateInputTokens(in.Tier, in.PromptChars)
	inputCost := float64(estimatedInput) * in.Pricing.PromptCentsPerToken
	outputRate := in.Pricing.CompletionCentsPerToken

	var affordable int64
	if outputRate > 0 {
		remaining := effective - inputCost
		if remaining > 0 {
			affordable = int64(math.Floor(remaining / outputRate))
		}
	} else if effective >= inputCost {
		affordable = in.Pricing.ContextLength
	}

	maxOutput := ComputeSafeMaxTokens(estimatedInput, affordable, in.Pricing.ContextLength)

	return Plan{
		EstimatedInputTokens: estimatedInput,
		MaxOutputTokens:      maxOutput,
		OutputCentsPerToken:  outputRate,
		EffectiveCents:       effective,
		WorstCaseCents:       ComputeWorstCaseCents(estimatedInput, maxOutput, in.Pricing),
	}
}

// ComputeSafeMaxTokens clamps an affordable output budget so the combined
// input and output token counts fit the model's context window.
func ComputeSafeMaxTokens(estimatedInputTokens, affordableOutputTokens, contextLength int64) int64 {
	if affordableOutputTokens <= 0 {
		return 0
	}
	if contextLength <= 0 {
		return affordableOutputTokens
	}
	room := contextLength - estimatedInputTokens
	if room <= 0 {
		return 0
	}
	if affordableOutputTokens > room {
		return room
	}
	return affordableOutputTokens
}

// ComputeWorstCaseCents prices the call as if every budgeted output token
// were generated. The raw un-rounded value is what gets reserved.
func ComputeWorstCaseCents(estimatedInputTokens, maxOutputTokens int64, p pricing.ModelPricing) float64 {
	if maxOutputTokens <= 0 {
		return 0
	}
	return float64(estimatedInputTokens)*p.PromptCentsPerToken +
		float64(maxOutputTokens)*p.CompletionCentsPerToken
}
