package provider

import (
	"context"
	"errors"
)

// ErrContextCapacityTooLow indicates the model cannot serve even the
// minimum viable completion for this prompt. Retrying would fail again, so
// the guard fails fast instead of burning the reservation window.
var ErrContextCapacityTooLow = errors.New("provider: context capacity below minimum output floor")

// guardState tracks where the capacity guard is in its two-state machine.
type guardState int

const (
	stateNormal guardState = iota
	stateRetrying
)

// CallWithCapacityGuard dispatches the request and intercepts exactly one
// context-length rejection. On rejection it recomputes the output ceiling
// as maxContext minus the provider's input estimate: below minOutputTokens
// it fails permanently with ErrContextCapacityTooLow; otherwise it resends
// the same request once with the corrected max_tokens. A second failure of
// any kind, and any non-capacity error, propagates as-is.
func CallWithCapacityGuard(ctx context.Context, client Client, req Request, minOutputTokens int64, onChunk ChunkFunc) (Outcome, error) {
	state := stateNormal
	for {
		outcome, errCall := client.StreamCompletion(ctx, req, onChunk)
		if errCall == nil {
			return outcome, nil
		}
		if state == stateRetrying {
			return Outcome{}, errCall
		}

		pe, ok := AsProviderError(errCall)
		if !ok || pe.Kind != KindContextLength {
			return Outcome{}, errCall
		}

		corrected := pe.MaxContextTokens - pe.EstimatedInputTokens
		if corrected < minOutputTokens {
			return Outcome{}, ErrContextCapacityTooLow
		}

		req.MaxTokens = corrected
		state = stateRetrying
	}
}
