// Package billing orchestrates the billable chat turn pipeline: funding
// resolution, budgeting, reservation, the guarded inference call, and
// settlement.
package billing

import (
	"errors"
	"fmt"

	"github.com/LOME-AI/HushBox-sub006/internal/funding"
	"github.com/LOME-AI/HushBox-sub006/internal/pricing"
	"github.com/LOME-AI/HushBox-sub006/internal/provider"
	"github.com/LOME-AI/HushBox-sub006/internal/reserve"
	"github.com/LOME-AI/HushBox-sub006/internal/settle"
)

// Code identifies a billing failure for callers and the HTTP layer.
type Code string

// Billing failure codes.
const (
	// CodeInsufficientBalance is a genuine shortfall, correctable by
	// adding funds.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	// CodeBalanceReserved is a transient shortfall caused by concurrent
	// in-flight reservations, correctable by retrying shortly.
	CodeBalanceReserved Code = "BALANCE_RESERVED"
	// CodePremiumRequiresBalance gates premium models behind paid tier.
	CodePremiumRequiresBalance Code = "PREMIUM_REQUIRES_BALANCE"
	// CodePremiumRequiresAccount gates premium models behind sign-up.
	CodePremiumRequiresAccount Code = "PREMIUM_REQUIRES_ACCOUNT"
	// CodeContextCapacityTooLow means the model cannot serve even a
	// minimal response for this prompt.
	CodeContextCapacityTooLow Code = "CONTEXT_CAPACITY_TOO_LOW"
	// CodeConversationNotFound is a referential integrity failure.
	CodeConversationNotFound Code = "CONVERSATION_NOT_FOUND"
	// CodeEpochNotFound is a referential integrity failure.
	CodeEpochNotFound Code = "EPOCH_NOT_FOUND"
	// CodeMemberNotFound is a referential integrity failure.
	CodeMemberNotFound Code = "MEMBER_NOT_FOUND"
	// CodeUserNotFound is a referential integrity failure.
	CodeUserNotFound Code = "USER_NOT_FOUND"
	// CodeDuplicateMessage is an idempotency violation.
	CodeDuplicateMessage Code = "DUPLICATE_MESSAGE"
	// CodeModelNotFound means no enabled price row exists for the model.
	CodeModelNotFound Code = "MODEL_NOT_FOUND"
	// CodeProviderFailed wraps unclassified provider failures.
	CodeProviderFailed Code = "PROVIDER_FAILED"
)

// Error is a classified billing failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("billing: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("billing: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the billing code from an error chain.
func CodeOf(err error) (Code, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Code, true
	}
	return "", false
}

// newError builds a classified error wrapping its cause.
func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// classify maps lower-layer sentinels onto the billing taxonomy. Unknown
// errors pass through unwrapped so infrastructure failures stay visible.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, funding.ErrPremiumRequiresBalance):
		return newError(CodePremiumRequiresBalance, err)
	case errors.Is(err, funding.ErrPremiumRequiresAccount):
		return newError(CodePremiumRequiresAccount, err)
	case errors.Is(err, funding.ErrConversationNotFound):
		return newError(CodeConversationNotFound, err)
	case errors.Is(err, funding.ErrMemberNotFound):
		return newError(CodeMemberNotFound, err)
	case errors.Is(err, funding.ErrUserNotFound):
		return newError(CodeUserNotFound, err)
	case errors.Is(err, reserve.ErrCeilingExceeded):
		return newError(CodeBalanceReserved, err)
	case errors.Is(err, provider.ErrContextCapacityTooLow):
		return newError(CodeContextCapacityTooLow, err)
	case errors.Is(err, settle.ErrConversationNotFound):
		return newError(CodeConversationNotFound, err)
	case errors.Is(err, settle.ErrEpochNotFound):
		return newError(CodeEpochNotFound, err)
	case errors.Is(err, settle.ErrMemberNotFound):
		return newError(CodeMemberNotFound, err)
	case errors.Is(err, settle.ErrInsufficientBalance):
		return newError(CodeInsufficientBalance, err)
	case errors.Is(err, settle.ErrDuplicateMessage):
		return newError(CodeDuplicateMessage, err)
	case errors.Is(err, pricing.ErrModelNotFound):
		return newError(CodeModelNotFound, err)
	default:
		return err
	}
}
