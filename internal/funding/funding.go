// Package funding decides which funding source pays for an inference call
// and how much that source can afford, net of money already promised to
// other in-flight calls.
package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"github.com/LOME-AI/HushBox-sub006/internal/pricing"
	"github.com/LOME-AI/HushBox-sub006/internal/reserve"
	"github.com/LOME-AI/HushBox-sub006/internal/settings"
	"gorm.io/gorm"
)

// Source identifies which pool of money funds a call.
type Source string

// Funding sources.
const (
	// SourcePersonalBalance draws on the requester's own wallets.
	SourcePersonalBalance Source = "personal_balance"
	// SourceFreeAllowance draws on the daily free allowance.
	SourceFreeAllowance Source = "free_allowance"
	// SourceOwnerBalance bills a group chat to the conversation owner.
	SourceOwnerBalance Source = "owner_balance"
	// SourceGuestFixed draws on the fixed guest quota.
	SourceGuestFixed Source = "guest_fixed"
)

// Resolution errors.
var (
	// ErrPremiumRequiresBalance rejects premium models for unpaid tiers.
	ErrPremiumRequiresBalance = errors.New("funding: premium model requires paid balance")
	// ErrPremiumRequiresAccount rejects premium models for guests.
	ErrPremiumRequiresAccount = errors.New("funding: premium model requires an account")
	// ErrUserNotFound indicates the billable user row does not exist.
	ErrUserNotFound = errors.New("funding: user not found")
	// ErrConversationNotFound indicates the group conversation is gone.
	ErrConversationNotFound = errors.New("funding: conversation not found")
	// ErrMemberNotFound indicates the requester is not a member of the
	// group conversation.
	ErrMemberNotFound = errors.New("funding: conversation member not found")
)

// Request describes what the caller wants to fund.
type Request struct {
	UserID         *uint64
	Source         Source
	ConversationID uint64
	PremiumModel   bool
}

// Resolution is the funding decision the budget calculator runs on.
// AvailableCents is the minimum across every gating scope, net of other
// in-flight reservations. CushionCents is extra headroom every reservation
// ceiling in Scopes can absorb; a gate whose ceiling is hard gets its
// cushion folded into the minimum instead.
type Resolution struct {
	Source         Source
	Tier           pricing.Tier
	BillableUserID uint64
	AvailableCents float64
	CushionCents   float64
	OverdraftCents float64
	Scopes         []reserve.Scope
	MemberUserID   uint64
}

// Resolver reads wallets and budget rows and combines them with the
// reservation ledger's outstanding totals.
type Resolver struct {
	db     *gorm.DB
	ledger *reserve.Ledger
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB, ledger *reserve.Ledger) *Resolver {
	return &Resolver{db: db, ledger: ledger}
}

// Scope key helpers shared with settlement and tests.

// UserScopeKey returns the reservation scope key for a user.
func UserScopeKey(userID uint64) string { return fmt.Sprintf("user:%d", userID) }

// ConversationScopeKey returns the reservation scope key for a
// conversation budget.
func ConversationScopeKey(conversationID uint64) string {
	return fmt.Sprintf("conv:%d", conversationID)
}

// MemberScopeKey returns the reservation scope key for a member budget.
func MemberScopeKey(conversationID, userID uint64) string {
	return fmt.Sprintf("conv:%d:member:%d", conversationID, userID)
}

// Resolve determines the applicable funding source, renews any lazy daily
// allowance, and returns the effective available amount with the race-check
// scopes for the reservation ledger.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if r == nil || r.db == nil || r.ledger == nil {
		return Resolution{}, errors.New("funding: nil resolver")
	}

	switch req.Source {
	case SourceFreeAllowance:
		return r.resolveFreeAllowance(ctx, req)
	case SourceOwnerBalance:
		return r.resolveOwnerBalance(ctx, req)
	case SourceGuestFixed:
		return r.resolveGuestFixed(ctx, req)
	default:
		return r.resolvePersonalBalance(ctx, req)
	}
}

// resolvePersonalBalance funds the call from the requester's own wallets.
func (r *Resolver) resolvePersonalBalance(ctx context.Context, req Request) (Resolution, error) {
	if req.UserID == nil {
		return Resolution{}, ErrUserNotFound
	}
	userID := *req.UserID

	balances, errLoad := r.loadBalances(ctx, userID)
	if errLoad != nil {
		return Resolution{}, errLoad
	}

	outstanding, errOut := r.ledger.Outstanding(ctx, UserScopeKey(userID))
	if errOut != nil {
		return Resolution{}, errOut
	}

	tier := classifyTier(balances.total, outstanding)
	if req.PremiumModel && tier != pricing.TierPaid {
		return Resolution{}, ErrPremiumRequiresBalance
	}
	cushion := pricing.PolicyFor(tier).CushionCents

	return Resolution{
		Source:         SourcePersonalBalance,
		Tier:           tier,
		BillableUserID: userID,
		AvailableCents: balances.total - outstanding,
		CushionCents:   cushion,
		OverdraftCents: cushion,
		Scopes: []reserve.Scope{
			{Key: UserScopeKey(userID), CeilingCents: balances.total + cushion},
		},
	}, nil
}

// resolveFreeAllowance funds the call from the daily allowance wallet,
// renewing it first when the last renewal predates today in the account's
// timezone. Renewal happens here, before budgeting, never after.
func (r *Resolver) resolveFreeAllowance(ctx context.Context, req Request) (Resolution, error) {
	if req.UserID == nil {
		return Resolution{}, ErrUserNotFound
	}
	userID := *req.UserID
	if req.PremiumModel {
		return Resolution{}, ErrPremiumRequiresBalance
	}

	var user models.User
	if errFind := r.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Resolution{}, ErrUserNotFound
		}
		return Resolution{}, errFind
	}

	if errRenew := r.renewFreeAllowance(ctx, &user); errRenew != nil {
		return Resolution{}, errRenew
	}

	var wallet models.Wallet
	if errFind := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, models.WalletTypeFreeTier).
		First(&wallet).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Resolution{}, ErrUserNotFound
		}
		return Resolution{}, errFind
	}

	outstanding, errOut := r.ledger.Outstanding(ctx, UserScopeKey(userID))
	if errOut != nil {
		return Resolution{}, errOut
	}

	return Resolution{
		Source:         SourceFreeAllowance,
		Tier:           pricing.TierFree,
		BillableUserID: userID,
		AvailableCents: wallet.BalanceCents - outstanding,
		Scopes: []reserve.Scope{
			{Key: UserScopeKey(userID), CeilingCents: wallet.BalanceCents},
		},
	}, nil
}

// resolveOwnerBalance funds a group-chat call from the conversation owner,
// gated by the conversation budget, the member budget, and the owner's own
// balance. The effective amount is the minimum of the three, each net of
// spend already settled and of reservations held by other in-flight calls
// for that same scope. Budget ceilings are hard caps, so the owner's tier
// cushion joins only the owner gate before the minimum is taken; the
// resolution carries no further cushion for the budget calculator to add.
func (r *Resolver) resolveOwnerBalance(ctx context.Context, req Request) (Resolution, error) {
	if req.UserID == nil {
		return Resolution{}, ErrUserNotFound
	}
	memberID := *req.UserID

	var conv models.Conversation
	if errFind := r.db.WithContext(ctx).First(&conv, req.ConversationID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Resolution{}, ErrConversationNotFound
		}
		return Resolution{}, errFind
	}

	var member models.ConversationMember
	if errFind := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conv.ID, memberID).
		First(&member).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Resolution{}, ErrMemberNotFound
		}
		return Resolution{}, errFind
	}

	balances, errLoad := r.loadBalances(ctx, conv.OwnerID)
	if errLoad != nil {
		return Resolution{}, errLoad
	}

	ownerOutstanding, errOut := r.ledger.Outstanding(ctx, UserScopeKey(conv.OwnerID))
	if errOut != nil {
		return Resolution{}, errOut
	}

	tier := classifyTier(balances.total, ownerOutstanding)
	if req.PremiumModel && tier != pricing.TierPaid {
		return Resolution{}, ErrPremiumRequiresBalance
	}
	cushion := pricing.PolicyFor(tier).CushionCents

	available := balances.total - ownerOutstanding + cushion
	scopes := []reserve.Scope{
		{Key: UserScopeKey(conv.OwnerID), CeilingCents: balances.total + cushion},
	}

	// Budget rows with a zero ceiling only track spend; they never gate.
	var spending models.ConversationSpending
	errSpending := r.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		First(&spending).Error
	if errSpending != nil && !errors.Is(errSpending, gorm.ErrRecordNotFound) {
		return Resolution{}, errSpending
	}
	if errSpending == nil && spending.BudgetCents > 0 {
		remaining := spending.BudgetCents - spending.SpentCents
		convOutstanding, errConvOut := r.ledger.Outstanding(ctx, ConversationScopeKey(conv.ID))
		if errConvOut != nil {
			return Resolution{}, errConvOut
		}
		if net := remaining - convOutstanding; net < available {
			available = net
		}
		scopes = append(scopes, reserve.Scope{
			Key:          ConversationScopeKey(conv.ID),
			CeilingCents: remaining,
		})
	}

	var memberBudget models.MemberBudget
	errBudget := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conv.ID, memberID).
		First(&memberBudget).Error
	if errBudget != nil && !errors.Is(errBudget, gorm.ErrRecordNotFound) {
		return Resolution{}, errBudget
	}
	if errBudget == nil && memberBudget.BudgetCents > 0 {
		remaining := memberBudget.BudgetCents - memberBudget.SpentCents
		memberOutstanding, errMemberOut := r.ledger.Outstanding(ctx, MemberScopeKey(conv.ID, memberID))
		if errMemberOut != nil {
			return Resolution{}, errMemberOut
		}
		if net := remaining - memberOutstanding; net < available {
			available = net
		}
		scopes = append(scopes, reserve.Scope{
			Key:          MemberScopeKey(conv.ID, memberID),
			CeilingCents: remaining,
		})
	}

	return Resolution{
		Source:         SourceOwnerBalance,
		Tier:           tier,
		BillableUserID: conv.OwnerID,
		AvailableCents: available,
		OverdraftCents: cushion,
		Scopes:         scopes,
		MemberUserID:   memberID,
	}, nil
}

// resolveGuestFixed funds the call from the fixed guest quota wallet.
func (r *Resolver) resolveGuestFixed(ctx context.Context, req Request) (Resolution, error) {
	if req.PremiumModel {
		return Resolution{}, ErrPremiumRequiresAccount
	}
	if req.UserID == nil {
		return Resolution{}, ErrUserNotFound
	}
	userID := *req.UserID

	var wallet models.Wallet
	if errFind := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, models.WalletTypeGuest).
		First(&wallet).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Resolution{}, ErrUserNotFound
		}
		return Resolution{}, errFind
	}

	outstanding, errOut := r.ledger.Outstanding(ctx, UserScopeKey(userID))
	if errOut != nil {
		return Resolution{}, errOut
	}

	return Resolution{
		Source:         SourceGuestFixed,
		Tier:           pricing.TierGuest,
		BillableUserID: userID,
		AvailableCents: wallet.BalanceCents - outstanding,
		Scopes: []reserve.Scope{
			{Key: UserScopeKey(userID), CeilingCents: wallet.BalanceCents},
		},
	}, nil
}

// walletBalances aggregates a user's wallet totals.
type walletBalances struct {
	purchased float64
	free      float64
	total     float64
}

// loadBalances sums the user's wallets by type.
func (r *Resolver) loadBalances(ctx context.Context, userID uint64) (walletBalances, error) {
	var wallets []models.Wallet
	if errFind := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("priority ASC, id ASC").
		Find(&wallets).Error; errFind != nil {
		return walletBalances{}, errFind
	}
	if len(wallets) == 0 {
		return walletBalances{}, ErrUserNotFound
	}

	var b walletBalances
	for _, w := range wallets {
		switch w.Type {
		case models.WalletTypePurchased:
			b.purchased += w.BalanceCents
		case models.WalletTypeFreeTier:
			b.free += w.BalanceCents
		}
		b.total += w.BalanceCents
	}
	return b, nil
}

// classifyTier reports paid iff the balance stays positive after money
// already promised to in-flight calls is subtracted.
func classifyTier(totalCents, outstandingCents float64) pricing.Tier {
	if totalCents-outstandingCents > 0 {
		return pricing.TierPaid
	}
	return pricing.TierFree
}

// renewFreeAllowance resets the free-tier wallet when its last renewal
// predates today in the user's timezone. The conditional update tolerates
// a concurrent renewal: whichever request wins, the wallet ends at the
// configured allowance exactly once per day.
func (r *Resolver) renewFreeAllowance(ctx context.Context, user *models.User) error {
	loc := time.UTC
	if user.Timezone != "" {
		if parsed, errLoad := time.LoadLocation(user.Timezone); errLoad == nil {
			loc = parsed
		}
	}
	now := time.Now().In(loc)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND type = ?", user.ID, models.WalletTypeFreeTier).
		Where("renewed_at IS NULL OR renewed_at < ?", todayStart.UTC()).
		Updates(map[string]any{
			"balance_cents": settings.FreeDailyAllowanceCents(),
			"renewed_at":    now.UTC(),
		}).Error
}
