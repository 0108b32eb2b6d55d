// Package settle persists the outcome of a finished inference call: the
// message pair, the wallet debit, and the immutable accounting rows, all
// inside one relational transaction. Rollback is the only undo mechanism;
// there is no compensating-action logic anywhere in this package.
package settle

import (
	"context"
	"errors"

	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settlement errors.
var (
	// ErrConversationNotFound indicates the conversation row is gone,
	// typically a racing delete.
	ErrConversationNotFound = errors.New("settle: conversation not found")
	// ErrEpochNotFound indicates the conversation's current epoch row is
	// missing.
	ErrEpochNotFound = errors.New("settle: epoch not found")
	// ErrMemberNotFound indicates the member budget row required by a
	// group-billing context does not exist.
	ErrMemberNotFound = errors.New("settle: member budget not found")
	// ErrInsufficientBalance indicates the wallets could not cover the
	// charge even with the permitted overdraft.
	ErrInsufficientBalance = errors.New("settle: insufficient balance")
	// ErrDuplicateMessage indicates the idempotency key was already used.
	ErrDuplicateMessage = errors.New("settle: duplicate message id")
)

// balanceEpsilon tolerates float accumulation error in debit math.
const balanceEpsilon = 1e-6

// GroupBilling carries the group-chat context whose running totals must be
// advanced alongside the wallet debit.
type GroupBilling struct {
	MemberUserID uint64
}

// Charge describes one finished chat turn to persist.
type Charge struct {
	ConversationID     uint64
	UserMessageID      string
	AssistantMessageID string
	SenderID           uint64
	BillableUserID     uint64

	UserCiphertext      []byte
	AssistantCiphertext []byte

	CostCents      float64
	OverdraftCents float64

	Provider string
	ModelID  string

	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	InputChars   int64
	OutputChars  int64

	UsageDetail datatypes.JSON

	Group *GroupBilling
}

// Result reports what a committed settlement produced.
type Result struct {
	UsageRecordID     uint64
	AssistantSequence uint64
	DebitedCents      float64
}

// Settler commits charges.
type Settler struct {
	db *gorm.DB
}

// NewSettler constructs a Settler backed by GORM.
func NewSettler(db *gorm.DB) *Settler { return &Settler{db: db} }

// Settle runs the whole settlement inside a single transaction: claim the
// next two sequence numbers, insert the message pair, debit wallets in
// priority order, write the usage, ledger, and completion rows, and advance
// group running totals. Any failure rolls everything back; no wallet
// balance changes and no rows survive.
func (s *Settler) Settle(ctx context.Context, charge Charge) (Result, error) {
	if s == nil || s.db == nil {
		return Result{}, errors.New("settle: nil settler")
	}

	var result Result
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, errClaim := claimSequences(tx, charge.ConversationID)
		if errClaim != nil {
			return errClaim
		}

		var epochCount int64
		if errCount := tx.Model(&models.ConversationEpoch{}).
			Where("conversation_id = ? AND number = ?", conv.ID, conv.CurrentEpoch).
			Count(&epochCount).Error; errCount != nil {
			return errCount
		}
		if epochCount == 0 {
			return ErrEpochNotFound
		}

		userSeq := conv.NextSequence - 2
		assistantSeq := conv.NextSequence - 1
		cost := charge.CostCents

		userMsg := models.Message{
			ID:             charge.UserMessageID,
			ConversationID: conv.ID,
			Epoch:          conv.CurrentEpoch,
			Sequence:       userSeq,
			Role:           models.MessageRoleUser,
			SenderID:       charge.SenderID,
			Ciphertext:     charge.UserCiphertext,
		}
		assistantMsg := models.Message{
			ID:             charge.AssistantMessageID,
			ConversationID: conv.ID,
			Epoch:          conv.CurrentEpoch,
			Sequence:       assistantSeq,
			Role:           models.MessageRoleAssistant,
			SenderID:       charge.SenderID,
			Ciphertext:     charge.AssistantCiphertext,
			CostCents:      &cost,
		}
		if errCreate := tx.Create(&userMsg).Error; errCreate != nil {
			return translateDuplicate(errCreate)
		}
		if errCreate := tx.Create(&assistantMsg).Error; errCreate != nil {
			return translateDuplicate(errCreate)
		}

		debited, errDebit := debitWallets(tx, charge.BillableUserID, cost, charge.OverdraftCents)
		if errDebit != nil {
			return errDebit
		}
		result.DebitedCents = debited

		record := models.UsageRecord{
			SourceType:   "message",
			SourceID:     charge.AssistantMessageID,
			Status:       models.UsageStatusCompleted,
			UserID:       charge.BillableUserID,
			InputTokens:  charge.InputTokens,
			OutputTokens: charge.OutputTokens,
			InputChars:   charge.InputChars,
			OutputChars:  charge.OutputChars,
			CostCents:    cost,
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return translateDuplicate(errCreate)
		}

		entry := models.LedgerEntry{
			UserID:        charge.BillableUserID,
			Type:          models.LedgerTypeUsageCharge,
			AmountCents:   -cost,
			UsageRecordID: &record.ID,
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			return errCreate
		}

		completion := models.LLMCompletion{
			UsageRecordID: record.ID,
			Provider:      charge.Provider,
			ModelID:       charge.ModelID,
			InputTokens:   charge.InputTokens,
			OutputTokens:  charge.OutputTokens,
			CachedTokens:  charge.CachedTokens,
			Detail:        charge.UsageDetail,
		}
		if errCreate := tx.Create(&completion).Error; errCreate != nil {
			return errCreate
		}

		if charge.Group != nil {
			if errGroup := advanceGroupTotals(tx, conv.ID, charge.Group.MemberUserID, cost); errGroup != nil {
				return errGroup
			}
		}

		result.UsageRecordID = record.ID
		result.AssistantSequence = assistantSeq
		return nil
	})
	if errTx != nil {
		return Result{}, errTx
	}
	return result, nil
}

// claimSequences atomically advances the conversation's sequence counter by
// two and returns the row as updated. The update statement is the
// serialization point: a second concurrent settlement against the same
// conversation blocks on the row lock and observes a disjoint range.
func claimSequences(tx *gorm.DB, conversationID uint64) (models.Conversation, error) {
	res := tx.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("next_sequence", gorm.Expr("next_sequence + ?", 2))
	if res.Error != nil {
		return models.Conversation{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Conversation{}, ErrConversationNotFound
	}

	var conv models.Conversation
	if errFind := tx.First(&conv, conversationID).Error; errFind != nil {
		return models.Conversation{}, errFind
	}
	return conv, nil
}

// debitWallets subtracts the charge from the user's wallets in ascending
// priority order, carrying any remainder to the next wallet. Only the
// deepest wallet may go negative, and only within overdraftCents; anything
// beyond that fails the whole transaction.
func debitWallets(tx *gorm.DB, userID uint64, amountCents, overdraftCents float64) (float64, error) {
	if amountCents <= 0 {
		return 0, nil
	}

	var wallets []models.Wallet
	if errFind := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Order("priority ASC, id ASC").
		Find(&wallets).Error; errFind != nil {
		return 0, errFind
	}
	if len(wallets) == 0 {
		return 0, ErrInsufficientBalance
	}

	remaining := amountCents
	for _, wallet := range wallets {
		if remaining <= balanceEpsilon {
			break
		}
		if wallet.BalanceCents <= 0 {
			continue
		}
		deduct := wallet.BalanceCents
		if deduct > remaining {
			deduct = remaining
		}
		res := tx.Model(&models.Wallet{}).
			Where("id = ?", wallet.ID).
			Update("balance_cents", gorm.Expr("balance_cents - ?", deduct))
		if res.Error != nil {
			return 0, res.Error
		}
		remaining -= deduct
	}

	if remaining > balanceEpsilon {
		if remaining > overdraftCents+balanceEpsilon {
			return 0, ErrInsufficientBalance
		}
		// The cushion let budgeting promise slightly more than the real
		// balance; the deepest wallet absorbs the difference.
		deepest := wallets[len(wallets)-1]
		res := tx.Model(&models.Wallet{}).
			Where("id = ?", deepest.ID).
			Update("balance_cents", gorm.Expr("balance_cents - ?", remaining))
		if res.Error != nil {
			return 0, res.Error
		}
		remaining = 0
	}

	return amountCents, nil
}

// advanceGroupTotals upserts the conversation running total and advances
// the member's sub-total. A missing member budget row fails the whole
// transaction, wallet debit and messages included.
func advanceGroupTotals(tx *gorm.DB, conversationID, memberUserID uint64, costCents float64) error {
	res := tx.Model(&models.ConversationSpending{}).
		Where("conversation_id = ?", conversationID).
		Update("spent_cents", gorm.Expr("spent_cents + ?", costCents))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// No ceiling configured; create a tracking-only row.
		spending := models.ConversationSpending{
			ConversationID: conversationID,
			SpentCents:     costCents,
		}
		if errCreate := tx.Create(&spending).Error; errCreate != nil {
			return errCreate
		}
	}

	memberRes := tx.Model(&models.MemberBudget{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, memberUserID).
		Update("spent_cents", gorm.Expr("spent_cents + ?", costCents))
	if memberRes.Error != nil {
		return memberRes.Error
	}
	if memberRes.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// translateDuplicate maps unique-constraint violations onto the settlement
// idempotency error.
func translateDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateMessage
	}
	return err
}
