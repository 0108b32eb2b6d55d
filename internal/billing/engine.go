package billing

import (
	"context"
	"errors"
	"math"

	"github.com/LOME-AI/HushBox-sub006/internal/budget"
	"github.com/LOME-AI/HushBox-sub006/internal/funding"
	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"github.com/LOME-AI/HushBox-sub006/internal/pricing"
	"github.com/LOME-AI/HushBox-sub006/internal/provider"
	"github.com/LOME-AI/HushBox-sub006/internal/reserve"
	"github.com/LOME-AI/HushBox-sub006/internal/settle"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EncryptFunc seals message plaintext under a conversation epoch. The key
// collaborator owns the actual cryptography; billing only passes bytes
// through.
type EncryptFunc func(epoch uint64, plaintext []byte) ([]byte, error)

// Engine runs billable chat turns end to end.
type Engine struct {
	db       *gorm.DB
	catalog  *pricing.Catalog
	resolver *funding.Resolver
	ledger   *reserve.Ledger
	settler  *settle.Settler
	client   provider.Client
}

// NewEngine wires the pipeline components together.
func NewEngine(db *gorm.DB, counter reserve.Counter, client provider.Client) *Engine {
	ledger := reserve.NewLedger(counter)
	return &Engine{
		db:       db,
		catalog:  pricing.NewCatalog(db),
		resolver: funding.NewResolver(db, ledger),
		ledger:   ledger,
		settler:  settle.NewSettler(db),
		client:   client,
	}
}

// Ledger exposes the reservation ledger for balance queries.
func (e *Engine) Ledger() *reserve.Ledger {
	return e.ledger
}

// TurnRequest describes one billable chat turn.
type TurnRequest struct {
	UserID         *uint64
	Source         funding.Source
	ConversationID uint64
	Provider       string
	ModelID        string
	Prompt         string

	// Message ids double as idempotency keys; generated when empty.
	UserMessageID      string
	AssistantMessageID string

	OnChunk provider.ChunkFunc
	Encrypt EncryptFunc
}

// TurnResult reports a settled chat turn.
type TurnResult struct {
	CostCents          float64
	UsageRecordID      uint64
	MaxOutputTokens    int64
	UserMessageID      string
	AssistantMessageID string
	AssistantSequence  uint64
}

// RunBillableChatTurn gates, reserves, runs, and settles one inference
// call.
//
// Ordering: the reservation completes and passes its race check strictly
// before the provider call is dispatched, and it is released strictly
// after settlement commits or rolls back. The deferred release is the only
// release site, so every exit path reaches it exactly once.
func (e *Engine) RunBillableChatTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	model, errLookup := e.catalog.Lookup(ctx, req.Provider, req.ModelID)
	if errLookup != nil {
		return TurnResult{}, classify(errLookup)
	}

	var conv models.Conversation
	if errFind := e.db.WithContext(ctx).First(&conv, req.ConversationID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return TurnResult{}, newError(CodeConversationNotFound, errFind)
		}
		return TurnResult{}, errFind
	}

	resolution, errResolve := e.resolver.Resolve(ctx, funding.Request{
		UserID:         req.UserID,
		Source:         req.Source,
		ConversationID: req.ConversationID,
		PremiumModel:   model.IsPremium,
	})
	if errResolve != nil {
		return TurnResult{}, classify(errResolve)
	}

	promptChars := int64(len(req.Prompt))
	plan := budget.Compute(budget.Input{
		Tier:           resolution.Tier,
		AvailableCents: resolution.AvailableCents,
		CushionCents:   resolution.CushionCents,
		PromptChars:    promptChars,
		Pricing:        model.Pricing,
	})
	// Obviously unaffordable calls are rejected here, before paying for
	// the atomic round trip; the reserve race check stays authoritative.
	if !plan.Affordable() {
		return TurnResult{}, newError(CodeInsufficientBalance,
			errors.New("billing: funds cover fewer than the minimum output tokens"))
	}

	reservation, errReserve := e.ledger.Reserve(ctx, resolution.Scopes, plan.WorstCaseCents)
	if errReserve != nil {
		return TurnResult{}, classify(errReserve)
	}
	defer reservation.Release()

	outcome, errCall := provider.CallWithCapacityGuard(ctx, e.client, provider.Request{
		Provider:  model.Provider,
		Model:     model.ModelID,
		Prompt:    req.Prompt,
		MaxTokens: plan.MaxOutputTokens,
	}, pricing.MinOutputTokens, req.OnChunk)
	if errCall != nil {
		// No charge for failed or aborted calls; the deferred release
		// hands the reserved funds back.
		if classified := classify(errCall); classified != errCall {
			return TurnResult{}, classified
		}
		return TurnResult{}, newError(CodeProviderFailed, errCall)
	}

	usage := reconcileUsage(outcome, resolution.Tier, plan)
	outputChars := int64(len(outcome.Text))
	cost := pricing.ActualCostCents(resolution.Tier, model.Pricing,
		usage.InputTokens, usage.OutputTokens, outputChars)

	userMessageID := req.UserMessageID
	if userMessageID == "" {
		userMessageID = uuid.New().String()
	}
	assistantMessageID := req.AssistantMessageID
	if assistantMessageID == "" {
		assistantMessageID = uuid.New().String()
	}

	userCiphertext, assistantCiphertext, errSeal := sealMessages(req.Encrypt, conv.CurrentEpoch, req.Prompt, outcome.Text)
	if errSeal != nil {
		return TurnResult{}, errSeal
	}

	senderID := resolution.BillableUserID
	if req.UserID != nil {
		senderID = *req.UserID
	}
	charge := settle.Charge{
		ConversationID:      req.ConversationID,
		UserMessageID:       userMessageID,
		AssistantMessageID:  assistantMessageID,
		SenderID:            senderID,
		BillableUserID:      resolution.BillableUserID,
		UserCiphertext:      userCiphertext,
		AssistantCiphertext: assistantCiphertext,
		CostCents:           cost,
		OverdraftCents:      resolution.OverdraftCents,
		Provider:            model.Provider,
		ModelID:             model.ModelID,
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CachedTokens:        usage.CachedTokens,
		InputChars:          promptChars,
		OutputChars:         outputChars,
	}
	if resolution.Source == funding.SourceOwnerBalance {
		charge.Group = &settle.GroupBilling{MemberUserID: resolution.MemberUserID}
	}

	// Settlement must finish even when the caller has gone away; an
	// aborted stream still gets billed for what the provider confirmed.
	settleCtx := context.WithoutCancel(ctx)
	result, errSettle := e.settler.Settle(settleCtx, charge)
	if errSettle != nil {
		log.WithError(errSettle).WithField("conversation_id", req.ConversationID).
			Warn("billing: settlement failed, reservation released without charge")
		return TurnResult{}, classify(errSettle)
	}

	return TurnResult{
		CostCents:          cost,
		UsageRecordID:      result.UsageRecordID,
		MaxOutputTokens:    plan.MaxOutputTokens,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		AssistantSequence:  result.AssistantSequence,
	}, nil
}

// reconcileUsage fills in token counts when the provider did not report
// them, falling back to the tier's estimation policy. An empty completion
// settles at input cost only.
func reconcileUsage(outcome provider.Outcome, tier pricing.Tier, plan budget.Plan) provider.Usage {
	usage := outcome.Usage
	if usage.InputTokens == 0 {
		usage.InputTokens = plan.EstimatedInputTokens
	}
	if usage.OutputTokens == 0 && outcome.Text != "" {
		ratio := pricing.PolicyFor(tier).CharsPerToken
		usage.OutputTokens = int64(math.Ceil(float64(len(outcome.Text)) / ratio))
	}
	return usage
}

// sealMessages encrypts both sides of the turn under the current epoch.
// Without an encrypt capability the plaintext is stored as-is.
func sealMessages(encrypt EncryptFunc, epoch uint64, prompt, completion string) ([]byte, []byte, error) {
	if encrypt == nil {
		return []byte(prompt), []byte(completion), nil
	}
	userCiphertext, errUser := encrypt(epoch, []byte(prompt))
	if errUser != nil {
		return nil, nil, errUser
	}
	assistantCiphertext, errAssistant := encrypt(epoch, []byte(completion))
	if errAssistant != nil {
		return nil, nil, errAssistant
	}
	return userCiphertext, assistantCiphertext, nil
}
