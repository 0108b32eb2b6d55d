package billing

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LOME-AI/HushBox-sub006/internal/db"
	"github.com/LOME-AI/HushBox-sub006/internal/funding"
	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"github.com/LOME-AI/HushBox-sub006/internal/pricing"
	"github.com/LOME-AI/HushBox-sub006/internal/provider"
	"github.com/LOME-AI/HushBox-sub006/internal/reserve"
	"github.com/LOME-AI/HushBox-sub006/internal/settings"
)

// fakeClient returns a canned outcome or error and records calls.
type fakeClient struct {
	outcome provider.Outcome
	err     error
	calls   int
}

func (f *fakeClient) StreamCompletion(_ context.Context, req provider.Request, onChunk provider.ChunkFunc) (provider.Outcome, error) {
	f.calls++
	if f.err != nil {
		return provider.Outcome{}, f.err
	}
	if onChunk != nil && f.outcome.Text != "" {
		if errChunk := onChunk(f.outcome.Text); errChunk != nil {
			return provider.Outcome{}, errChunk
		}
	}
	return f.outcome, nil
}

type engineFixture struct {
	conn    *gorm.DB
	counter *reserve.MemoryCounter
	client  *fakeClient
	engine  *Engine
	user    models.User
	conv    models.Conversation
}

func setupEngine(t *testing.T, balance float64) *engineFixture {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	price := models.ModelPrice{
		Provider:                "openai",
		ModelID:                 "gpt-test",
		PromptCentsPerToken:     0.0003,
		CompletionCentsPerToken: 0.0006,
		ContextLength:           128000,
		IsEnabled:               true,
	}
	if errCreate := conn.Create(&price).Error; errCreate != nil {
		t.Fatalf("create price: %v", errCreate)
	}

	user := models.User{Timezone: "UTC"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	wallet := models.Wallet{UserID: user.ID, Type: models.WalletTypePurchased, BalanceCents: balance}
	if errCreate := conn.Create(&wallet).Error; errCreate != nil {
		t.Fatalf("create wallet: %v", errCreate)
	}

	conv := models.Conversation{OwnerID: user.ID, CurrentEpoch: 1, NextSequence: 1}
	if errCreate := conn.Create(&conv).Error; errCreate != nil {
		t.Fatalf("create conversation: %v", errCreate)
	}
	if errCreate := conn.Create(&models.ConversationEpoch{ConversationID: conv.ID, Number: 1}).Error; errCreate != nil {
		t.Fatalf("create epoch: %v", errCreate)
	}

	client := &fakeClient{outcome: provider.Outcome{
		Text:  "Hello world",
		Usage: provider.Usage{InputTokens: 100, OutputTokens: 50},
	}}
	counter := reserve.NewMemoryCounter()
	return &engineFixture{
		conn:    conn,
		counter: counter,
		client:  client,
		engine:  NewEngine(conn, counter, client),
		user:    user,
		conv:    conv,
	}
}

func (f *engineFixture) walletBalance(t *testing.T) float64 {
	t.Helper()
	var wallet models.Wallet
	if errFind := f.conn.Where("user_id = ?", f.user.ID).First(&wallet).Error; errFind != nil {
		t.Fatalf("load wallet: %v", errFind)
	}
	return wallet.BalanceCents
}

func (f *engineFixture) outstanding(t *testing.T) float64 {
	t.Helper()
	total, errOut := f.counter.Total(context.Background(), funding.UserScopeKey(f.user.ID))
	if errOut != nil {
		t.Fatalf("outstanding: %v", errOut)
	}
	return total
}

func (f *engineFixture) turnRequest() TurnRequest {
	return TurnRequest{
		UserID:         &f.user.ID,
		Source:         funding.SourcePersonalBalance,
		ConversationID: f.conv.ID,
		Provider:       "openai",
		ModelID:        "gpt-test",
		Prompt:         "Tell me about metering.",
	}
}

func TestRunBillableChatTurnEndToEnd(t *testing.T) {
	f := setupEngine(t, 100)

	result, errRun := f.engine.RunBillableChatTurn(context.Background(), f.turnRequest())
	if errRun != nil {
		t.Fatalf("run turn: %v", errRun)
	}

	// Prices carry the default platform fee multiplier.
	promptRate := 0.0003 * pricing.FeeMultiplierDefault
	completionRate := 0.0006 * pricing.FeeMultiplierDefault
	wantCost := 100*promptRate + 50*completionRate +
		pricing.OutputStorageCents(pricing.TierPaid, int64(len("Hello world")))
	if math.Abs(result.CostCents-wantCost) > 1e-9 {
		t.Fatalf("cost = %v, want %v", result.CostCents, wantCost)
	}
	if result.UsageRecordID == 0 {
		t.Fatalf("expected usage record id")
	}
	if result.AssistantSequence != 2 {
		t.Fatalf("assistant sequence = %d, want 2", result.AssistantSequence)
	}
	if result.UserMessageID == "" || result.AssistantMessageID == "" {
		t.Fatalf("expected generated message ids, got %+v", result)
	}

	if got := f.walletBalance(t); math.Abs(got-(100-wantCost)) > 1e-9 {
		t.Fatalf("wallet = %v, want %v", got, 100-wantCost)
	}
	if got := f.outstanding(t); got != 0 {
		t.Fatalf("reservation not released, outstanding = %v", got)
	}

	var messages []models.Message
	if errFind := f.conn.Where("conversation_id = ?", f.conv.ID).Order("sequence ASC").Find(&messages).Error; errFind != nil {
		t.Fatalf("load messages: %v", errFind)
	}
	if len(messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(messages))
	}
	if string(messages[1].Ciphertext) != "Hello world" {
		t.Fatalf("assistant plaintext = %q", messages[1].Ciphertext)
	}
}

func TestRunBillableChatTurnEncryptsMessages(t *testing.T) {
	f := setupEngine(t, 100)

	req := f.turnRequest()
	req.Encrypt = func(epoch uint64, plaintext []byte) ([]byte, error) {
		return append([]byte("enc:"), plaintext...), nil
	}
	if _, errRun := f.engine.RunBillableChatTurn(context.Background(), req); errRun != nil {
		t.Fatalf("run turn: %v", errRun)
	}

	var messages []models.Message
	if errFind := f.conn.Where("conversation_id = ?", f.conv.ID).Order("sequence ASC").Find(&messages).Error; errFind != nil {
		t.Fatalf("load messages: %v", errFind)
	}
	if string(messages[0].Ciphertext) != "enc:"+req.Prompt {
		t.Fatalf("user ciphertext = %q", messages[0].Ciphertext)
	}
	if string(messages[1].Ciphertext) != "enc:Hello world" {
		t.Fatalf("assistant ciphertext = %q", messages[1].Ciphertext)
	}
}

func TestRunBillableChatTurnInsufficientBalance(t *testing.T) {
	f := setupEngine(t, 0)

	_, errRun := f.engine.RunBillableChatTurn(context.Background(), f.turnRequest())
	code, ok := CodeOf(errRun)
	if !ok || code != CodeInsufficientBalance {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", errRun)
	}
	if f.client.calls != 0 {
		t.Fatalf("provider must not be called without funds, calls = %d", f.client.calls)
	}
	if got := f.outstanding(t); got != 0 {
		t.Fatalf("nothing should stay reserved, outstanding = %v", got)
	}
}

func TestRunBillableChatTurnProviderFailureNotCharged(t *testing.T) {
	f := setupEngine(t, 100)
	f.client.err = &provider.Error{Kind: provider.KindUnavailable, Message: "down"}

	_, errRun := f.engine.RunBillableChatTurn(context.Background(), f.turnRequest())
	code, ok := CodeOf(errRun)
	if !ok || code != CodeProviderFailed {
		t.Fatalf("expected PROVIDER_FAILED, got %v", errRun)
	}

	if got := f.walletBalance(t); math.Abs(got-100) > 1e-9 {
		t.Fatalf("wallet = %v, failed call must not charge", got)
	}
	if got := f.outstanding(t); got != 0 {
		t.Fatalf("reservation not released after failure, outstanding = %v", got)
	}

	var messageCount int64
	if errCount := f.conn.Model(&models.Message{}).Count(&messageCount).Error; errCount != nil {
		t.Fatalf("count messages: %v", errCount)
	}
	if messageCount != 0 {
		t.Fatalf("message count = %d, want 0", messageCount)
	}
}

func TestRunBillableChatTurnContextCapacityTooLow(t *testing.T) {
	f := setupEngine(t, 100)
	f.client.err = &provider.Error{
		Kind:                 provider.KindContextLength,
		Message:              "maximum context length exceeded",
		MaxContextTokens:     10000,
		EstimatedInputTokens: 9500,
	}

	_, errRun := f.engine.RunBillableChatTurn(context.Background(), f.turnRequest())
	code, ok := CodeOf(errRun)
	if !ok || code != CodeContextCapacityTooLow {
		t.Fatalf("expected CONTEXT_CAPACITY_TOO_LOW, got %v", errRun)
	}
	if f.client.calls != 1 {
		t.Fatalf("calls = %d, want 1 when capacity is hopeless", f.client.calls)
	}
	if got := f.outstanding(t); got != 0 {
		t.Fatalf("reservation not released, outstanding = %v", got)
	}
}

func TestRunBillableChatTurnUnknownModel(t *testing.T) {
	f := setupEngine(t, 100)

	req := f.turnRequest()
	req.ModelID = "missing"
	_, errRun := f.engine.RunBillableChatTurn(context.Background(), req)
	code, ok := CodeOf(errRun)
	if !ok || code != CodeModelNotFound {
		t.Fatalf("expected MODEL_NOT_FOUND, got %v", errRun)
	}
}

func TestRunBillableChatTurnIdempotency(t *testing.T) {
	f := setupEngine(t, 100)

	req := f.turnRequest()
	req.AssistantMessageID = uuid.New().String()
	if _, errRun := f.engine.RunBillableChatTurn(context.Background(), req); errRun != nil {
		t.Fatalf("first turn: %v", errRun)
	}
	balanceAfterFirst := f.walletBalance(t)

	req.UserMessageID = uuid.New().String()
	_, errReplay := f.engine.RunBillableChatTurn(context.Background(), req)
	code, ok := CodeOf(errReplay)
	if !ok || code != CodeDuplicateMessage {
		t.Fatalf("expected DUPLICATE_MESSAGE, got %v", errReplay)
	}

	if got := f.walletBalance(t); math.Abs(got-balanceAfterFirst) > 1e-9 {
		t.Fatalf("replay changed balance from %v to %v", balanceAfterFirst, got)
	}
	if got := f.outstanding(t); got != 0 {
		t.Fatalf("reservation not released after replay, outstanding = %v", got)
	}
}

func TestRunBillableChatTurnGroupBudgetCapped(t *testing.T) {
	f := setupEngine(t, 10000)

	member := models.User{Timezone: "UTC"}
	if errCreate := f.conn.Create(&member).Error; errCreate != nil {
		t.Fatalf("create member: %v", errCreate)
	}
	if errCreate := f.conn.Create(&models.ConversationMember{ConversationID: f.conv.ID, UserID: member.ID}).Error; errCreate != nil {
		t.Fatalf("create membership: %v", errCreate)
	}
	// Budgets far below the owner's balance: 60 cents is the binding gate
	// for an uncontended call, and its ceiling must still admit the
	// worst-case reservation.
	if errCreate := f.conn.Create(&models.ConversationSpending{ConversationID: f.conv.ID, BudgetCents: 60}).Error; errCreate != nil {
		t.Fatalf("create spending: %v", errCreate)
	}
	if errCreate := f.conn.Create(&models.MemberBudget{ConversationID: f.conv.ID, UserID: member.ID, BudgetCents: 60}).Error; errCreate != nil {
		t.Fatalf("create member budget: %v", errCreate)
	}

	req := f.turnRequest()
	req.UserID = &member.ID
	req.Source = funding.SourceOwnerBalance

	result, errRun := f.engine.RunBillableChatTurn(context.Background(), req)
	if errRun != nil {
		t.Fatalf("uncontended budget-gated turn must succeed: %v", errRun)
	}
	if result.CostCents <= 0 {
		t.Fatalf("cost = %v, want positive", result.CostCents)
	}

	var spending models.ConversationSpending
	if errFind := f.conn.Where("conversation_id = ?", f.conv.ID).First(&spending).Error; errFind != nil {
		t.Fatalf("load spending: %v", errFind)
	}
	if math.Abs(spending.SpentCents-result.CostCents) > 1e-9 {
		t.Fatalf("conversation spent = %v, want %v", spending.SpentCents, result.CostCents)
	}
	var memberBudget models.MemberBudget
	if errFind := f.conn.Where("conversation_id = ? AND user_id = ?", f.conv.ID, member.ID).First(&memberBudget).Error; errFind != nil {
		t.Fatalf("load member budget: %v", errFind)
	}
	if math.Abs(memberBudget.SpentCents-result.CostCents) > 1e-9 {
		t.Fatalf("member spent = %v, want %v", memberBudget.SpentCents, result.CostCents)
	}

	ctx := context.Background()
	for _, key := range []string{
		funding.UserScopeKey(f.user.ID),
		funding.ConversationScopeKey(f.conv.ID),
		funding.MemberScopeKey(f.conv.ID, member.ID),
	} {
		total, errTotal := f.counter.Total(ctx, key)
		if errTotal != nil {
			t.Fatalf("outstanding %s: %v", key, errTotal)
		}
		if total != 0 {
			t.Fatalf("scope %s still holds %v after release", key, total)
		}
	}
}

func TestRunBillableChatTurnFreeAllowanceFloorBoundary(t *testing.T) {
	// Dyadic raw rates stay dyadic under a 2.0 fee multiplier, keeping the
	// boundary arithmetic exact in float64.
	settings.Store(settings.Values{PlatformFeeMultiplier: 2.0})
	defer settings.Store(settings.Values{})

	const (
		appliedPrompt     = 1.0 / (1 << 21)
		appliedCompletion = 1.0 / (1 << 20)
	)
	// 300 chars at the free ratio estimate to exactly 100 input tokens.
	exact := 100*appliedPrompt + float64(pricing.MinOutputTokens)*appliedCompletion

	run := func(t *testing.T, balance float64) (*engineFixture, TurnResult, error) {
		f := setupEngine(t, 0)
		price := models.ModelPrice{
			Provider:                "openai",
			ModelID:                 "gpt-floor",
			PromptCentsPerToken:     appliedPrompt / 2,
			CompletionCentsPerToken: appliedCompletion / 2,
			ContextLength:           128000,
			IsEnabled:               true,
		}
		if errCreate := f.conn.Create(&price).Error; errCreate != nil {
			t.Fatalf("create price: %v", errCreate)
		}
		now := time.Now().UTC()
		wallet := models.Wallet{UserID: f.user.ID, Type: models.WalletTypeFreeTier, BalanceCents: balance, RenewedAt: &now}
		if errCreate := f.conn.Create(&wallet).Error; errCreate != nil {
			t.Fatalf("create allowance wallet: %v", errCreate)
		}

		req := f.turnRequest()
		req.Source = funding.SourceFreeAllowance
		req.ModelID = "gpt-floor"
		req.Prompt = strings.Repeat("x", 300)
		result, errRun := f.engine.RunBillableChatTurn(context.Background(), req)
		return f, result, errRun
	}

	_, result, errRun := run(t, exact)
	if errRun != nil {
		t.Fatalf("allowance funding exactly the floor must succeed: %v", errRun)
	}
	if result.MaxOutputTokens != pricing.MinOutputTokens {
		t.Fatalf("max output = %d, want exactly the floor %d", result.MaxOutputTokens, pricing.MinOutputTokens)
	}

	f, _, errBelow := run(t, exact-appliedCompletion)
	code, ok := CodeOf(errBelow)
	if !ok || code != CodeInsufficientBalance {
		t.Fatalf("one token below the floor: expected INSUFFICIENT_BALANCE, got %v", errBelow)
	}
	if f.client.calls != 0 {
		t.Fatalf("provider must not be called below the floor, calls = %d", f.client.calls)
	}
}

func TestRunBillableChatTurnEmptyCompletionSettlesInputOnly(t *testing.T) {
	f := setupEngine(t, 100)
	f.client.outcome = provider.Outcome{Usage: provider.Usage{InputTokens: 100}}

	result, errRun := f.engine.RunBillableChatTurn(context.Background(), f.turnRequest())
	if errRun != nil {
		t.Fatalf("run turn: %v", errRun)
	}

	wantCost := 100 * 0.0003 * pricing.FeeMultiplierDefault
	if math.Abs(result.CostCents-wantCost) > 1e-9 {
		t.Fatalf("cost = %v, want input-only %v", result.CostCents, wantCost)
	}
}
