package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/LOME-AI/HushBox-sub006/internal/billing"
	"github.com/LOME-AI/HushBox-sub006/internal/funding"
)

// TurnHandler runs billable chat turns.
type TurnHandler struct {
	engine *billing.Engine
}

// NewTurnHandler constructs a TurnHandler.
func NewTurnHandler(engine *billing.Engine) *TurnHandler {
	return &TurnHandler{engine: engine}
}

type turnRequest struct {
	ConversationID     uint64 `json:"conversation_id" binding:"required"`
	Provider           string `json:"provider" binding:"required"`
	Model              string `json:"model" binding:"required"`
	Prompt             string `json:"prompt" binding:"required"`
	Source             string `json:"source"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	Stream             bool   `json:"stream"`
}

// Create gates, runs, and settles one chat turn. With stream=true the
// completion is relayed as SSE chunk events followed by a terminal done
// event carrying the settled cost; otherwise the handler responds with a
// single JSON document after settlement.
func (h *TurnHandler) Create(c *gin.Context) {
	var body turnRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	source := funding.Source(body.Source)
	if body.Source == "" {
		source = funding.SourcePersonalBalance
	}
	if isGuestSession(c) {
		source = funding.SourceGuestFixed
	}

	req := billing.TurnRequest{
		UserID:             &userID,
		Source:             source,
		ConversationID:     body.ConversationID,
		Provider:           body.Provider,
		ModelID:            body.Model,
		Prompt:             body.Prompt,
		UserMessageID:      body.UserMessageID,
		AssistantMessageID: body.AssistantMessageID,
	}

	if !body.Stream {
		var completion string
		req.OnChunk = func(chunk string) error {
			completion += chunk
			return nil
		}
		result, errRun := h.engine.RunBillableChatTurn(c.Request.Context(), req)
		if errRun != nil {
			writeBillingError(c, errRun)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"completion":           completion,
			"cost_cents":           result.CostCents,
			"usage_record_id":      result.UsageRecordID,
			"max_output_tokens":    result.MaxOutputTokens,
			"assistant_sequence":   result.AssistantSequence,
			"user_message_id":      result.UserMessageID,
			"assistant_message_id": result.AssistantMessageID,
		})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	streamed := false
	req.OnChunk = func(chunk string) error {
		streamed = true
		if errWrite := writeSSEEvent(c, "chunk", gin.H{"text": chunk}); errWrite != nil {
			return errWrite
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	result, errRun := h.engine.RunBillableChatTurn(c.Request.Context(), req)
	if errRun != nil {
		// Once chunks are on the wire the status line is gone; the error
		// becomes a terminal SSE event instead.
		if streamed {
			code, _ := billing.CodeOf(errRun)
			_ = writeSSEEvent(c, "error", gin.H{"code": string(code), "error": errRun.Error()})
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		writeBillingError(c, errRun)
		return
	}

	if errWrite := writeSSEEvent(c, "done", gin.H{
		"cost_cents":         result.CostCents,
		"usage_record_id":    result.UsageRecordID,
		"assistant_sequence": result.AssistantSequence,
	}); errWrite != nil {
		log.WithError(errWrite).Debug("write terminal sse event failed")
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEEvent(c *gin.Context, event string, payload any) error {
	data, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return errMarshal
	}
	_, errWrite := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	return errWrite
}

// writeBillingError maps billing error codes onto HTTP statuses.
func writeBillingError(c *gin.Context, err error) {
	code, classified := billing.CodeOf(err)
	if !classified {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status := http.StatusInternalServerError
	switch code {
	case billing.CodeInsufficientBalance:
		status = http.StatusPaymentRequired
	case billing.CodeBalanceReserved, billing.CodeDuplicateMessage:
		status = http.StatusConflict
	case billing.CodePremiumRequiresBalance, billing.CodePremiumRequiresAccount:
		status = http.StatusForbidden
	case billing.CodeContextCapacityTooLow:
		status = http.StatusUnprocessableEntity
	case billing.CodeConversationNotFound, billing.CodeEpochNotFound,
		billing.CodeMemberNotFound, billing.CodeUserNotFound, billing.CodeModelNotFound:
		status = http.StatusNotFound
	case billing.CodeProviderFailed:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"code": string(code), "error": err.Error()})
}
