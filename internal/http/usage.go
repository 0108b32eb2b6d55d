package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/LOME-AI/HushBox-sub006/internal/models"
)

// UsageHandler handles usage statistics endpoints.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// usageSummary aggregates usage statistics.
type usageSummary struct {
	TotalTurns   int64   `json:"total_turns"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostCents    float64 `json:"cost_cents"`
}

// Stats returns usage summaries for recent time windows.
func (h *UsageHandler) Stats(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	loc := time.Local
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind == nil {
		if parsed, errLoc := time.LoadLocation(user.Timezone); errLoc == nil {
			loc = parsed
		}
	}

	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	periods := map[string]time.Time{
		"today":   today,
		"7_days":  today.AddDate(0, 0, -6),
		"30_days": today.AddDate(0, 0, -29),
	}

	result := make(map[string]usageSummary)
	for name, since := range periods {
		var summary usageSummary
		if errScan := h.db.WithContext(c.Request.Context()).Model(&models.UsageRecord{}).
			Where("user_id = ? AND created_at >= ?", userID, since).
			Select("COUNT(*) AS total_turns, COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens, COALESCE(SUM(cost_cents), 0) AS cost_cents").
			Scan(&summary).Error; errScan != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query usage failed"})
			return
		}
		result[name] = summary
	}

	c.JSON(http.StatusOK, result)
}
