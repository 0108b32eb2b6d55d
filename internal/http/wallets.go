package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/LOME-AI/HushBox-sub006/internal/funding"
	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"github.com/LOME-AI/HushBox-sub006/internal/reserve"
)

// WalletHandler serves wallet balance queries.
type WalletHandler struct {
	db     *gorm.DB
	ledger *reserve.Ledger
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(db *gorm.DB, ledger *reserve.Ledger) *WalletHandler {
	return &WalletHandler{db: db, ledger: ledger}
}

type walletView struct {
	Type         string  `json:"type"`
	BalanceCents float64 `json:"balance_cents"`
}

// List returns the user's wallets alongside the cents currently held by
// in-flight reservations. Spendable balance is the wallet total minus the
// reserved amount.
func (h *WalletHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var wallets []models.Wallet
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("priority ASC, id ASC").
		Find(&wallets).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query wallets failed"})
		return
	}

	total := 0.0
	views := make([]walletView, 0, len(wallets))
	for _, w := range wallets {
		total += w.BalanceCents
		views = append(views, walletView{Type: w.Type, BalanceCents: w.BalanceCents})
	}

	reserved, errReserved := h.ledger.Outstanding(c.Request.Context(), funding.UserScopeKey(userID))
	if errReserved != nil {
		log.WithError(errReserved).WithField("user_id", userID).
			Warn("read outstanding reservations failed")
		reserved = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"wallets":         views,
		"total_cents":     total,
		"reserved_cents":  reserved,
		"spendable_cents": total - reserved,
	})
}
