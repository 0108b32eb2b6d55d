package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/LOME-AI/HushBox-sub006/internal/config"
	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"github.com/LOME-AI/HushBox-sub006/internal/pricing"
	"github.com/LOME-AI/HushBox-sub006/internal/security"
	"github.com/LOME-AI/HushBox-sub006/internal/settings"
)

// SessionHandler issues session tokens.
type SessionHandler struct {
	db      *gorm.DB
	authCfg config.AuthConfig
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(db *gorm.DB, authCfg config.AuthConfig) *SessionHandler {
	return &SessionHandler{db: db, authCfg: authCfg}
}

// CreateGuest provisions a guest user with the fixed trial quota and returns
// a session token for it. Guests cannot top up or renew; when the quota runs
// out the session is spent.
func (h *SessionHandler) CreateGuest(c *gin.Context) {
	quota := settings.GuestQuotaCents()

	user := models.User{Timezone: "UTC", IsGuest: true}
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&user).Error; errCreate != nil {
			return errCreate
		}
		wallet := models.Wallet{
			UserID:       user.ID,
			Type:         models.WalletTypeGuest,
			BalanceCents: quota,
		}
		return tx.Create(&wallet).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create guest failed"})
		return
	}

	token, errToken := security.GenerateSessionToken(h.authCfg.JWTSecret, user.ID, string(pricing.TierGuest), h.authCfg.SessionTTL())
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":       token,
		"user_id":     user.ID,
		"quota_cents": quota,
	})
}
