// Package httpapi exposes the metering pipeline over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/LOME-AI/HushBox-sub006/internal/billing"
	"github.com/LOME-AI/HushBox-sub006/internal/config"
	"github.com/LOME-AI/HushBox-sub006/internal/reserve"
)

// RegisterRoutes wires every API route onto the gin engine.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, engine *billing.Engine, ledger *reserve.Ledger, authCfg config.AuthConfig) {
	if r == nil || db == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")

	sessionHandler := NewSessionHandler(db, authCfg)
	v1.POST("/sessions/guest", sessionHandler.CreateGuest)

	authed := v1.Group("")
	authed.Use(sessionAuthMiddleware(db, authCfg))

	turnHandler := NewTurnHandler(engine)
	authed.POST("/chat/turns", turnHandler.Create)

	walletHandler := NewWalletHandler(db, ledger)
	authed.GET("/wallets", walletHandler.List)

	usageHandler := NewUsageHandler(db)
	authed.GET("/usage/stats", usageHandler.Stats)
}
