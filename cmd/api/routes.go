package main

import (
	"context"
	"net/http"
	"time"

	"paycall/internal/httpapi"
	"paycall/internal/rbac"
	"paycall/internal/telephony"
	"paycall/internal/wallet"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers      httpapi.Handlers
	voice         telephony.VoiceWebhookHandler
	authMW        gin.HandlerFunc
	requireCredit bool
	ready         func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", h.Health)
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if d.ready != nil {
			if err := d.ready(ctx); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks authenticate themselves (signature / shared secret).
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/voice", d.voice.HandleVoice)
		webhooks.POST("/payments", h.PaymentWebhook)
	}

	v1 := r.Group("/v1")
	v1.Use(d.authMW, rbac.RequirePrincipal())
	{
		v1.GET("/me", func(c *gin.Context) {
			pid, _ := c.Get("principal_id")
			role, _ := c.Get("role")
			c.JSON(http.StatusOK, gin.H{"principal_id": pid, "role": role})
		})

		v1.GET("/rates", h.ListRates)
		v1.GET("/rates/quote", h.Quote)
		v1.GET("/balance", h.GetBalance)
		v1.GET("/softphone", h.Softphone)

		callGroup := v1.Group("/calls")
		callGroup.Use(rbac.RequireAnyRole(rbac.RoleCaller))
		{
			start := []gin.HandlerFunc{}
			if d.requireCredit && h.Ledger != nil {
				start = append(start, wallet.RequireCredit(h.Ledger))
			}
			start = append(start, h.StartCall)
			callGroup.POST("", start...)

			callGroup.GET("/history", h.ListHistory)
			callGroup.GET("/summary", h.Summary)
			callGroup.GET("/:id", h.GetCall)
			callGroup.POST("/:id/hangup", h.HangupCall)
			callGroup.POST("/:id/tones", h.SendTones)
			callGroup.POST("/:id/mute", h.ToggleMute)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		{
			admin.GET("/balances/:principal_id", rbac.RequireAnyRole(rbac.RoleSupport), h.AdminGetBalance)
			admin.POST("/credits", rbac.RequireAnyRole(rbac.RoleAdmin), h.AdminManualCredit)
		}
	}
}
