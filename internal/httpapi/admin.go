package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"paycall/internal/auth"
	"paycall/internal/pricing"
	"paycall/internal/wallet"
	"paycall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// PaymentSecretHeader carries the shared secret of the payment provider.
const PaymentSecretHeader = "X-Payment-Secret"

type paymentEvent struct {
	EventID     string          `json:"event_id"`
	PrincipalID string          `json:"principal_id"`
	Credits     pricing.Credits `json:"credits"`
}

// PaymentWebhook credits a completed top-up. Redelivery of the same event is a
// no-op on the ledger.
func (h Handlers) PaymentWebhook(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Ledger == nil || h.PaymentSecret == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "payments not configured"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(PaymentSecretHeader)), []byte(h.PaymentSecret)) != 1 {
		log.Warn("payment webhook rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	var ev paymentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if ev.EventID == "" || ev.PrincipalID == "" || ev.Credits <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "event_id, principal_id and positive credits required"})
		return
	}

	entry, bal, err := h.Ledger.Credit(c.Request.Context(), ev.PrincipalID, wallet.CreditRequest{
		Amount:         ev.Credits,
		ExternalRef:    ev.EventID,
		IdempotencyKey: "payment:" + ev.EventID,
	})
	if err != nil {
		log.Error("payment credit failed", "principal_id", ev.PrincipalID, "event_id", ev.EventID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogPaymentCredit(c.Request.Context(), ev.PrincipalID, ev.EventID, ev.Credits); err != nil {
			log.Error("payment audit failed", "event_id", ev.EventID, "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ledger_entry_id": entry.ID, "balance": bal})
}

type adminCreditRequest struct {
	PrincipalID    string          `json:"principal_id"`
	Amount         pricing.Credits `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// AdminManualCredit performs an admin-only balance credit.
// RBAC: admin.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	adminID, _ := auth.PrincipalID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	action, _, bal, err := h.Ledger.AdminManualCredit(c.Request.Context(), req.PrincipalID, adminID, adminRole, wallet.AdminCreditRequest{
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("admin credit failed", "principal_id", req.PrincipalID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogAdminCredit(c.Request.Context(), req.PrincipalID, adminID, adminRole, c.ClientIP(), req.Reason, req.Amount); err != nil {
			logger.FromGin(c).Error("admin credit audit failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "balance": bal})
}

// AdminGetBalance reads any principal's balance. RBAC: support or admin.
func (h Handlers) AdminGetBalance(c *gin.Context) {
	principalID := c.Param("principal_id")
	if principalID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "principal_id required"})
		return
	}
	h.writeBalance(c, principalID)
}
