package wallet

import (
	"context"
	"net/http"

	"paycall/internal/auth"
	"paycall/internal/pricing"
	"paycall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// BalanceReader is the minimal ledger surface needed by middleware.
type BalanceReader interface {
	GetBalance(ctx context.Context, principalID string) (pricing.Credits, error)
}

// RequireCredit blocks the request with 402 when the caller's balance is not
// positive. The call controller still enforces the floor; this only saves a
// pointless device setup.
func RequireCredit(svc BalanceReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		principalID, err := auth.PrincipalID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "principal required"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), principalID)
		if err != nil {
			logger.FromGin(c).Error("balance lookup failed", "principal_id", principalID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal <= 0 {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance", "balance": bal})
			return
		}
		c.Next()
	}
}
