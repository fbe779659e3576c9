package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"paycall/internal/audit"
	"paycall/internal/auth"
	"paycall/internal/calls"
	"paycall/internal/history"
	"paycall/internal/pricing"
	"paycall/internal/telephony"
	"paycall/internal/wallet"
	"paycall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallService is the live-call surface the handlers need; *calls.Manager implements it.
type CallService interface {
	Start(ctx context.Context, principalID, destination string) (*calls.Controller, calls.Snapshot, error)
	Get(principalID, sessionID string) (*calls.Controller, error)
}

type HistoryReader interface {
	List(ctx context.Context, req history.ListRequest) ([]history.Record, error)
	Summary(ctx context.Context, req history.SummaryRequest) (history.Summary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls   CallService
	Ledger  wallet.Ledger
	History HistoryReader
	Rates   *pricing.RateTable
	Audit   *audit.Service
	Bridge  *telephony.Bridge

	// PaymentSecret authenticates the payment provider webhook.
	PaymentSecret string
	// ResultWait bounds how long hangup waits for settlement before answering 202.
	ResultWait time.Duration
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Rates ---

func (h Handlers) ListRates(c *gin.Context) {
	if h.Rates == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rates not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"default_rate": h.Rates.Default(), "rates": h.Rates.Entries()})
}

// Quote prices a hypothetical call: GET /v1/rates/quote?to=+44...&seconds=90
func (h Handlers) Quote(c *gin.Context) {
	if h.Rates == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rates not configured"})
		return
	}
	dest, err := telephony.NormalizeE164(c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var seconds int64
	if raw := c.Query("seconds"); raw != "" {
		seconds, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "seconds must be a non-negative integer"})
			return
		}
	}
	q, err := h.Rates.Quote(dest, seconds)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, q)
}

// --- Balance ---

func (h Handlers) GetBalance(c *gin.Context) {
	principalID, ok := principal(c)
	if !ok {
		return
	}
	h.writeBalance(c, principalID)
}

func (h Handlers) writeBalance(c *gin.Context, principalID string) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	bal, err := h.Ledger.GetBalance(c.Request.Context(), principalID)
	if err != nil {
		logger.FromGin(c).Error("balance lookup failed", "principal_id", principalID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal_id": principalID, "balance": bal})
}

// principal reads the authenticated principal or aborts with 401.
func principal(c *gin.Context) (string, bool) {
	pid, err := auth.PrincipalID(c.Request.Context())
	if err != nil || pid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "principal required"})
		return "", false
	}
	return pid, true
}

// callStatus maps call errors onto HTTP statuses.
func callStatus(err error) int {
	switch {
	case errors.Is(err, calls.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrCallActive),
		errors.Is(err, calls.ErrNotConnected),
		errors.Is(err, calls.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, calls.ErrCredential),
		errors.Is(err, calls.ErrDevice),
		errors.Is(err, calls.ErrConnection),
		errors.Is(err, calls.ErrSetupTimeout):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
