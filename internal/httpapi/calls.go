package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"paycall/internal/calls"
	"paycall/internal/history"
	"paycall/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultResultWait = 10 * time.Second

type startCallRequest struct {
	To string `json:"to"`
}

type toneRequest struct {
	Digits string `json:"digits"`
}

// StartCall places a call with the caller's current balance. It answers once
// the outbound connect is issued; progress then streams over the softphone socket.
func (h Handlers) StartCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	principalID, ok := principal(c)
	if !ok {
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	_, snap, err := h.Calls.Start(c.Request.Context(), principalID, req.To)
	if err != nil {
		status := callStatus(err)
		log := logger.FromGin(c)
		if status >= http.StatusInternalServerError {
			log.Error("call start failed", "principal_id", principalID, "err", err)
		} else {
			log.Info("call not started", "principal_id", principalID, "err", err)
		}
		body := gin.H{"error": err.Error()}
		if snap.ID != "" {
			body["call"] = snap
		}
		c.AbortWithStatusJSON(status, body)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h Handlers) GetCall(c *gin.Context) {
	ctrl, ok := h.lookupCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// HangupCall ends the call and returns the settled result when it is ready in time.
func (h Handlers) HangupCall(c *gin.Context) {
	ctrl, ok := h.lookupCall(c)
	if !ok {
		return
	}
	ctrl.Hangup()

	wait := h.ResultWait
	if wait <= 0 {
		wait = defaultResultWait
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	res, err := ctrl.Wait(ctx)
	if err != nil {
		c.JSON(http.StatusAccepted, ctrl.Snapshot())
		return
	}
	if werr := res.Err(); werr != nil {
		logger.FromGin(c).Warn("call settled with warnings", "session_id", res.SessionID, "err", werr)
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) SendTones(c *gin.Context) {
	ctrl, ok := h.lookupCall(c)
	if !ok {
		return
	}
	var req toneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := ctrl.SendTone(req.Digits); err != nil {
		c.AbortWithStatusJSON(callStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ToggleMute(c *gin.Context) {
	ctrl, ok := h.lookupCall(c)
	if !ok {
		return
	}
	muted, err := ctrl.ToggleMute()
	if err != nil {
		c.AbortWithStatusJSON(callStatus(err), gin.H{"error": err.Error(), "muted": ctrl.Snapshot().Muted})
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (h Handlers) lookupCall(c *gin.Context) (*calls.Controller, bool) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return nil, false
	}
	principalID, ok := principal(c)
	if !ok {
		return nil, false
	}
	ctrl, err := h.Calls.Get(principalID, c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(callStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}
	return ctrl, true
}

// --- History ---

// ListHistory pages the caller's finished calls: ?limit=&before=<RFC3339>.
func (h Handlers) ListHistory(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	principalID, ok := principal(c)
	if !ok {
		return
	}
	req := history.ListRequest{PrincipalID: principalID}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		req.Limit = n
	}
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "before must be RFC3339"})
			return
		}
		req.Before = t
	}

	recs, err := h.History.List(c.Request.Context(), req)
	if err != nil {
		historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

// Summary aggregates the caller's history over ?from=&to= (RFC3339); the
// default window is the last 30 days.
func (h Handlers) Summary(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	principalID, ok := principal(c)
	if !ok {
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
	}

	sum, err := h.History.Summary(c.Request.Context(), history.SummaryRequest{
		PrincipalID: principalID,
		Range:       history.TimeRange{From: from, To: to},
	})
	if err != nil {
		historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func historyError(c *gin.Context, err error) {
	if errors.Is(err, history.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.FromGin(c).Error("history query failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
}
