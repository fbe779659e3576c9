package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"paycall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// OutboundTarget is the live session a browser leg belongs to.
type OutboundTarget struct {
	SessionID   string
	Destination string
	// MaxSeconds is the longest the balance pays for; zero means uncapped.
	MaxSeconds int64
}

// SessionResolver finds the principal's dialing session.
type SessionResolver interface {
	ResolveOutbound(ctx context.Context, principalID string) (OutboundTarget, bool)
}

// VoiceWebhookHandler answers the provider's TwiML request for a browser leg.
//
// The dialed number must match the session's destination; the rate was fixed
// for that number when the call started.
type VoiceWebhookHandler struct {
	Sessions SessionResolver
	// AuthToken signs webhook requests. Empty disables validation (local only).
	AuthToken string
	// PublicBaseURL is the externally visible scheme+host the provider signs against.
	PublicBaseURL string
	CallerID      string
}

func (h VoiceWebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session resolver not configured"})
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.AuthToken != "" {
		fullURL := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
		if err := ValidateSignature(h.AuthToken, fullURL, c.Request.PostForm, c.GetHeader(SignatureHeader)); err != nil {
			log.Warn("voice webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	req, err := ParseVoiceRequest(c.Request)
	if err != nil {
		log.Warn("voice webhook parse failed", "err", err)
		h.reject(c)
		return
	}

	target, ok := h.Sessions.ResolveOutbound(c.Request.Context(), req.Identity)
	if !ok {
		log.Info("voice webhook without active session", "principal_id", req.Identity, "call_sid", req.CallSid)
		h.reject(c)
		return
	}
	if target.Destination != req.To {
		log.Warn("voice webhook destination mismatch",
			"principal_id", req.Identity,
			"session_id", target.SessionID,
			"requested", req.To,
		)
		h.reject(c)
		return
	}

	twiml, err := RenderDial(DialInstruction{Number: target.Destination, CallerID: h.CallerID, MaxSeconds: target.MaxSeconds})
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h VoiceWebhookHandler) reject(c *gin.Context) {
	twiml, err := RenderReject()
	if err != nil {
		_ = c.Error(errors.Join(errors.New("reject render failed"), err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
