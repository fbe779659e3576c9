package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"paycall/internal/calls"
	"paycall/internal/telephony"
	"paycall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Messages pushed to the browser alongside the softphone control traffic.
const (
	MsgCallState  = "call.state"
	MsgCallResult = "call.result"
)

const notifyTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth is enforced by the bearer token; the UI may be served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Softphone upgrades the caller's page to the websocket the bridge drives.
func (h Handlers) Softphone(c *gin.Context) {
	if h.Bridge == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "softphone bridge not configured"})
		return
	}
	principalID, ok := principal(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.FromGin(c).Warn("softphone upgrade failed", "principal_id", principalID, "err", err)
		return
	}
	h.Bridge.Attach(principalID, conn)
	logger.FromGin(c).Info("softphone attached", "principal_id", principalID)
}

// SoftphoneNotifier pushes call progress to the principal's softphone socket.
// A principal without a socket simply misses the update.
type SoftphoneNotifier struct {
	Bridge *telephony.Bridge
	Log    *slog.Logger
}

func (n SoftphoneNotifier) CallUpdated(principalID string, u calls.Update) {
	n.send(principalID, MsgCallState, u)
}

func (n SoftphoneNotifier) CallEnded(principalID string, r calls.Result) {
	n.send(principalID, MsgCallResult, r)
}

func (n SoftphoneNotifier) send(principalID, msgType string, payload any) {
	if n.Bridge == nil {
		return
	}
	p, ok := n.Bridge.Peer(principalID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := p.Notify(ctx, msgType, payload); err != nil && n.Log != nil {
		n.Log.Debug("softphone notify dropped", "principal_id", principalID, "type", msgType, "err", err)
	}
}
