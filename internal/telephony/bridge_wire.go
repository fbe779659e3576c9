package telephony

import "encoding/json"

// Softphone wire messages exchanged with the browser over the bridge socket.
//
// Server -> browser: device.setup, device.destroy, call.connect, call.hangup,
// call.digits, call.mute, plus application messages (call.state, call.result).
// Browser -> server: device.ready, device.error, call.ringing, call.accepted,
// call.disconnected, call.rejected, call.error.
const (
	msgDeviceSetup   = "device.setup"
	msgDeviceDestroy = "device.destroy"
	msgDeviceReady   = "device.ready"
	msgDeviceError   = "device.error"

	msgCallConnect = "call.connect"
	msgCallHangup  = "call.hangup"
	msgCallDigits  = "call.digits"
	msgCallMute    = "call.mute"

	msgCallRinging      = "call.ringing"
	msgCallAccepted     = "call.accepted"
	msgCallDisconnected = "call.disconnected"
	msgCallRejected     = "call.rejected"
	msgCallError        = "call.error"
)

// Message is the envelope for every bridge frame.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Token   string          `json:"token,omitempty"`
	To      string          `json:"to,omitempty"`
	Digits  string          `json:"digits,omitempty"`
	Muted   *bool           `json:"muted,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func eventTypeFor(msgType string) (EventType, bool) {
	switch msgType {
	case msgCallRinging:
		return EventRinging, true
	case msgCallAccepted:
		return EventAccepted, true
	case msgCallDisconnected:
		return EventDisconnected, true
	case msgCallRejected:
		return EventRejected, true
	case msgCallError:
		return EventError, true
	default:
		return "", false
	}
}
