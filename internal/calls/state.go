package calls

// State is the lifecycle state of a call session.
type State string

const (
	StateIdle                State = "idle"
	StateAcquiringCredential State = "acquiring_credential"
	StateDeviceReady         State = "device_ready"
	StateDialing             State = "dialing"
	StateRinging             State = "ringing"
	StateConnected           State = "connected"
	StateEnded               State = "ended"
	StateFailed              State = "failed"
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StateIdle:                {StateAcquiringCredential},
	StateAcquiringCredential: {StateDeviceReady, StateFailed, StateEnded},
	StateDeviceReady:         {StateDialing, StateFailed, StateEnded},
	StateDialing:             {StateRinging, StateConnected, StateEnded, StateFailed},
	StateRinging:             {StateConnected, StateEnded, StateFailed},
	StateConnected:           {StateEnded},
	StateEnded:               {},
	StateFailed:              {},
}

// CanTransitionTo checks if a transition from current state to next state is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// IsSetup reports whether the session has not yet issued its outbound connect.
func (s State) IsSetup() bool {
	return s == StateIdle || s == StateAcquiringCredential || s == StateDeviceReady
}

// Reason explains why a session reached a terminal state.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUserHangup      Reason = "user_hangup"
	ReasonRemoteHangup    Reason = "remote_hangup"
	ReasonRemoteRejected  Reason = "remote_rejected"
	ReasonCreditExhausted Reason = "credit_exhausted"
	ReasonSetupError      Reason = "setup_error"
	ReasonNetworkError    Reason = "network_error"
)

// needsAdapterHangup reports whether ending for r requires telling the remote
// side to drop the leg.
func (r Reason) needsAdapterHangup() bool {
	switch r {
	case ReasonUserHangup, ReasonCreditExhausted, ReasonSetupError, ReasonNetworkError:
		return true
	default:
		return false
	}
}
