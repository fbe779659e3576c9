package calls

import "errors"

var (
	ErrInvalidInput    = errors.New("calls: invalid input")
	ErrCredential      = errors.New("calls: credential acquisition failed")
	ErrDevice          = errors.New("calls: device setup failed")
	ErrConnection      = errors.New("calls: connection failed")
	ErrSetupTimeout    = errors.New("calls: setup timed out")
	ErrCancelled       = errors.New("calls: cancelled before connect")
	ErrLedgerWrite     = errors.New("calls: ledger write failed")
	ErrHistoryWrite    = errors.New("calls: history write failed")
	ErrSessionNotFound = errors.New("calls: session not found")
	ErrCallActive      = errors.New("calls: a call is already active")
	ErrNotConnected    = errors.New("calls: call is not connected")
)
