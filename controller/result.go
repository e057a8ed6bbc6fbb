// Package controller implements the local protocol engine: the message
// queue with time-to-live, the discovery/dispatch loop over UDP and TCP,
// per-connection handshake and command exchange, and the public send
// façade.
package controller

// Result is the terminal state of one connection-handler run.
type Result int

const (
	ResultNoError Result = iota
	ResultSent
	ResultAnswered
	ResultNothingDone
	ResultNoUnitID
	ResultNoMessageToSend
	ResultDeviceLockTimeout
	ResultMissingAESKey
	ResultResponseError
	ResultSendError
	ResultTCPError
	ResultSocketError
	ResultUnknownError
)

var resultNames = map[Result]string{
	ResultNoError:           "NO_ERROR",
	ResultSent:              "SENT",
	ResultAnswered:          "ANSWERED",
	ResultNothingDone:       "NOTHING_DONE",
	ResultNoUnitID:          "NO_UNIT_ID",
	ResultNoMessageToSend:   "NO_MESSAGE_TO_SEND",
	ResultDeviceLockTimeout: "DEVICE_LOCK_TIMEOUT",
	ResultMissingAESKey:     "MISSING_AES_KEY",
	ResultResponseError:     "RESPONSE_ERROR",
	ResultSendError:         "SEND_ERROR",
	ResultTCPError:          "TCP_ERROR",
	ResultSocketError:       "SOCKET_ERROR",
	ResultUnknownError:      "UNKNOWN_ERROR",
}

func (r Result) String() string {
	if n, ok := resultNames[r]; ok {
		return n
	}
	return "UNKNOWN_ERROR"
}
