package transport

import (
	"encoding/json"
	"fmt"
)

// Client wire events. Frames are JSON arrays of [event, args...], mirroring
// the relay envelope, e.g. ["make_call","4217"].
const (
	// client -> server
	EventMakeCall         = "make_call"
	EventCallAcknowledged = "call_acknowledged"
	EventCallAccepted     = "call_accepted"
	EventCallRefused      = "call_refused"
	EventHangUp           = "hang_up"
	EventTalk             = "talk"

	// server -> client
	EventRegistered      = "registered"
	EventCallRequest     = "call_request"
	EventCalleeRinging   = "callee_ringing"
	EventCallConnected   = "call_connected"
	EventCallCancelled   = "call_cancelled"
	EventCallNotPossible = "call_not_possible"
	EventCallEnded       = "call_ended"
	EventError           = "error"
)

func encodeFrame(event string, args ...any) ([]byte, error) {
	arr := make([]any, 0, len(args)+1)
	arr = append(arr, event)
	arr = append(arr, args...)
	return json.Marshal(arr)
}

func decodeFrame(data []byte) (string, []string, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return "", nil, err
	}
	if len(arr) == 0 {
		return "", nil, fmt.Errorf("empty frame")
	}
	var event string
	if err := json.Unmarshal(arr[0], &event); err != nil {
		return "", nil, fmt.Errorf("frame event name: %w", err)
	}
	args := make([]string, 0, len(arr)-1)
	for _, raw := range arr[1:] {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", nil, fmt.Errorf("frame argument: %w", err)
		}
		args = append(args, s)
	}
	return event, args, nil
}

func frameArg(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i]
}
