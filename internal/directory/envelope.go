package directory

import (
	"encoding/json"
	"fmt"
)

// The relay wire format is a JSON array whose first element is the event
// name and whose remaining elements are the event's arguments, e.g.
// ["call_request","4217"].

func encodeEnvelope(event string, args ...any) ([]byte, error) {
	arr := make([]any, 0, len(args)+1)
	arr = append(arr, event)
	arr = append(arr, args...)
	return json.Marshal(arr)
}

func decodeEnvelope(data []byte) (string, []json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return "", nil, err
	}
	if len(arr) == 0 {
		return "", nil, fmt.Errorf("empty relay envelope")
	}
	var event string
	if err := json.Unmarshal(arr[0], &event); err != nil {
		return "", nil, fmt.Errorf("relay event name: %w", err)
	}
	return event, arr[1:], nil
}

func argString(args []json.RawMessage, i int) string {
	if i >= len(args) {
		return ""
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return ""
	}
	return s
}

func argBool(args []json.RawMessage, i int) bool {
	if i >= len(args) {
		return false
	}
	var b bool
	if err := json.Unmarshal(args[i], &b); err != nil {
		return false
	}
	return b
}
