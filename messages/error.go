package messages

// ErrorEvent is an error notification produced by the relay itself,
// shaped like the upstream's own error events
type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a relay-originated error
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent creates a relay error event
func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type: TypeError,
		Error: ErrorDetail{
			Type:    "relay_error",
			Code:    code,
			Message: message,
		},
	}
}
