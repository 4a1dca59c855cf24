package transport

import (
	"encoding/json"
	"fmt"
)

// Commands a remote viewer may send on the control channel.
const (
	CommandStart   = "start"
	CommandStop    = "stop"
	CommandCapture = "capture"
	CommandStatus  = "status"
)

// Control is a message on the control channel. Requests carry Command;
// replies echo it with the outcome.
type Control struct {
	Command   string `json:"command"`
	Success   bool   `json:"success,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EncodeControl serializes msg.
func EncodeControl(msg Control) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeControl parses a control message.
func DecodeControl(data []byte) (Control, error) {
	var msg Control
	if err := json.Unmarshal(data, &msg); err != nil {
		return Control{}, fmt.Errorf("decode control: %w", err)
	}
	if msg.Command == "" {
		return Control{}, fmt.Errorf("decode control: missing command")
	}
	return msg, nil
}
