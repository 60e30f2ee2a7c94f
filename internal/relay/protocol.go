package relay

import "encoding/json"

// Frame is the outbound transport envelope:
//
//	{"message": {"type": "action"|"error"|"info", "content": ...}}
type Frame struct {
	Message Message `json:"message"`
}

type Message struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// Encode marshals the frame for the wire. Frames are built from known
// types, so a marshal failure is a programming error; it yields an error
// frame rather than a panic.
func (f Frame) Encode() []byte {
	b, err := json.Marshal(f)
	if err != nil {
		b, _ = json.Marshal(Frame{Message: Message{Type: "error", Content: "internal encoding error"}})
	}
	return b
}

// ActionFrame wraps a structured action event (load_content,
// require_reconnect, insert, ...).
func ActionFrame(content map[string]any) Frame {
	return Frame{Message: Message{Type: "action", Content: content}}
}

// ErrorFrame wraps a user-visible error description.
func ErrorFrame(detail string) Frame {
	return Frame{Message: Message{Type: "error", Content: detail}}
}

// InfoFrame wraps plain relayed data, such as a chunk of shell output.
func InfoFrame(content any) Frame {
	return Frame{Message: Message{Type: "info", Content: content}}
}

// ClientAction is the inbound envelope:
//
//	{"action": "...", "type": "...", "data": {...}}
type ClientAction struct {
	Action string          `json:"action"`
	Type   string          `json:"type,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}
