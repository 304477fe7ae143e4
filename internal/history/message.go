// Package history keeps the ordered, durable record of chat messages that
// every new connection receives on join.
//
// The on-disk artifact is gzip-compressed newline-delimited JSON, one message
// per line, rewritten in full on every append.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedMessage is returned when a payload is not a JSON object.
var ErrMalformedMessage = errors.New("history: malformed message")

// Message is one chat message: a JSON object whose fields are relayed
// verbatim. Only "ts" is owned by the server.
type Message map[string]json.RawMessage

// ParseMessage decodes a client frame. Anything other than a JSON object is
// rejected with ErrMalformedMessage.
func ParseMessage(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}
	var m Message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}

// SystemNotice builds a server-originated notice such as a join or leave.
func SystemNotice(text string) Message {
	msg, _ := json.Marshal(text)
	return Message{
		"system": json.RawMessage("true"),
		"msg":    json.RawMessage(msg),
	}
}

// Stamp sets the receipt timestamp in Unix milliseconds, replacing any
// client-supplied value.
func (m Message) Stamp(ts int64) {
	m["ts"] = json.RawMessage(strconv.FormatInt(ts, 10))
}

// Timestamp returns the "ts" field if it holds an integer.
func (m Message) Timestamp() (int64, bool) {
	raw, ok := m["ts"]
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// IsSystem reports whether the message carries "system": true.
func (m Message) IsSystem() bool {
	raw, ok := m["system"]
	return ok && bytes.Equal(bytes.TrimSpace(raw), []byte("true"))
}

// Clone returns a shallow copy. Field values are immutable once parsed.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
