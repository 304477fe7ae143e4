package server

import (
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/Tyrowin/chatdrop/internal/history"
)

const (
	joinNotice  = "Someone connected."
	leaveNotice = "Someone disconnected."
)

// historyFrame is the first frame every connection receives.
type historyFrame struct {
	System  bool              `json:"system"`
	History []history.Message `json:"history"`
}

// inboundMessage is a parsed client frame waiting for the hub.
type inboundMessage struct {
	sender *Client
	msg    history.Message
}

func encodeHistory(messages []history.Message) ([]byte, error) {
	if messages == nil {
		messages = []history.Message{}
	}
	return json.Marshal(historyFrame{System: true, History: messages})
}

func encodeNotice(text string) []byte {
	payload, _ := json.Marshal(history.SystemNotice(text))
	return payload
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
