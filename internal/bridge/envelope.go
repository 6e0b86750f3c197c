package bridge

import (
	"encoding/json"
	"errors"
)

var (
	ErrNoExtension = errors.New("browser extension not connected")
	ErrTimeout     = errors.New("browser extension did not reply in time")
)

// Envelope is the frame exchanged over the socket.
type Envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

const typeReply = "reply"

// Tab operations sent to the extension.
const (
	opTabGet          = "tabs:get"
	opTabCreate       = "tabs:create"
	opTabNavigate     = "tabs:navigate"
	opTabWaitComplete = "tabs:waitComplete"
	opTabSend         = "tabs:send"
	opTabBroadcast    = "tabs:broadcast"
)

// Roles a client declares when connecting.
const (
	RoleExtension = "extension"
	RolePopup     = "popup"
)

// ackFirst lists inbound types acknowledged before they are handled, so a slow
// handler never looks like a dropped message to the sender.
var ackFirst = map[string]bool{
	"poc:done": true,
}

// RemoteError is an error reported by the extension in a reply.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Op + ": " + e.Message
}
